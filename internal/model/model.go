// Package model содержит доменные сущности сервиса заказов витрины.
package model

import (
	"encoding/json"
	"time"
)

// OrderStatus описывает состояние заказа в жизненном цикле.
type OrderStatus string

const (
	OrderStatusAwaitingPayment   OrderStatus = "AWAITING_PAYMENT"
	OrderStatusProcessing        OrderStatus = "PROCESSING"
	OrderStatusShipped           OrderStatus = "SHIPPED"
	OrderStatusDelivered         OrderStatus = "DELIVERED"
	OrderStatusCanceled          OrderStatus = "CANCELED"
	OrderStatusPaidButOutOfStock OrderStatus = "PAID_BUT_OUT_OF_STOCK"
)

// Terminal сообщает, что из статуса нет автоматических переходов.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCanceled
}

// Valid проверяет, что статус входит в известный набор.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusAwaitingPayment, OrderStatusProcessing, OrderStatusShipped,
		OrderStatusDelivered, OrderStatusCanceled, OrderStatusPaidButOutOfStock:
		return true
	}
	return false
}

// PaymentStatus описывает состояние оплаты заказа.
type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "PENDING"
	PaymentStatusApproved PaymentStatus = "APPROVED"
	PaymentStatusRejected PaymentStatus = "REJECTED"
)

// Provider идентифицирует платёжного провайдера.
type Provider string

const (
	ProviderCardpay   Provider = "cardpay"
	ProviderWalletpay Provider = "walletpay"
)

// Valid проверяет, что провайдер поддерживается.
func (p Provider) Valid() bool {
	return p == ProviderCardpay || p == ProviderWalletpay
}

// LineItem описывает позицию заказа. Цена хранится в минимальных единицах валюты.
type LineItem struct {
	ProductID int64
	VariantID *int64
	Quantity  int
	Price     int64
	Name      string
	ImageURL  string
}

// Amount возвращает стоимость позиции.
func (l LineItem) Amount() int64 {
	return l.Price * int64(l.Quantity)
}

// Address содержит адрес доставки.
type Address struct {
	FullName   string `json:"full_name" validate:"required"`
	Street     string `json:"street" validate:"required"`
	City       string `json:"city" validate:"required"`
	State      string `json:"state" validate:"required"`
	PostalCode string `json:"postal_code" validate:"required"`
	Country    string `json:"country" validate:"required"`
	Phone      string `json:"phone" validate:"required"`
}

// StatusEntry хранит запись истории статусов заказа.
type StatusEntry struct {
	Status        OrderStatus
	PaymentStatus PaymentStatus
	CreatedAt     time.Time
}

// Payment содержит сведения об оплате заказа.
type Payment struct {
	Provider      Provider
	TransactionID *string
	Method        string
	Status        PaymentStatus
	// RawPayload хранится только для аудита и не участвует в принятии решений.
	RawPayload json.RawMessage
}

// Order описывает заказ покупателя.
type Order struct {
	ID              string
	Number          string
	UserID          int64
	Items           []LineItem
	Subtotal        int64
	ShippingCost    int64
	Total           int64
	Currency        string
	ShippingAddress Address
	ContactEmail    string
	Status          OrderStatus
	History         []StatusEntry
	Payment         Payment
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// StockItems возвращает позиции заказа в виде строк для складского учёта.
func (o *Order) StockItems() []StockItem {
	items := make([]StockItem, 0, len(o.Items))
	for _, it := range o.Items {
		items = append(items, StockItem{
			ProductID: it.ProductID,
			VariantID: it.VariantID,
			Quantity:  it.Quantity,
		})
	}
	return items
}

// CatalogVariant описывает вариант товара в каталоге.
type CatalogVariant struct {
	ID    int64
	Name  string
	Stock int
}

// CatalogProduct содержит цену и остаток товара по данным каталога.
type CatalogProduct struct {
	ID       int64
	Name     string
	ImageURL string
	Price    int64
	Currency string
	Stock    int
	Variants map[int64]CatalogVariant
}
