package service

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront/internal/model"
	"github.com/mmeshcher/storefront/internal/repository"
	"github.com/mmeshcher/storefront/internal/validation"
)

const numberAttempts = 5

// maxAmount ограничивает любую денежную сумму заказа в минимальных единицах.
const maxAmount int64 = 100_000_000_000_000

// OrderItemRequest описывает позицию в запросе на создание заказа.
type OrderItemRequest struct {
	ProductID int64           `json:"product_id" validate:"gt=0"`
	VariantID *int64          `json:"variant_id,omitempty" validate:"omitempty,gt=0"`
	Quantity  int             `json:"quantity" validate:"min=1"`
	Price     decimal.Decimal `json:"price"`
}

// CreateOrderRequest описывает запрос на создание заказа. Суммы передаются десятичными числами.
type CreateOrderRequest struct {
	Items           []OrderItemRequest `json:"items" validate:"min=1,dive"`
	Subtotal        decimal.Decimal    `json:"subtotal"`
	ShippingCost    decimal.Decimal    `json:"shipping_cost"`
	Total           decimal.Decimal    `json:"total"`
	Currency        string             `json:"currency" validate:"required,iso4217"`
	ShippingAddress model.Address      `json:"shipping_address"`
	ContactEmail    string             `json:"contact_email" validate:"required,email"`
	Provider        model.Provider     `json:"provider" validate:"required,oneof=cardpay walletpay"`
}

// CreateOrder проверяет запрос по каталогу и сохраняет заказ в статусе AWAITING_PAYMENT.
func (s *Service) CreateOrder(ctx context.Context, userID int64, req CreateOrderRequest) (*model.Order, error) {
	if err := validation.Struct(req); err != nil {
		return nil, err
	}

	verr := &model.ValidationError{}

	ids := make([]int64, 0, len(req.Items))
	for _, it := range req.Items {
		ids = append(ids, it.ProductID)
	}

	catalog, err := s.store.FindPricesAndStock(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load catalog: %w", err)
	}

	o := &model.Order{
		UserID:          userID,
		Currency:        req.Currency,
		ShippingAddress: req.ShippingAddress,
		ContactEmail:    req.ContactEmail,
		Items:           make([]model.LineItem, 0, len(req.Items)),
	}

	for i, it := range req.Items {
		field := fmt.Sprintf("items[%d]", i)

		p, ok := catalog[it.ProductID]
		if !ok {
			verr.Add(field+".product_id", "product does not exist")
			continue
		}

		line := model.LineItem{
			ProductID: it.ProductID,
			VariantID: it.VariantID,
			Quantity:  it.Quantity,
			Price:     p.Price,
			Name:      p.Name,
			ImageURL:  p.ImageURL,
		}

		switch {
		case it.VariantID != nil:
			v, ok := p.Variants[*it.VariantID]
			if !ok {
				verr.Add(field+".variant_id", "variant does not exist")
				continue
			}
			line.Name = p.Name + " (" + v.Name + ")"
		case len(p.Variants) > 0:
			verr.Add(field+".variant_id", "is required for this product")
			continue
		}

		if p.Currency != req.Currency {
			verr.Add(field+".product_id", "is not sold in "+req.Currency)
			continue
		}

		price, ok := toMinorUnits(it.Price, field+".price", verr)
		if ok && price != p.Price {
			verr.Add(field+".price", "does not match current price "+fromMinorUnits(p.Price))
		}

		o.Items = append(o.Items, line)
	}

	checkAvailability(req.Items, catalog, verr)

	overflow := false
	for _, it := range o.Items {
		if it.Price > 0 && int64(it.Quantity) > (maxAmount-o.Subtotal)/it.Price {
			overflow = true
			break
		}
		o.Subtotal += it.Amount()
	}

	subtotal, okSubtotal := toMinorUnits(req.Subtotal, "subtotal", verr)
	shipping, okShipping := toMinorUnits(req.ShippingCost, "shipping_cost", verr)
	total, okTotal := toMinorUnits(req.Total, "total", verr)

	switch {
	case overflow:
		verr.Add("subtotal", "order amount must not exceed "+fromMinorUnits(maxAmount))
	case okSubtotal && len(o.Items) == len(req.Items) && subtotal != o.Subtotal:
		verr.Add("subtotal", "must equal the sum of line amounts "+fromMinorUnits(o.Subtotal))
	}
	if okSubtotal && okShipping && okTotal && total != subtotal+shipping {
		verr.Add("total", "must equal subtotal plus shipping cost "+fromMinorUnits(subtotal+shipping))
	}

	if !verr.Empty() {
		return nil, verr
	}

	o.ShippingCost = shipping
	o.Total = o.Subtotal + o.ShippingCost
	o.Init(req.Provider, s.now())

	for attempt := 0; ; attempt++ {
		o.ID = uuid.NewString()
		o.Number = newOrderNumber(o.CreatedAt.Unix())

		err := s.store.CreateOrder(ctx, o)
		if err == nil {
			break
		}
		if errors.Is(err, repository.ErrOrderNumberTaken) && attempt+1 < numberAttempts {
			s.logger.Debug("order number collision", zap.String("order", o.Number))
			continue
		}
		return nil, fmt.Errorf("create order: %w", err)
	}

	s.logger.Info("order created",
		zap.String("order", o.Number),
		zap.Int64("user_id", userID),
		zap.Int64("total", o.Total),
		zap.String("provider", string(o.Payment.Provider)),
	)

	return o, nil
}

// checkAvailability сверяет запрошенное количество с остатками каталога.
// Окончательная проверка выполняется при списании после оплаты.
func checkAvailability(items []OrderItemRequest, catalog map[int64]model.CatalogProduct, verr *model.ValidationError) {
	type counter struct {
		product int64
		variant int64
	}
	requested := make(map[counter]int)
	first := make(map[counter]int)

	for i, it := range items {
		keys := []counter{{product: it.ProductID}}
		if it.VariantID != nil {
			keys = append(keys, counter{product: it.ProductID, variant: *it.VariantID})
		}
		for _, k := range keys {
			if _, ok := first[k]; !ok {
				first[k] = i
			}
			requested[k] += it.Quantity
		}
	}

	for k, qty := range requested {
		p, ok := catalog[k.product]
		if !ok {
			continue
		}
		available := p.Stock
		if k.variant != 0 {
			v, ok := p.Variants[k.variant]
			if !ok {
				continue
			}
			available = v.Stock
		}
		if qty > available {
			verr.Add(fmt.Sprintf("items[%d].quantity", first[k]), "only "+strconv.Itoa(available)+" left in stock")
		}
	}
}

// toMinorUnits переводит денежную сумму в минимальные единицы валюты.
func toMinorUnits(d decimal.Decimal, field string, verr *model.ValidationError) (int64, bool) {
	if d.IsNegative() {
		verr.Add(field, "must not be negative")
		return 0, false
	}
	if !d.Equal(d.Truncate(2)) {
		verr.Add(field, "must have at most 2 decimal places")
		return 0, false
	}
	minor := d.Shift(2)
	if minor.GreaterThan(decimal.NewFromInt(maxAmount)) {
		verr.Add(field, "must not exceed "+fromMinorUnits(maxAmount))
		return 0, false
	}
	return minor.IntPart(), true
}

func fromMinorUnits(v int64) string {
	return decimal.New(v, -2).StringFixed(2)
}

// newOrderNumber собирает номер из метки времени, случайных цифр и контрольной цифры Луна.
func newOrderNumber(unix int64) string {
	base := fmt.Sprintf("%d%05d", unix, rand.IntN(100000))
	check, _ := validation.CheckDigit(base)
	return base + string(check)
}

// GetOrder возвращает заказ пользователя по номеру.
func (s *Service) GetOrder(ctx context.Context, userID int64, number string) (*model.Order, error) {
	o, err := s.store.GetOrderByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, fmt.Errorf("order %s: %w", number, model.ErrNotFound)
	}
	return o, nil
}

// ListOrders возвращает заказы пользователя, начиная с новых.
func (s *Service) ListOrders(ctx context.Context, userID int64) ([]model.Order, error) {
	return s.store.GetOrdersByUser(ctx, userID)
}
