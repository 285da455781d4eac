package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront/internal/middleware"
	"github.com/mmeshcher/storefront/internal/model"
	"github.com/mmeshcher/storefront/internal/service"
)

type orderItemResponse struct {
	ProductID int64  `json:"product_id"`
	VariantID *int64 `json:"variant_id,omitempty"`
	Name      string `json:"name"`
	ImageURL  string `json:"image_url,omitempty"`
	Quantity  int    `json:"quantity"`
	Price     money  `json:"price"`
}

type statusEntryResponse struct {
	Status        string `json:"status"`
	PaymentStatus string `json:"payment_status"`
	CreatedAt     string `json:"created_at"`
}

type orderResponse struct {
	ID              string                `json:"id"`
	Number          string                `json:"number"`
	Status          string                `json:"status"`
	PaymentStatus   string                `json:"payment_status"`
	Provider        string                `json:"provider"`
	PaymentMethod   string                `json:"payment_method,omitempty"`
	Items           []orderItemResponse   `json:"items"`
	Subtotal        money                 `json:"subtotal"`
	ShippingCost    money                 `json:"shipping_cost"`
	Total           money                 `json:"total"`
	Currency        string                `json:"currency"`
	ShippingAddress model.Address         `json:"shipping_address"`
	ContactEmail    string                `json:"contact_email"`
	History         []statusEntryResponse `json:"history"`
	CreatedAt       string                `json:"created_at"`
	UpdatedAt       string                `json:"updated_at"`
}

func newOrderResponse(o *model.Order) orderResponse {
	resp := orderResponse{
		ID:              o.ID,
		Number:          o.Number,
		Status:          string(o.Status),
		PaymentStatus:   string(o.Payment.Status),
		Provider:        string(o.Payment.Provider),
		PaymentMethod:   o.Payment.Method,
		Items:           make([]orderItemResponse, 0, len(o.Items)),
		Subtotal:        money(o.Subtotal),
		ShippingCost:    money(o.ShippingCost),
		Total:           money(o.Total),
		Currency:        o.Currency,
		ShippingAddress: o.ShippingAddress,
		ContactEmail:    o.ContactEmail,
		History:         make([]statusEntryResponse, 0, len(o.History)),
		CreatedAt:       formatTime(o.CreatedAt),
		UpdatedAt:       formatTime(o.UpdatedAt),
	}
	for _, it := range o.Items {
		resp.Items = append(resp.Items, orderItemResponse{
			ProductID: it.ProductID,
			VariantID: it.VariantID,
			Name:      it.Name,
			ImageURL:  it.ImageURL,
			Quantity:  it.Quantity,
			Price:     money(it.Price),
		})
	}
	for _, h := range o.History {
		resp.History = append(resp.History, statusEntryResponse{
			Status:        string(h.Status),
			PaymentStatus: string(h.PaymentStatus),
			CreatedAt:     formatTime(h.CreatedAt),
		})
	}
	return resp
}

// CreateOrder оформляет заказ текущего пользователя.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	var req service.CreateOrderRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	o, err := h.service.CreateOrder(r.Context(), userID, req)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, newOrderResponse(o))
}

// GetOrders возвращает список заказов текущего пользователя.
func (h *Handler) GetOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	orders, err := h.service.ListOrders(r.Context(), userID)
	if err != nil {
		h.logger.Error("get orders error", zap.Error(err), zap.Int64("userID", userID))
		h.writeError(w, err)
		return
	}

	if len(orders) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	resp := make([]orderResponse, 0, len(orders))
	for i := range orders {
		resp = append(resp, newOrderResponse(&orders[i]))
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetOrder возвращает заказ текущего пользователя по номеру.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		http.Error(w, http.StatusText(http.StatusUnauthorized), http.StatusUnauthorized)
		return
	}

	o, err := h.service.GetOrder(r.Context(), userID, chi.URLParam(r, "number"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newOrderResponse(o))
}

type statusRequest struct {
	Status model.OrderStatus `json:"status"`
}

// UpdateStatus вручную меняет статус заказа.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}
	if !req.Status.Valid() {
		h.writeError(w, model.NewValidationError("status", "unknown order status"))
		return
	}

	o, err := h.service.UpdateStatus(r.Context(), chi.URLParam(r, "number"), req.Status)
	if err != nil {
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, newOrderResponse(o))
}
