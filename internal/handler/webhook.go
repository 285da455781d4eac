package handler

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/mmeshcher/storefront/internal/model"
	"github.com/mmeshcher/storefront/internal/payment"
)

type webhookResponse struct {
	Action string `json:"action"`
	Order  string `json:"order,omitempty"`
	Status string `json:"status,omitempty"`
}

// CardpayWebhook принимает уведомления cardpay. Детали платежа запрашиваются через API провайдера.
func (h *Handler) CardpayWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	n, err := payment.ParseCardpayNotification(body, r.URL.Query())
	if err != nil {
		h.rejectWebhook(w, model.ProviderCardpay, err)
		return
	}

	res, err := h.service.HandleCardpayNotification(r.Context(), n)
	h.acknowledge(w, model.ProviderCardpay, res, err)
}

// WalletpayWebhook принимает уведомления walletpay: JSON в поле формы data или в теле запроса.
func (h *Handler) WalletpayWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)

	var raw []byte
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/x-www-form-urlencoded" || mediaType == "multipart/form-data" {
		if err := r.ParseForm(); err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		raw = []byte(r.PostForm.Get("data"))
	} else {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		raw = body
	}

	if len(strings.TrimSpace(string(raw))) == 0 {
		h.rejectWebhook(w, model.ProviderWalletpay, errors.New("empty notification"))
		return
	}

	res, err := h.service.HandleNotification(r.Context(), model.ProviderWalletpay, raw)
	h.acknowledge(w, model.ProviderWalletpay, res, err)
}

// acknowledge отвечает провайдеру: 2xx для обработанных и намеренно пропущенных
// уведомлений, 4xx для неразборчивых, 5xx для временных ошибок.
func (h *Handler) acknowledge(w http.ResponseWriter, provider model.Provider, res model.ReconciliationResult, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, webhookResponse{
			Action: string(res.Action),
			Order:  res.OrderNumber,
			Status: string(res.Status),
		})
	case errors.Is(err, model.ErrMalformedNotification):
		h.rejectWebhook(w, provider, err)
	case errors.Is(err, model.ErrNotFound):
		h.logger.Warn("payment notification for unknown order",
			zap.String("provider", string(provider)),
			zap.Error(err),
		)
		writeJSON(w, http.StatusOK, webhookResponse{Action: string(model.ActionIgnored)})
	case errors.Is(err, model.ErrValidation):
		h.logger.Error("payment notification cannot be applied to order",
			zap.String("provider", string(provider)),
			zap.Error(err),
		)
		writeJSON(w, http.StatusOK, webhookResponse{Action: string(model.ActionIgnored)})
	default:
		h.writeError(w, err)
	}
}

func (h *Handler) rejectWebhook(w http.ResponseWriter, provider model.Provider, err error) {
	h.logger.Warn("malformed payment notification",
		zap.String("provider", string(provider)),
		zap.Error(err),
	)
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
}
