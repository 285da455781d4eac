// Package cardpay предоставляет клиент API платёжного провайдера cardpay.
package cardpay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront/internal/model"
)

// ErrPaymentNotFound возвращается, если провайдер не знает платёж с таким идентификатором.
var ErrPaymentNotFound = fmt.Errorf("%w: payment not found", model.ErrMalformedNotification)

const maxBodySize = 1 << 20

// Client инкапсулирует HTTP-взаимодействие с API cardpay.
type Client struct {
	baseURL    string
	token      string
	httpClient *retryablehttp.Client
}

// NewClient создаёт клиент API cardpay. Запросы повторяются при сетевых ошибках,
// ответах 5xx и 429 с учётом заголовка Retry-After.
func NewClient(baseURL, token string, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}

	hc := retryablehttp.NewClient()
	hc.RetryMax = 3
	hc.RetryWaitMin = 200 * time.Millisecond
	hc.RetryWaitMax = 2 * time.Second
	hc.HTTPClient.Timeout = 5 * time.Second
	hc.Logger = leveledLogger{logger.Named("cardpay").Sugar()}
	hc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	base := strings.TrimRight(baseURL, "/")
	if base != "" && !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	return &Client{
		baseURL:    base,
		token:      token,
		httpClient: hc,
	}
}

// GetPayment запрашивает платёж по идентификатору и возвращает тело ответа как есть.
func (c *Client) GetPayment(ctx context.Context, id string) ([]byte, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("%w: cardpay client not configured", model.ErrUpstreamUnavailable)
	}
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: empty payment id", model.ErrMalformedNotification)
	}

	endpoint := fmt.Sprintf("%s/v1/payments/%s", c.baseURL, url.PathEscape(id))

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: get payment %s: %v", model.ErrUpstreamUnavailable, id, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("payment %s: %w", id, ErrPaymentNotFound)
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden,
		resp.StatusCode >= http.StatusInternalServerError:
		return nil, fmt.Errorf("%w: get payment %s: unexpected status %d", model.ErrUpstreamUnavailable, id, resp.StatusCode)
	default:
		return nil, fmt.Errorf("%w: get payment %s: unexpected status %d", model.ErrMalformedNotification, id, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: read payment %s: %v", model.ErrUpstreamUnavailable, id, err)
	}

	return body, nil
}

// leveledLogger передаёт журнал retryablehttp в zap.
type leveledLogger struct {
	log *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, keysAndValues ...any) { l.log.Errorw(msg, keysAndValues...) }
func (l leveledLogger) Warn(msg string, keysAndValues ...any)  { l.log.Warnw(msg, keysAndValues...) }
func (l leveledLogger) Info(msg string, keysAndValues ...any)  { l.log.Debugw(msg, keysAndValues...) }
func (l leveledLogger) Debug(msg string, keysAndValues ...any) { l.log.Debugw(msg, keysAndValues...) }
