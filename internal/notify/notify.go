// Package notify отправляет уведомления о подтверждённых заказах.
package notify

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/mmeshcher/storefront/internal/model"
)

// DefaultTopic задаёт топик для подтверждений заказов.
const DefaultTopic = "orders.confirmed"

// Line описывает позицию заказа в письме-подтверждении.
type Line struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Price    int64  `json:"price"`
	ImageURL string `json:"image_url,omitempty"`
}

// OrderConfirmation содержит данные письма-подтверждения.
type OrderConfirmation struct {
	OrderID   string    `json:"order_id"`
	Number    string    `json:"number"`
	Recipient string    `json:"recipient"`
	Total     int64     `json:"total"`
	Currency  string    `json:"currency"`
	Lines     []Line    `json:"lines"`
	CreatedAt time.Time `json:"created_at"`
}

// NewOrderConfirmation собирает подтверждение из заказа.
func NewOrderConfirmation(o *model.Order) OrderConfirmation {
	lines := make([]Line, 0, len(o.Items))
	for _, it := range o.Items {
		lines = append(lines, Line{
			Name:     it.Name,
			Quantity: it.Quantity,
			Price:    it.Price,
			ImageURL: it.ImageURL,
		})
	}

	return OrderConfirmation{
		OrderID:   o.ID,
		Number:    o.Number,
		Recipient: o.ContactEmail,
		Total:     o.Total,
		Currency:  o.Currency,
		Lines:     lines,
		CreatedAt: o.CreatedAt,
	}
}

// Dispatcher отправляет подтверждение без ожидания доставки.
// Ошибки доставки только журналируются.
type Dispatcher interface {
	Dispatch(ctx context.Context, c OrderConfirmation)
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaDispatcher публикует подтверждения в Kafka через асинхронный writer.
type KafkaDispatcher struct {
	w      messageWriter
	logger *zap.Logger
}

// NewKafkaDispatcher создаёт диспетчер для указанных брокеров и топика.
func NewKafkaDispatcher(brokers []string, topic string, logger *zap.Logger) *KafkaDispatcher {
	if topic == "" {
		topic = DefaultTopic
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("notify")

	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		MaxAttempts:  5,
		WriteTimeout: 5 * time.Second,
		BatchTimeout: 50 * time.Millisecond,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			for _, m := range messages {
				if err != nil {
					logger.Error("failed to deliver order confirmation",
						zap.String("order", string(m.Key)),
						zap.Error(err),
					)
					continue
				}
				logger.Debug("order confirmation delivered",
					zap.String("order", string(m.Key)),
					zap.Int("partition", m.Partition),
					zap.Int64("offset", m.Offset),
				)
			}
		},
	}

	return &KafkaDispatcher{w: w, logger: logger}
}

// Dispatch ставит подтверждение в очередь отправки и сразу возвращает управление.
func (d *KafkaDispatcher) Dispatch(ctx context.Context, c OrderConfirmation) {
	payload, err := json.Marshal(c)
	if err != nil {
		d.logger.Error("failed to encode order confirmation", zap.String("order", c.Number), zap.Error(err))
		return
	}

	err = d.w.WriteMessages(context.WithoutCancel(ctx), kafka.Message{
		Key:   []byte(c.Number),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "type", Value: []byte("order.confirmed")},
		},
	})
	if err != nil {
		d.logger.Error("failed to enqueue order confirmation", zap.String("order", c.Number), zap.Error(err))
	}
}

// Close дожидается отправки буферизованных сообщений и закрывает writer.
func (d *KafkaDispatcher) Close() error {
	return d.w.Close()
}

// LogDispatcher только журналирует подтверждения. Используется, когда Kafka не настроена.
type LogDispatcher struct {
	logger *zap.Logger
}

// NewLogDispatcher создаёт диспетчер, пишущий подтверждения в журнал.
func NewLogDispatcher(logger *zap.Logger) *LogDispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogDispatcher{logger: logger.Named("notify")}
}

// Dispatch записывает подтверждение в журнал.
func (d *LogDispatcher) Dispatch(_ context.Context, c OrderConfirmation) {
	d.logger.Info("order confirmation",
		zap.String("order", c.Number),
		zap.String("recipient", c.Recipient),
		zap.Int("lines", len(c.Lines)),
		zap.Int64("total", c.Total),
	)
}
