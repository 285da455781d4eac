package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrValidation возвращается при некорректных входных данных.
	ErrValidation = errors.New("validation failed")
	// ErrNotFound возвращается, если заказ или товар не найден.
	ErrNotFound = errors.New("not found")
	// ErrInvalidTransition возвращается, если переход между статусами запрещён.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrInsufficientStock возвращается, если остатка не хватает для списания.
	ErrInsufficientStock = errors.New("insufficient stock")
	// ErrContention возвращается, если не удалось захватить блокировку заказа.
	ErrContention = errors.New("order is locked by a concurrent operation")
	// ErrUpstreamUnavailable возвращается, если API провайдера недоступно.
	ErrUpstreamUnavailable = errors.New("payment provider unavailable")
	// ErrMalformedNotification возвращается для уведомлений, которые нельзя разобрать.
	ErrMalformedNotification = errors.New("malformed payment notification")
	// ErrStoreUnavailable возвращается при временной недоступности хранилища.
	ErrStoreUnavailable = errors.New("store unavailable")
)

// ValidationError содержит ошибки по отдельным полям запроса.
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError создаёт ошибку валидации для одного поля.
func NewValidationError(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

// Add добавляет ошибку поля.
func (e *ValidationError) Add(field, msg string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = msg
}

// Empty сообщает, что ошибок нет.
func (e *ValidationError) Empty() bool {
	return len(e.Fields) == 0
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// InsufficientStockError указывает товар, остатка которого не хватило.
type InsufficientStockError struct {
	ProductID int64
	VariantID *int64
}

func (e *InsufficientStockError) Error() string {
	if e.VariantID != nil {
		return fmt.Sprintf("insufficient stock for product %d variant %d", e.ProductID, *e.VariantID)
	}
	return fmt.Sprintf("insufficient stock for product %d", e.ProductID)
}

func (e *InsufficientStockError) Unwrap() error {
	return ErrInsufficientStock
}
