package service

import (
	"errors"
	"fmt"

	"github.com/mmeshcher/shipsavings/internal/model"
	"github.com/mmeshcher/shipsavings/internal/repository"
)

// Kind классифицирует ошибку бизнес-логики для единообразной обработки вызывающим слоем.
type Kind string

const (
	KindValidation Kind = "validation"
	KindConflict   Kind = "conflict"
	KindNotFound   Kind = "not_found"
	KindForbidden  Kind = "forbidden"
	KindUpstream   Kind = "upstream"
	KindInternal   Kind = "internal"
)

var (
	ErrConflictingActiveGoal = errors.New("member already has an open savings goal")
	ErrInvalidTransition     = errors.New("invalid order status transition")
	ErrNotUnmatched          = errors.New("transaction is not unmatched")
	ErrInvalidAmount         = errors.New("amount must be positive")
	ErrOrderNotActive        = errors.New("order is not active")
	ErrForbidden             = errors.New("operation not permitted")
	ErrNotFound              = errors.New("not found")
	ErrFeedUnavailable       = errors.New("wallet feed fetch failed")
	ErrInvalidSettings       = errors.New("invalid settings")
	ErrInvalidInput          = errors.New("invalid input")
)

// Error описывает ошибку операции вместе с её видом.
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: err, Detail: fmt.Sprintf(format, args...)}
}

// KindOf возвращает вид ошибки. Ошибки без явного вида считаются внутренними.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// translate переводит ошибки хранилища и конструкторов модели в ошибки бизнес-логики.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	switch {
	case errors.Is(err, repository.ErrOpenOrderExists):
		return newError(KindConflict, ErrConflictingActiveGoal, "conflicting active goal")
	case errors.Is(err, repository.ErrNotFound):
		return newError(KindNotFound, ErrNotFound, "not found")
	case errors.Is(err, repository.ErrStatusChanged):
		return newError(KindConflict, ErrInvalidTransition, "order status changed concurrently")
	case errors.Is(err, repository.ErrDuplicateTransaction):
		return newError(KindConflict, ErrNotUnmatched, "transaction already recorded")
	case errors.Is(err, model.ErrInvalidDeposit):
		return &Error{Kind: KindValidation, Err: ErrInvalidAmount, Detail: err.Error()}
	case errors.Is(err, model.ErrInvalidOrder):
		return &Error{Kind: KindValidation, Err: ErrInvalidInput, Detail: err.Error()}
	}
	return &Error{Kind: KindInternal, Err: err, Detail: err.Error()}
}
