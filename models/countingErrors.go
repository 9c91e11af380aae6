package models

import (
	"errors"
	"fmt"
	"net/http"
)

type CountingErrorCode string

const (
	ErrCodeAuthorizationDenied      CountingErrorCode = "AUTHORIZATION_DENIED"
	ErrCodeValidationFailed         CountingErrorCode = "VALIDATION_FAILED"
	ErrCodeSlotAlreadyFilled        CountingErrorCode = "SLOT_ALREADY_FILLED"
	ErrCodeUnresolvedItemsRemain    CountingErrorCode = "UNRESOLVED_ITEMS_REMAIN"
	ErrCodeUpstreamAdjustmentFailed CountingErrorCode = "UPSTREAM_ADJUSTMENT_FAILED"
	ErrCodeNotFound                 CountingErrorCode = "NOT_FOUND"
	ErrCodeInvalidState             CountingErrorCode = "INVALID_STATE"
)

// CountingError carries a stable code for callers. errors.Is matches on Code,
// so `errors.Is(err, models.ErrSlotAlreadyFilled)` works for any message.
type CountingError struct {
	Code    CountingErrorCode `json:"code"`
	Message string            `json:"error"`
	ItemIds []int             `json:"item_ids,omitempty"`
	Err     error             `json:"-"`
}

func (e *CountingError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *CountingError) Unwrap() error { return e.Err }

func (e *CountingError) Is(target error) bool {
	t, ok := target.(*CountingError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// HTTPStatus maps the code to a response status.
func (e *CountingError) HTTPStatus() int {
	switch e.Code {
	case ErrCodeAuthorizationDenied:
		return http.StatusForbidden
	case ErrCodeValidationFailed:
		return http.StatusBadRequest
	case ErrCodeSlotAlreadyFilled, ErrCodeUnresolvedItemsRemain, ErrCodeInvalidState:
		return http.StatusConflict
	case ErrCodeUpstreamAdjustmentFailed:
		return http.StatusBadGateway
	case ErrCodeNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Sentinels for errors.Is.
var (
	ErrAuthorizationDenied      = &CountingError{Code: ErrCodeAuthorizationDenied}
	ErrValidationFailed         = &CountingError{Code: ErrCodeValidationFailed}
	ErrSlotAlreadyFilled        = &CountingError{Code: ErrCodeSlotAlreadyFilled}
	ErrUnresolvedItemsRemain    = &CountingError{Code: ErrCodeUnresolvedItemsRemain}
	ErrUpstreamAdjustmentFailed = &CountingError{Code: ErrCodeUpstreamAdjustmentFailed}
	ErrNotFound                 = &CountingError{Code: ErrCodeNotFound}
	ErrInvalidState             = &CountingError{Code: ErrCodeInvalidState}
)

func authorizationDenied(message string) error {
	return &CountingError{Code: ErrCodeAuthorizationDenied, Message: message}
}

func validationFailed(format string, args ...any) error {
	return &CountingError{Code: ErrCodeValidationFailed, Message: fmt.Sprintf(format, args...)}
}

func slotAlreadyFilled(itemId int, n CountNumber) error {
	return &CountingError{
		Code:    ErrCodeSlotAlreadyFilled,
		Message: fmt.Sprintf("count %d already submitted for item %d", n, itemId),
		ItemIds: []int{itemId},
	}
}

func notFound(what string) error {
	return &CountingError{Code: ErrCodeNotFound, Message: what + " not found"}
}

func invalidState(format string, args ...any) error {
	return &CountingError{Code: ErrCodeInvalidState, Message: fmt.Sprintf(format, args...)}
}

// UnresolvedItemsRemain lists the item ids still Pending.
func UnresolvedItemsRemain(itemIds []int) error {
	return &CountingError{
		Code:    ErrCodeUnresolvedItemsRemain,
		Message: fmt.Sprintf("%d item(s) are not resolved", len(itemIds)),
		ItemIds: itemIds,
	}
}

// UpstreamAdjustmentFailed wraps the stock ledger's error for itemId.
func UpstreamAdjustmentFailed(itemId int, err error) error {
	return &CountingError{
		Code:    ErrCodeUpstreamAdjustmentFailed,
		Message: fmt.Sprintf("stock adjustment rejected for item %d", itemId),
		ItemIds: []int{itemId},
		Err:     err,
	}
}

// AsCountingError unwraps err into a *CountingError when it is one.
func AsCountingError(err error) (*CountingError, bool) {
	var ce *CountingError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}
