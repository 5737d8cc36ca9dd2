package core

import (
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ErrorCodeBadInput         = "MAILEVENTS_BAD_INPUT"
	ErrorCodeInvalidPayload   = "MAILEVENTS_INVALID_PAYLOAD"
	ErrorCodeMissingEventID   = "MAILEVENTS_MISSING_EVENT_ID"
	ErrorCodeInvalidSignature = "MAILEVENTS_INVALID_SIGNATURE"
	ErrorCodeNotFound         = "MAILEVENTS_NOT_FOUND"
	ErrorCodeConflict         = "MAILEVENTS_CONFLICT"
	ErrorCodeInternal         = "MAILEVENTS_INTERNAL_ERROR"
)

// ErrorMapper turns arbitrary errors into the rich error envelope used at
// the transport boundary.
type ErrorMapper func(err error) *goerrors.Error

func DefaultErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureErrorEnvelope(richErr)
	}

	switch {
	case errors.Is(err, ErrEventNotFound):
		return NewError(err.Error(), goerrors.CategoryNotFound, ErrorCodeNotFound)
	case errors.Is(err, ErrEventIDRequired):
		return NewError(err.Error(), goerrors.CategoryBadInput, ErrorCodeMissingEventID)
	case errors.Is(err, ErrInvalidEventStatus):
		return NewError(err.Error(), goerrors.CategoryBadInput, ErrorCodeBadInput)
	case errors.Is(err, ErrInvalidEventStatusTransition):
		return NewError(err.Error(), goerrors.CategoryConflict, ErrorCodeConflict)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "signature"):
		return NewError(err.Error(), goerrors.CategoryAuth, ErrorCodeInvalidSignature)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return NewError(err.Error(), goerrors.CategoryBadInput, ErrorCodeBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureErrorEnvelope(mapped)
}

func NewError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func WrapError(source error, category goerrors.Category, message string, textCode string) *goerrors.Error {
	if source == nil {
		return NewError(message, category, textCode)
	}
	return ensureErrorEnvelope(
		goerrors.Wrap(source, category, message).
			WithTextCode(textCode),
	)
}

func ensureErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = HTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ErrorCodeBadInput
	case goerrors.CategoryNotFound:
		return ErrorCodeNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return ErrorCodeInvalidSignature
	case goerrors.CategoryConflict:
		return ErrorCodeConflict
	default:
		return ErrorCodeInternal
	}
}

func HTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
