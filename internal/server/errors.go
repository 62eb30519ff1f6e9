package server

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jonathan/labelscan/internal/chat"
	"github.com/jonathan/labelscan/internal/gateway"
	"github.com/jonathan/labelscan/internal/parsing"
)

// defaultRetryAfter is sent with 503 responses when the gateway gave no hint.
const defaultRetryAfter = 30 * time.Second

// ErrValidation indicates request validation failure
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// HTTPStatus returns the HTTP status code for an error from the pipeline,
// chat or request validation.
func HTTPStatus(err error) int {
	var (
		empty       *parsing.EmptyInputError
		invalid     *ErrValidation
		fields      validator.ValidationErrors
		notFound    *chat.ScanNotFoundError
		malformed   *gateway.MalformedResponseError
		unavailable *gateway.UpstreamUnavailableError
	)
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &empty), errors.As(err, &invalid), errors.As(err, &fields):
		return http.StatusBadRequest
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &malformed):
		return http.StatusBadGateway
	case errors.As(err, &unavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// retryAfterSeconds returns the Retry-After value for an upstream failure,
// or "" when err is not one.
func retryAfterSeconds(err error) string {
	var unavailable *gateway.UpstreamUnavailableError
	if !errors.As(err, &unavailable) {
		return ""
	}
	wait := unavailable.RetryAfter
	if wait <= 0 {
		wait = defaultRetryAfter
	}
	return strconv.Itoa(int(math.Ceil(wait.Seconds())))
}

// publicMessage hides internal failures from clients.
func publicMessage(err error, status int) string {
	if status == http.StatusInternalServerError {
		return "internal server error"
	}
	var fields validator.ValidationErrors
	if errors.As(err, &fields) && len(fields) > 0 {
		f := fields[0]
		return fmt.Sprintf("validation error: %s failed on %s", f.Field(), f.Tag())
	}
	return err.Error()
}
