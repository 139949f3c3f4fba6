package telegram

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Error names assigned by the adapter. They mirror the platform SDK's
// exception taxonomy so attempt rows stay comparable across node versions.
const (
	errNameNetwork      = "TelegramNetworkError"
	errNameServer       = "TelegramServerError"
	errNameForbidden    = "TelegramForbiddenError"
	errNameBadRequest   = "TelegramBadRequest"
	errNameRetryAfter   = "TelegramRetryAfter"
	errNameUnauthorized = "TelegramUnauthorizedError"
	errNameGeneric      = "TelegramAPIError"
)

// APIError is a platform call failure normalized away from SDK types, so the
// classifier and retry policies depend only on this package.
type APIError struct {
	Op   string
	Name string
	Code int
	// RetryAfter is the flood-control delay in seconds, zero if none.
	RetryAfter int
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("telegram: %s: %s (%d): %s", e.Op, e.Name, e.Code, e.Message)
	}
	return fmt.Sprintf("telegram: %s: %s: %s", e.Op, e.Name, e.Message)
}

// ErrorName returns the adapter-assigned error name, or the empty string for
// non-platform errors.
func ErrorName(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Name
	}
	return ""
}

// RetryAfterSeconds returns the flood-control delay requested by the server,
// zero if the error carries none.
func RetryAfterSeconds(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.RetryAfter
	}
	return 0
}

// IsMessageNotFound reports whether a delete failed because the message is
// already gone, which the delete-previous protocol counts as success.
func IsMessageNotFound(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "message to delete not found") ||
		strings.Contains(strings.ToLower(err.Error()), "message not found")
}
