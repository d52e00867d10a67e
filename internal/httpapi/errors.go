package httpapi

import (
	"errors"
	"net/http"
)

// statusErr carries the HTTP status an error should surface as. Handlers
// wrap a sentinel below (or a context error via errors.Join) and the top
// level writeErr extracts the status with errors.As, mirroring the
// teacher's handler.go `var s statusErr; errors.As(err, &s)` pattern.
type statusErr int

func (s statusErr) Error() string { return http.StatusText(int(s)) }
func (s statusErr) Status() int   { return int(s) }

// Sentinels for spec.md §6/§7's error kinds. Each wraps the statusErr its
// HTTP mapping requires via errors.Join, the same way the teacher's
// errBadRequest/errNotFound compose a plain message with a status code.
var (
	errInvalidISBN      = errors.Join(errors.New("invalid ISBN"), statusErr(http.StatusBadRequest))
	errMissingParameter = errors.Join(errors.New("missing required parameter"), statusErr(http.StatusBadRequest))
	errNotFound         = errors.Join(errors.New("not found"), statusErr(http.StatusNotFound))
	errRateLimited      = errors.Join(errors.New("rate limited"), statusErr(http.StatusTooManyRequests))
	errProviderError    = errors.Join(errors.New("provider error"), statusErr(http.StatusBadGateway))
	errProviderTimeout  = errors.Join(errors.New("provider timeout"), statusErr(http.StatusGatewayTimeout))
	errStorageError     = errors.Join(errors.New("storage error"), statusErr(http.StatusServiceUnavailable))
)

// codeForErr maps an error to its spec.md §6 code string by identity
// against the sentinels above, falling back to INTERNAL_ERROR for
// anything unrecognized (spec.md §7: "any unhandled exception becomes
// internal").
func codeForErr(err error) string {
	switch {
	case errors.Is(err, errInvalidISBN):
		return "INVALID_ISBN"
	case errors.Is(err, errMissingParameter):
		return "MISSING_PARAMETER"
	case errors.Is(err, errNotFound):
		return "NOT_FOUND"
	case errors.Is(err, errRateLimited):
		return "RATE_LIMIT_EXCEEDED"
	case errors.Is(err, errProviderError):
		return "PROVIDER_ERROR"
	case errors.Is(err, errProviderTimeout):
		return "PROVIDER_TIMEOUT"
	case errors.Is(err, errStorageError):
		return "DATABASE_ERROR"
	default:
		return "INTERNAL_ERROR"
	}
}

func statusForErr(err error) int {
	var s statusErr
	if errors.As(err, &s) {
		return s.Status()
	}
	return http.StatusInternalServerError
}
