package server

import (
	"context"
	"errors"
	"net/http"

	apperr "github.com/matzehuels/cratestatus/pkg/errors"
)

// statusClientClosed is reported when the client went away before the
// result was ready. Nobody reads the response.
const statusClientClosed = 499

// errorInfo is how a failure is presented: the HTTP status of the JSON
// endpoints and the label of the badge endpoint.
type errorInfo struct {
	code   apperr.Code
	status int
	label  string
}

// classify maps an error to its presentation. A canceled request context
// wins over whatever failed because of it. Not-found causes win over the
// fetch error wrapping them, so a missing repository reads as "not found"
// rather than "could not analyze".
func classify(err error) errorInfo {
	switch {
	case errors.Is(err, context.Canceled):
		return errorInfo{apperr.ErrCodeCanceled, statusClientClosed, "canceled"}
	case apperr.Is(err, apperr.ErrCodeNotFound), apperr.Is(err, apperr.ErrCodePackageNotFound):
		code := apperr.ErrCodeNotFound
		if apperr.Is(err, apperr.ErrCodePackageNotFound) {
			code = apperr.ErrCodePackageNotFound
		}
		return errorInfo{code, http.StatusNotFound, "not found"}
	case apperr.Is(err, apperr.ErrCodeInvalidInput),
		apperr.Is(err, apperr.ErrCodeInvalidPackage),
		apperr.Is(err, apperr.ErrCodeInvalidPath):
		return errorInfo{apperr.GetCode(err), http.StatusBadRequest, "invalid"}
	case apperr.Is(err, apperr.ErrCodeIndexUnavailable):
		return errorInfo{apperr.ErrCodeIndexUnavailable, http.StatusServiceUnavailable, "index warming up"}
	case apperr.Is(err, apperr.ErrCodeAdvisoryUnavailable):
		return errorInfo{apperr.ErrCodeAdvisoryUnavailable, http.StatusServiceUnavailable, "advisories warming up"}
	case apperr.Is(err, apperr.ErrCodeTimeout), errors.Is(err, context.DeadlineExceeded):
		return errorInfo{apperr.ErrCodeTimeout, http.StatusGatewayTimeout, "timeout"}
	case apperr.Is(err, apperr.ErrCodeRateLimited):
		return errorInfo{apperr.ErrCodeRateLimited, http.StatusTooManyRequests, "rate limited"}
	case apperr.Is(err, apperr.ErrCodeParse):
		return errorInfo{apperr.ErrCodeParse, http.StatusUnprocessableEntity, "could not analyze"}
	case apperr.Is(err, apperr.ErrCodeFetch), apperr.Is(err, apperr.ErrCodeNetwork):
		return errorInfo{apperr.ErrCodeFetch, http.StatusBadGateway, "could not analyze"}
	case apperr.Is(err, apperr.ErrCodeUnsupportedSource):
		return errorInfo{apperr.ErrCodeUnsupportedSource, http.StatusNotImplemented, "unsupported"}
	default:
		return errorInfo{apperr.ErrCodeInternal, http.StatusInternalServerError, "could not analyze"}
	}
}

type errorResponse struct {
	Error     apperr.Code `json:"error"`
	Message   string      `json:"message"`
	RequestID string      `json:"request_id,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	info := classify(err)
	if info.code == apperr.ErrCodeCanceled {
		s.logger.Debug("request canceled", "path", r.URL.Path, "request_id", RequestIDFrom(r.Context()))
	} else if info.status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", r.URL.Path, "code", info.code, "err", err,
			"request_id", RequestIDFrom(r.Context()))
	}
	if info.status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "30")
	}
	writeJSON(w, info.status, errorResponse{
		Error:     info.code,
		Message:   apperr.UserMessage(err),
		RequestID: RequestIDFrom(r.Context()),
	})
}
