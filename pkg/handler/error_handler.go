package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/tenantquota/pkg/binder"
	"github.com/dmitrymomot/tenantquota/pkg/logger"
	"github.com/dmitrymomot/tenantquota/pkg/requestid"
)

// ErrorInfo is the classified form of an error.
type ErrorInfo struct {
	StatusCode int
	Code       string
	Message    string
	Extra      map[string]any
}

// Classifier maps domain errors. It reports false for errors it does not know.
type Classifier func(err error) (ErrorInfo, bool)

func isClientError(statusCode int) bool {
	return statusCode >= http.StatusBadRequest && statusCode < http.StatusInternalServerError
}

func determineLogLevel(statusCode int) slog.Level {
	if isClientError(statusCode) {
		return slog.LevelWarn
	}
	return slog.LevelError
}

// classifyError tries the classifiers, binder errors and HTTPError in that
// order. Unknown errors are internal and their message is hidden.
func classifyError(err error, classifiers []Classifier) ErrorInfo {
	for _, classify := range classifiers {
		if info, ok := classify(err); ok {
			if info.Message == "" {
				info.Message = err.Error()
			}
			return info
		}
	}

	switch {
	case errors.Is(err, binder.ErrUnsupportedMediaType), errors.Is(err, binder.ErrMissingContentType):
		return ErrorInfo{StatusCode: http.StatusUnsupportedMediaType, Code: ErrUnsupportedMediaType.Key, Message: err.Error()}
	case errors.Is(err, binder.ErrFailedToParsePath):
		// A malformed id in the path cannot name an existing resource.
		return ErrorInfo{StatusCode: http.StatusNotFound, Code: ErrNotFound.Key, Message: err.Error()}
	case errors.Is(err, binder.ErrFailedToParseJSON), errors.Is(err, binder.ErrFailedToParseQuery):
		return ErrorInfo{StatusCode: http.StatusBadRequest, Code: ErrBadRequest.Key, Message: err.Error()}
	}

	var httpErr HTTPError
	if errors.As(err, &httpErr) {
		msg := err.Error()
		if httpErr.Code >= http.StatusInternalServerError {
			msg = http.StatusText(httpErr.Code)
		}
		return ErrorInfo{StatusCode: httpErr.Code, Code: httpErr.Key, Message: msg}
	}
	return ErrorInfo{
		StatusCode: http.StatusInternalServerError,
		Code:       ErrInternalServerError.Key,
		Message:    http.StatusText(http.StatusInternalServerError),
	}
}

func (info ErrorInfo) response() Response {
	return JSON(JSONResponse{
		Error: &ErrorDetail{Code: info.Code, Message: info.Message},
		Extra: info.Extra,
	}, WithJSONStatus(info.StatusCode))
}

// NewErrorHandler creates an ErrorHandler that logs every error and renders
// it as a JSON error envelope.
func NewErrorHandler(log *slog.Logger, classifiers ...Classifier) ErrorHandler {
	if log == nil {
		log = logger.Discard()
	}

	return func(ctx Context, err error) {
		r := ctx.Request()
		info := classifyError(err, classifiers)

		log.LogAttrs(r.Context(), determineLogLevel(info.StatusCode), "request error",
			logger.RequestID(requestid.FromContext(r.Context())),
			logger.Error(err),
			slog.Int("status_code", info.StatusCode),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			logger.Component("error_handler"),
		)

		if renderErr := info.response().Render(ctx.ResponseWriter(), r); renderErr != nil {
			log.ErrorContext(r.Context(), "failed to render error response", logger.Error(renderErr))
		}
	}
}
