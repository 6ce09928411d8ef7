package handler

import (
	"encoding/json"
	"maps"
	"net/http"
)

// JSONResponse is the standard JSON envelope.
type JSONResponse struct {
	Data  any            `json:"data,omitempty"`
	Meta  map[string]any `json:"meta,omitempty"`
	Error *ErrorDetail   `json:"error,omitempty"`

	// Extra members rendered at the top level, next to data, meta and error.
	Extra map[string]any `json:"-"`
}

// MarshalJSON merges Extra into the envelope object.
func (j JSONResponse) MarshalJSON() ([]byte, error) {
	type plain JSONResponse
	if len(j.Extra) == 0 {
		return json.Marshal(plain(j))
	}

	out := make(map[string]any, len(j.Extra)+3)
	maps.Copy(out, j.Extra)
	if j.Data != nil {
		out["data"] = j.Data
	}
	if len(j.Meta) > 0 {
		out["meta"] = j.Meta
	}
	if j.Error != nil {
		out["error"] = j.Error
	}
	return json.Marshal(out)
}

// ErrorDetail contains error information.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
}

type jsonResponse struct {
	status int
	header http.Header
	body   JSONResponse
}

func (j *jsonResponse) Render(w http.ResponseWriter, r *http.Request) error {
	for k, v := range j.header {
		w.Header()[k] = v
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(j.status)
	return json.NewEncoder(w).Encode(j.body)
}

// JSONOption configures a JSON response.
type JSONOption func(*jsonResponse)

// WithJSONStatus sets a custom HTTP status code.
func WithJSONStatus(status int) JSONOption {
	return func(r *jsonResponse) {
		r.status = status
	}
}

// WithJSONMeta adds metadata to the response.
func WithJSONMeta(meta map[string]any) JSONOption {
	return func(r *jsonResponse) {
		r.body.Meta = meta
	}
}

// WithJSONHeader sets a response header, e.g. ETag or Location.
func WithJSONHeader(key, value string) JSONOption {
	return func(r *jsonResponse) {
		r.header.Set(key, value)
	}
}

// JSON creates a 200 response with v as data. A JSONResponse value is used
// as the whole envelope.
func JSON(v any, opts ...JSONOption) Response {
	r := &jsonResponse{status: http.StatusOK, header: http.Header{}}
	if env, ok := v.(JSONResponse); ok {
		r.body = env
	} else {
		r.body.Data = v
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

type errorResponse struct {
	err error
}

// Render hands the error back to Wrap, which passes it to the ErrorHandler.
func (e errorResponse) Render(http.ResponseWriter, *http.Request) error {
	return e.err
}

// Error defers rendering of err to the configured ErrorHandler.
func Error(err error) Response {
	if err == nil {
		err = ErrInternalServerError
	}
	return errorResponse{err: err}
}

type emptyResponse struct {
	status int
}

func (e emptyResponse) Render(w http.ResponseWriter, _ *http.Request) error {
	w.WriteHeader(e.status)
	return nil
}

// Empty creates a 204 No Content response.
func Empty() Response {
	return emptyResponse{status: http.StatusNoContent}
}
