package binder

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
)

// DefaultMaxJSONSize is the maximum accepted JSON body (1MB).
const DefaultMaxJSONSize = 1 << 20

// JSON binds a strict JSON body: the media type must be application/json,
// unknown fields and trailing data are rejected, an empty body is an error.
func JSON() func(r *http.Request, v any) error {
	return func(r *http.Request, v any) error {
		return bindJSON(r, v, false)
	}
}

// OptionalJSON is like JSON but an empty body yields ErrBinderNotApplicable,
// leaving v untouched.
//
//	type cancelRequest struct {
//		Reason    string `json:"reason"`
//		Immediate bool   `json:"immediate"`
//	}
//
//	r.Put("/subscriptions/{id}/cancel", handler.Wrap(cancel,
//		handler.WithBinders(binder.Path(chi.URLParam), binder.OptionalJSON()),
//	))
func OptionalJSON() func(r *http.Request, v any) error {
	return func(r *http.Request, v any) error {
		return bindJSON(r, v, true)
	}
}

func bindJSON(r *http.Request, v any, optional bool) error {
	select {
	case <-r.Context().Done():
		return fmt.Errorf("%w: context done", ErrFailedToParseJSON)
	default:
	}

	var body []byte
	if r.Body != nil && r.Body != http.NoBody {
		var err error
		body, err = io.ReadAll(io.LimitReader(r.Body, DefaultMaxJSONSize+1))
		if err != nil {
			return fmt.Errorf("%w: failed to read request body: %v", ErrFailedToParseJSON, err)
		}
	}
	if len(bytes.TrimSpace(body)) == 0 {
		if optional {
			return ErrBinderNotApplicable
		}
		return fmt.Errorf("%w: empty body", ErrFailedToParseJSON)
	}
	if len(body) > DefaultMaxJSONSize {
		return fmt.Errorf("%w: request body too large (max %d bytes)", ErrFailedToParseJSON, DefaultMaxJSONSize)
	}

	contentType := r.Header.Get("Content-Type")
	if contentType == "" {
		return fmt.Errorf("%w: expected application/json", ErrMissingContentType)
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || mediaType != "application/json" {
		return fmt.Errorf("%w: got %s, expected application/json", ErrUnsupportedMediaType, contentType)
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", ErrFailedToParseJSON, err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: unexpected data after JSON object", ErrFailedToParseJSON)
	}
	return nil
}
