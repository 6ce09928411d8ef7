package audit

import "errors"

var (
	ErrInvalidEvent   = errors.New("audit: action is required")
	ErrEmitterClosed  = errors.New("audit: emitter is closed")
	ErrDeliveryFailed = errors.New("audit: sink delivery failed")
	ErrArchiveFailed  = errors.New("audit: archive export failed")
)
