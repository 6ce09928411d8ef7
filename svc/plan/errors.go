package plan

import "errors"

var (
	ErrNotFound               = errors.New("plan not found")
	ErrAlreadyExists          = errors.New("plan already exists")
	ErrPlanInUse              = errors.New("plan has active subscribers")
	ErrConcurrentModification = errors.New("plan was modified concurrently")
	ErrInvalidPlan            = errors.New("invalid plan")
	ErrInvalidSeed            = errors.New("invalid plan seed file")
)
