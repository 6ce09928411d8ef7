package limit

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
)

// UnlimitedValue is the storage and wire encoding of an unlimited quota.
const UnlimitedValue int64 = -1

// ErrInvalidLimit is returned when decoding a value below -1.
var ErrInvalidLimit = errors.New("limit must be a non-negative integer or -1 for unlimited")

// Limit is a quota for a single resource type. The zero value is Finite(0).
type Limit struct {
	n         int64
	unlimited bool
}

// Finite returns a bounded limit. Negative values are clamped to zero.
func Finite(n int64) Limit {
	if n < 0 {
		n = 0
	}
	return Limit{n: n}
}

// Unlimited returns a limit that never rejects.
func Unlimited() Limit {
	return Limit{unlimited: true}
}

// FromInt64 decodes the storage representation.
func FromInt64(v int64) (Limit, error) {
	switch {
	case v == UnlimitedValue:
		return Unlimited(), nil
	case v < 0:
		return Limit{}, fmt.Errorf("%w: got %d", ErrInvalidLimit, v)
	default:
		return Finite(v), nil
	}
}

// MustFromInt64 is like FromInt64 but panics on invalid input.
func MustFromInt64(v int64) Limit {
	l, err := FromInt64(v)
	if err != nil {
		panic(err)
	}
	return l
}

func (l Limit) IsUnlimited() bool { return l.unlimited }

// Value returns the bound and true, or 0 and false when unlimited.
func (l Limit) Value() (int64, bool) {
	if l.unlimited {
		return 0, false
	}
	return l.n, true
}

// Int64 returns the storage representation.
func (l Limit) Int64() int64 {
	if l.unlimited {
		return UnlimitedValue
	}
	return l.n
}

// Allows reports whether a counter may hold the given total. A negative
// total is never allowed.
func (l Limit) Allows(total int64) bool {
	if total < 0 {
		return false
	}
	return l.unlimited || total <= l.n
}

// Admits reports whether amount more fits on top of current. A sum that
// would overflow int64 is rejected even when unlimited.
func (l Limit) Admits(current, amount int64) bool {
	if current < 0 || amount < 0 || current > math.MaxInt64-amount {
		return false
	}
	return l.Allows(current + amount)
}

// Exceeded reports whether the current value is already above the limit.
func (l Limit) Exceeded(current int64) bool {
	return !l.unlimited && current > l.n
}

// Remaining returns the free capacity, or -1 when unlimited.
func (l Limit) Remaining(current int64) int64 {
	if l.unlimited {
		return UnlimitedValue
	}
	if current >= l.n {
		return 0
	}
	return l.n - current
}

func (l Limit) String() string {
	if l.unlimited {
		return "unlimited"
	}
	return strconv.FormatInt(l.n, 10)
}

func (l Limit) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatInt(l.Int64(), 10)), nil
}

func (l *Limit) UnmarshalJSON(data []byte) error {
	var v int64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	parsed, err := FromInt64(v)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}

// UnmarshalYAML accepts either an integer or the literal "unlimited".
func (l *Limit) UnmarshalYAML(unmarshal func(any) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	if raw == "unlimited" {
		*l = Unlimited()
		return nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidLimit, raw)
	}
	parsed, err := FromInt64(v)
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}
