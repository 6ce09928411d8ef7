// Package limit models a resource quota that is either a finite non-negative
// count or unlimited.
//
// On the wire and in storage unlimited is encoded as -1, and YAML also
// accepts the literal "unlimited". In code it is a separate state, so
// comparisons never treat -1 as a number:
//
//	l := limit.Finite(50)
//	l.Admits(49, 1)   // true
//	l.Admits(50, 1)   // false
//	limit.Unlimited().Admits(1<<40, 1) // true
//
// Admits also rejects sums that would overflow int64, so a huge increment can
// never wrap a counter negative.
package limit
