// Package backoff computes retry delays and runs bounded retry loops for
// storage calls that may fail transiently.
package backoff
