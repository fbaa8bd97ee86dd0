// Package storage defines the string-keyed medium abstraction the secure
// store writes through, and the sealed envelope format it writes.
package storage

// Medium is a synchronous string-keyed key-value surface. It carries no TTL
// semantics of its own; all expiry behavior lives above it.
//
// A durable Medium survives process restarts (the browser-localStorage
// analog). A non-durable Medium does not (the sessionStorage analog); it is
// used for CSRF tokens and maximal-security session copies.
type Medium interface {
	// Get returns the value for key. The bool reports whether the key exists.
	Get(key string) (string, bool, error)
	// Set stores value under key, replacing any prior value.
	Set(key, value string) error
	// Remove deletes key. Removing an absent key is not an error.
	Remove(key string) error
	// Keys enumerates every key currently present.
	Keys() ([]string, error)
}
