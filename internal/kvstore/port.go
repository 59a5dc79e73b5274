// Package kvstore implements the KV/PubSub port described in spec.md
// §4.1: one abstract interface over a shared key-value + publish/subscribe
// store, with a clustered implementation (NATS) and a standalone
// in-process fallback sharing identical semantics.
package kvstore

import (
	"context"
	"time"
)

// Handler processes a message delivered on a subscribed channel.
type Handler func(payload []byte)

// Port is the abstract interface every component in the hub depends on
// for shared state and cross-instance fan-out. Implementations must
// satisfy the failure semantics in spec.md §4.1: a disconnected port
// returns sentinel empty/false values on reads and silently no-ops on
// writes, rather than blocking or erroring out the caller.
type Port interface {
	// Get returns the value stored at key, or (nil, false) if absent or
	// the port is disconnected.
	Get(ctx context.Context, key string) ([]byte, bool)

	// SetWithTTL stores value at key with the given expiry.
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// CreateWithTTL atomically stores value at key only if key is absent
	// or expired, so concurrent creates for the same key converge on
	// whichever call wins the race instead of each persisting its own
	// view. It returns the value now stored (the winner's, which may not
	// be this call's value) and whether this call was the one that
	// created it.
	CreateWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) (stored []byte, created bool, err error)

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// HashSet sets field within the hash stored at key, with ttl as the
	// expiry of that field's entry. Fields expire individually: setting
	// one field does not extend the expiry of the others.
	HashSet(ctx context.Context, key, field string, value []byte, ttl time.Duration) error

	// HashGetAll returns every field/value pair in the hash at key.
	HashGetAll(ctx context.Context, key string) map[string][]byte

	// HashDel removes field from the hash at key.
	HashDel(ctx context.Context, key, field string) error

	// HashLen reports the number of fields in the hash at key.
	HashLen(ctx context.Context, key string) int

	// IncrementWithTTL increments the counter at key by one and returns
	// the post-increment value. When the result is 1 (first increment in
	// a fresh window), the TTL is set to ttl.
	IncrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// SortedSetAdd adds member with the given score (typically a unix
	// timestamp) to the sorted set at key.
	SortedSetAdd(ctx context.Context, key string, score float64, member string) error

	// SortedSetRangeByScore returns members with score in [min, max].
	SortedSetRangeByScore(ctx context.Context, key string, min, max float64) []string

	// SortedSetRemoveRangeByScore removes members with score in [min, max]
	// and returns how many were removed.
	SortedSetRemoveRangeByScore(ctx context.Context, key string, min, max float64) int

	// Publish broadcasts payload to every current subscriber of channel.
	Publish(ctx context.Context, channel string, payload []byte) error

	// Subscribe registers handler to be invoked for every message
	// published to channel from any instance. It returns an unsubscribe
	// function.
	Subscribe(ctx context.Context, channel string, handler Handler) (func(), error)

	// Connected reports whether the port is backed by a reachable shared
	// store. Callers use this to decide whether cross-instance behavior
	// (true fan-out, durable state) is available.
	Connected() bool

	// Close releases the port's resources. Safe to call once during
	// graceful shutdown.
	Close() error
}
