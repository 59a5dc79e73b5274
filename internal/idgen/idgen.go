// Package idgen generates the opaque identifiers the hub hands out: user
// ids and reaction ids. It leans on go-nanoid instead of
// hand-rolled math/rand suffixes.
package idgen

import (
	"fmt"
	"sync/atomic"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

const (
	userSuffixLen     = 7
	reactionSuffixLen = 6
)

var reactionCounter uint64

// UserID returns an opaque id of the form user_{random-7}, unique within
// the cluster for the connection's lifetime per spec.md's User invariant.
func UserID() string {
	suffix, err := gonanoid.New(userSuffixLen)
	if err != nil {
		// gonanoid.New only fails on a broken crypto/rand source; fall back
		// to a timestamp-derived suffix rather than leaving the user
		// unidentified.
		suffix = fmt.Sprintf("%07d", time.Now().UnixNano()%1e7)
	}
	return "user_" + suffix
}

// ReactionID derives a globally unique reaction id from a monotonic
// counter, the current millisecond timestamp, and a random suffix, per
// spec.md's Reaction data model.
func ReactionID() string {
	seq := atomic.AddUint64(&reactionCounter, 1)
	suffix, err := gonanoid.New(reactionSuffixLen)
	if err != nil {
		suffix = fmt.Sprintf("%06d", seq%1e6)
	}
	return fmt.Sprintf("rxn_%d_%d_%s", seq, time.Now().UnixMilli(), suffix)
}
