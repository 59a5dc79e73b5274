// Package ratelimit implements the per-user fixed-window counter,
// optional token-bucket smoothing path, and connection admission gate
// from spec.md §4.2.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"odin-ws-server/internal/kvstore"
)

// Action identifies one of the rate-limited inbound message classes.
type Action string

const (
	ActionCursor       Action = "cursor"
	ActionReaction     Action = "reaction"
	ActionSync         Action = "sync"
	ActionMessage      Action = "message"
	ActionRoomJoin     Action = "roomJoin"
	ActionVideoControl Action = "videoControl"
)

// rule is the (max, window) pair for one action, per spec.md §4.2's table.
type rule struct {
	max    int64
	window time.Duration
}

var rules = map[Action]rule{
	ActionCursor:       {max: 20, window: time.Second},
	ActionReaction:     {max: 5, window: time.Second},
	ActionSync:         {max: 10, window: time.Second},
	ActionMessage:      {max: 30, window: time.Second}, // reserved, see spec.md §9 open question
	ActionRoomJoin:     {max: 5, window: 10 * time.Second},
	ActionVideoControl: {max: 10, window: time.Second},
}

// Denial describes a rejected action, forwarded to the originating
// session only per spec.md §4.5.
type Denial struct {
	Action   Action
	RetryIn  time.Duration
	Message  string
}

// Limiter enforces the fixed-window counters against a KV port.
type Limiter struct {
	port kvstore.Port
}

// New builds a fixed-window limiter backed by port.
func New(port kvstore.Port) *Limiter {
	return &Limiter{port: port}
}

// Allow increments the action:userId counter and reports whether the
// message may proceed. On denial it also returns the Denial payload the
// hub forwards to the session.
func (l *Limiter) Allow(ctx context.Context, action Action, userID string) (bool, *Denial) {
	r, ok := rules[action]
	if !ok {
		// Unknown action: spec.md §7 treats this as a dropped, unlogged-to-
		// client condition, so we fail closed rather than silently allow.
		return false, &Denial{Action: action, RetryIn: 0, Message: "unknown rate-limited action"}
	}

	key := fmt.Sprintf("%s:%s", action, userID)
	count, err := l.port.IncrementWithTTL(ctx, key, r.window)
	if err != nil {
		// KV port unavailable: spec.md §7 says callers fall back and
		// continue; failing open keeps the hub serving other rooms.
		return true, nil
	}

	if count <= r.max {
		return true, nil
	}

	return false, &Denial{
		Action:  action,
		RetryIn: r.window,
		Message: fmt.Sprintf("rate limit exceeded for action %q", action),
	}
}
