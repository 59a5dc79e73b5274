package ratelimit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTokenBucketDrainsToZero(t *testing.T) {
	b := NewTokenBucket(5, time.Second) // capacity 10

	ok := true
	count := 0
	for ok && count < 20 {
		ok = b.TryConsume()
		if ok {
			count++
		}
	}
	assert.Equal(t, 10, count)
}

func TestTokenBucketRefillsOverTime(t *testing.T) {
	b := NewTokenBucket(5, time.Second)
	for b.TryConsume() {
	}
	assert.False(t, b.TryConsume())

	b.lastRefill = time.Now().Add(-time.Second)
	assert.True(t, b.TryConsume(), "bucket should have refilled after a full window elapsed")
}

func TestBucketsAllowPerUserAndAction(t *testing.T) {
	b := NewBuckets()
	for i := 0; i < 10; i++ {
		assert.True(t, b.Allow(ActionCursor, "u1"))
		assert.True(t, b.Allow(ActionReaction, "u1"))
	}
	assert.False(t, b.Allow(ActionReaction, "u1"), "reaction has a smaller capacity than cursor")
}

func TestBucketsRemoveDropsUserBuckets(t *testing.T) {
	b := NewBuckets()
	b.Allow(ActionCursor, "u1")
	b.Allow(ActionReaction, "u1")
	assert.Len(t, b.buckets, 2)

	b.Remove("u1")
	assert.Empty(t, b.buckets)
}
