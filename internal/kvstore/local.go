package kvstore

import (
	"context"
	"sync"
	"time"
)

// LocalPort is the standalone in-process implementation of Port. It
// provides the same semantics as the clustered NATS-backed port for a
// single instance: publish delivers synchronously within the process,
// and there is no gossip to other instances (spec.md §9 explicitly calls
// out that standalone fan-out is local-only by design).
type LocalPort struct {
	mu       sync.RWMutex
	values   map[string]*entry
	hashes   map[string]map[string]*entry
	counters map[string]*entry
	sortedSets map[string]map[string]float64

	subMu sync.RWMutex
	subs  map[string]map[int]Handler
	nextSubID int
}

type entry struct {
	value     []byte
	expiresAt time.Time // zero means no expiry
}

func (e *entry) expired() bool {
	return !e.expiresAt.IsZero() && time.Now().After(e.expiresAt)
}

// NewLocalPort builds an empty standalone port.
func NewLocalPort() *LocalPort {
	return &LocalPort{
		values:     make(map[string]*entry),
		hashes:     make(map[string]map[string]*entry),
		counters:   make(map[string]*entry),
		sortedSets: make(map[string]map[string]float64),
		subs:       make(map[string]map[int]Handler),
	}
}

func (p *LocalPort) Connected() bool { return true }

func (p *LocalPort) Close() error { return nil }

func (p *LocalPort) Get(_ context.Context, key string) ([]byte, bool) {
	p.mu.RLock()
	e, ok := p.values[key]
	p.mu.RUnlock()
	if !ok || e.expired() {
		return nil, false
	}
	return e.value, true
}

func (p *LocalPort) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.values[key] = newEntry(value, ttl)
	return nil
}

// CreateWithTTL checks-and-sets under the same lock that guards reads, so
// the race window a separate Get-then-SetWithTTL pair would leave open
// never opens in the first place.
func (p *LocalPort) CreateWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) ([]byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if e, ok := p.values[key]; ok && !e.expired() {
		return e.value, false, nil
	}
	p.values[key] = newEntry(value, ttl)
	return value, true, nil
}

func (p *LocalPort) Delete(_ context.Context, key string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.values, key)
	delete(p.hashes, key)
	delete(p.counters, key)
	delete(p.sortedSets, key)
	return nil
}

func (p *LocalPort) HashSet(_ context.Context, key, field string, value []byte, ttl time.Duration) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.hashes[key]
	if !ok {
		h = make(map[string]*entry)
		p.hashes[key] = h
	}
	h[field] = newEntry(value, ttl)
	return nil
}

func (p *LocalPort) HashGetAll(_ context.Context, key string) map[string][]byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.hashes[key]
	if !ok {
		return map[string][]byte{}
	}
	out := make(map[string][]byte, len(h))
	for field, e := range h {
		if e.expired() {
			delete(h, field)
			continue
		}
		out[field] = e.value
	}
	return out
}

func (p *LocalPort) HashDel(_ context.Context, key, field string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if h, ok := p.hashes[key]; ok {
		delete(h, field)
	}
	return nil
}

func (p *LocalPort) HashLen(_ context.Context, key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.hashes[key]
	if !ok {
		return 0
	}
	n := 0
	for field, e := range h {
		if e.expired() {
			delete(h, field)
			continue
		}
		n++
	}
	return n
}

func (p *LocalPort) IncrementWithTTL(_ context.Context, key string, ttl time.Duration) (int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	e, ok := p.counters[key]
	if !ok || e.expired() {
		e = newEntry([]byte("1"), ttl)
		p.counters[key] = e
		return 1, nil
	}

	count := decodeCount(e.value) + 1
	e.value = encodeCount(count)
	return count, nil
}

func (p *LocalPort) SortedSetAdd(_ context.Context, key string, score float64, member string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.sortedSets[key]
	if !ok {
		set = make(map[string]float64)
		p.sortedSets[key] = set
	}
	set[member] = score
	return nil
}

func (p *LocalPort) SortedSetRangeByScore(_ context.Context, key string, min, max float64) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	set, ok := p.sortedSets[key]
	if !ok {
		return nil
	}
	var out []string
	for member, score := range set {
		if score >= min && score <= max {
			out = append(out, member)
		}
	}
	return out
}

func (p *LocalPort) SortedSetRemoveRangeByScore(_ context.Context, key string, min, max float64) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.sortedSets[key]
	if !ok {
		return 0
	}
	removed := 0
	for member, score := range set {
		if score >= min && score <= max {
			delete(set, member)
			removed++
		}
	}
	return removed
}

// Publish delivers payload synchronously to every local subscriber of
// channel, per spec.md §4.1's "publish delivers synchronously within the
// same process" requirement.
func (p *LocalPort) Publish(_ context.Context, channel string, payload []byte) error {
	p.subMu.RLock()
	handlers := make([]Handler, 0, len(p.subs[channel]))
	for _, h := range p.subs[channel] {
		handlers = append(handlers, h)
	}
	p.subMu.RUnlock()

	for _, h := range handlers {
		h(payload)
	}
	return nil
}

func (p *LocalPort) Subscribe(_ context.Context, channel string, handler Handler) (func(), error) {
	p.subMu.Lock()
	if p.subs[channel] == nil {
		p.subs[channel] = make(map[int]Handler)
	}
	id := p.nextSubID
	p.nextSubID++
	p.subs[channel][id] = handler
	p.subMu.Unlock()

	unsubscribe := func() {
		p.subMu.Lock()
		defer p.subMu.Unlock()
		delete(p.subs[channel], id)
		if len(p.subs[channel]) == 0 {
			delete(p.subs, channel)
		}
	}
	return unsubscribe, nil
}

// SweepExpired removes expired values/hash fields/counters. The local
// fallback bucket sweep (spec.md §4.2) calls this on its own cadence;
// Get/HashGetAll/HashLen already evict lazily, so this is a belt-and-
// braces pass for keys that are never read again.
func (p *LocalPort) SweepExpired() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for k, e := range p.values {
		if e.expired() {
			delete(p.values, k)
		}
	}
	for k, e := range p.counters {
		if e.expired() {
			delete(p.counters, k)
		}
	}
	for k, h := range p.hashes {
		for f, e := range h {
			if e.expired() {
				delete(h, f)
			}
		}
		if len(h) == 0 {
			delete(p.hashes, k)
		}
	}
}

func newEntry(value []byte, ttl time.Duration) *entry {
	e := &entry{value: value}
	if ttl > 0 {
		e.expiresAt = time.Now().Add(ttl)
	}
	return e
}

func decodeCount(b []byte) int64 {
	var n int64
	for _, c := range b {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int64(c-'0')
	}
	return n
}

func encodeCount(n int64) []byte {
	if n == 0 {
		return []byte("0")
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return buf[i:]
}
