package kvstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// reconnect policy from spec.md §5: exponential backoff capped at 3s, up
// to 10 retries, then the port surfaces as disconnected.
const (
	maxReconnects   = 10
	reconnectWait   = 500 * time.Millisecond
	reconnectJitter = 250 * time.Millisecond
	maxReconnectWait = 3 * time.Second
)

// NATSPort is the clustered implementation of Port. It uses a JetStream
// KeyValue bucket for get/set/hash/counter/sorted-set semantics and core
// NATS publish/subscribe for room broadcast fan-out, generalizing the
// teacher's single-subject pkg/nats/client.go to one subject per channel.
type NATSPort struct {
	conn *nats.Conn
	js   nats.JetStreamContext
	kv   nats.KeyValue

	logger    zerolog.Logger
	connected atomic.Bool

	subMu sync.Mutex
	subs  map[string]*nats.Subscription
}

// NATSConfig configures the clustered port.
type NATSConfig struct {
	URL    string
	Bucket string // JetStream KV bucket name, e.g. "sync-hub"
}

// NewNATSPort connects to NATS, provisions (or attaches to) the JetStream
// KV bucket backing shared state, and wires the connection lifecycle
// callbacks the teacher's pkg/nats/client.go uses for observability.
func NewNATSPort(cfg NATSConfig, logger zerolog.Logger) (*NATSPort, error) {
	p := &NATSPort{
		logger: logger,
		subs:   make(map[string]*nats.Subscription),
	}

	opts := []nats.Option{
		nats.MaxReconnects(maxReconnects),
		nats.ReconnectWait(reconnectWait),
		nats.ReconnectJitter(reconnectJitter, reconnectJitter),
		nats.ConnectHandler(p.onConnect),
		nats.DisconnectErrHandler(p.onDisconnect),
		nats.ReconnectHandler(p.onReconnect),
		nats.ErrorHandler(p.onError),
		nats.CustomReconnectDelay(func(attempts int) time.Duration {
			delay := reconnectWait * time.Duration(1<<uint(attempts))
			if delay > maxReconnectWait {
				delay = maxReconnectWait
			}
			return delay
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("kvstore: connect to NATS at %s: %w", cfg.URL, err)
	}
	p.conn = conn

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("kvstore: acquire JetStream context: %w", err)
	}
	p.js = js

	bucket := cfg.Bucket
	if bucket == "" {
		bucket = "sync-hub"
	}
	kv, err := js.KeyValue(bucket)
	if err != nil {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket: bucket,
			TTL:    0, // per-key expiry is tracked in the stored envelope, see put/get below
		})
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("kvstore: create KV bucket %s: %w", bucket, err)
		}
	}
	p.kv = kv

	p.connected.Store(true)
	return p, nil
}

func (p *NATSPort) onConnect(c *nats.Conn) {
	p.connected.Store(true)
	p.logger.Info().Str("url", c.ConnectedUrl()).Msg("connected to NATS")
}

func (p *NATSPort) onDisconnect(_ *nats.Conn, err error) {
	p.connected.Store(false)
	if err != nil {
		p.logger.Warn().Err(err).Msg("disconnected from NATS")
	} else {
		p.logger.Warn().Msg("disconnected from NATS")
	}
}

func (p *NATSPort) onReconnect(c *nats.Conn) {
	p.connected.Store(true)
	p.logger.Info().Str("url", c.ConnectedUrl()).Msg("reconnected to NATS")
}

func (p *NATSPort) onError(_ *nats.Conn, _ *nats.Subscription, err error) {
	p.logger.Error().Err(err).Msg("NATS error")
}

func (p *NATSPort) Connected() bool { return p.connected.Load() }

func (p *NATSPort) Close() error {
	p.subMu.Lock()
	for _, sub := range p.subs {
		_ = sub.Unsubscribe()
	}
	p.subMu.Unlock()

	p.conn.Close()
	return nil
}

// envelope wraps every KV value with its own expiry so a single bucket-
// wide TTL is not required; spec.md §4.1 treats TTL as a per-key concept.
type envelope struct {
	Value     []byte    `json:"v"`
	ExpiresAt time.Time `json:"exp,omitempty"`
}

func (e envelope) expired() bool {
	return !e.ExpiresAt.IsZero() && time.Now().After(e.ExpiresAt)
}

func (p *NATSPort) getEnvelope(key string) (envelope, bool) {
	entry, err := p.kv.Get(key)
	if err != nil {
		return envelope{}, false
	}
	var env envelope
	if err := json.Unmarshal(entry.Value(), &env); err != nil {
		return envelope{}, false
	}
	if env.expired() {
		_ = p.kv.Delete(key)
		return envelope{}, false
	}
	return env, true
}

func (p *NATSPort) putEnvelope(key string, value []byte, ttl time.Duration) error {
	env := envelope{Value: value}
	if ttl > 0 {
		env.ExpiresAt = time.Now().Add(ttl)
	}
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("kvstore: marshal envelope for %s: %w", key, err)
	}
	_, err = p.kv.Put(key, data)
	return err
}

func (p *NATSPort) Get(_ context.Context, key string) ([]byte, bool) {
	if !p.Connected() {
		return nil, false
	}
	env, ok := p.getEnvelope(key)
	if !ok {
		return nil, false
	}
	return env.Value, true
}

func (p *NATSPort) SetWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if !p.Connected() {
		return nil // spec.md §4.1: writes silently no-op while disconnected
	}
	return p.putEnvelope(key, value, ttl)
}

// CreateWithTTL uses the JetStream KV's revision-aware Create, which fails
// atomically if key already exists, to avoid the get-then-put race a plain
// SetWithTTL would leave open. On a lost race it reads back and returns the
// winner's value, matching IncrementWithTTL's own revision-based retry
// pattern below.
func (p *NATSPort) CreateWithTTL(_ context.Context, key string, value []byte, ttl time.Duration) ([]byte, bool, error) {
	if !p.Connected() {
		return value, true, nil // spec.md §4.1: writes no-op while disconnected
	}

	env := envelope{Value: value}
	if ttl > 0 {
		env.ExpiresAt = time.Now().Add(ttl)
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, false, fmt.Errorf("kvstore: marshal envelope for %s: %w", key, err)
	}

	if _, err := p.kv.Create(key, payload); err == nil {
		return value, true, nil
	}

	existing, ok := p.getEnvelope(key)
	if !ok {
		// Lost the create race to an entry that has since expired or been
		// deleted; fall back to a plain put rather than leaving key absent.
		if err := p.putEnvelope(key, value, ttl); err != nil {
			return nil, false, err
		}
		return value, true, nil
	}
	return existing.Value, false, nil
}

func (p *NATSPort) Delete(_ context.Context, key string) error {
	if !p.Connected() {
		return nil
	}
	_ = p.kv.Delete(key)
	_ = p.kv.Delete(hashKey(key))
	return nil
}

// Hash fields are stored as individual KV entries under a
// "{key}:{field}" composite, plus a membership index entry at
// hashKey(key) recording the field names so HashGetAll/HashLen don't need
// a bucket-wide key scan.
func hashKey(key string) string { return key + ":__fields__" }

func (p *NATSPort) hashIndex(key string) map[string]bool {
	env, ok := p.getEnvelope(hashKey(key))
	if !ok {
		return map[string]bool{}
	}
	var fields map[string]bool
	if err := json.Unmarshal(env.Value, &fields); err != nil {
		return map[string]bool{}
	}
	return fields
}

func (p *NATSPort) putHashIndex(key string, fields map[string]bool, ttl time.Duration) error {
	data, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	return p.putEnvelope(hashKey(key), data, ttl)
}

func (p *NATSPort) HashSet(_ context.Context, key, field string, value []byte, ttl time.Duration) error {
	if !p.Connected() {
		return nil
	}
	fields := p.hashIndex(key)
	fields[field] = true
	if err := p.putHashIndex(key, fields, ttl); err != nil {
		return fmt.Errorf("kvstore: update hash index for %s: %w", key, err)
	}
	return p.putEnvelope(fmt.Sprintf("%s:%s", key, field), value, ttl)
}

func (p *NATSPort) HashGetAll(_ context.Context, key string) map[string][]byte {
	if !p.Connected() {
		return map[string][]byte{}
	}
	fields := p.hashIndex(key)
	out := make(map[string][]byte, len(fields))
	for field := range fields {
		if env, ok := p.getEnvelope(fmt.Sprintf("%s:%s", key, field)); ok {
			out[field] = env.Value
		}
	}
	return out
}

func (p *NATSPort) HashDel(_ context.Context, key, field string) error {
	if !p.Connected() {
		return nil
	}
	fields := p.hashIndex(key)
	delete(fields, field)
	_ = p.putHashIndex(key, fields, 0)
	_ = p.kv.Delete(fmt.Sprintf("%s:%s", key, field))
	return nil
}

func (p *NATSPort) HashLen(_ context.Context, key string) int {
	if !p.Connected() {
		return 0
	}
	return len(p.HashGetAll(context.Background(), key))
}

func (p *NATSPort) IncrementWithTTL(_ context.Context, key string, ttl time.Duration) (int64, error) {
	if !p.Connected() {
		return 0, nil
	}
	for attempt := 0; attempt < 5; attempt++ {
		entry, err := p.kv.Get(key)
		if err == nats.ErrKeyNotFound {
			data := []byte(strconv.FormatInt(1, 10))
			env := envelope{Value: data}
			if ttl > 0 {
				env.ExpiresAt = time.Now().Add(ttl)
			}
			payload, _ := json.Marshal(env)
			if _, err := p.kv.Create(key, payload); err == nil {
				return 1, nil
			}
			continue // lost the create race, retry the read-modify-write
		}
		if err != nil {
			return 0, fmt.Errorf("kvstore: read counter %s: %w", key, err)
		}

		var env envelope
		if err := json.Unmarshal(entry.Value(), &env); err != nil {
			return 0, fmt.Errorf("kvstore: decode counter %s: %w", key, err)
		}
		if env.expired() {
			_ = p.kv.Delete(key)
			continue
		}

		count, _ := strconv.ParseInt(string(env.Value), 10, 64)
		count++
		env.Value = []byte(strconv.FormatInt(count, 10))
		payload, _ := json.Marshal(env)
		if _, err := p.kv.Update(key, payload, entry.Revision()); err == nil {
			return count, nil
		}
		// revision mismatch: another instance incremented concurrently, retry
	}
	return 0, fmt.Errorf("kvstore: increment %s: too much contention", key)
}

// Sorted sets are used only by the connection-admission sliding window;
// they are stored as a single JSON map[member]score envelope, consistent
// with the hash-index approach above.
func (p *NATSPort) sortedSet(key string) map[string]float64 {
	env, ok := p.getEnvelope(key)
	if !ok {
		return map[string]float64{}
	}
	var set map[string]float64
	if err := json.Unmarshal(env.Value, &set); err != nil {
		return map[string]float64{}
	}
	return set
}

func (p *NATSPort) putSortedSet(key string, set map[string]float64) error {
	data, err := json.Marshal(set)
	if err != nil {
		return err
	}
	return p.putEnvelope(key, data, 0)
}

func (p *NATSPort) SortedSetAdd(_ context.Context, key string, score float64, member string) error {
	if !p.Connected() {
		return nil
	}
	set := p.sortedSet(key)
	set[member] = score
	return p.putSortedSet(key, set)
}

func (p *NATSPort) SortedSetRangeByScore(_ context.Context, key string, min, max float64) []string {
	if !p.Connected() {
		return nil
	}
	var out []string
	for member, score := range p.sortedSet(key) {
		if score >= min && score <= max {
			out = append(out, member)
		}
	}
	return out
}

func (p *NATSPort) SortedSetRemoveRangeByScore(_ context.Context, key string, min, max float64) int {
	if !p.Connected() {
		return 0
	}
	set := p.sortedSet(key)
	removed := 0
	for member, score := range set {
		if score >= min && score <= max {
			delete(set, member)
			removed++
		}
	}
	if removed > 0 {
		_ = p.putSortedSet(key, set)
	}
	return removed
}

func (p *NATSPort) Publish(_ context.Context, channel string, payload []byte) error {
	if !p.Connected() {
		return nil
	}
	return p.conn.Publish(channel, payload)
}

func (p *NATSPort) Subscribe(_ context.Context, channel string, handler Handler) (func(), error) {
	sub, err := p.conn.Subscribe(channel, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("kvstore: subscribe to %s: %w", channel, err)
	}

	p.subMu.Lock()
	p.subs[channel] = sub
	p.subMu.Unlock()

	unsubscribe := func() {
		p.subMu.Lock()
		delete(p.subs, channel)
		p.subMu.Unlock()
		_ = sub.Unsubscribe()
	}
	return unsubscribe, nil
}
