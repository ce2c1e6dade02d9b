package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// claimScript resolves idempotent replay and sequence assignment atomically.
// KEYS[1] = dedupe hash (request_id -> stored record JSON)
// KEYS[2] = sequence counter
// ARGV[1] = request_id
// Returns {0, record JSON} for an already-recorded request id, or
// {1, next sequence} for a fresh one.
var claimScript = redis.NewScript(`
local existing = redis.call("HGET", KEYS[1], ARGV[1])
if existing then
    return {0, existing}
end
local seq = redis.call("INCR", KEYS[2])
return {1, tostring(seq)}
`)

// RedisStore keeps the audit trail in a Redis stream plus a dedupe hash, for
// deployments where records must outlive the gateway process and be readable
// by external consumers. Sequence numbers are monotonic but may have gaps if
// a claimed write never lands.
type RedisStore struct {
	client    *redis.Client
	prefix    string
	mu        sync.Mutex
	chainHead string
}

// OpenRedis connects to the given Redis instance and recovers the chain head.
func OpenRedis(ctx context.Context, addr, password string, db int, prefix string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if prefix == "" {
		prefix = "cliniguard:audit"
	}
	s := &RedisStore{client: client, prefix: prefix, chainHead: genesisHash}

	head, err := client.Get(ctx, s.key("chainhead")).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		_ = client.Close()
		return nil, fmt.Errorf("redis chain head: %w", err)
	}
	if head != "" {
		s.chainHead = head
	}
	return s, nil
}

func (s *RedisStore) key(suffix string) string {
	return s.prefix + ":" + suffix
}

// Append claims a sequence slot for the request id, then writes the hashed
// record to the dedupe hash and the stream in one transaction.
func (s *RedisStore) Append(ctx context.Context, rec Record) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := claimScript.Run(ctx, s.client,
		[]string{s.key("byreq"), s.key("seq")}, rec.RequestID).Result()
	if err != nil {
		return Record{}, false, fmt.Errorf("redis claim: %w", err)
	}
	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return Record{}, false, fmt.Errorf("redis claim: unexpected script reply %v", res)
	}
	fresh, _ := vals[0].(int64)
	payload, _ := vals[1].(string)

	if fresh == 0 {
		var existing Record
		if err := json.Unmarshal([]byte(payload), &existing); err != nil {
			return Record{}, false, fmt.Errorf("redis decode replayed record: %w", err)
		}
		return existing, true, nil
	}

	seq, err := strconv.ParseUint(payload, 10, 64)
	if err != nil {
		return Record{}, false, fmt.Errorf("redis parse sequence %q: %w", payload, err)
	}

	rec.Sequence = seq
	if rec.RecordID == "" {
		rec.RecordID = uuid.New().String()
	}
	if rec.RecordedAt.IsZero() {
		rec.RecordedAt = time.Now().UTC()
	}
	rec.PrevHash = s.chainHead

	hash, err := computeRecordHash(rec)
	if err != nil {
		return Record{}, false, err
	}
	rec.Hash = hash

	raw, err := json.Marshal(rec)
	if err != nil {
		return Record{}, false, fmt.Errorf("redis encode record: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.key("byreq"), rec.RequestID, raw)
	pipe.XAdd(ctx, &redis.XAddArgs{
		Stream: s.key("stream"),
		Values: map[string]interface{}{"record": raw},
	})
	pipe.Set(ctx, s.key("chainhead"), hash, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return Record{}, false, fmt.Errorf("redis append: %w", err)
	}

	s.chainHead = hash
	return rec, false, nil
}

// Query scans the stream and filters client-side; the stream is the ordered
// source of truth, the dedupe hash only serves replay lookups.
func (s *RedisStore) Query(ctx context.Context, f Filter) ([]Record, error) {
	records, err := s.loadStream(ctx)
	if err != nil {
		return nil, err
	}
	results := make([]Record, 0)
	for _, rec := range records {
		if !f.matches(rec) {
			continue
		}
		results = append(results, rec)
		if f.Limit > 0 && len(results) >= f.Limit {
			break
		}
	}
	return results, nil
}

// VerifyChain recomputes the chain over the full stream.
func (s *RedisStore) VerifyChain(ctx context.Context) (uint64, error) {
	records, err := s.loadStream(ctx)
	if err != nil {
		return 0, err
	}
	return verifyRecords(records)
}

func (s *RedisStore) loadStream(ctx context.Context) ([]Record, error) {
	msgs, err := s.client.XRange(ctx, s.key("stream"), "-", "+").Result()
	if err != nil {
		return nil, fmt.Errorf("redis stream read: %w", err)
	}
	records := make([]Record, 0, len(msgs))
	for _, msg := range msgs {
		raw, ok := msg.Values["record"].(string)
		if !ok {
			return nil, fmt.Errorf("redis stream entry %s has no record field", msg.ID)
		}
		var rec Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("redis decode stream entry %s: %w", msg.ID, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// Ping checks connectivity to Redis.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the client connection pool.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
