package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dkeye/duet/internal/domain"
)

// PairMode is the declarative form of the compatibility predicate for
// the redis backend: Go code cannot cross the wire, so the pairing
// rule is evaluated server-side inside one Lua script.
type PairMode string

const (
	PairAny           PairMode = "any"
	PairDistinctClass PairMode = "distinct"
)

// RedisStore keeps the queue in a sorted set scored by a monotonic
// sequence counter, so FIFO order survives process restarts and the
// dequeue scan stays atomic under EVAL. Every call carries a bounded
// timeout; a deadline surfaces as a Transient error with no partial
// queue state.
type RedisStore struct {
	rdb     *redis.Client
	key     string
	timeout time.Duration
	mode    PairMode
}

// scanLimit bounds the candidate window a single dequeue inspects.
const scanLimit = 64

var dequeueScript = redis.NewScript(`
local ids = redis.call('ZRANGE', KEYS[1], 0, tonumber(ARGV[2]) - 1)
if #ids < 2 then return {} end
for i = 1, #ids do
  for j = i + 1, #ids do
    local ok = true
    if ARGV[1] == 'distinct' then
      local ca = redis.call('HGET', KEYS[2], ids[i])
      local cb = redis.call('HGET', KEYS[2], ids[j])
      ok = ca == false or cb == false or ca == '' or cb == '' or ca ~= cb
    end
    if ok then
      redis.call('ZREM', KEYS[1], ids[i], ids[j])
      redis.call('HDEL', KEYS[2], ids[i], ids[j])
      return {ids[i], ids[j]}
    end
  end
end
return {}
`)

// NewRedisStore pings the server before returning: a dead backing
// store at startup is fatal for the process, per-request errors later
// are transient.
func NewRedisStore(ctx context.Context, rdb *redis.Client, kind domain.RoomKind, timeout time.Duration, mode PairMode) (*RedisStore, error) {
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if mode == "" {
		mode = PairAny
	}
	return &RedisStore{
		rdb:     rdb,
		key:     "duet:queue:" + string(kind),
		timeout: timeout,
		mode:    mode,
	}, nil
}

func (s *RedisStore) classKey() string { return s.key + ":class" }
func (s *RedisStore) seqKey() string   { return s.key + ":seq" }

func (s *RedisStore) Enqueue(ctx context.Context, e Entry) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	seq, err := s.rdb.Incr(ctx, s.seqKey()).Result()
	if err != nil {
		return domain.Transient("queue store enqueue", err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.ZAdd(ctx, s.key, redis.Z{Score: float64(seq), Member: string(e.Participant)})
	pipe.HSet(ctx, s.classKey(), string(e.Participant), e.Class)
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.Transient("queue store enqueue", err)
	}
	return nil
}

func (s *RedisStore) DequeuePair(ctx context.Context) (Entry, Entry, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	res, err := dequeueScript.Run(ctx, s.rdb,
		[]string{s.key, s.classKey()}, string(s.mode), scanLimit).StringSlice()
	if err != nil {
		return Entry{}, Entry{}, false, domain.Transient("queue store dequeue", err)
	}
	if len(res) < 2 {
		return Entry{}, Entry{}, false, nil
	}
	a := Entry{Participant: domain.ParticipantID(res[0])}
	b := Entry{Participant: domain.ParticipantID(res[1])}
	return a, b, true, nil
}

func (s *RedisStore) Remove(ctx context.Context, p domain.ParticipantID) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	pipe := s.rdb.TxPipeline()
	pipe.ZRem(ctx, s.key, string(p))
	pipe.HDel(ctx, s.classKey(), string(p))
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.Transient("queue store remove", err)
	}
	return nil
}

func (s *RedisStore) Len(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	n, err := s.rdb.ZCard(ctx, s.key).Result()
	if err != nil {
		return 0, domain.Transient("queue store len", err)
	}
	return int(n), nil
}
