// Package redis provides the Redis-backed broker, the production default.
// Waiting jobs live in a list per queue, delayed jobs in a sorted set scored
// by their due time, in-flight jobs in a hash keyed by job id, and dead
// letters in a capped list. Dequeue and enqueue run as Lua scripts so that
// concurrent workers never double-deliver one pending entry.
package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/gomodule/redigo/redis"

	"github.com/skirmish-gg/dispatch/errors"
	redisUtils "github.com/skirmish-gg/dispatch/internal/redis"
	"github.com/skirmish-gg/dispatch/job"
	"github.com/skirmish-gg/dispatch/queue"
)

// enqueueScript atomically claims the dedupe key (when used) and places the
// envelope on the waiting list or the delayed set.
//
// KEYS: waiting list, delayed zset, dedupe key
// ARGV: envelope, job id, use-dedupe flag, dedupe TTL seconds, due score (0 = immediate)
var enqueueScript = redis.NewScript(3, `
if ARGV[3] == '1' then
  local existing = redis.call('GET', KEYS[3])
  if existing then
    return {0, existing}
  end
  redis.call('SET', KEYS[3], ARGV[2], 'EX', tonumber(ARGV[4]))
end
if tonumber(ARGV[5]) > 0 then
  redis.call('ZADD', KEYS[2], tonumber(ARGV[5]), ARGV[1])
else
  redis.call('RPUSH', KEYS[1], ARGV[1])
end
return {1, ARGV[2]}
`)

// dequeueScript promotes due delayed jobs, pops the queue head, increments
// its delivery count, releases its dedupe key, and records it as active.
//
// KEYS: waiting list, delayed zset, active hash
// ARGV: now score, dedupe key prefix
var dequeueScript = redis.NewScript(3, `
local due = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1], 'LIMIT', 0, 100)
for _, v in ipairs(due) do
  if redis.call('ZREM', KEYS[2], v) == 1 then
    redis.call('RPUSH', KEYS[1], v)
  end
end
local raw = redis.call('LPOP', KEYS[1])
if not raw then
  return false
end
local env = cjson.decode(raw)
env.attempts = env.attempts + 1
if env.dedupeKey and env.dedupeKey ~= '' then
  redis.call('DEL', ARGV[2] .. env.dedupeKey)
end
local out = cjson.encode(env)
redis.call('HSET', KEYS[3], env.id, out)
return out
`)

// Broker implements queue.Broker on Redis.
type Broker struct {
	pool      *redis.Pool
	namespace string
	options   Options
}

// NewBroker creates a new Redis broker
func NewBroker(options Options) *Broker {
	return &Broker{
		namespace: options.Namespace,
		options:   options,
	}
}

// Connect establishes the connection pool and verifies it.
func (r *Broker) Connect(ctx context.Context) error {
	pool, err := redisUtils.CreatePool(r.options)
	if err != nil {
		return fmt.Errorf("failed to create Redis pool: %w", err)
	}

	r.pool = pool

	conn := r.pool.Get()
	defer conn.Close()

	if _, err := conn.Do("PING"); err != nil {
		return fmt.Errorf("ping %s failed: %w", r.options.URI, err)
	}

	return nil
}

// Close closes the Redis connection pool
func (r *Broker) Close() error {
	if r.pool != nil {
		return r.pool.Close()
	}
	return nil
}

// Health checks the Redis connection health
func (r *Broker) Health() error {
	if r.pool == nil {
		return errors.ErrNotConnected
	}

	conn := r.pool.Get()
	defer conn.Close()

	if _, err := conn.Do("PING"); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}

	return nil
}

// Type returns the broker type
func (r *Broker) Type() string {
	return "redis"
}

// Capabilities returns Redis broker capabilities
func (r *Broker) Capabilities() queue.Capabilities {
	return queue.Capabilities{
		SupportsDelay:      true,
		SupportsDedupe:     true,
		SupportsDeadLetter: true,
	}
}

// Key layout under the namespace prefix.

func (r *Broker) waitingKey(queue string) string { return r.namespace + "queue:" + queue }
func (r *Broker) delayedKey(queue string) string { return r.namespace + "delayed:" + queue }
func (r *Broker) activeKey(queue string) string  { return r.namespace + "active:" + queue }
func (r *Broker) deadKey(queue string) string    { return r.namespace + "dead:" + queue }

func (r *Broker) dedupePrefix(queue string) string {
	return r.namespace + "dedupe:" + queue + ":"
}

func dueScore(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// Enqueue adds an envelope to the queue.
func (r *Broker) Enqueue(ctx context.Context, env *job.Envelope) error {
	if r.pool == nil {
		return errors.ErrNotConnected
	}

	data, err := job.Encode(env)
	if err != nil {
		return err
	}

	conn := r.pool.Get()
	defer conn.Close()

	useDedupe := "0"
	dedupeKey := r.dedupePrefix(env.Queue) + "-"
	if env.DedupeKey != "" {
		useDedupe = "1"
		dedupeKey = r.dedupePrefix(env.Queue) + env.DedupeKey
	}

	reply, err := redis.Values(enqueueScript.Do(conn,
		r.waitingKey(env.Queue), r.delayedKey(env.Queue), dedupeKey,
		data, env.ID, useDedupe, int64(r.options.DedupeTTL.Seconds()), dueScore(env.NotBefore),
	))
	if err != nil {
		return fmt.Errorf("enqueue on %s: %w", env.Queue, err)
	}

	var stored int64
	var id string
	if _, err := redis.Scan(reply, &stored, &id); err != nil {
		return fmt.Errorf("enqueue reply on %s: %w", env.Queue, err)
	}

	if stored == 0 {
		return &queue.DuplicateError{Queue: env.Queue, Key: env.DedupeKey, ExistingID: id}
	}

	return nil
}

// Dequeue retrieves the next due envelope, or nil when none is ready.
func (r *Broker) Dequeue(ctx context.Context, queueName string) (*job.Envelope, error) {
	if r.pool == nil {
		return nil, errors.ErrNotConnected
	}

	conn := r.pool.Get()
	defer conn.Close()

	reply, err := dequeueScript.Do(conn,
		r.waitingKey(queueName), r.delayedKey(queueName), r.activeKey(queueName),
		time.Now().UnixMilli(), r.dedupePrefix(queueName),
	)
	if err != nil {
		return nil, fmt.Errorf("dequeue on %s: %w", queueName, err)
	}

	if reply == nil {
		return nil, nil
	}

	data, err := redis.Bytes(reply, nil)
	if err != nil {
		return nil, fmt.Errorf("dequeue reply on %s: %w", queueName, err)
	}

	return job.Decode(data)
}

// Ack removes a delivered envelope from the active set.
func (r *Broker) Ack(ctx context.Context, env *job.Envelope) error {
	if r.pool == nil {
		return errors.ErrNotConnected
	}

	conn := r.pool.Get()
	defer conn.Close()

	if _, err := conn.Do("HDEL", r.activeKey(env.Queue), env.ID); err != nil {
		return fmt.Errorf("ack %s on %s: %w", env.ID, env.Queue, err)
	}
	return nil
}

// Retry schedules a new delivery after the given delay and releases the
// active entry. The job re-enters behind anything already due.
func (r *Broker) Retry(ctx context.Context, env *job.Envelope, delay time.Duration) error {
	if r.pool == nil {
		return errors.ErrNotConnected
	}

	env.NotBefore = time.Now().Add(delay)
	data, err := job.Encode(env)
	if err != nil {
		return err
	}

	conn := r.pool.Get()
	defer conn.Close()

	conn.Send("MULTI")
	conn.Send("ZADD", r.delayedKey(env.Queue), dueScore(env.NotBefore), data)
	conn.Send("HDEL", r.activeKey(env.Queue), env.ID)
	if _, err := conn.Do("EXEC"); err != nil {
		return fmt.Errorf("retry %s on %s: %w", env.ID, env.Queue, err)
	}
	return nil
}

// Bury moves an envelope to the queue's capped dead-letter list.
func (r *Broker) Bury(ctx context.Context, env *job.Envelope, cause error) error {
	if r.pool == nil {
		return errors.ErrNotConnected
	}

	if cause != nil {
		env.LastError = cause.Error()
	}
	data, err := job.Encode(env)
	if err != nil {
		return err
	}

	conn := r.pool.Get()
	defer conn.Close()

	conn.Send("MULTI")
	conn.Send("LPUSH", r.deadKey(env.Queue), data)
	if r.options.DeadLetterLimit > 0 {
		conn.Send("LTRIM", r.deadKey(env.Queue), 0, r.options.DeadLetterLimit-1)
	}
	conn.Send("HDEL", r.activeKey(env.Queue), env.ID)
	if _, err := conn.Do("EXEC"); err != nil {
		return fmt.Errorf("bury %s on %s: %w", env.ID, env.Queue, err)
	}
	return nil
}

// Stats returns a snapshot of one queue's state.
func (r *Broker) Stats(ctx context.Context, queueName string) (queue.Stats, error) {
	if r.pool == nil {
		return queue.Stats{}, errors.ErrNotConnected
	}

	conn := r.pool.Get()
	defer conn.Close()

	waiting, err := redis.Int64(conn.Do("LLEN", r.waitingKey(queueName)))
	if err != nil {
		return queue.Stats{}, fmt.Errorf("stats on %s: %w", queueName, err)
	}
	delayed, err := redis.Int64(conn.Do("ZCARD", r.delayedKey(queueName)))
	if err != nil {
		return queue.Stats{}, fmt.Errorf("stats on %s: %w", queueName, err)
	}
	active, err := redis.Int64(conn.Do("HLEN", r.activeKey(queueName)))
	if err != nil {
		return queue.Stats{}, fmt.Errorf("stats on %s: %w", queueName, err)
	}
	failed, err := redis.Int64(conn.Do("LLEN", r.deadKey(queueName)))
	if err != nil {
		return queue.Stats{}, fmt.Errorf("stats on %s: %w", queueName, err)
	}

	return queue.Stats{
		Name:    queueName,
		Waiting: waiting + delayed,
		Active:  active,
		Failed:  failed,
	}, nil
}

// DeadLetters returns up to limit dead-lettered envelopes, newest first.
func (r *Broker) DeadLetters(ctx context.Context, queueName string, limit int) ([]*job.Envelope, error) {
	if r.pool == nil {
		return nil, errors.ErrNotConnected
	}

	conn := r.pool.Get()
	defer conn.Close()

	entries, err := redis.ByteSlices(conn.Do("LRANGE", r.deadKey(queueName), 0, limit-1))
	if err != nil {
		return nil, fmt.Errorf("dead letters on %s: %w", queueName, err)
	}

	envs := make([]*job.Envelope, 0, len(entries))
	for _, data := range entries {
		env, err := job.Decode(data)
		if err != nil {
			return nil, err
		}
		envs = append(envs, env)
	}
	return envs, nil
}
