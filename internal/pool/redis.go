package pool

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/adlib/coffee-chat/internal/matching"
)

const (
	// Redis key patterns for the pool. Only unmatched participants appear in
	// the sorted sets; the per-participant hash outlives the match so that
	// status lookups keep working.
	keyQueue             = "pool:queue"        // Sorted set, score = join timestamp (ms)
	keyDuration          = "pool:duration"     // Sorted set, score = requested minutes
	keyExpiry            = "pool:expiry"       // Sorted set, score = availability end (ms)
	keyParticipantPrefix = "pool:participant:" // + <username> -> Hash

	// MatchedRetention is how long a record is kept after the participant's
	// availability ends.
	MatchedRetention = 24 * time.Hour
)

// RedisPool is a Pool backed by Redis, shared by every matcher instance.
type RedisPool struct {
	rdb            *redis.Client
	claimScript    *redis.Script
	releaseScript  *redis.Script
	withdrawScript *redis.Script
}

// NewRedisPool creates a pool using the given Redis client.
func NewRedisPool(rdb *redis.Client) *RedisPool {
	return &RedisPool{
		rdb:            rdb,
		claimScript:    redis.NewScript(claimLua),
		releaseScript:  redis.NewScript(releaseLua),
		withdrawScript: redis.NewScript(withdrawLua),
	}
}

func participantKey(username string) string {
	return keyParticipantPrefix + username
}

// Add writes the participant hash and, for unmatched participants, indexes
// it in the candidate sets. Everything happens in one MULTI/EXEC.
func (q *RedisPool) Add(ctx context.Context, p matching.Participant) error {
	key := participantKey(p.Username)

	pipe := q.rdb.TxPipeline()
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, encodeParticipant(p))
	pipe.ExpireAt(ctx, key, p.AvailableUntil.Add(MatchedRetention))

	if p.Status == matching.StatusUnmatched {
		pipe.ZAdd(ctx, keyQueue, redis.Z{Score: float64(p.JoinedAt.UnixMilli()), Member: p.Username})
		pipe.ZAdd(ctx, keyDuration, redis.Z{Score: p.Duration.Minutes(), Member: p.Username})
		pipe.ZAdd(ctx, keyExpiry, redis.Z{Score: float64(p.AvailableUntil.UnixMilli()), Member: p.Username})
	} else {
		pipe.ZRem(ctx, keyQueue, p.Username)
		pipe.ZRem(ctx, keyDuration, p.Username)
		pipe.ZRem(ctx, keyExpiry, p.Username)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pool: add %s: %w", p.Username, err)
	}
	return nil
}

// Remove deletes a participant from the pool and all associated data structures.
func (q *RedisPool) Remove(ctx context.Context, username string) error {
	pipe := q.rdb.TxPipeline()
	pipe.ZRem(ctx, keyQueue, username)
	pipe.ZRem(ctx, keyDuration, username)
	pipe.ZRem(ctx, keyExpiry, username)
	pipe.Del(ctx, participantKey(username))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("pool: remove %s: %w", username, err)
	}
	return nil
}

// Withdraw runs withdrawLua so that a claim made by another instance between
// our read and the delete is never wiped out.
func (q *RedisPool) Withdraw(ctx context.Context, username string) (bool, error) {
	keys := []string{participantKey(username), keyQueue, keyDuration, keyExpiry}
	res, err := q.withdrawScript.Run(ctx, q.rdb, keys, username).Int()
	if err != nil {
		return false, fmt.Errorf("pool: withdraw %s: %w", username, err)
	}
	return res == 1, nil
}

// Get retrieves a participant. Returns nil if not found.
func (q *RedisPool) Get(ctx context.Context, username string) (*matching.Participant, error) {
	result, err := q.rdb.HGetAll(ctx, participantKey(username)).Result()
	if err != nil {
		return nil, fmt.Errorf("pool: get %s: %w", username, err)
	}
	if len(result) == 0 {
		return nil, nil
	}
	p := decodeParticipant(username, result)
	return &p, nil
}

// Candidates looks up usernames by duration range, then loads their hashes in
// a single pipeline.
func (q *RedisPool) Candidates(ctx context.Context, duration, tolerance time.Duration) ([]matching.Participant, error) {
	lo := (duration - tolerance).Minutes()
	hi := (duration + tolerance).Minutes()

	usernames, err := q.rdb.ZRangeByScore(ctx, keyDuration, &redis.ZRangeBy{
		Min: strconv.FormatFloat(lo, 'f', -1, 64),
		Max: strconv.FormatFloat(hi, 'f', -1, 64),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("pool: candidates: %w", err)
	}
	if len(usernames) == 0 {
		return nil, nil
	}

	pipe := q.rdb.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(usernames))
	for i, name := range usernames {
		cmds[i] = pipe.HGetAll(ctx, participantKey(name))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("pool: candidates load: %w", err)
	}

	out := make([]matching.Participant, 0, len(usernames))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue // stale index entry, Expire will drop it
		}
		p := decodeParticipant(usernames[i], fields)
		if p.Status != matching.StatusUnmatched {
			continue
		}
		out = append(out, p)
	}
	sortByArrival(out)
	return out, nil
}

// Claim runs claimLua, which flips the participant to matched and drops it
// from the candidate sets in one step.
func (q *RedisPool) Claim(ctx context.Context, username, matchID string) (bool, error) {
	keys := []string{participantKey(username), keyQueue, keyDuration, keyExpiry}
	res, err := q.claimScript.Run(ctx, q.rdb, keys, matchID, username).Int()
	if err != nil {
		return false, fmt.Errorf("pool: claim %s: %w", username, err)
	}
	return res == 1, nil
}

// Release puts a claimed participant back, provided the claim is still ours.
func (q *RedisPool) Release(ctx context.Context, username, matchID string) error {
	keys := []string{participantKey(username), keyQueue, keyDuration, keyExpiry}
	if err := q.releaseScript.Run(ctx, q.rdb, keys, matchID, username).Err(); err != nil {
		return fmt.Errorf("pool: release %s: %w", username, err)
	}
	return nil
}

// Expire removes participants whose availability has ended.
func (q *RedisPool) Expire(ctx context.Context, now time.Time) ([]string, error) {
	usernames, err := q.rdb.ZRangeByScore(ctx, keyExpiry, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("pool: expire: %w", err)
	}

	removed := make([]string, 0, len(usernames))
	for _, name := range usernames {
		if err := q.Remove(ctx, name); err != nil {
			return removed, err
		}
		removed = append(removed, name)
	}
	return removed, nil
}

// Size returns the number of participants waiting in the queue.
func (q *RedisPool) Size(ctx context.Context) (int64, error) {
	n, err := q.rdb.ZCard(ctx, keyQueue).Result()
	if err != nil {
		return 0, fmt.Errorf("pool: size: %w", err)
	}
	return n, nil
}

func encodeParticipant(p matching.Participant) map[string]interface{} {
	return map[string]interface{}{
		"username":        p.Username,
		"duration":        strconv.FormatInt(int64(p.Duration/time.Minute), 10),
		"available_until": strconv.FormatInt(p.AvailableUntil.UnixMilli(), 10),
		"role":            p.Role,
		"product_area":    p.ProductArea,
		"interests":       strings.Join(p.Interests, ","),
		"preference":      string(p.Preference),
		"match_id":        p.MatchID,
		"status":          string(p.Status),
		"joined_at":       strconv.FormatInt(p.JoinedAt.UnixMilli(), 10),
	}
}

func decodeParticipant(username string, fields map[string]string) matching.Participant {
	minutes, _ := strconv.ParseInt(fields["duration"], 10, 64)
	until, _ := strconv.ParseInt(fields["available_until"], 10, 64)
	joined, _ := strconv.ParseInt(fields["joined_at"], 10, 64)

	var interests []string
	if fields["interests"] != "" {
		interests = strings.Split(fields["interests"], ",")
	}

	return matching.Participant{
		Username:       username,
		Duration:       time.Duration(minutes) * time.Minute,
		AvailableUntil: time.UnixMilli(until),
		Role:           fields["role"],
		ProductArea:    fields["product_area"],
		Interests:      interests,
		Preference:     matching.Preference(fields["preference"]),
		MatchID:        fields["match_id"],
		Status:         matching.Status(fields["status"]),
		JoinedAt:       time.UnixMilli(joined),
	}
}

// claimLua is the per-identity exclusive claim. KEYS: participant hash,
// queue, duration and expiry sets. ARGV: match ID, username. Returns 1 when
// the claim succeeded and 0 when the participant is gone or already taken.
const claimLua = `
local key = KEYS[1]
local status = redis.call('HGET', key, 'status')
if status ~= 'unmatched' then return 0 end

redis.call('HSET', key, 'status', 'matched', 'match_id', ARGV[1])
redis.call('ZREM', KEYS[2], ARGV[2])
redis.call('ZREM', KEYS[3], ARGV[2])
redis.call('ZREM', KEYS[4], ARGV[2])
return 1
`

// releaseLua reverts a claim if it is still held under the same match ID.
const releaseLua = `
local key = KEYS[1]
local status = redis.call('HGET', key, 'status')
if status ~= 'matched' then return 0 end
if redis.call('HGET', key, 'match_id') ~= ARGV[1] then return 0 end

local vals = redis.call('HMGET', key, 'joined_at', 'duration', 'available_until')
redis.call('HSET', key, 'status', 'unmatched', 'match_id', '')
redis.call('ZADD', KEYS[2], vals[1], ARGV[2])
redis.call('ZADD', KEYS[3], vals[2], ARGV[2])
redis.call('ZADD', KEYS[4], vals[3], ARGV[2])
return 1
`

// withdrawLua deletes a participant unless it is matched. Returns 0 when the
// entry was left in place.
const withdrawLua = `
local key = KEYS[1]
if redis.call('HGET', key, 'status') == 'matched' then return 0 end

redis.call('DEL', key)
redis.call('ZREM', KEYS[2], ARGV[1])
redis.call('ZREM', KEYS[3], ARGV[1])
redis.call('ZREM', KEYS[4], ARGV[1])
return 1
`
