package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"starkit/core"
	"starkit/engine"
)

// Config holds Redis connection configuration
type Config struct {
	Addr         string        `json:"addr" yaml:"addr" env:"REDIS_ADDR"`
	Password     string        `json:"password,omitempty" yaml:"password" env:"REDIS_PASSWORD"`
	DB           int           `json:"db" yaml:"db" env:"REDIS_DB"`
	PoolSize     int           `json:"pool_size" yaml:"pool_size" env:"REDIS_POOL_SIZE"`
	MinIdleConns int           `json:"min_idle_conns" yaml:"min_idle_conns"`
	DialTimeout  time.Duration `json:"dial_timeout" yaml:"dial_timeout"`
	ReadTimeout  time.Duration `json:"read_timeout" yaml:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
	// LockTTL bounds how long a crashed holder can block a child.
	LockTTL time.Duration `json:"lock_ttl" yaml:"lock_ttl" env:"REDIS_LOCK_TTL"`
	// LockWait is how long Update waits for the child lock before giving up.
	LockWait time.Duration `json:"lock_wait" yaml:"lock_wait" env:"REDIS_LOCK_WAIT"`
}

// DefaultConfig returns sensible defaults for Redis configuration
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		LockTTL:      10 * time.Second,
		LockWait:     5 * time.Second,
	}
}

// ErrLockTimeout is returned when the per-child lock could not be taken in time.
var ErrLockTimeout = errors.New("redis: timed out waiting for child lock")

// Store implements the engine.Storage interface using Redis as the backend.
// Data structure:
// - child:{id} -> JSON blob of core.Child
// - child:{id}:achievements -> hash of achievement key to JSON earned record
// - child:{id}:days -> sorted set of activity days scored by unix time
// - child:{id}:day:{yyyy-mm-dd} -> hash of daily counters
// - lock:child:{id} -> lock token held for the duration of Update
type Store struct {
	client   *redis.Client
	lockTTL  time.Duration
	lockWait time.Duration
}

// New creates a new Redis-backed storage with the provided configuration
func New(config Config) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         config.Addr,
		Password:     config.Password,
		DB:           config.DB,
		PoolSize:     config.PoolSize,
		MinIdleConns: config.MinIdleConns,
		DialTimeout:  config.DialTimeout,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	s := NewWithClient(client)
	if config.LockTTL > 0 {
		s.lockTTL = config.LockTTL
	}
	if config.LockWait > 0 {
		s.lockWait = config.LockWait
	}
	return s, nil
}

// NewWithClient creates a Store using an existing Redis client (useful for testing)
func NewWithClient(client *redis.Client) *Store {
	d := DefaultConfig()
	return &Store{client: client, lockTTL: d.LockTTL, lockWait: d.LockWait}
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

func childKey(id core.ChildID) string { return "child:" + string(id) }

func achievementsKey(id core.ChildID) string { return fmt.Sprintf("child:%s:achievements", id) }

func daysKey(id core.ChildID) string { return fmt.Sprintf("child:%s:days", id) }

func dayKey(id core.ChildID, day time.Time) string {
	return fmt.Sprintf("child:%s:day:%s", id, day.Format(dayLayout))
}

func lockKey(id core.ChildID) string { return "lock:child:" + string(id) }

const dayLayout = "2006-01-02"

// earnedRecord is the hash value stored per achievement; Seq keeps unlock order
// for achievements sharing a timestamp.
type earnedRecord struct {
	EarnedAt time.Time `json:"earned_at"`
	Seq      int       `json:"seq"`
}

// Lua script releasing a lock only if we still own it
var unlockScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

func (s *Store) CreateChild(ctx context.Context, child core.Child) error {
	data, err := json.Marshal(child)
	if err != nil {
		return err
	}
	ok, err := s.client.SetNX(ctx, childKey(child.ID), data, 0).Result()
	if err != nil {
		return fmt.Errorf("failed to create child: %w", err)
	}
	if !ok {
		return core.ChildExists(child.ID)
	}
	return nil
}

func (s *Store) GetChild(ctx context.Context, id core.ChildID) (core.Child, error) {
	return getChild(ctx, s.client, id)
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func getChild(ctx context.Context, c getter, id core.ChildID) (core.Child, error) {
	data, err := c.Get(ctx, childKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return core.Child{}, core.ChildNotFound(id)
	}
	if err != nil {
		return core.Child{}, fmt.Errorf("failed to get child: %w", err)
	}
	var child core.Child
	if err := json.Unmarshal(data, &child); err != nil {
		return core.Child{}, fmt.Errorf("decode child %s: %w", id, err)
	}
	return child, nil
}

// ListChildren scans child:* and loads every child record. Ids never contain
// ':', so the record keys are the ones with a single separator.
func (s *Store) ListChildren(ctx context.Context) ([]core.Child, error) {
	var keys []string
	iter := s.client.Scan(ctx, 0, "child:*", 200).Iterator()
	for iter.Next(ctx) {
		if k := iter.Val(); strings.Count(k, ":") == 1 {
			keys = append(keys, k)
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan children: %w", err)
	}
	sort.Strings(keys)

	out := make([]core.Child, 0, len(keys))
	for start := 0; start < len(keys); start += 200 {
		batch := keys[start:min(start+200, len(keys))]
		vals, err := s.client.MGet(ctx, batch...).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to load children: %w", err)
		}
		for i, v := range vals {
			raw, ok := v.(string)
			if !ok {
				continue // deleted between SCAN and MGET
			}
			var c core.Child
			if err := json.Unmarshal([]byte(raw), &c); err != nil {
				return nil, fmt.Errorf("decode %s: %w", batch[i], err)
			}
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *Store) exists(ctx context.Context, id core.ChildID) error {
	n, err := s.client.Exists(ctx, childKey(id)).Result()
	if err != nil {
		return fmt.Errorf("failed to check child: %w", err)
	}
	if n == 0 {
		return core.ChildNotFound(id)
	}
	return nil
}

func (s *Store) ListEarnedAchievements(ctx context.Context, id core.ChildID) ([]core.EarnedAchievement, error) {
	if err := s.exists(ctx, id); err != nil {
		return nil, err
	}
	raw, err := s.client.HGetAll(ctx, achievementsKey(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list achievements: %w", err)
	}
	type row struct {
		core.EarnedAchievement
		seq int
	}
	rows := make([]row, 0, len(raw))
	for key, v := range raw {
		var rec earnedRecord
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			continue // skip invalid entries
		}
		rows = append(rows, row{core.EarnedAchievement{ChildID: id, Key: key, EarnedAt: rec.EarnedAt}, rec.Seq})
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].seq < rows[j].seq })
	out := make([]core.EarnedAchievement, len(rows))
	for i, r := range rows {
		out[i] = r.EarnedAchievement
	}
	return out, nil
}

func (s *Store) ListDailyActivity(ctx context.Context, id core.ChildID, from, to time.Time) ([]core.DailyActivity, error) {
	if err := s.exists(ctx, id); err != nil {
		return nil, err
	}
	days, err := s.client.ZRangeByScore(ctx, daysKey(id), &redis.ZRangeBy{
		Min: strconv.FormatInt(from.Unix(), 10),
		Max: strconv.FormatInt(to.Unix(), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list activity days: %w", err)
	}
	out := make([]core.DailyActivity, 0, len(days))
	for _, d := range days {
		day, err := time.Parse(dayLayout, d)
		if err != nil {
			continue
		}
		fields, err := s.client.HGetAll(ctx, dayKey(id, day)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to get activity: %w", err)
		}
		out = append(out, core.DailyActivity{
			ChildID:          id,
			Day:              day,
			LessonsCompleted: int(atoi(fields["lessons"])),
			StarsEarned:      atoi(fields["stars"]),
			WordsLearned:     int(atoi(fields["words"])),
			AnswersRecorded:  int(atoi(fields["answers"])),
		})
	}
	return out, nil
}

func atoi(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

// ErrConflict is returned when a watched child key changed between the read and
// the commit, which happens when the lock lease expired under a slow holder.
// Nothing was written, so the operation can be retried.
var ErrConflict = errors.New("redis: child changed during update")

// Update takes the child lock, runs fn against a snapshot and writes the staged
// changes in one MULTI/EXEC block. The child, its achievements and the lock key
// are WATCHed from the read onwards, so a holder whose lease ran out cannot
// overwrite the next holder's write.
func (s *Store) Update(ctx context.Context, id core.ChildID, fn func(tx engine.Tx) error) error {
	token, err := s.lock(ctx, id)
	if err != nil {
		return err
	}
	defer s.unlock(id, token)

	err = s.client.Watch(ctx, func(rtx *redis.Tx) error {
		child, err := getChild(ctx, rtx, id)
		if err != nil {
			return err
		}
		tx := &redisTx{ctx: ctx, rtx: rtx, child: child}
		if err := fn(tx); err != nil {
			return err
		}
		return tx.commit()
	}, childKey(id), achievementsKey(id), lockKey(id))
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("%w: %s", ErrConflict, id)
	}
	return err
}

func (s *Store) lock(ctx context.Context, id core.ChildID) (string, error) {
	token := uuid.NewString()
	deadline := time.Now().Add(s.lockWait)
	for {
		ok, err := s.client.SetNX(ctx, lockKey(id), token, s.lockTTL).Result()
		if err != nil {
			return "", fmt.Errorf("failed to lock child: %w", err)
		}
		if ok {
			return token, nil
		}
		if time.Now().After(deadline) {
			return "", ErrLockTimeout
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func (s *Store) unlock(id core.ChildID, token string) {
	// a cancelled request context must not leave the lock behind
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_ = unlockScript.Run(ctx, s.client, []string{lockKey(id)}, token).Err()
}

type redisTx struct {
	ctx      context.Context
	rtx      *redis.Tx
	child    core.Child
	saved    *core.Child
	earned   map[string]struct{}
	staged   []core.EarnedAchievement
	activity []core.DailyActivity
}

func (t *redisTx) Child() core.Child { return t.child.Clone() }

func (t *redisTx) EarnedKeys() (map[string]struct{}, error) {
	if t.earned == nil {
		keys, err := t.rtx.HKeys(t.ctx, achievementsKey(t.child.ID)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to load achievements: %w", err)
		}
		t.earned = make(map[string]struct{}, len(keys))
		for _, k := range keys {
			t.earned[k] = struct{}{}
		}
	}
	out := make(map[string]struct{}, len(t.earned)+len(t.staged))
	for k := range t.earned {
		out[k] = struct{}{}
	}
	for _, a := range t.staged {
		out[a.Key] = struct{}{}
	}
	return out, nil
}

func (t *redisTx) SaveChild(child core.Child) error {
	c := child.Clone()
	c.ID = t.child.ID
	t.saved = &c
	return nil
}

func (t *redisTx) InsertAchievementIfAbsent(a core.EarnedAchievement) (bool, error) {
	keys, err := t.EarnedKeys()
	if err != nil {
		return false, err
	}
	if _, ok := keys[a.Key]; ok {
		return false, nil
	}
	a.ChildID = t.child.ID
	t.staged = append(t.staged, a)
	return true, nil
}

func (t *redisTx) AddDailyActivity(a core.DailyActivity) error {
	a.ChildID = t.child.ID
	t.activity = append(t.activity, a)
	return nil
}

func (t *redisTx) commit() error {
	id := t.child.ID
	var childData []byte
	if t.saved != nil {
		var err error
		if childData, err = json.Marshal(t.saved); err != nil {
			return err
		}
	}
	_, err := t.rtx.TxPipelined(t.ctx, func(pipe redis.Pipeliner) error {
		if childData != nil {
			pipe.Set(t.ctx, childKey(id), childData, 0)
		}
		for i, a := range t.staged {
			rec, _ := json.Marshal(earnedRecord{EarnedAt: a.EarnedAt, Seq: len(t.earned) + i})
			// HSETNX keeps a second award impossible even without the lock
			pipe.HSetNX(t.ctx, achievementsKey(id), a.Key, rec)
		}
		for _, a := range t.activity {
			key := dayKey(id, a.Day)
			pipe.ZAdd(t.ctx, daysKey(id), redis.Z{Score: float64(a.Day.Unix()), Member: a.Day.Format(dayLayout)})
			pipe.HIncrBy(t.ctx, key, "lessons", int64(a.LessonsCompleted))
			pipe.HIncrBy(t.ctx, key, "stars", a.StarsEarned)
			pipe.HIncrBy(t.ctx, key, "words", int64(a.WordsLearned))
			pipe.HIncrBy(t.ctx, key, "answers", int64(a.AnswersRecorded))
		}
		return nil
	})
	if errors.Is(err, redis.TxFailedErr) {
		return err
	}
	if err != nil {
		return fmt.Errorf("failed to commit child update: %w", err)
	}
	return nil
}

var (
	_ engine.Storage     = (*Store)(nil)
	_ engine.ChildLister = (*Store)(nil)
)
