package admin

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"checkin/internal/metrics"
)

// ErrNotConfirmed rejects a commit without the explicit confirmation flag.
var ErrNotConfirmed = errors.New("deletion not confirmed")

// Pair identifies one record marked for deletion: the row id and the object
// key that must go with it.
type Pair struct {
	CheckinID string `json:"checkin_id"`
	PhotoPath string `json:"photo_path"`
}

// SelectionStore holds each admin session's pending deletion set.
type SelectionStore interface {
	// Toggle flips membership of p and reports the resulting state.
	Toggle(ctx context.Context, sessionID string, p Pair) (selected bool, err error)
	Members(ctx context.Context, sessionID string) ([]Pair, error)
	Clear(ctx context.Context, sessionID string) error
}

// RecordDeleter removes check-in rows by id.
type RecordDeleter interface {
	DeleteCheckins(ctx context.Context, ids []string) (int64, error)
}

// BlobRemover bulk-deletes photo objects by key.
type BlobRemover interface {
	Remove(ctx context.Context, paths []string) error
}

// Coordinator tracks the records an admin has marked for deletion and
// applies the two-phase removal on commit.
type Coordinator struct {
	selections SelectionStore
	records    RecordDeleter
	blobs      BlobRemover
}

// NewCoordinator creates a coordinator over a selection store and the two
// deletion targets.
func NewCoordinator(selections SelectionStore, records RecordDeleter, blobs BlobRemover) *Coordinator {
	return &Coordinator{selections: selections, records: records, blobs: blobs}
}

// Toggle flips one record's marked-for-deletion state.
func (c *Coordinator) Toggle(ctx context.Context, sessionID string, p Pair) (bool, error) {
	return c.selections.Toggle(ctx, sessionID, p)
}

// Selection returns the session's current deletion set.
func (c *Coordinator) Selection(ctx context.Context, sessionID string) ([]Pair, error) {
	return c.selections.Members(ctx, sessionID)
}

// CommitResult reports what a commit removed.
type CommitResult struct {
	RowsDeleted  int64 `json:"rows_deleted"`
	BlobsDeleted int   `json:"blobs_deleted"`
}

// Commit deletes everything in the session's selection set: database rows
// first, then blob objects. A failure after the row deletion leaves orphaned
// blobs, which a maintenance sweep can reclaim; the reverse order would
// leave rows pointing at missing photos and break the admin view. On any
// failure the selection set stays intact so the admin can retry; only a
// fully successful commit clears it.
func (c *Coordinator) Commit(ctx context.Context, sessionID string, confirmed bool) (CommitResult, error) {
	if !confirmed {
		return CommitResult{}, ErrNotConfirmed
	}

	pairs, err := c.selections.Members(ctx, sessionID)
	if err != nil {
		return CommitResult{}, err
	}
	if len(pairs) == 0 {
		return CommitResult{}, nil
	}

	ids := make([]string, 0, len(pairs))
	paths := make([]string, 0, len(pairs))
	for _, p := range pairs {
		ids = append(ids, p.CheckinID)
		paths = append(paths, p.PhotoPath)
	}

	rows, err := c.records.DeleteCheckins(ctx, ids)
	if err != nil {
		return CommitResult{}, fmt.Errorf("delete rows: %w", err)
	}
	metrics.RecordsDeleted.Add(float64(rows))

	if err := c.blobs.Remove(ctx, paths); err != nil {
		return CommitResult{RowsDeleted: rows}, fmt.Errorf("remove objects: %w", err)
	}
	metrics.BlobsDeleted.Add(float64(len(paths)))

	if err := c.selections.Clear(ctx, sessionID); err != nil {
		return CommitResult{RowsDeleted: rows, BlobsDeleted: len(paths)}, err
	}
	return CommitResult{RowsDeleted: rows, BlobsDeleted: len(paths)}, nil
}

// RedisSelection keeps selection sets in redis, one set per session, expiring
// with the session TTL.
type RedisSelection struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisSelection creates a redis-backed selection store.
func NewRedisSelection(client *redis.Client, ttl time.Duration) *RedisSelection {
	return &RedisSelection{client: client, ttl: ttl}
}

func selectionKey(sessionID string) string {
	return "admin:selection:" + sessionID
}

// encodePair packs a pair into one set member. The id is a UUID and cannot
// contain '|'.
func encodePair(p Pair) string {
	return p.CheckinID + "|" + p.PhotoPath
}

func decodePair(s string) (Pair, error) {
	id, path, ok := strings.Cut(s, "|")
	if !ok {
		return Pair{}, fmt.Errorf("malformed selection member %q", s)
	}
	return Pair{CheckinID: id, PhotoPath: path}, nil
}

// Toggle flips membership of p in the session's set.
func (s *RedisSelection) Toggle(ctx context.Context, sessionID string, p Pair) (bool, error) {
	key := selectionKey(sessionID)
	member := encodePair(p)

	isMember, err := s.client.SIsMember(ctx, key, member).Result()
	if err != nil {
		return false, err
	}
	if isMember {
		if err := s.client.SRem(ctx, key, member).Err(); err != nil {
			return true, err
		}
		return false, nil
	}
	if err := s.client.SAdd(ctx, key, member).Err(); err != nil {
		return false, err
	}
	_ = s.client.Expire(ctx, key, s.ttl).Err()
	return true, nil
}

// Members returns the session's pairs.
func (s *RedisSelection) Members(ctx context.Context, sessionID string) ([]Pair, error) {
	raw, err := s.client.SMembers(ctx, selectionKey(sessionID)).Result()
	if err != nil {
		return nil, err
	}
	pairs := make([]Pair, 0, len(raw))
	for _, r := range raw {
		p, err := decodePair(r)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	return pairs, nil
}

// Clear drops the session's set.
func (s *RedisSelection) Clear(ctx context.Context, sessionID string) error {
	return s.client.Del(ctx, selectionKey(sessionID)).Err()
}

// MemorySelection is an in-process selection store for dev and tests.
type MemorySelection struct {
	mu   sync.Mutex
	sets map[string]map[Pair]bool
}

// NewMemorySelection creates an empty in-memory selection store.
func NewMemorySelection() *MemorySelection {
	return &MemorySelection{sets: make(map[string]map[Pair]bool)}
}

// Toggle flips membership of p in the session's set.
func (s *MemorySelection) Toggle(_ context.Context, sessionID string, p Pair) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	set, ok := s.sets[sessionID]
	if !ok {
		set = make(map[Pair]bool)
		s.sets[sessionID] = set
	}
	if set[p] {
		delete(set, p)
		return false, nil
	}
	set[p] = true
	return true, nil
}

// Members returns the session's pairs in unspecified order.
func (s *MemorySelection) Members(_ context.Context, sessionID string) ([]Pair, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pairs := make([]Pair, 0, len(s.sets[sessionID]))
	for p := range s.sets[sessionID] {
		pairs = append(pairs, p)
	}
	return pairs, nil
}

// Clear drops the session's set.
func (s *MemorySelection) Clear(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sets, sessionID)
	return nil
}
