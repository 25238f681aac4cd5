package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"starkit/core"
	"starkit/engine"
)

// Store is a concurrent in-memory Storage implementation.
type Store struct {
	children sync.Map // map[core.ChildID]*childRecord
}

type childRecord struct {
	mu       sync.Mutex
	child    core.Child
	earned   []core.EarnedAchievement
	activity map[time.Time]core.DailyActivity
}

func New() *Store { return &Store{} }

func (s *Store) lookup(id core.ChildID) (*childRecord, error) {
	v, ok := s.children.Load(id)
	if !ok {
		return nil, core.ChildNotFound(id)
	}
	return v.(*childRecord), nil
}

func (s *Store) CreateChild(_ context.Context, child core.Child) error {
	rec := &childRecord{child: child.Clone(), activity: map[time.Time]core.DailyActivity{}}
	if _, loaded := s.children.LoadOrStore(child.ID, rec); loaded {
		return core.ChildExists(child.ID)
	}
	return nil
}

// ListChildren returns every child ordered by id.
func (s *Store) ListChildren(_ context.Context) ([]core.Child, error) {
	var out []core.Child
	s.children.Range(func(_, v any) bool {
		rec := v.(*childRecord)
		rec.mu.Lock()
		out = append(out, rec.child.Clone())
		rec.mu.Unlock()
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetChild(_ context.Context, id core.ChildID) (core.Child, error) {
	rec, err := s.lookup(id)
	if err != nil {
		return core.Child{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.child.Clone(), nil
}

func (s *Store) ListEarnedAchievements(_ context.Context, id core.ChildID) ([]core.EarnedAchievement, error) {
	rec, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	out := make([]core.EarnedAchievement, len(rec.earned))
	copy(out, rec.earned)
	return out, nil
}

func (s *Store) ListDailyActivity(_ context.Context, id core.ChildID, from, to time.Time) ([]core.DailyActivity, error) {
	rec, err := s.lookup(id)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	var out []core.DailyActivity
	for day, a := range rec.activity {
		if day.Before(from) || day.After(to) {
			continue
		}
		out = append(out, a)
	}
	return out, nil
}

// Update holds the child's mutex while fn runs and applies the staged writes only
// when fn succeeds.
func (s *Store) Update(ctx context.Context, id core.ChildID, fn func(tx engine.Tx) error) error {
	rec, err := s.lookup(id)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &memTx{rec: rec, child: rec.child.Clone()}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

type memTx struct {
	rec      *childRecord
	child    core.Child
	saved    *core.Child
	earned   []core.EarnedAchievement
	activity []core.DailyActivity
}

func (t *memTx) Child() core.Child { return t.child.Clone() }

func (t *memTx) EarnedKeys() (map[string]struct{}, error) {
	keys := make(map[string]struct{}, len(t.rec.earned)+len(t.earned))
	for _, e := range t.rec.earned {
		keys[e.Key] = struct{}{}
	}
	for _, e := range t.earned {
		keys[e.Key] = struct{}{}
	}
	return keys, nil
}

func (t *memTx) SaveChild(child core.Child) error {
	c := child.Clone()
	c.ID = t.child.ID
	t.saved = &c
	return nil
}

func (t *memTx) InsertAchievementIfAbsent(a core.EarnedAchievement) (bool, error) {
	keys, _ := t.EarnedKeys()
	if _, ok := keys[a.Key]; ok {
		return false, nil
	}
	a.ChildID = t.child.ID
	t.earned = append(t.earned, a)
	return true, nil
}

func (t *memTx) AddDailyActivity(a core.DailyActivity) error {
	a.ChildID = t.child.ID
	t.activity = append(t.activity, a)
	return nil
}

func (t *memTx) commit() {
	if t.saved != nil {
		t.rec.child = *t.saved
	}
	t.rec.earned = append(t.rec.earned, t.earned...)
	for _, a := range t.activity {
		if cur, ok := t.rec.activity[a.Day]; ok {
			a = cur.Merge(a)
		}
		t.rec.activity[a.Day] = a
	}
}

var (
	_ engine.Storage     = (*Store)(nil)
	_ engine.ChildLister = (*Store)(nil)
)
