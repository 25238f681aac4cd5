package jsonfile

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"starkit/core"
	"starkit/engine"
)

// Store persists entire state to a single JSON file.
// Suitable for demos and small deployments.
type Store struct {
	path string
	mu   sync.Mutex
	// in-memory cache for speed
	data document
}

// document is the on-disk shape.
type document struct {
	Children     map[core.ChildID]core.Child                    `json:"children"`
	Achievements map[core.ChildID][]core.EarnedAchievement      `json:"achievements"`
	Activity     map[core.ChildID]map[string]core.DailyActivity `json:"activity"`
}

const dayKey = "2006-01-02"

func New(path string) (*Store, error) {
	s := &Store{path: path, data: document{
		Children:     map[core.ChildID]core.Child{},
		Achievements: map[core.ChildID][]core.EarnedAchievement{},
		Activity:     map[core.ChildID]map[string]core.DailyActivity{},
	}}
	if err := s.load(); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	return s, nil
}

func (s *Store) load() error {
	b, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var doc document
	if err := json.Unmarshal(b, &doc); err != nil {
		return err
	}
	for k, v := range doc.Children {
		s.data.Children[k] = v
	}
	for k, v := range doc.Achievements {
		s.data.Achievements[k] = v
	}
	for k, v := range doc.Activity {
		s.data.Activity[k] = v
	}
	return nil
}

func (s *Store) persist() error {
	tmp := s.path + ".tmp"
	b, err := json.MarshalIndent(s.data, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *Store) CreateChild(_ context.Context, child core.Child) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.Children[child.ID]; ok {
		return core.ChildExists(child.ID)
	}
	s.data.Children[child.ID] = child.Clone()
	if err := s.persist(); err != nil {
		delete(s.data.Children, child.ID)
		return err
	}
	return nil
}

func (s *Store) GetChild(_ context.Context, id core.ChildID) (core.Child, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.data.Children[id]
	if !ok {
		return core.Child{}, core.ChildNotFound(id)
	}
	return c.Clone(), nil
}

func (s *Store) ListChildren(_ context.Context) ([]core.Child, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.Child, 0, len(s.data.Children))
	for _, c := range s.data.Children {
		out = append(out, c.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListEarnedAchievements(_ context.Context, id core.ChildID) ([]core.EarnedAchievement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.Children[id]; !ok {
		return nil, core.ChildNotFound(id)
	}
	earned := s.data.Achievements[id]
	out := make([]core.EarnedAchievement, len(earned))
	copy(out, earned)
	return out, nil
}

func (s *Store) ListDailyActivity(_ context.Context, id core.ChildID, from, to time.Time) ([]core.DailyActivity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data.Children[id]; !ok {
		return nil, core.ChildNotFound(id)
	}
	var out []core.DailyActivity
	for _, a := range s.data.Activity[id] {
		if a.Day.Before(from) || a.Day.After(to) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Day.Before(out[j].Day) })
	return out, nil
}

// Update runs fn under the store lock and rewrites the file once. When the write
// fails the in-memory state of the child is restored.
func (s *Store) Update(ctx context.Context, id core.ChildID, fn func(tx engine.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	child, ok := s.data.Children[id]
	if !ok {
		return core.ChildNotFound(id)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	tx := &fileTx{store: s, child: child.Clone()}
	if err := fn(tx); err != nil {
		return err
	}

	prevEarned := s.data.Achievements[id]
	prevActivity := s.data.Activity[id]
	tx.apply(id)
	if err := s.persist(); err != nil {
		s.data.Children[id] = child
		s.data.Achievements[id] = prevEarned
		s.data.Activity[id] = prevActivity
		return err
	}
	return nil
}

type fileTx struct {
	store    *Store
	child    core.Child
	saved    *core.Child
	earned   []core.EarnedAchievement
	activity []core.DailyActivity
}

func (t *fileTx) Child() core.Child { return t.child.Clone() }

func (t *fileTx) EarnedKeys() (map[string]struct{}, error) {
	keys := map[string]struct{}{}
	for _, e := range t.store.data.Achievements[t.child.ID] {
		keys[e.Key] = struct{}{}
	}
	for _, e := range t.earned {
		keys[e.Key] = struct{}{}
	}
	return keys, nil
}

func (t *fileTx) SaveChild(child core.Child) error {
	c := child.Clone()
	c.ID = t.child.ID
	t.saved = &c
	return nil
}

func (t *fileTx) InsertAchievementIfAbsent(a core.EarnedAchievement) (bool, error) {
	keys, _ := t.EarnedKeys()
	if _, ok := keys[a.Key]; ok {
		return false, nil
	}
	a.ChildID = t.child.ID
	t.earned = append(t.earned, a)
	return true, nil
}

func (t *fileTx) AddDailyActivity(a core.DailyActivity) error {
	a.ChildID = t.child.ID
	t.activity = append(t.activity, a)
	return nil
}

// apply writes the staged changes into fresh slices and maps so the previous
// values stay intact for rollback.
func (t *fileTx) apply(id core.ChildID) {
	d := &t.store.data
	if t.saved != nil {
		d.Children[id] = *t.saved
	}
	if len(t.earned) > 0 {
		prev := d.Achievements[id]
		earned := make([]core.EarnedAchievement, 0, len(prev)+len(t.earned))
		earned = append(append(earned, prev...), t.earned...)
		d.Achievements[id] = earned
	}
	if len(t.activity) > 0 {
		days := make(map[string]core.DailyActivity, len(d.Activity[id])+1)
		for k, v := range d.Activity[id] {
			days[k] = v
		}
		for _, a := range t.activity {
			k := a.Day.Format(dayKey)
			if cur, ok := days[k]; ok {
				a = cur.Merge(a)
			}
			days[k] = a
		}
		d.Activity[id] = days
	}
}

var (
	_ engine.Storage     = (*Store)(nil)
	_ engine.ChildLister = (*Store)(nil)
)
