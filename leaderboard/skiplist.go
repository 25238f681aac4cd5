package leaderboard

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"sync"

	"starkit/core"
)

// SkipList orders children by (stars desc, id asc) with O(log n) updates.

const maxLevel = 16
const pFactor = 0.25

type node struct {
	e    Entry
	next [maxLevel]*node
}

type SkipList struct {
	mu      sync.RWMutex
	head    *node
	lvl     int
	byChild map[core.ChildID]*node
	rng     *rand.Rand
}

func NewSkipList() *SkipList {
	// Use crypto/rand to generate a secure seed for PCG
	var seed [16]byte
	if _, err := cryptorand.Read(seed[:]); err != nil {
		// Fallback to zero seed if crypto/rand fails (extremely unlikely)
		seed = [16]byte{}
	}
	seed1 := binary.BigEndian.Uint64(seed[:8])
	seed2 := binary.BigEndian.Uint64(seed[8:])

	return &SkipList{
		head:    &node{},
		lvl:     1,
		byChild: map[core.ChildID]*node{},
		rng:     rand.New(rand.NewPCG(seed1, seed2)),
	}
}

func (s *SkipList) randomLevel() int {
	lvl := 1
	for lvl < maxLevel && s.rng.Float64() < pFactor {
		lvl++
	}
	return lvl
}

func less(a, b Entry) bool {
	if a.Stars == b.Stars {
		return a.Child < b.Child
	}
	return a.Stars > b.Stars
}

// Update inserts or moves child to a new total.
func (s *SkipList) Update(child core.ChildID, stars int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.byChild[child]; ok {
		if old.e.Stars == stars {
			return
		}
		s.removeLocked(child, old.e)
	}
	e := Entry{Child: child, Stars: stars}
	update := [maxLevel]*node{}
	cur := s.head
	for i := s.lvl - 1; i >= 0; i-- {
		for cur.next[i] != nil && less(cur.next[i].e, e) {
			cur = cur.next[i]
		}
		update[i] = cur
	}
	lvl := s.randomLevel()
	if lvl > s.lvl {
		for i := s.lvl; i < lvl; i++ {
			update[i] = s.head
		}
		s.lvl = lvl
	}
	n := &node{e: e}
	for i := 0; i < lvl; i++ {
		n.next[i] = update[i].next[i]
		update[i].next[i] = n
	}
	s.byChild[child] = n
}

func (s *SkipList) removeLocked(child core.ChildID, e Entry) {
	update := [maxLevel]*node{}
	cur := s.head
	for i := s.lvl - 1; i >= 0; i-- {
		for cur.next[i] != nil && less(cur.next[i].e, e) {
			cur = cur.next[i]
		}
		update[i] = cur
	}
	target := update[0].next[0]
	if target == nil || target.e.Child != child {
		return
	}
	for i := 0; i < s.lvl; i++ {
		if update[i].next[i] == target {
			update[i].next[i] = target.next[i]
		}
	}
	delete(s.byChild, child)
	for s.lvl > 1 && s.head.next[s.lvl-1] == nil {
		s.lvl--
	}
}

func (s *SkipList) Remove(child core.ChildID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if n, ok := s.byChild[child]; ok {
		s.removeLocked(child, n.e)
	}
}

func (s *SkipList) TopN(n int) []Entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 {
		return nil
	}
	out := make([]Entry, 0, n)
	cur := s.head.next[0]
	for cur != nil && len(out) < n {
		out = append(out, cur.e)
		cur = cur.next[0]
	}
	return out
}

func (s *SkipList) Get(child core.ChildID) (Entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n, ok := s.byChild[child]; ok {
		return n.e, true
	}
	return Entry{}, false
}

// Rank returns the 1-based position of child.
func (s *SkipList) Rank(child core.ChildID) (int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	target, ok := s.byChild[child]
	if !ok {
		return 0, false
	}
	rank := 1
	for cur := s.head.next[0]; cur != nil && cur != target; cur = cur.next[0] {
		rank++
	}
	return rank, true
}

// Len returns the number of children on the board.
func (s *SkipList) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byChild)
}

var _ Board = (*SkipList)(nil)
