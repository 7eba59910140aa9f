package stable

import (
	"math/rand"
	"time"
)

const (
	maxLevel    = 16
	probability = 0.5
)

// skipList orders encoded keys bytewise and maps each to its slot number.
// It is rebuilt from the region on open and never persisted itself.
type skipList struct {
	head  *skipNode
	level int
	size  int
	rng   *rand.Rand
}

type skipNode struct {
	key  string
	slot uint64
	next []*skipNode
}

func newSkipList() *skipList {
	return &skipList{
		head:  &skipNode{next: make([]*skipNode, maxLevel)},
		level: 1,
		rng:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (sl *skipList) randomLevel() int {
	level := 1
	for sl.rng.Float64() < probability && level < maxLevel {
		level++
	}
	return level
}

// path fills update with the last node before key on every level.
func (sl *skipList) path(key string, update []*skipNode) *skipNode {
	current := sl.head
	for i := sl.level - 1; i >= 0; i-- {
		for current.next[i] != nil && current.next[i].key < key {
			current = current.next[i]
		}
		if update != nil {
			update[i] = current
		}
	}
	return current.next[0]
}

func (sl *skipList) put(key string, slot uint64) {
	update := make([]*skipNode, maxLevel)
	if n := sl.path(key, update); n != nil && n.key == key {
		n.slot = slot
		return
	}

	level := sl.randomLevel()
	if level > sl.level {
		for i := sl.level; i < level; i++ {
			update[i] = sl.head
		}
		sl.level = level
	}
	node := &skipNode{key: key, slot: slot, next: make([]*skipNode, level)}
	for i := range level {
		node.next[i] = update[i].next[i]
		update[i].next[i] = node
	}
	sl.size++
}

func (sl *skipList) get(key string) (uint64, bool) {
	if n := sl.path(key, nil); n != nil && n.key == key {
		return n.slot, true
	}
	return 0, false
}

func (sl *skipList) delete(key string) (uint64, bool) {
	update := make([]*skipNode, maxLevel)
	n := sl.path(key, update)
	if n == nil || n.key != key {
		return 0, false
	}
	for i := range n.next {
		if update[i].next[i] != n {
			break
		}
		update[i].next[i] = n.next[i]
	}
	for sl.level > 1 && sl.head.next[sl.level-1] == nil {
		sl.level--
	}
	sl.size--
	return n.slot, true
}

// ascend visits keys >= from in order until fn returns false.
func (sl *skipList) ascend(from string, fn func(key string, slot uint64) bool) {
	for n := sl.path(from, nil); n != nil; n = n.next[0] {
		if !fn(n.key, n.slot) {
			return
		}
	}
}
