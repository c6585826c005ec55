package triage

import (
	"hash/maphash"
	"sync"

	"github.com/linnemanlabs/vitalwatch/internal/vitals"
)

const (
	// HistoryCapacity bounds every (subject, vital) window; the oldest reading
	// is evicted on overflow.
	HistoryCapacity = 100

	historyShards = 64
)

// Key identifies one reading stream.
type Key struct {
	SubjectID string
	Kind      vitals.Kind
}

// Window is a fixed-capacity ring buffer of readings for one Key. All access
// goes through its own lock, so appends for one key never interleave while
// other keys proceed in parallel.
type Window struct {
	mu    sync.Mutex
	buf   [HistoryCapacity]vitals.Reading
	start int // index of the oldest reading
	size  int
}

// Observe appends r, evicting the oldest reading when full, and returns a copy
// of the last n readings (oldest first) taken under the same lock.
func (w *Window) Observe(r vitals.Reading, n int) []vitals.Reading {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.size < HistoryCapacity {
		w.buf[(w.start+w.size)%HistoryCapacity] = r
		w.size++
	} else {
		w.buf[w.start] = r
		w.start = (w.start + 1) % HistoryCapacity
	}
	return w.lastLocked(n)
}

// Last returns a copy of the last n readings, oldest first.
func (w *Window) Last(n int) []vitals.Reading {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastLocked(n)
}

// Len returns the number of readings held.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.size
}

func (w *Window) lastLocked(n int) []vitals.Reading {
	if n > w.size {
		n = w.size
	}
	if n <= 0 {
		return nil
	}
	out := make([]vitals.Reading, n)
	first := w.start + w.size - n
	for i := range out {
		out[i] = w.buf[(first+i)%HistoryCapacity]
	}
	return out
}

type historyShard struct {
	mu      sync.RWMutex
	windows map[Key]*Window
}

// History is the arena of windows indexed by Key. Shard locks only guard
// window lookup and creation; reads and appends use the window's own lock.
type History struct {
	seed   maphash.Seed
	shards [historyShards]historyShard
}

// NewHistory creates an empty arena.
func NewHistory() *History {
	h := &History{seed: maphash.MakeSeed()}
	for i := range h.shards {
		h.shards[i].windows = make(map[Key]*Window)
	}
	return h
}

// Window returns the window for k, creating it on first use.
func (h *History) Window(k Key) *Window {
	sh := h.shard(k)

	sh.mu.RLock()
	w, ok := sh.windows[k]
	sh.mu.RUnlock()
	if ok {
		return w
	}

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if w, ok := sh.windows[k]; ok {
		return w
	}
	w = &Window{}
	sh.windows[k] = w
	return w
}

// Lookup returns the window for k without creating it.
func (h *History) Lookup(k Key) (*Window, bool) {
	sh := h.shard(k)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	w, ok := sh.windows[k]
	return w, ok
}

func (h *History) shard(k Key) *historyShard {
	var mh maphash.Hash
	mh.SetSeed(h.seed)
	_, _ = mh.WriteString(k.SubjectID)
	_ = mh.WriteByte(byte(k.Kind))
	return &h.shards[mh.Sum64()%historyShards]
}
