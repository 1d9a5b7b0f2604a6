package bufferpool

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru"
)

// LRUReplacer is a classical LRU policy built on hashicorp/golang-lru.
// Recency is the order in which frames become evictable, so the victim is
// the frame whose last unpin is oldest. It trades the scan resistance of
// LRU-K for a smaller constant factor and is the sensible choice when the
// workload has no large sequential reads.
type LRUReplacer struct {
	numFrames int
	internal  *lru.Cache
	accessed  map[int]struct{}
	mu        sync.Mutex
}

// NewLRUReplacer creates a replacer with capacity for numFrames frames.
func NewLRUReplacer(numFrames int) *LRUReplacer {
	if numFrames < 1 {
		panic(fmt.Sprintf("lru replacer: invalid frame count %d", numFrames))
	}
	c, err := lru.New(numFrames)
	if err != nil {
		panic(err)
	}
	return &LRUReplacer{
		numFrames: numFrames,
		internal:  c,
		accessed:  make(map[int]struct{}, numFrames),
	}
}

// RecordAccess marks the frame as seen. Accesses happen while the frame is
// pinned, so recency is not bumped here; the unpin that makes the frame
// evictable sets its place in the eviction order.
func (r *LRUReplacer) RecordAccess(frameID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkFrameID(frameID)
	r.accessed[frameID] = struct{}{}
}

// SetEvictable adds the frame to, or removes it from, the eviction order.
func (r *LRUReplacer) SetEvictable(frameID int, evictable bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkFrameID(frameID)
	if _, ok := r.accessed[frameID]; !ok {
		panic(fmt.Sprintf("lru replacer: SetEvictable on frame %d with no recorded access", frameID))
	}
	if evictable {
		r.internal.ContainsOrAdd(frameID, struct{}{})
	} else {
		r.internal.Remove(frameID)
	}
}

// Evict removes and returns the least recently unpinned frame.
func (r *LRUReplacer) Evict() (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key, _, ok := r.internal.RemoveOldest()
	if !ok {
		return 0, false
	}
	frameID := key.(int)
	delete(r.accessed, frameID)
	return frameID, true
}

// Remove untracks an evictable frame.
func (r *LRUReplacer) Remove(frameID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkFrameID(frameID)
	if _, ok := r.accessed[frameID]; !ok {
		return
	}
	if !r.internal.Contains(frameID) {
		panic(fmt.Sprintf("lru replacer: Remove on non-evictable frame %d", frameID))
	}
	r.internal.Remove(frameID)
	delete(r.accessed, frameID)
}

// Size returns the number of evictable frames.
func (r *LRUReplacer) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.internal.Len()
}

func (r *LRUReplacer) checkFrameID(frameID int) {
	if frameID < 0 || frameID >= r.numFrames {
		panic(fmt.Sprintf("lru replacer: frame id %d out of range [0, %d)", frameID, r.numFrames))
	}
}
