package bufferpool

import (
	"fmt"
	"sync"
)

// LRUKReplacer implements the LRU-K replacement policy. For every tracked
// frame it keeps the timestamps of its last k accesses on a logical clock.
// The eviction victim is the evictable frame with the largest backward
// k-distance: clock minus the k-th most recent access, or infinite when the
// frame has fewer than k recorded accesses. Infinite-distance candidates tie;
// the tie breaks by classical LRU on the oldest most-recent access.
//
// A frame seen only once therefore always loses to a frame with k accesses,
// which keeps one-shot scans from flushing the pool.
type LRUKReplacer struct {
	numFrames int
	k         int

	history   map[int][]uint64 // frame -> up to k most recent access timestamps, oldest first
	evictable map[int]bool
	currSize  int
	clock     uint64
	mu        sync.Mutex
}

// NewLRUKReplacer creates a replacer tracking at most numFrames frames with
// history depth k. k = 1 degenerates to plain LRU.
func NewLRUKReplacer(numFrames int, k int) *LRUKReplacer {
	if numFrames < 1 {
		panic(fmt.Sprintf("lru-k replacer: invalid frame count %d", numFrames))
	}
	if k < 1 {
		panic(fmt.Sprintf("lru-k replacer: invalid k %d", k))
	}
	return &LRUKReplacer{
		numFrames: numFrames,
		k:         k,
		history:   make(map[int][]uint64, numFrames),
		evictable: make(map[int]bool, numFrames),
	}
}

// RecordAccess advances the logical clock and appends the new timestamp to
// the frame's history, dropping the oldest entry once more than k are held.
func (r *LRUKReplacer) RecordAccess(frameID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkFrameID(frameID)

	r.clock++
	h := r.history[frameID]
	if len(h) == r.k {
		copy(h, h[1:])
		h[len(h)-1] = r.clock
	} else {
		h = append(h, r.clock)
	}
	r.history[frameID] = h
}

// SetEvictable stores the evictable flag for a tracked frame and keeps the
// evictable count in step with flag transitions.
func (r *LRUKReplacer) SetEvictable(frameID int, evictable bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkFrameID(frameID)
	if _, accessed := r.history[frameID]; !accessed {
		panic(fmt.Sprintf("lru-k replacer: SetEvictable on frame %d with no recorded access", frameID))
	}

	prev, tracked := r.evictable[frameID]
	if !tracked {
		if evictable {
			r.currSize++
		}
	} else if prev != evictable {
		if evictable {
			r.currSize++
		} else {
			r.currSize--
		}
	}
	r.evictable[frameID] = evictable
}

// Evict selects and untracks the victim frame, or reports false when nothing
// is evictable. The scan is O(N) over tracked frames; finite distances are
// distinct because the clock is strictly monotonic, so ties only occur
// between infinite-distance frames.
func (r *LRUKReplacer) Evict() (int, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.currSize == 0 {
		return 0, false
	}

	victim := -1
	victimInf := false
	var victimDist uint64
	var victimLatest uint64

	for frameID, h := range r.history {
		if !r.evictable[frameID] {
			continue
		}
		inf := len(h) < r.k
		var dist uint64
		if !inf {
			dist = r.clock - h[0]
		}
		latest := h[len(h)-1]

		switch {
		case victim == -1:
		case inf && !victimInf:
		case inf && victimInf && latest < victimLatest:
		case !inf && !victimInf && dist > victimDist:
		default:
			continue
		}
		victim = frameID
		victimInf = inf
		victimDist = dist
		victimLatest = latest
	}

	delete(r.history, victim)
	delete(r.evictable, victim)
	r.currSize--
	return victim, true
}

// Remove untracks a frame ahead of policy order, used when its page is
// deleted from the pool. Untracked frames are ignored; removing a tracked
// but non-evictable frame is a caller bug.
func (r *LRUKReplacer) Remove(frameID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.checkFrameID(frameID)

	if _, tracked := r.history[frameID]; !tracked {
		return
	}
	if !r.evictable[frameID] {
		panic(fmt.Sprintf("lru-k replacer: Remove on non-evictable frame %d", frameID))
	}
	delete(r.history, frameID)
	delete(r.evictable, frameID)
	r.currSize--
}

// Size returns the number of evictable frames.
func (r *LRUKReplacer) Size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.currSize
}

func (r *LRUKReplacer) checkFrameID(frameID int) {
	if frameID < 0 || frameID >= r.numFrames {
		panic(fmt.Sprintf("lru-k replacer: frame id %d out of range [0, %d)", frameID, r.numFrames))
	}
}
