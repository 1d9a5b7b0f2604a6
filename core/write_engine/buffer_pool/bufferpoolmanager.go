package bufferpool

import (
	"container/list"
	"fmt"
	"sync"

	flushmanager "github.com/marudb/marudb/core/write_engine/flush_manager"
	pagemanager "github.com/marudb/marudb/core/write_engine/page_manager"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"go.uber.org/zap"
)

// BufferPoolManager mediates between the page-oriented disk file and
// in-memory clients that need random access to pages. It keeps a bounded set
// of frames, pins pages on behalf of callers, and reclaims unreferenced
// frames through its Replacer, writing dirty frames back to disk first.
//
// One mutex guards every public operation end to end, disk I/O included;
// each call is atomic from the caller's perspective. The bytes of a returned
// page belong to the caller until the matching UnpinPage, guarded by the
// page latch, and the manager never modifies them while pins are held
// (flushing reads them regardless of pin state).
type BufferPoolManager struct {
	diskManager *flushmanager.DiskManager
	logger      *zap.Logger
	metrics     *bufferPoolMetrics
	poolSize    int
	pageSize    int
	pages       []*pagemanager.Page        // Page frames
	pageTable   map[pagemanager.PageID]int // PageID to frame index
	freeList    *list.List                 // Unassigned frame indices
	replacer    Replacer
	mu          sync.Mutex
}

// BufferPoolStats is a point-in-time snapshot of pool occupancy.
type BufferPoolStats struct {
	PoolSize  int
	Resident  int
	Free      int
	Pinned    int
	Dirty     int
	Evictable int
}

// NewBufferPoolManager creates a pool of poolSize frames over the given disk
// manager, evicting with LRU-K at depth replacerK. A nil meter disables
// instrumentation.
func NewBufferPoolManager(poolSize int, replacerK int, diskManager *flushmanager.DiskManager, logger *zap.Logger, meter metric.Meter) (*BufferPoolManager, error) {
	if poolSize < 1 {
		return nil, flushmanager.ErrInvalidPoolSize
	}
	return NewBufferPoolManagerWithReplacer(poolSize, NewLRUKReplacer(poolSize, replacerK), diskManager, logger, meter)
}

// NewBufferPoolManagerWithReplacer creates a pool using the supplied
// replacement policy.
func NewBufferPoolManagerWithReplacer(poolSize int, replacer Replacer, diskManager *flushmanager.DiskManager, logger *zap.Logger, meter metric.Meter) (*BufferPoolManager, error) {
	if poolSize < 1 {
		return nil, flushmanager.ErrInvalidPoolSize
	}
	if diskManager == nil {
		return nil, fmt.Errorf("buffer pool: diskManager cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("")
	}
	metrics, err := newBufferPoolMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("buffer pool: registering metrics: %w", err)
	}

	bpm := &BufferPoolManager{
		diskManager: diskManager,
		logger:      logger,
		metrics:     metrics,
		poolSize:    poolSize,
		pageSize:    diskManager.GetPageSize(),
		pages:       make([]*pagemanager.Page, poolSize),
		pageTable:   make(map[pagemanager.PageID]int, poolSize),
		freeList:    list.New(),
		replacer:    replacer,
	}
	for i := 0; i < poolSize; i++ {
		bpm.pages[i] = pagemanager.NewPage(pagemanager.InvalidPageID, bpm.pageSize)
		bpm.freeList.PushBack(i)
	}
	logger.Info("buffer pool initialized",
		zap.Int("pool_size", poolSize),
		zap.Int("page_size", bpm.pageSize))
	return bpm, nil
}

// NewPage allocates a fresh page on disk and binds it to a frame, returning
// the frame pinned once and clean. The frame is secured before the disk
// allocation so a full pool never orphans a freshly allocated page id.
func (bpm *BufferPoolManager) NewPage() (*pagemanager.Page, pagemanager.PageID, error) {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	frameIdx, err := bpm.acquireFrame()
	if err != nil {
		return nil, pagemanager.InvalidPageID, err
	}

	pageID, err := bpm.diskManager.AllocatePage()
	if err != nil {
		bpm.pages[frameIdx].Reset()
		bpm.freeList.PushFront(frameIdx)
		return nil, pagemanager.InvalidPageID, fmt.Errorf("failed to allocate page on disk: %w", err)
	}

	page := bpm.pages[frameIdx]
	page.Reset()
	page.SetPageID(pageID)
	page.SetPinCount(1)
	page.SetDirty(false)

	bpm.pageTable[pageID] = frameIdx
	bpm.replacer.RecordAccess(frameIdx)
	bpm.replacer.SetEvictable(frameIdx, false)
	bpm.metrics.PinnedUpDownCounter.Add(bpmCtx, 1)

	bpm.logger.Debug("new page bound",
		zap.Uint64("page_id", uint64(pageID)),
		zap.Int("frame", frameIdx))
	return page, pageID, nil
}

// FetchPage returns the requested page pinned, loading it from disk when it
// is not resident.
func (bpm *BufferPoolManager) FetchPage(pageID pagemanager.PageID) (*pagemanager.Page, error) {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	if frameIdx, ok := bpm.pageTable[pageID]; ok {
		page := bpm.pages[frameIdx]
		page.Pin()
		bpm.replacer.RecordAccess(frameIdx)
		bpm.replacer.SetEvictable(frameIdx, false)
		bpm.metrics.HitsCounter.Add(bpmCtx, 1)
		bpm.metrics.PinnedUpDownCounter.Add(bpmCtx, 1)
		return page, nil
	}

	bpm.metrics.MissesCounter.Add(bpmCtx, 1)
	frameIdx, err := bpm.acquireFrame()
	if err != nil {
		return nil, err
	}

	page := bpm.pages[frameIdx]
	page.Reset()
	if err := bpm.diskManager.ReadPage(pageID, page.GetData()); err != nil {
		// The frame was already unmapped and untracked, so hand it back to
		// the free list rather than leaking it.
		bpm.freeList.PushFront(frameIdx)
		return nil, fmt.Errorf("failed to read page %d from disk: %w", pageID, err)
	}

	page.SetPageID(pageID)
	page.SetPinCount(1)
	page.SetDirty(false)

	bpm.pageTable[pageID] = frameIdx
	bpm.replacer.RecordAccess(frameIdx)
	bpm.replacer.SetEvictable(frameIdx, false)
	bpm.metrics.PinnedUpDownCounter.Add(bpmCtx, 1)

	bpm.logger.Debug("page loaded",
		zap.Uint64("page_id", uint64(pageID)),
		zap.Int("frame", frameIdx))
	return page, nil
}

// acquireFrame secures a frame for a new residency: the free list first,
// then a replacer victim whose dirty contents are written back and whose
// page table mapping is dropped. Callers must hold bpm.mu.
func (bpm *BufferPoolManager) acquireFrame() (int, error) {
	if front := bpm.freeList.Front(); front != nil {
		bpm.freeList.Remove(front)
		return front.Value.(int), nil
	}

	frameIdx, ok := bpm.replacer.Evict()
	if !ok {
		bpm.logger.Warn("buffer pool exhausted, all pages pinned")
		return -1, flushmanager.ErrBufferPoolFull
	}

	victim := bpm.pages[frameIdx]
	if victim.IsDirty() {
		if err := bpm.diskManager.WritePage(victim.GetPageID(), victim.GetData()); err != nil {
			// Put the victim back under replacer control so the pool state
			// stays consistent; the page is still resident and dirty.
			bpm.replacer.RecordAccess(frameIdx)
			bpm.replacer.SetEvictable(frameIdx, true)
			return -1, fmt.Errorf("failed to flush dirty victim page %d: %w", victim.GetPageID(), err)
		}
		victim.SetDirty(false)
		bpm.metrics.WritebacksCounter.Add(bpmCtx, 1)
	}

	delete(bpm.pageTable, victim.GetPageID())
	bpm.metrics.EvictionsCounter.Add(bpmCtx, 1)
	bpm.logger.Debug("frame evicted",
		zap.Uint64("page_id", uint64(victim.GetPageID())),
		zap.Int("frame", frameIdx))
	return frameIdx, nil
}

// UnpinPage releases one pin on the page. The dirty flag merges with OR
// semantics: a true from any pinner sticks until the page is written back,
// so a reader unpinning clean can never hide a writer's modification.
func (bpm *BufferPoolManager) UnpinPage(pageID pagemanager.PageID, isDirty bool) error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	frameIdx, ok := bpm.pageTable[pageID]
	if !ok {
		return fmt.Errorf("%w: page %d not found to unpin", flushmanager.ErrPageNotFound, pageID)
	}
	page := bpm.pages[frameIdx]
	if page.GetPinCount() == 0 {
		bpm.logger.Warn("unpin on page with zero pin count", zap.Uint64("page_id", uint64(pageID)))
		return fmt.Errorf("%w: page %d", flushmanager.ErrPageNotPinned, pageID)
	}

	page.Unpin()
	if isDirty {
		page.SetDirty(true)
	}
	if page.GetPinCount() == 0 {
		bpm.replacer.SetEvictable(frameIdx, true)
	}
	bpm.metrics.PinnedUpDownCounter.Add(bpmCtx, -1)
	return nil
}

// FlushPage writes the page to disk and clears its dirty flag, regardless of
// pin state.
func (bpm *BufferPoolManager) FlushPage(pageID pagemanager.PageID) error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()
	return bpm.flushPageLocked(pageID)
}

func (bpm *BufferPoolManager) flushPageLocked(pageID pagemanager.PageID) error {
	frameIdx, ok := bpm.pageTable[pageID]
	if !ok {
		return fmt.Errorf("%w: page %d not found to flush", flushmanager.ErrPageNotFound, pageID)
	}
	page := bpm.pages[frameIdx]
	if err := bpm.diskManager.WritePage(pageID, page.GetData()); err != nil {
		return fmt.Errorf("failed to flush page %d: %w", pageID, err)
	}
	page.SetDirty(false)
	return nil
}

// FlushAllPages writes every resident page to disk, then syncs the file.
// The first error is retained while the remaining pages still get flushed.
func (bpm *BufferPoolManager) FlushAllPages() error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	var firstErr error
	for pageID := range bpm.pageTable {
		if err := bpm.flushPageLocked(pageID); err != nil {
			if firstErr == nil {
				firstErr = err
			}
			bpm.logger.Error("flush failed", zap.Uint64("page_id", uint64(pageID)), zap.Error(err))
		}
	}
	if err := bpm.diskManager.Sync(); err != nil {
		if firstErr == nil {
			firstErr = err
		}
		bpm.logger.Error("disk sync failed", zap.Error(err))
	}
	return firstErr
}

// DeletePage drops an unpinned, clean resident page from the pool and
// releases its backing slot. Deleting a page that is not resident succeeds
// vacuously. A dirty page is refused: the caller decides whether to flush
// first or keep the page live.
func (bpm *BufferPoolManager) DeletePage(pageID pagemanager.PageID) error {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	frameIdx, ok := bpm.pageTable[pageID]
	if !ok {
		return nil
	}
	page := bpm.pages[frameIdx]
	if page.GetPinCount() != 0 {
		return fmt.Errorf("%w: page %d has pin count %d", flushmanager.ErrPagePinned, pageID, page.GetPinCount())
	}
	if page.IsDirty() {
		return fmt.Errorf("%w: page %d", flushmanager.ErrPageDirty, pageID)
	}

	page.Reset()
	delete(bpm.pageTable, pageID)
	bpm.replacer.Remove(frameIdx)
	bpm.freeList.PushBack(frameIdx)

	if err := bpm.diskManager.DeallocatePage(pageID); err != nil {
		return fmt.Errorf("failed to deallocate page %d: %w", pageID, err)
	}
	return nil
}

// Stats reports a snapshot of pool occupancy.
func (bpm *BufferPoolManager) Stats() BufferPoolStats {
	bpm.mu.Lock()
	defer bpm.mu.Unlock()

	stats := BufferPoolStats{
		PoolSize:  bpm.poolSize,
		Resident:  len(bpm.pageTable),
		Free:      bpm.freeList.Len(),
		Evictable: bpm.replacer.Size(),
	}
	for _, frameIdx := range bpm.pageTable {
		page := bpm.pages[frameIdx]
		if page.GetPinCount() > 0 {
			stats.Pinned++
		}
		if page.IsDirty() {
			stats.Dirty++
		}
	}
	return stats
}

// GetPageSize returns the fixed page size of the pool's frames.
func (bpm *BufferPoolManager) GetPageSize() int {
	return bpm.pageSize
}

// Close flushes every resident page and closes the disk manager.
func (bpm *BufferPoolManager) Close() error {
	if err := bpm.FlushAllPages(); err != nil {
		return err
	}
	return bpm.diskManager.Close()
}
