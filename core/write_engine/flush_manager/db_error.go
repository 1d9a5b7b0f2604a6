package flushmanager

import "errors"

// --- Error Definitions ---

var (
	ErrPageNotFound    = errors.New("page not found in buffer pool")
	ErrBufferPoolFull  = errors.New("buffer pool is full and no pages can be evicted")
	ErrPagePinned      = errors.New("page is pinned and cannot be deleted")
	ErrPageDirty       = errors.New("page is dirty and cannot be deleted")
	ErrPageNotPinned   = errors.New("page pin count is already zero")
	ErrInvalidPoolSize = errors.New("buffer pool size must be at least 1")

	ErrIO               = errors.New("i/o error")
	ErrSerialization    = errors.New("error during serialization")
	ErrDeserialization  = errors.New("error during deserialization")
	ErrDBFileExists     = errors.New("database file already exists")
	ErrDBFileNotFound   = errors.New("database file not found")
	ErrInvalidPageData  = errors.New("invalid page data")
	ErrChecksumMismatch = errors.New("page checksum mismatch, data corruption suspected")
)
