package flushmanager

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	pagemanager "github.com/marudb/marudb/core/write_engine/page_manager"
	"go.uber.org/zap"
)

// --- DiskManager ---

const (
	// DBMagic identifies a marudb data file.
	DBMagic uint32 = 0x6D727564

	// dbFileHeaderSize is the on-disk size of the serialized header record.
	// The header occupies page 0 in full; the remainder of the page is zero.
	dbFileHeaderSize = 64

	// MaxFilenameLength bounds the database file path.
	MaxFilenameLength = 4096
)

// DBFileHeader defines the structure of the database file header.
// IMPORTANT: All fields must have fixed sizes to ensure binary.Read/Write
// consistency. Explicit padding keeps the struct at exactly dbFileHeaderSize.
type DBFileHeader struct {
	Magic    uint32
	Version  uint32
	PageSize uint32
	_        [dbFileHeaderSize - 3*4]byte
}

// DiskManager owns the database file and serves fixed-size page reads and
// writes by offset. Page 0 is reserved for the header; AllocatePage hands
// out strictly increasing page ids starting at 1 and never reuses an id,
// even after DeallocatePage.
type DiskManager struct {
	filePath string
	file     *os.File
	pageSize int
	numPages uint64 // Tracks total number of pages in the file (file size / page size)
	logger   *zap.Logger
	mu       sync.Mutex
}

func NewDiskManager(filePath string, pageSize int, logger *zap.Logger) (*DiskManager, error) {
	if len(filePath) > MaxFilenameLength {
		return nil, fmt.Errorf("file path too long: %s", filePath)
	}
	if pageSize < dbFileHeaderSize {
		return nil, fmt.Errorf("page size %d smaller than file header size %d", pageSize, dbFileHeaderSize)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DiskManager{
		filePath: filePath,
		pageSize: pageSize,
		logger:   logger,
	}, nil
}

// Open opens an existing database file or creates a new one. The 'create'
// flag determines behavior if the file doesn't exist or already exists.
func (dm *DiskManager) Open(create bool) (*DBFileHeader, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()

	var file *os.File
	var err error
	var header DBFileHeader

	_, statErr := os.Stat(dm.filePath)

	if os.IsNotExist(statErr) {
		if !create {
			return nil, fmt.Errorf("%w: %s", ErrDBFileNotFound, dm.filePath)
		}
		file, err = os.OpenFile(dm.filePath, os.O_RDWR|os.O_CREATE|os.O_EXCL, 0666)
		if err != nil {
			return nil, fmt.Errorf("%w: creating file %s: %v", ErrIO, dm.filePath, err)
		}
		dm.file = file

		header = DBFileHeader{
			Magic:    DBMagic,
			Version:  1,
			PageSize: uint32(dm.pageSize),
		}
		if err := dm.writeHeader(&header); err != nil {
			_ = os.Remove(dm.filePath)
			return nil, fmt.Errorf("failed to write initial header: %w", err)
		}

		// Page 0 is now occupied by the header. Allocations start from page 1.
		dm.numPages = 1
	} else if statErr == nil {
		if create {
			return nil, fmt.Errorf("%w: %s", ErrDBFileExists, dm.filePath)
		}
		file, err = os.OpenFile(dm.filePath, os.O_RDWR, 0666)
		if err != nil {
			return nil, fmt.Errorf("%w: opening file %s: %v", ErrIO, dm.filePath, err)
		}
		dm.file = file

		if err := dm.readHeader(&header); err != nil {
			dm.closeLocked()
			return nil, fmt.Errorf("failed to read database header: %w", err)
		}
		if header.Magic != DBMagic {
			dm.logger.Debug("magic number mismatch",
				zap.Uint32("expected", DBMagic),
				zap.Uint32("got", header.Magic),
				zap.String("file", dm.filePath))
			dm.closeLocked()
			return nil, fmt.Errorf("invalid database file magic number")
		}
		if header.PageSize != uint32(dm.pageSize) {
			dm.closeLocked()
			return nil, fmt.Errorf("database file page size (%d) does not match configured page size (%d)", header.PageSize, dm.pageSize)
		}
	} else {
		return nil, fmt.Errorf("%w: stating file %s: %v", ErrIO, dm.filePath, statErr)
	}

	fi, err := dm.file.Stat()
	if err != nil {
		dm.closeLocked()
		return nil, fmt.Errorf("%w: getting file info: %v", ErrIO, err)
	}
	// For an existing file the page count comes from the file size; for a
	// new file it was set to 1 above when the header page was written.
	if dm.numPages == 0 {
		dm.numPages = uint64(fi.Size()) / uint64(dm.pageSize)
	}
	return &header, nil
}

// writeHeader serializes the DBFileHeader and writes it to page 0.
func (dm *DiskManager) writeHeader(header *DBFileHeader) error {
	buf := new(bytes.Buffer)
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return fmt.Errorf("%w: serializing header: %v", ErrSerialization, err)
	}
	if buf.Len() > dm.pageSize {
		return fmt.Errorf("header serialization size (%d) exceeds page size (%d)", buf.Len(), dm.pageSize)
	}
	// Pad the header out to a full page so page 1 starts on a page boundary.
	padding := make([]byte, dm.pageSize-buf.Len())
	buf.Write(padding)

	if _, err := dm.file.WriteAt(buf.Bytes(), 0); err != nil {
		return fmt.Errorf("%w: writing header to disk: %v", ErrIO, err)
	}
	return dm.file.Sync()
}

// readHeader reads the DBFileHeader from the beginning of the file.
func (dm *DiskManager) readHeader(header *DBFileHeader) error {
	data := make([]byte, dbFileHeaderSize)
	n, err := dm.file.ReadAt(data, 0)
	if err != nil {
		if err == io.EOF && n < dbFileHeaderSize {
			return fmt.Errorf("database file is too small or corrupted (header too short)")
		}
		return fmt.Errorf("%w: reading header from disk: %v", ErrIO, err)
	}

	buf := bytes.NewReader(data)
	if err := binary.Read(buf, binary.LittleEndian, header); err != nil {
		return fmt.Errorf("%w: deserializing header: %v", ErrDeserialization, err)
	}
	return nil
}

// ReadPage reads a page's data from disk into the provided pageData buffer.
func (dm *DiskManager) ReadPage(pageID pagemanager.PageID, pageData []byte) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return fmt.Errorf("file not open")
	}
	if len(pageData) != dm.pageSize {
		return fmt.Errorf("page data buffer size (%d) != disk manager page size (%d)", len(pageData), dm.pageSize)
	}
	offset := int64(pageID) * int64(dm.pageSize)
	bytesRead, err := dm.file.ReadAt(pageData, offset)
	if err != nil {
		if err == io.EOF {
			return fmt.Errorf("%w: EOF reading page %d at offset %d, file may be corrupt or pageID out of bounds", ErrIO, pageID, offset)
		}
		return fmt.Errorf("%w: reading page %d at offset %d: %v", ErrIO, pageID, offset, err)
	}
	if bytesRead != dm.pageSize {
		return fmt.Errorf("%w: short read for page %d, expected %d, got %d", ErrIO, pageID, dm.pageSize, bytesRead)
	}
	return nil
}

// WritePage writes pageData to disk at the specified pageID's location.
func (dm *DiskManager) WritePage(pageID pagemanager.PageID, pageData []byte) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return fmt.Errorf("file not open")
	}
	if len(pageData) != dm.pageSize {
		return fmt.Errorf("page data buffer size (%d) != disk manager page size (%d)", len(pageData), dm.pageSize)
	}
	offset := int64(pageID) * int64(dm.pageSize)
	if _, err := dm.file.WriteAt(pageData, offset); err != nil {
		return fmt.Errorf("%w: writing page %d at offset %d: %v", ErrIO, pageID, offset, err)
	}
	// No Sync() per page write. Durability points are Sync(), FlushAllPages
	// at the buffer pool level, and Close().
	return nil
}

// AllocatePage extends the file by one page and returns the new page id.
// Ids are strictly increasing for the lifetime of the file and are never
// handed out twice.
func (dm *DiskManager) AllocatePage() (pagemanager.PageID, error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return pagemanager.InvalidPageID, fmt.Errorf("file not open")
	}
	newPageID := pagemanager.PageID(dm.numPages)
	emptyPageData := make([]byte, dm.pageSize)
	offset := int64(newPageID) * int64(dm.pageSize)

	if _, err := dm.file.WriteAt(emptyPageData, offset); err != nil {
		return pagemanager.InvalidPageID, fmt.Errorf("%w: extending file for new page %d: %v", ErrIO, newPageID, err)
	}
	dm.numPages++
	return newPageID, nil
}

// DeallocatePage releases the backing slot for a deleted page by zeroing it.
// The id itself is retired: AllocatePage never reuses it, so the zeroed slot
// stays in the file and is never reclaimed.
func (dm *DiskManager) DeallocatePage(pageID pagemanager.PageID) error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file == nil {
		return fmt.Errorf("file not open")
	}
	if pageID == pagemanager.InvalidPageID || uint64(pageID) >= dm.numPages {
		return fmt.Errorf("%w: deallocating page %d out of range [1, %d)", ErrInvalidPageData, pageID, dm.numPages)
	}
	emptyPageData := make([]byte, dm.pageSize)
	offset := int64(pageID) * int64(dm.pageSize)
	if _, err := dm.file.WriteAt(emptyPageData, offset); err != nil {
		return fmt.Errorf("%w: zeroing deallocated page %d: %v", ErrIO, pageID, err)
	}
	return nil
}

// GetPageSize returns the fixed page size the manager was configured with.
func (dm *DiskManager) GetPageSize() int {
	return dm.pageSize
}

// NumPages returns the total number of pages in the file, header included.
func (dm *DiskManager) NumPages() uint64 {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.numPages
}

// Sync flushes all buffered data to disk.
func (dm *DiskManager) Sync() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	if dm.file != nil {
		return dm.file.Sync()
	}
	return nil
}

// Close closes the underlying file handle.
func (dm *DiskManager) Close() error {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	return dm.closeLocked()
}

func (dm *DiskManager) closeLocked() error {
	if dm.file != nil {
		if err := dm.file.Sync(); err != nil {
			dm.logger.Warn("sync on close failed", zap.Error(err))
		}
		closeErr := dm.file.Close()
		dm.file = nil
		return closeErr
	}
	return nil
}
