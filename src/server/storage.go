package server

import (
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/dps_blobs/src/chunker"
	"github.com/danmuck/dps_blobs/src/config"
	logs "github.com/danmuck/smplog"
)

// ErrNotFound covers both absent and expired content: either way the file
// is unavailable now, and callers are not told which.
var ErrNotFound = errors.New("file not found")

// SizeExceededError rejects a store whose payload is over the per-file cap.
type SizeExceededError struct {
	Size  uint64
	Limit uint64
}

func (e *SizeExceededError) Error() string {
	return fmt.Sprintf("file size %d exceeds limit %d", e.Size, e.Limit)
}

// StorageFullError rejects a store that would push aggregate stored bytes
// past capacity.
type StorageFullError struct {
	Need     uint64
	Capacity uint64
}

func (e *StorageFullError) Error() string {
	return fmt.Sprintf("storing %d bytes would exceed capacity %d", e.Need, e.Capacity)
}

// FileRecord is one stored file: its chunk set plus lifecycle metadata.
type FileRecord struct {
	ContentHash string
	Chunks      []chunker.Chunk
	TotalSize   uint64
	Filename    string
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// Store holds file records in memory, keyed by content hash. With a
// storage directory configured, records are also persisted to disk and
// reloaded on startup.
//
// Ownership discipline: the map is mutated only by the server's queue
// worker goroutine (the sweep runs on that same goroutine between queue
// items), so the store carries no lock of its own. Do not share a Store
// across goroutines.
type Store struct {
	chunkSize   int
	maxFileSize uint64
	capacity    uint64 // 0 means unbounded
	retention   time.Duration

	files     map[string]*FileRecord
	usedBytes uint64
	disk      *diskStore // nil when storage is memory-only

	now func() time.Time
}

// NewStore builds a store from the node configuration, reloading any
// records persisted under cfg.StorageDir.
func NewStore(cfg config.Config) (*Store, error) {
	s := &Store{
		chunkSize:   cfg.ChunkSize,
		maxFileSize: cfg.MaxFileSize,
		capacity:    cfg.MaxStorageBytes,
		retention:   cfg.Retention(),
		files:       make(map[string]*FileRecord),
		now:         time.Now,
	}

	if cfg.StorageDir != "" {
		disk, err := newDiskStore(cfg.StorageDir)
		if err != nil {
			return nil, err
		}
		records, err := disk.load()
		if err != nil {
			return nil, err
		}
		for _, rec := range records {
			s.files[rec.ContentHash] = rec
			s.usedBytes += rec.TotalSize
		}
		s.disk = disk
		if len(records) > 0 {
			logs.Infof("reloaded %d persisted files (%d bytes) from %s", len(records), s.usedBytes, cfg.StorageDir)
		}
	}
	return s, nil
}

// Put chunks and records the file under its content hash. The size cap is
// checked before any hashing work. Re-storing identical content is not an
// error: the record's chunks and expiry are refreshed in place.
func (s *Store) Put(data []byte, name string) (*FileRecord, error) {
	size := uint64(len(data))
	if size > s.maxFileSize {
		return nil, &SizeExceededError{Size: size, Limit: s.maxFileSize}
	}

	hash := chunker.HashBytes(data)

	// refresh semantics: replacing an existing record frees its bytes first
	var existing uint64
	if prev, ok := s.files[hash]; ok {
		existing = prev.TotalSize
	}
	if s.capacity > 0 && s.usedBytes-existing+size > s.capacity {
		return nil, &StorageFullError{Need: size, Capacity: s.capacity}
	}

	now := s.now()
	rec := &FileRecord{
		ContentHash: hash,
		Chunks:      chunker.Split(data, s.chunkSize),
		TotalSize:   size,
		Filename:    name,
		CreatedAt:   now,
		ExpiresAt:   now.Add(s.retention),
	}

	// persist before the in-memory record so a write failure leaves the
	// store consistent
	if s.disk != nil {
		if err := s.disk.save(rec); err != nil {
			return nil, fmt.Errorf("failed to persist %s: %w", hash, err)
		}
	}

	s.usedBytes = s.usedBytes - existing + size
	s.files[hash] = rec
	return rec, nil
}

// Get returns the record for hash, or ErrNotFound if it is absent or past
// its expiry. Observing an expired record purges it on the spot; the
// periodic sweep handles the ones nobody asks for.
func (s *Store) Get(hash string) (*FileRecord, error) {
	rec, ok := s.files[hash]
	if !ok {
		return nil, ErrNotFound
	}
	if s.now().After(rec.ExpiresAt) {
		s.remove(hash)
		return nil, ErrNotFound
	}
	return rec, nil
}

// Delete removes the record unconditionally, expired or not.
func (s *Store) Delete(hash string) error {
	if _, ok := s.files[hash]; !ok {
		return ErrNotFound
	}
	s.remove(hash)
	return nil
}

// Sweep removes every record expired as of now and reports how many went.
func (s *Store) Sweep(now time.Time) int {
	removed := 0
	for hash, rec := range s.files {
		if now.After(rec.ExpiresAt) {
			s.remove(hash)
			removed++
		}
	}
	return removed
}

// Len reports the number of live records.
func (s *Store) Len() int { return len(s.files) }

// UsedBytes reports aggregate stored content size.
func (s *Store) UsedBytes() uint64 { return s.usedBytes }

func (s *Store) remove(hash string) {
	rec, ok := s.files[hash]
	if !ok {
		return
	}
	s.usedBytes -= rec.TotalSize
	delete(s.files, hash)
	if s.disk != nil {
		if err := s.disk.remove(hash); err != nil {
			logs.Warnf("failed to remove persisted record %s: %v", hash, err)
		}
	}
}
