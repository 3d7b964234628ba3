package server

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/dps_blobs/src/chunker"
	logs "github.com/danmuck/smplog"
)

// diskStore persists file records so stored content survives a restart.
// Layout under the root:
//
//	metadata/<content-hash>.toml   record metadata and chunk digests
//	chunks/<content-hash>/<index>  raw chunk bytes
type diskStore struct {
	root string
}

// diskRecord is the TOML shape of one persisted file record.
type diskRecord struct {
	ContentHash string   `toml:"content_hash"`
	TotalSize   uint64   `toml:"total_size"`
	Filename    string   `toml:"filename"`
	CreatedUnix int64    `toml:"created"`
	ExpiresUnix int64    `toml:"expires"`
	ChunkHashes []string `toml:"chunk_hashes"`
}

func newDiskStore(root string) (*diskStore, error) {
	d := &diskStore{root: root}
	for _, dir := range []string{d.metadataDir(), d.chunkRoot()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory %s: %w", dir, err)
		}
	}
	return d, nil
}

func (d *diskStore) metadataDir() string { return filepath.Join(d.root, "metadata") }
func (d *diskStore) chunkRoot() string   { return filepath.Join(d.root, "chunks") }

func (d *diskStore) chunkDir(hash string) string {
	return filepath.Join(d.chunkRoot(), hash)
}

func (d *diskStore) metadataPath(hash string) string {
	return filepath.Join(d.metadataDir(), hash+".toml")
}

// save writes chunk data first and metadata last; a crash between the two
// leaves orphaned chunk files that load ignores, never a record whose data
// is missing.
func (d *diskStore) save(rec *FileRecord) error {
	chunkDir := d.chunkDir(rec.ContentHash)
	if err := os.MkdirAll(chunkDir, 0755); err != nil {
		return fmt.Errorf("failed to create chunk directory: %w", err)
	}

	hashes := make([]string, len(rec.Chunks))
	for i := range rec.Chunks {
		c := &rec.Chunks[i]
		hashes[i] = c.Hash
		path := filepath.Join(chunkDir, strconv.Itoa(c.Index))
		if err := os.WriteFile(path, c.Data, 0644); err != nil {
			return fmt.Errorf("failed to write chunk %d: %w", c.Index, err)
		}
	}

	f, err := os.Create(d.metadataPath(rec.ContentHash))
	if err != nil {
		return fmt.Errorf("failed to create metadata file: %w", err)
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	encoder.Indent = "    "
	if err := encoder.Encode(diskRecord{
		ContentHash: rec.ContentHash,
		TotalSize:   rec.TotalSize,
		Filename:    rec.Filename,
		CreatedUnix: rec.CreatedAt.Unix(),
		ExpiresUnix: rec.ExpiresAt.Unix(),
		ChunkHashes: hashes,
	}); err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}
	return nil
}

// remove deletes the record's metadata and chunk files. Missing files are
// not an error; the goal state is simply "gone".
func (d *diskStore) remove(hash string) error {
	if err := os.Remove(d.metadataPath(hash)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete metadata for %s: %w", hash, err)
	}
	if err := os.RemoveAll(d.chunkDir(hash)); err != nil {
		return fmt.Errorf("failed to delete chunks for %s: %w", hash, err)
	}
	return nil
}

// load reads every persisted record back, verifying each chunk against its
// recorded digest. Records that fail to load are skipped with a warning so
// one damaged file cannot keep the node from starting.
func (d *diskStore) load() ([]*FileRecord, error) {
	entries, err := os.ReadDir(d.metadataDir())
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata directory: %w", err)
	}

	var records []*FileRecord
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".toml") {
			continue
		}
		rec, err := d.loadRecord(filepath.Join(d.metadataDir(), entry.Name()))
		if err != nil {
			logs.Warnf("skipping persisted record %s: %v", entry.Name(), err)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func (d *diskStore) loadRecord(path string) (*FileRecord, error) {
	var dr diskRecord
	if _, err := toml.DecodeFile(path, &dr); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	if dr.ContentHash == "" {
		return nil, fmt.Errorf("metadata has no content hash")
	}

	chunks := make([]chunker.Chunk, len(dr.ChunkHashes))
	var total uint64
	for i, want := range dr.ChunkHashes {
		data, err := os.ReadFile(filepath.Join(d.chunkDir(dr.ContentHash), strconv.Itoa(i)))
		if err != nil {
			return nil, fmt.Errorf("failed to read chunk %d: %w", i, err)
		}
		if got := chunker.HashBytes(data); got != want {
			return nil, &chunker.IntegrityError{Index: i, Expected: want, Actual: got}
		}
		chunks[i] = chunker.Chunk{Index: i, Data: data, Hash: want, Size: len(data)}
		total += uint64(len(data))
	}
	if total != dr.TotalSize {
		return nil, fmt.Errorf("chunk bytes total %d, metadata says %d", total, dr.TotalSize)
	}

	return &FileRecord{
		ContentHash: dr.ContentHash,
		Chunks:      chunks,
		TotalSize:   dr.TotalSize,
		Filename:    dr.Filename,
		CreatedAt:   time.Unix(dr.CreatedUnix, 0),
		ExpiresAt:   time.Unix(dr.ExpiresUnix, 0),
	}, nil
}
