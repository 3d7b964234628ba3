package server

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/danmuck/dps_blobs/src/chunker"
	"github.com/danmuck/dps_blobs/src/config"
)

func persistentConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.StorageDir = t.TempDir()
	return cfg
}

func TestDiskStoreSurvivesRestart(t *testing.T) {
	cfg := persistentConfig(t)
	data := randomBytes(t, 70000)

	first := newTestStoreWith(t, cfg)
	rec, err := first.Put(data, "durable.bin")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// a second store over the same directory is a restarted node
	second := newTestStoreWith(t, cfg)
	if second.Len() != 1 {
		t.Fatalf("reloaded %d records, want 1", second.Len())
	}
	if second.UsedBytes() != rec.TotalSize {
		t.Errorf("reloaded used bytes = %d, want %d", second.UsedBytes(), rec.TotalSize)
	}

	got, err := second.Get(rec.ContentHash)
	if err != nil {
		t.Fatalf("Get after reload failed: %v", err)
	}
	if got.Filename != "durable.bin" {
		t.Errorf("filename = %q, want durable.bin", got.Filename)
	}
	out, err := chunker.Reassemble(got.Chunks)
	if err != nil {
		t.Fatalf("Reassemble failed: %v", err)
	}
	if !bytes.Equal(out, data) {
		t.Error("reloaded bytes do not match stored input")
	}
}

func TestDiskStoreDeleteRemovesFiles(t *testing.T) {
	cfg := persistentConfig(t)

	s := newTestStoreWith(t, cfg)
	rec, err := s.Put(randomBytes(t, 100), "victim")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := s.Delete(rec.ContentHash); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}

	metaPath := filepath.Join(cfg.StorageDir, "metadata", rec.ContentHash+".toml")
	if _, err := os.Stat(metaPath); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("metadata file still present after delete: %v", err)
	}
	chunkDir := filepath.Join(cfg.StorageDir, "chunks", rec.ContentHash)
	if _, err := os.Stat(chunkDir); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("chunk directory still present after delete: %v", err)
	}

	if reloaded := newTestStoreWith(t, cfg); reloaded.Len() != 0 {
		t.Errorf("deleted record came back after reload: %d records", reloaded.Len())
	}
}

func TestDiskStoreSkipsCorruptedRecord(t *testing.T) {
	cfg := persistentConfig(t)

	s := newTestStoreWith(t, cfg)
	good, err := s.Put(randomBytes(t, 100), "good")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	bad, err := s.Put(randomBytes(t, 100), "bad")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// flip the persisted bytes of the bad record's only chunk
	chunkPath := filepath.Join(cfg.StorageDir, "chunks", bad.ContentHash, "0")
	if err := os.WriteFile(chunkPath, []byte("tampered"), 0644); err != nil {
		t.Fatalf("Failed to tamper with chunk file: %v", err)
	}

	reloaded := newTestStoreWith(t, cfg)
	if reloaded.Len() != 1 {
		t.Fatalf("reloaded %d records, want only the intact one", reloaded.Len())
	}
	if _, err := reloaded.Get(good.ContentHash); err != nil {
		t.Errorf("intact record missing after reload: %v", err)
	}
	if _, err := reloaded.Get(bad.ContentHash); !errors.Is(err, ErrNotFound) {
		t.Errorf("tampered record survived reload: %v", err)
	}
}

func TestDiskStoreSkipsMetadataWithoutChunks(t *testing.T) {
	cfg := persistentConfig(t)

	s := newTestStoreWith(t, cfg)
	rec, err := s.Put(randomBytes(t, 100), "orphan")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := os.RemoveAll(filepath.Join(cfg.StorageDir, "chunks", rec.ContentHash)); err != nil {
		t.Fatalf("Failed to remove chunk directory: %v", err)
	}

	if reloaded := newTestStoreWith(t, cfg); reloaded.Len() != 0 {
		t.Errorf("record without chunk data survived reload: %d records", reloaded.Len())
	}
}
