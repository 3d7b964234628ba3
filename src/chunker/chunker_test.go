package chunker

import (
	"bytes"
	"crypto/rand"
	"errors"
	"testing"
)

// randomBytes returns n bytes of random data.
func randomBytes(t *testing.T, n int) []byte {
	t.Helper()
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		t.Fatalf("Failed to generate random data: %v", err)
	}
	return b
}

func TestSplitChunkCount(t *testing.T) {
	tests := []struct {
		name      string
		dataLen   int
		chunkSize int
		want      int
	}{
		{name: "empty input yields no chunks", dataLen: 0, chunkSize: 32768, want: 0},
		{name: "single byte", dataLen: 1, chunkSize: 32768, want: 1},
		{name: "exactly one chunk", dataLen: 32768, chunkSize: 32768, want: 1},
		{name: "one byte over", dataLen: 32769, chunkSize: 32768, want: 2},
		{name: "70000 bytes in 32768 chunks", dataLen: 70000, chunkSize: 32768, want: 3},
		{name: "exact multiple", dataLen: 4096, chunkSize: 1024, want: 4},
		{name: "chunk size one", dataLen: 17, chunkSize: 1, want: 17},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks := Split(randomBytes(t, tt.dataLen), tt.chunkSize)
			if len(chunks) != tt.want {
				t.Errorf("Split produced %d chunks, want %d", len(chunks), tt.want)
			}
			for i, c := range chunks {
				if c.Index != i {
					t.Errorf("chunk %d has index %d", i, c.Index)
				}
				if c.Size != len(c.Data) {
					t.Errorf("chunk %d size %d does not match data length %d", i, c.Size, len(c.Data))
				}
				if c.Hash != HashBytes(c.Data) {
					t.Errorf("chunk %d hash does not match its data", i)
				}
			}
		})
	}
}

func TestSplitFinalChunkSize(t *testing.T) {
	data := randomBytes(t, 70000)
	chunks := Split(data, 32768)
	if len(chunks) != 3 {
		t.Fatalf("got %d chunks, want 3", len(chunks))
	}
	sizes := []int{chunks[0].Size, chunks[1].Size, chunks[2].Size}
	want := []int{32768, 32768, 4464}
	for i := range want {
		if sizes[i] != want[i] {
			t.Errorf("chunk %d size = %d, want %d", i, sizes[i], want[i])
		}
	}
}

func TestRoundTrip(t *testing.T) {
	for _, size := range []int{0, 1, 100, 32768, 70000, 100000} {
		data := randomBytes(t, size)
		chunks := Split(data, 32768)
		out, err := Reassemble(chunks)
		if err != nil {
			t.Fatalf("Reassemble failed for %d bytes: %v", size, err)
		}
		if !bytes.Equal(out, data) {
			t.Errorf("round trip mismatch for %d bytes", size)
		}
	}
}

func TestReassembleOrderIndependent(t *testing.T) {
	data := randomBytes(t, 100000)
	chunks := Split(data, 8192)

	// reverse the chunk order
	permuted := make([]Chunk, len(chunks))
	for i := range chunks {
		permuted[len(chunks)-1-i] = chunks[i]
	}

	out, err := Reassemble(permuted)
	if err != nil {
		t.Fatalf("Reassemble failed: %v", err)
	}
	if !bytes.Equal(out, data) {
		t.Error("permuted reassembly does not match original bytes")
	}
}

func TestReassembleDetectsCorruption(t *testing.T) {
	data := randomBytes(t, 70000)
	chunks := Split(data, 32768)

	// flip one byte in the middle chunk without updating its hash
	chunks[1].Data[0] ^= 0xff

	_, err := Reassemble(chunks)
	var integrity *IntegrityError
	if !errors.As(err, &integrity) {
		t.Fatalf("Reassemble error = %v, want IntegrityError", err)
	}
	if integrity.Index != 1 {
		t.Errorf("IntegrityError.Index = %d, want 1", integrity.Index)
	}

	ok, err := VerifyWhole(chunks, HashBytes(data))
	if err == nil || ok {
		t.Errorf("VerifyWhole on corrupted chunks = (%v, %v), want failure", ok, err)
	}
}

func TestReassembleStructuralChecks(t *testing.T) {
	data := randomBytes(t, 70000)

	t.Run("missing index", func(t *testing.T) {
		chunks := Split(data, 32768)
		_, err := Reassemble(append(chunks[:1], chunks[2:]...))
		var structural *StructuralError
		if !errors.As(err, &structural) {
			t.Fatalf("error = %v, want StructuralError", err)
		}
	})

	t.Run("duplicate index", func(t *testing.T) {
		chunks := Split(data, 32768)
		chunks[2].Index = 1
		chunks[2].Hash = HashBytes(chunks[2].Data)
		_, err := Reassemble(chunks)
		var structural *StructuralError
		if !errors.As(err, &structural) {
			t.Fatalf("error = %v, want StructuralError", err)
		}
	})
}

func TestVerifyWhole(t *testing.T) {
	data := randomBytes(t, 50000)
	chunks := Split(data, 4096)

	ok, err := VerifyWhole(chunks, HashBytes(data))
	if err != nil {
		t.Fatalf("VerifyWhole failed: %v", err)
	}
	if !ok {
		t.Error("VerifyWhole = false for matching hash")
	}

	// a wrong expected hash returns false without an error
	ok, err = VerifyWhole(chunks, HashBytes([]byte("something else")))
	if err != nil {
		t.Fatalf("VerifyWhole returned error for plain mismatch: %v", err)
	}
	if ok {
		t.Error("VerifyWhole = true for wrong expected hash")
	}
}
