package chunker

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
)

// DefaultChunkSize is the fixed chunk size used when none is configured.
const DefaultChunkSize = 32768

// Chunk is a contiguous byte range of a file plus its own digest and
// position index. Each chunk is independently verifiable as it arrives.
type Chunk struct {
	Index int
	Data  []byte
	Hash  string // lowercase hex sha-256 of Data
	Size  int
}

// IntegrityError reports a chunk whose bytes do not match its recorded hash.
type IntegrityError struct {
	Index    int
	Expected string
	Actual   string
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("chunk %d hash mismatch: stored %s, computed %s", e.Index, e.Expected, e.Actual)
}

// StructuralError reports a chunk set whose index range is not exactly
// {0 .. n-1}: a gap, a duplicate, or an out-of-range index.
type StructuralError struct {
	Detail string
}

func (e *StructuralError) Error() string {
	return "invalid chunk set: " + e.Detail
}

// HashBytes returns the lowercase hex sha-256 digest of data.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Split cuts data into hash-tagged chunks of at most chunkSize bytes.
// Deterministic and stateless: ceil(len/chunkSize) chunks, index assigned
// by offset/chunkSize, none at all for empty input.
func Split(data []byte, chunkSize int) []Chunk {
	if chunkSize < 1 {
		chunkSize = DefaultChunkSize
	}

	chunks := make([]Chunk, 0, (len(data)+chunkSize-1)/chunkSize)
	for offset := 0; offset < len(data); offset += chunkSize {
		end := offset + chunkSize
		if end > len(data) {
			end = len(data)
		}
		part := data[offset:end]
		chunks = append(chunks, Chunk{
			Index: offset / chunkSize,
			Data:  part,
			Hash:  HashBytes(part),
			Size:  len(part),
		})
	}
	return chunks
}

// Reassemble verifies every chunk against its recorded hash, checks the
// index set is exactly {0 .. n-1}, then concatenates in index order.
// Wire order never matters: chunks are sorted before concatenation.
func Reassemble(chunks []Chunk) ([]byte, error) {
	// verify each chunk before paying for concatenation
	for i := range chunks {
		actual := HashBytes(chunks[i].Data)
		if actual != chunks[i].Hash {
			return nil, &IntegrityError{
				Index:    chunks[i].Index,
				Expected: chunks[i].Hash,
				Actual:   actual,
			}
		}
	}

	sorted := make([]Chunk, len(chunks))
	copy(sorted, chunks)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Index < sorted[j].Index })

	total := 0
	for i := range sorted {
		if sorted[i].Index != i {
			if i > 0 && sorted[i].Index == sorted[i-1].Index {
				return nil, &StructuralError{Detail: fmt.Sprintf("duplicate chunk index %d", sorted[i].Index)}
			}
			return nil, &StructuralError{Detail: fmt.Sprintf("missing chunk index %d", i)}
		}
		total += len(sorted[i].Data)
	}

	data := make([]byte, 0, total)
	for i := range sorted {
		data = append(data, sorted[i].Data...)
	}
	return data, nil
}

// VerifyWhole reassembles the chunk set and compares the digest of the
// result against expectedHash. A legitimate mismatch returns false, not an
// error; reassembly failures propagate.
func VerifyWhole(chunks []Chunk, expectedHash string) (bool, error) {
	data, err := Reassemble(chunks)
	if err != nil {
		return false, err
	}
	return HashBytes(data) == expectedHash, nil
}
