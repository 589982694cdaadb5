package store

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"

	dexerrors "github.com/quillstack/docdex/internal/errors"
)

// flatMagic identifies the on-disk index format.
const flatMagic = "DXIX"

const flatFormatVersion = 1

// FlatIndex is an exact inner-product vector index. Vectors are stored
// in insertion order; the position of a vector is its ordinal, the join
// key into the metadata store. There is no delete: callers needing
// deletion rebuild the index without the unwanted ordinals.
//
// All stored vectors and queries are L2-normalized, so inner product
// equals cosine similarity.
type FlatIndex struct {
	mu      sync.RWMutex
	dims    int
	vectors [][]float32
}

// NewFlatIndex creates an empty index of the given dimension.
func NewFlatIndex(dims int) (*FlatIndex, error) {
	if dims <= 0 {
		return nil, dexerrors.Newf(dexerrors.ErrCodeDimensionMismatch,
			"index dimension must be positive, got %d", dims)
	}
	return &FlatIndex{dims: dims}, nil
}

// Dimensions returns the vector dimension.
func (f *FlatIndex) Dimensions() int { return f.dims }

// Count returns the number of stored vectors.
func (f *FlatIndex) Count() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.vectors)
}

// Add appends vectors in order, assigning them the next ordinals.
// Vectors are normalized on the way in.
func (f *FlatIndex) Add(vectors [][]float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for i, v := range vectors {
		if len(v) != f.dims {
			return dexerrors.Newf(dexerrors.ErrCodeDimensionMismatch,
				"vector %d has %d dimensions, index expects %d", i, len(v), f.dims)
		}
	}
	for _, v := range vectors {
		f.vectors = append(f.vectors, normalize(v))
	}
	return nil
}

// Search returns the top-k ordinals by inner product with the (re-)
// normalized query, descending. Ties break by lower ordinal. An empty
// index returns no hits.
func (f *FlatIndex) Search(query []float32, k int) ([]SearchHit, error) {
	if len(query) != f.dims {
		return nil, dexerrors.Newf(dexerrors.ErrCodeDimensionMismatch,
			"query has %d dimensions, index expects %d", len(query), f.dims)
	}
	if k <= 0 {
		return nil, dexerrors.Newf(dexerrors.ErrCodeInvalidInput, "k must be positive, got %d", k)
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	if len(f.vectors) == 0 {
		return nil, nil
	}
	if k > len(f.vectors) {
		k = len(f.vectors)
	}

	q := normalize(query)
	hits := make([]SearchHit, len(f.vectors))
	for i, v := range f.vectors {
		hits[i] = SearchHit{Ordinal: i, Score: dot(q, v)}
	}

	sort.Slice(hits, func(a, b int) bool {
		if hits[a].Score != hits[b].Score {
			return hits[a].Score > hits[b].Score
		}
		return hits[a].Ordinal < hits[b].Ordinal
	})
	return hits[:k], nil
}

// Vectors returns a copy of the stored vectors in ordinal order.
func (f *FlatIndex) Vectors() [][]float32 {
	f.mu.RLock()
	defer f.mu.RUnlock()

	out := make([][]float32, len(f.vectors))
	for i, v := range f.vectors {
		out[i] = append([]float32(nil), v...)
	}
	return out
}

// Save writes the index to path via a temp file and atomic rename, so a
// crash mid-write never leaves a half-written index behind.
func (f *FlatIndex) Save(path string) error {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return dexerrors.New(dexerrors.ErrCodeFilePermission,
			fmt.Sprintf("create index directory: %v", err), err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".index-*")
	if err != nil {
		return dexerrors.New(dexerrors.ErrCodeFilePermission,
			fmt.Sprintf("create temp index file: %v", err), err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := writeVectors(tmp, flatMagic, f.dims, f.vectors); err != nil {
		tmp.Close()
		return fmt.Errorf("write index: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close index: %w", err)
	}

	return os.Rename(tmpPath, path)
}

// LoadFlatIndex reads an index from disk. A missing file yields a
// file-not-found error; a malformed file is reported as corruption.
func LoadFlatIndex(path string) (*FlatIndex, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, dexerrors.New(dexerrors.ErrCodeFileNotFound,
				fmt.Sprintf("index file not found: %s", path), err)
		}
		return nil, dexerrors.New(dexerrors.ErrCodeFilePermission,
			fmt.Sprintf("open index file: %v", err), err)
	}
	defer file.Close()

	dims, vectors, err := readVectors(file, flatMagic)
	if err != nil {
		return nil, dexerrors.CorruptionError(dexerrors.ErrCodeCorruptIndex,
			path, "index file structure", err)
	}

	return &FlatIndex{dims: dims, vectors: vectors}, nil
}

// writeVectors writes the shared binary layout used by the index and
// matrix files: magic, version, dims, count, then row-major float32 LE.
func writeVectors(w io.Writer, magic string, dims int, vectors [][]float32) error {
	if _, err := w.Write([]byte(magic)); err != nil {
		return err
	}
	header := []uint32{flatFormatVersion, uint32(dims), uint32(len(vectors))}
	for _, h := range header {
		if err := binary.Write(w, binary.LittleEndian, h); err != nil {
			return err
		}
	}
	for _, v := range vectors {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}
	return nil
}

func readVectors(r io.Reader, magic string) (int, [][]float32, error) {
	got := make([]byte, len(magic))
	if _, err := io.ReadFull(r, got); err != nil {
		return 0, nil, fmt.Errorf("read magic: %w", err)
	}
	if string(got) != magic {
		return 0, nil, fmt.Errorf("bad magic %q, want %q", got, magic)
	}

	var version, dims, count uint32
	for _, dst := range []*uint32{&version, &dims, &count} {
		if err := binary.Read(r, binary.LittleEndian, dst); err != nil {
			return 0, nil, fmt.Errorf("read header: %w", err)
		}
	}
	if version != flatFormatVersion {
		return 0, nil, fmt.Errorf("unsupported format version %d", version)
	}
	if dims == 0 {
		return 0, nil, fmt.Errorf("zero dimension in header")
	}

	// The count comes off disk; cap the preallocation so a corrupt
	// header cannot force a huge slice before the reads start failing.
	capHint := count
	if capHint > 4096 {
		capHint = 4096
	}
	vectors := make([][]float32, 0, capHint)
	for i := uint32(0); i < count; i++ {
		v := make([]float32, dims)
		if err := binary.Read(r, binary.LittleEndian, v); err != nil {
			return 0, nil, fmt.Errorf("read vector %d: %w", i, err)
		}
		vectors = append(vectors, v)
	}
	return int(dims), vectors, nil
}

func dot(a, b []float32) float32 {
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

func normalize(v []float32) []float32 {
	var sumSquares float64
	for _, x := range v {
		sumSquares += float64(x) * float64(x)
	}
	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return append([]float32(nil), v...)
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / magnitude)
	}
	return out
}
