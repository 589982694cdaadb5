package index

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"

	"github.com/quillstack/docdex/internal/embed"
	dexerrors "github.com/quillstack/docdex/internal/errors"
	"github.com/quillstack/docdex/internal/store"
)

// Consistency states reported by Diagnose.
const (
	StateSynced            = "synced"
	StateOutOfSync         = "out_of_sync"
	StateMissingIndex      = "missing_index"
	StateMissingMetadata   = "missing_metadata"
	StateCorruptedIndex    = "corrupted_index"
	StateCorruptedMetadata = "corrupted_metadata"
)

// Diagnosis is a read-only consistency report for one collection.
type Diagnosis struct {
	Status          string   `json:"status"`
	MetadataChunks  int      `json:"metadata_chunks"`
	IndexVectors    int      `json:"index_vectors"`
	MatrixRows      int      `json:"matrix_rows"`
	MatrixAvailable bool     `json:"matrix_available"`
	OrphanedChunks  int      `json:"orphaned_chunks"`
	Issues          []string `json:"issues,omitempty"`
	Recommendations []string `json:"recommendations,omitempty"`
}

// Healthy reports whether no repair is needed.
func (d *Diagnosis) Healthy() bool {
	return d.Status == StateSynced && len(d.Issues) == 0
}

// RepairReport describes what a repair did. Per-item failures are
// collected instead of aborting, so one bad row never hides the rest.
type RepairReport struct {
	Action    string   `json:"action"`
	Processed int      `json:"processed"`
	Failed    int      `json:"failed"`
	Errors    []string `json:"errors,omitempty"`
}

// Doctor diagnoses and repairs a collection directory. It opens the
// on-disk pieces itself so it still works when the files are too
// damaged for a regular Engine to open.
type Doctor struct {
	dir string
}

// NewDoctor returns a doctor for the collection at dir.
func NewDoctor(dir string) *Doctor {
	return &Doctor{dir: dir}
}

// Diagnose inspects the collection and reports its state. It never
// modifies anything, even when a repair looks obvious.
func (d *Doctor) Diagnose(ctx context.Context) (*Diagnosis, error) {
	diag := &Diagnosis{Status: StateSynced}

	metaExists := fileExists(MetadataPath(d.dir))
	indexExists := fileExists(IndexPath(d.dir))

	if !metaExists && !indexExists {
		// Nothing here yet. An empty collection is consistent.
		return diag, nil
	}
	if !metaExists {
		diag.Status = StateMissingMetadata
		diag.Issues = append(diag.Issues, "metadata database is missing but a vector index exists")
		diag.Recommendations = append(diag.Recommendations,
			"vectors cannot be mapped back to chunks; re-index the source documents")
		d.inspectIndex(diag)
		return diag, nil
	}

	meta, err := store.NewSQLiteStore(MetadataPath(d.dir))
	if err != nil {
		if dexerrors.GetCode(err) == dexerrors.ErrCodeCorruptMetadata {
			diag.Status = StateCorruptedMetadata
			diag.Issues = append(diag.Issues, fmt.Sprintf("metadata database failed integrity check: %v", err))
			diag.Recommendations = append(diag.Recommendations,
				"restore the metadata database from a backup; it is never cleared automatically")
			return diag, nil
		}
		return nil, err
	}
	defer meta.Close()

	diag.MetadataChunks, err = meta.TotalChunks(ctx)
	if err != nil {
		return nil, err
	}
	diag.OrphanedChunks, err = meta.OrphanedChunkCount(ctx)
	if err != nil {
		return nil, err
	}
	if diag.OrphanedChunks > 0 {
		diag.Issues = append(diag.Issues,
			fmt.Sprintf("%d chunks reference documents missing from the documents table", diag.OrphanedChunks))
		diag.Recommendations = append(diag.Recommendations,
			"run repair documents to reconstruct document records from chunks")
	}

	if !indexExists {
		if diag.MetadataChunks > 0 {
			diag.Status = StateMissingIndex
			diag.Issues = append(diag.Issues,
				fmt.Sprintf("vector index is missing for %d metadata chunks", diag.MetadataChunks))
			diag.Recommendations = append(diag.Recommendations,
				"run repair rebuild to re-embed all chunks from metadata")
		}
		return diag, nil
	}

	d.inspectIndex(diag)
	if diag.Status == StateCorruptedIndex {
		return diag, nil
	}

	if diag.IndexVectors != diag.MetadataChunks {
		diag.Status = StateOutOfSync
		diag.Issues = append(diag.Issues,
			fmt.Sprintf("index has %d vectors but metadata has %d chunks",
				diag.IndexVectors, diag.MetadataChunks))
		if diag.IndexVectors > diag.MetadataChunks && diag.MatrixAvailable &&
			diag.MatrixRows >= diag.MetadataChunks {
			diag.Recommendations = append(diag.Recommendations,
				"run repair truncate to drop trailing vectors past the metadata count")
		} else {
			diag.Recommendations = append(diag.Recommendations,
				"run repair rebuild to re-embed all chunks from metadata")
		}
	}

	// Synced means all three counts agree, not just index and metadata.
	// A matrix that drifted from the index silently breaks deletes.
	if diag.MatrixAvailable && diag.MatrixRows != diag.IndexVectors {
		diag.Status = StateOutOfSync
		diag.Issues = append(diag.Issues,
			fmt.Sprintf("embedding matrix has %d rows but the index has %d vectors",
				diag.MatrixRows, diag.IndexVectors))
		diag.Recommendations = append(diag.Recommendations,
			"run repair rebuild to regenerate the index and matrix from metadata")
	}
	return diag, nil
}

// inspectIndex fills the index and matrix fields of diag, downgrading
// the status on corruption.
func (d *Doctor) inspectIndex(diag *Diagnosis) {
	idx, err := store.LoadFlatIndex(IndexPath(d.dir))
	switch {
	case err == nil:
		diag.IndexVectors = idx.Count()
	case dexerrors.GetCode(err) == dexerrors.ErrCodeFileNotFound:
		// handled by caller
	default:
		diag.Status = StateCorruptedIndex
		diag.Issues = append(diag.Issues, fmt.Sprintf("vector index is unreadable: %v", err))
		diag.Recommendations = append(diag.Recommendations,
			"run repair rebuild to regenerate the index from metadata")
		return
	}

	matrix, err := store.LoadMatrix(MatrixPath(d.dir))
	switch {
	case err == nil:
		diag.MatrixAvailable = true
		diag.MatrixRows = len(matrix)
	case dexerrors.GetCode(err) == dexerrors.ErrCodeMatrixMissing:
		if diag.IndexVectors > 0 {
			diag.Issues = append(diag.Issues,
				"embedding matrix is missing; deletes degrade to metadata-only")
			diag.Recommendations = append(diag.Recommendations,
				"run repair rebuild to regenerate the matrix")
		}
	default:
		diag.Status = StateCorruptedIndex
		diag.Issues = append(diag.Issues, fmt.Sprintf("embedding matrix is unreadable: %v", err))
		diag.Recommendations = append(diag.Recommendations,
			"run repair rebuild to regenerate the matrix from metadata")
	}
}

// RebuildFromMetadata re-embeds every chunk in metadata insertion
// order and replaces the index and matrix wholesale. This is the
// heavyweight repair: it fixes missing or corrupt index files, drift
// in either direction and a missing matrix, but costs one embedding
// call per chunk.
func (d *Doctor) RebuildFromMetadata(ctx context.Context, embedder embed.Embedder) (*RepairReport, error) {
	unlock, err := d.acquireLock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	meta, err := store.NewSQLiteStore(MetadataPath(d.dir))
	if err != nil {
		return nil, err
	}
	defer meta.Close()

	chunks, err := meta.AllChunksOrdered(ctx)
	if err != nil {
		return nil, err
	}

	report := &RepairReport{Action: "rebuild_from_metadata"}
	dims := embedder.Dimensions()
	matrix := make([][]float32, 0, len(chunks))

	const batch = 64
	for start := 0; start < len(chunks); start += batch {
		end := start + batch
		if end > len(chunks) {
			end = len(chunks)
		}
		texts := make([]string, 0, end-start)
		for _, c := range chunks[start:end] {
			texts = append(texts, c.Text)
		}
		vectors, err := embedder.EmbedBatch(ctx, texts)
		if err != nil {
			// Ordinal alignment forbids skipping a batch: a hole would
			// shift every later vector. Abort with what was processed.
			report.Failed = len(chunks) - start
			report.Errors = append(report.Errors,
				fmt.Sprintf("embed chunks %d-%d: %v", start, end-1, err))
			return report, dexerrors.Wrap(dexerrors.ErrCodeEmbeddingFailed, err)
		}
		matrix = append(matrix, vectors...)
		report.Processed = end
	}

	idx, err := store.NewFlatIndex(dims)
	if err != nil {
		return nil, err
	}
	if err := idx.Add(matrix); err != nil {
		return nil, err
	}
	if err := idx.Save(IndexPath(d.dir)); err != nil {
		return nil, err
	}
	if err := store.SaveMatrix(MatrixPath(d.dir), dims, matrix); err != nil {
		return nil, err
	}

	slog.Info("index_rebuilt", "dir", d.dir, "chunks", report.Processed)
	return report, nil
}

// TruncateToMetadata drops trailing vectors so the index count matches
// the metadata count. Only safe when the index ran ahead of metadata
// (a crashed write) and the matrix covers every surviving ordinal;
// anything else needs a rebuild.
func (d *Doctor) TruncateToMetadata(ctx context.Context) (*RepairReport, error) {
	unlock, err := d.acquireLock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	meta, err := store.NewSQLiteStore(MetadataPath(d.dir))
	if err != nil {
		return nil, err
	}
	defer meta.Close()

	metaCount, err := meta.TotalChunks(ctx)
	if err != nil {
		return nil, err
	}

	idx, err := store.LoadFlatIndex(IndexPath(d.dir))
	if err != nil {
		return nil, err
	}
	if idx.Count() <= metaCount {
		return nil, dexerrors.Newf(dexerrors.ErrCodeTruncateUnsafe,
			"index has %d vectors, metadata has %d chunks; truncate only repairs an index that ran ahead",
			idx.Count(), metaCount).
			WithSuggestion("use repair rebuild instead")
	}

	matrix, err := store.LoadMatrix(MatrixPath(d.dir))
	if err != nil {
		return nil, dexerrors.Newf(dexerrors.ErrCodeTruncateUnsafe,
			"embedding matrix unavailable, cannot verify surviving vectors").
			WithSuggestion("use repair rebuild instead")
	}
	if len(matrix) < metaCount {
		return nil, dexerrors.Newf(dexerrors.ErrCodeTruncateUnsafe,
			"matrix has %d rows but metadata needs %d", len(matrix), metaCount).
			WithSuggestion("use repair rebuild instead")
	}

	dropped := idx.Count() - metaCount
	kept := matrix[:metaCount]

	newIdx, err := store.NewFlatIndex(idx.Dimensions())
	if err != nil {
		return nil, err
	}
	if err := newIdx.Add(kept); err != nil {
		return nil, err
	}
	if err := newIdx.Save(IndexPath(d.dir)); err != nil {
		return nil, err
	}
	if err := store.SaveMatrix(MatrixPath(d.dir), idx.Dimensions(), kept); err != nil {
		return nil, err
	}

	slog.Info("index_truncated", "dir", d.dir, "kept", metaCount, "dropped", dropped)
	return &RepairReport{Action: "truncate_to_metadata", Processed: dropped}, nil
}

// RepairDocumentsTable reconstructs missing document rows from their
// chunks. Per-document failures are reported, not fatal.
func (d *Doctor) RepairDocumentsTable(ctx context.Context) (*RepairReport, error) {
	unlock, err := d.acquireLock()
	if err != nil {
		return nil, err
	}
	defer unlock()

	meta, err := store.NewSQLiteStore(MetadataPath(d.dir))
	if err != nil {
		return nil, err
	}
	defer meta.Close()

	repaired, err := meta.ReconstructDocuments(ctx)
	if err != nil {
		return nil, err
	}

	report := &RepairReport{Action: "repair_documents_table"}
	for _, r := range repaired {
		if r.Err != nil {
			report.Failed++
			report.Errors = append(report.Errors,
				fmt.Sprintf("document %s: %v", r.DocumentID, r.Err))
			continue
		}
		report.Processed++
	}
	return report, nil
}

func (d *Doctor) acquireLock() (func(), error) {
	lock := flock.New(filepath.Join(d.dir, lockFile))
	acquired, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquire writer lock: %w", err)
	}
	if !acquired {
		return nil, dexerrors.Newf(dexerrors.ErrCodeIndexLocked,
			"collection %s is locked by another process", d.dir).
			WithSuggestion("close other writers before repairing")
	}
	return func() { _ = lock.Unlock() }, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
