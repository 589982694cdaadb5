package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // pure Go SQLite driver, no CGO

	"github.com/quillstack/docdex/internal/chunk"
	dexerrors "github.com/quillstack/docdex/internal/errors"
)

// CurrentSchemaVersion is the metadata schema version this build writes.
//
// v1: base chunks + documents tables
// v2: source_format/extraction_method columns, indexing snapshot on documents
// v3: code chunk columns (language, symbol, line range, partial flag)
// v4: row_data column carrying column/value maps for tabular chunks
const CurrentSchemaVersion = 4

// SQLiteStore is the durable metadata store for one index. Chunk rows
// are append-only; their AUTOINCREMENT surrogate key order defines the
// ordinal contract with the vector index.
type SQLiteStore struct {
	mu     sync.RWMutex
	db     *sql.DB
	path   string
	closed bool
}

// validateIntegrity runs PRAGMA integrity_check on an existing database
// before it is opened for use.
func validateIntegrity(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	db, err := sql.Open("sqlite", path+"?mode=ro")
	if err != nil {
		return fmt.Errorf("cannot open for validation: %w", err)
	}
	defer db.Close()

	var result string
	if err := db.QueryRow("PRAGMA integrity_check").Scan(&result); err != nil {
		return fmt.Errorf("integrity check failed: %w", err)
	}
	if result != "ok" {
		return fmt.Errorf("integrity check reports: %s", result)
	}
	return nil
}

// NewSQLiteStore opens (or creates) the metadata database at path and
// migrates it to the current schema. An empty path opens an in-memory
// store for tests. A corrupted database is reported, never cleared.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	var dsn string
	if path == "" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, dexerrors.New(dexerrors.ErrCodeFilePermission,
				fmt.Sprintf("create directory for %s: %v", path, err), err)
		}
		if err := validateIntegrity(path); err != nil {
			return nil, dexerrors.CorruptionError(dexerrors.ErrCodeCorruptMetadata,
				path, "sqlite integrity_check", err)
		}
		dsn = path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, dexerrors.New(dexerrors.ErrCodeCorruptMetadata,
			fmt.Sprintf("open metadata database %s: %v", path, err), err)
	}

	// Single connection: one writer, no lock contention.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA foreign_keys = ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}

	s := &SQLiteStore{db: db, path: path}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Path returns the database file path (empty for in-memory stores).
func (s *SQLiteStore) Path() string { return s.path }

// Close closes the database.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// migrate brings the schema up to CurrentSchemaVersion, one version at
// a time, so stores written by older builds remain loadable.
func (s *SQLiteStore) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)`); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	var version int
	err := s.db.QueryRow(`SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version)
	if err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}

	for version < CurrentSchemaVersion {
		next := version + 1
		var migrateErr error
		switch next {
		case 1:
			migrateErr = s.migrateV1()
		case 2:
			migrateErr = s.migrateV2()
		case 3:
			migrateErr = s.migrateV3()
		case 4:
			migrateErr = s.migrateV4()
		}
		if migrateErr != nil {
			return dexerrors.New(dexerrors.ErrCodeCorruptMetadata,
				fmt.Sprintf("migrate metadata schema to v%d: %v", next, migrateErr), migrateErr)
		}
		if _, err := s.db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, next); err != nil {
			return fmt.Errorf("record schema version %d: %w", next, err)
		}
		slog.Info("metadata_schema_migrated", "path", s.path, "version", next)
		version = next
	}
	return nil
}

func (s *SQLiteStore) migrateV1() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS chunks (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			chunk_id TEXT UNIQUE NOT NULL,
			document_id TEXT NOT NULL,
			filename TEXT NOT NULL,
			unit_number INTEGER NOT NULL,
			chunk_index INTEGER NOT NULL,
			text TEXT NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_chunks_document_id ON chunks(document_id);
		CREATE INDEX IF NOT EXISTS idx_chunks_chunk_id ON chunks(chunk_id);

		CREATE TABLE IF NOT EXISTS documents (
			document_id TEXT PRIMARY KEY,
			filename TEXT NOT NULL,
			unit_count INTEGER NOT NULL,
			chunk_count INTEGER NOT NULL,
			indexed_at TEXT NOT NULL
		);
	`)
	return err
}

func (s *SQLiteStore) migrateV2() error {
	stmts := []string{
		`ALTER TABLE chunks ADD COLUMN source_format TEXT NOT NULL DEFAULT 'text'`,
		`ALTER TABLE chunks ADD COLUMN extraction_method TEXT NOT NULL DEFAULT 'plain_text'`,
		`ALTER TABLE documents ADD COLUMN source_format TEXT NOT NULL DEFAULT 'text'`,
		`ALTER TABLE documents ADD COLUMN extraction_method TEXT NOT NULL DEFAULT 'plain_text'`,
		`ALTER TABLE documents ADD COLUMN embedding_model TEXT NOT NULL DEFAULT ''`,
		`ALTER TABLE documents ADD COLUMN chunk_size INTEGER NOT NULL DEFAULT 0`,
		`ALTER TABLE documents ADD COLUMN chunk_overlap INTEGER NOT NULL DEFAULT 0`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) migrateV3() error {
	stmts := []string{
		`ALTER TABLE chunks ADD COLUMN language TEXT NOT NULL DEFAULT ''`,
		`ALTER TABLE chunks ADD COLUMN symbol_name TEXT NOT NULL DEFAULT ''`,
		`ALTER TABLE chunks ADD COLUMN symbol_type TEXT NOT NULL DEFAULT ''`,
		`ALTER TABLE chunks ADD COLUMN line_start INTEGER NOT NULL DEFAULT 0`,
		`ALTER TABLE chunks ADD COLUMN line_end INTEGER NOT NULL DEFAULT 0`,
		`ALTER TABLE chunks ADD COLUMN partial INTEGER NOT NULL DEFAULT 0`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) migrateV4() error {
	_, err := s.db.Exec(`ALTER TABLE chunks ADD COLUMN row_data TEXT NOT NULL DEFAULT ''`)
	return err
}

// SchemaVersion returns the stored schema version.
func (s *SQLiteStore) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	err := s.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&version)
	return version, err
}

// AddChunks appends chunk rows in the order given. Strict INSERT, not
// upsert: a duplicate chunk_id is an error, because replacing a row
// would reassign its surrogate key and break the ordinal contract.
func (s *SQLiteStore) AddChunks(ctx context.Context, chunks []chunk.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return dexerrors.Newf(dexerrors.ErrCodeInternal, "metadata store is closed")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks
		(chunk_id, document_id, filename, unit_number, chunk_index, text,
		 source_format, extraction_method, language, symbol_name, symbol_type,
		 line_start, line_end, partial, row_data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		sourceFormat, method := chunkFormat(c)
		partial := 0
		if c.Partial {
			partial = 1
		}
		rowData, err := encodeRowData(c.RowData)
		if err != nil {
			return dexerrors.New(dexerrors.ErrCodeInvalidInput,
				fmt.Sprintf("encode row data for chunk %s: %v", c.ChunkID, err), err)
		}
		if _, err := stmt.ExecContext(ctx,
			c.ChunkID, c.DocumentID, c.Filename, c.UnitNumber, c.ChunkIndex, c.Text,
			sourceFormat, method, c.Language, c.SymbolName, c.SymbolType,
			c.LineStart, c.LineEnd, partial, rowData,
		); err != nil {
			return dexerrors.New(dexerrors.ErrCodeInvalidInput,
				fmt.Sprintf("insert chunk %s: %v", c.ChunkID, err), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit chunks: %w", err)
	}

	slog.Debug("chunks_added", "count", len(chunks), "path", s.path)
	return nil
}

// chunkFormat derives the stored format columns from a chunk.
func chunkFormat(c chunk.Chunk) (sourceFormat, method string) {
	if c.Language != "" || c.SymbolType != "" {
		return "code", "code_source"
	}
	return "text", "plain_text"
}

const chunkColumns = `chunk_id, document_id, filename, unit_number, chunk_index, text,
	created_at, source_format, extraction_method, language, symbol_name, symbol_type,
	line_start, line_end, partial, row_data`

// encodeRowData serializes tabular side data as JSON. Non-tabular
// chunks store an empty string so the column stays cheap to scan.
func encodeRowData(rowData []map[string]string) (string, error) {
	if len(rowData) == 0 {
		return "", nil
	}
	raw, err := json.Marshal(rowData)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func decodeRowData(raw string) ([]map[string]string, error) {
	if raw == "" {
		return nil, nil
	}
	var rowData []map[string]string
	if err := json.Unmarshal([]byte(raw), &rowData); err != nil {
		return nil, err
	}
	return rowData, nil
}

func scanChunk(row interface{ Scan(...any) error }) (*ChunkRow, error) {
	var c ChunkRow
	var createdAt string
	var partial int
	var rowData string
	err := row.Scan(&c.ChunkID, &c.DocumentID, &c.Filename, &c.UnitNumber,
		&c.ChunkIndex, &c.Text, &createdAt, &c.SourceFormat, &c.ExtractionMethod,
		&c.Language, &c.SymbolName, &c.SymbolType, &c.LineStart, &c.LineEnd,
		&partial, &rowData)
	if err != nil {
		return nil, err
	}
	c.Partial = partial != 0
	c.CreatedAt = parseSQLiteTime(createdAt)
	if c.RowData, err = decodeRowData(rowData); err != nil {
		return nil, fmt.Errorf("decode row data for chunk %s: %w", c.ChunkID, err)
	}
	c.Ordinal = -1
	return &c, nil
}

func parseSQLiteTime(s string) time.Time {
	for _, layout := range []string{"2006-01-02 15:04:05", time.RFC3339, time.RFC3339Nano} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// ChunkByOrdinal returns the chunk at the given 0-indexed ordinal, the
// join key handed back by vector search.
func (s *SQLiteStore) ChunkByOrdinal(ctx context.Context, ordinal int) (*ChunkRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT `+chunkColumns+`
		FROM chunks
		ORDER BY id
		LIMIT 1 OFFSET ?
	`, ordinal)

	c, err := scanChunk(row)
	if err == sql.ErrNoRows {
		return nil, dexerrors.NotFound(dexerrors.ErrCodeChunkNotFound, "chunk ordinal", fmt.Sprintf("%d", ordinal))
	}
	if err != nil {
		return nil, fmt.Errorf("query chunk by ordinal: %w", err)
	}
	c.Ordinal = ordinal
	return c, nil
}

// ChunksForDocument returns a document's chunks ordered by unit then
// position within unit.
func (s *SQLiteStore) ChunksForDocument(ctx context.Context, documentID string) ([]*ChunkRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+chunkColumns+`
		FROM chunks
		WHERE document_id = ?
		ORDER BY unit_number, chunk_index
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("query chunks for document: %w", err)
	}
	defer rows.Close()

	return collectChunks(rows)
}

// AllChunksOrdered returns every chunk in ordinal order, with ordinals
// populated. Used by rebuild.
func (s *SQLiteStore) AllChunksOrdered(ctx context.Context) ([]*ChunkRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+chunkColumns+`
		FROM chunks
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("query all chunks: %w", err)
	}
	defer rows.Close()

	chunks, err := collectChunks(rows)
	if err != nil {
		return nil, err
	}
	for i := range chunks {
		chunks[i].Ordinal = i
	}
	return chunks, nil
}

func collectChunks(rows *sql.Rows) ([]*ChunkRow, error) {
	var out []*ChunkRow
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// ChunkOrdinals returns the global ordinals occupied by a document's
// chunks. The row number runs over the whole table, not the filtered
// set, so the result matches vector index positions.
func (s *SQLiteStore) ChunkOrdinals(ctx context.Context, documentID string) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT ord FROM (
			SELECT document_id, (ROW_NUMBER() OVER (ORDER BY id) - 1) AS ord
			FROM chunks
		)
		WHERE document_id = ?
		ORDER BY ord
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("query chunk ordinals: %w", err)
	}
	defer rows.Close()

	var ordinals []int
	for rows.Next() {
		var ord int
		if err := rows.Scan(&ord); err != nil {
			return nil, err
		}
		ordinals = append(ordinals, ord)
	}
	return ordinals, rows.Err()
}

// TotalChunks returns the chunk count.
func (s *SQLiteStore) TotalChunks(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM chunks`).Scan(&count)
	return count, err
}

// DocumentExists reports whether any chunk references the document.
func (s *SQLiteStore) DocumentExists(ctx context.Context, documentID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var one int
	err := s.db.QueryRowContext(ctx,
		`SELECT 1 FROM chunks WHERE document_id = ? LIMIT 1`, documentID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// UpsertDocument writes the document bookkeeping row.
func (s *SQLiteStore) UpsertDocument(ctx context.Context, doc Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO documents
		(document_id, filename, unit_count, chunk_count, indexed_at,
		 source_format, extraction_method, embedding_model, chunk_size, chunk_overlap)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, doc.DocumentID, doc.Filename, doc.UnitCount, doc.ChunkCount,
		doc.IndexedAt.UTC().Format(time.RFC3339),
		doc.SourceFormat, doc.ExtractionMethod, doc.EmbeddingModel,
		doc.ChunkSize, doc.ChunkOverlap)
	if err != nil {
		return fmt.Errorf("upsert document: %w", err)
	}
	return nil
}

// GetDocument returns a document row.
func (s *SQLiteStore) GetDocument(ctx context.Context, documentID string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var doc Document
	var indexedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT document_id, filename, unit_count, chunk_count, indexed_at,
		       source_format, extraction_method, embedding_model, chunk_size, chunk_overlap
		FROM documents WHERE document_id = ?
	`, documentID).Scan(&doc.DocumentID, &doc.Filename, &doc.UnitCount, &doc.ChunkCount,
		&indexedAt, &doc.SourceFormat, &doc.ExtractionMethod, &doc.EmbeddingModel,
		&doc.ChunkSize, &doc.ChunkOverlap)
	if err == sql.ErrNoRows {
		return nil, dexerrors.NotFound(dexerrors.ErrCodeDocumentNotFound, "document", documentID)
	}
	if err != nil {
		return nil, fmt.Errorf("query document: %w", err)
	}
	doc.IndexedAt = parseSQLiteTime(indexedAt)
	return &doc, nil
}

// ListDocuments returns all documents, newest first. Counts come from
// the chunks table so the listing is truthful even when a document row
// drifted.
func (s *SQLiteStore) ListDocuments(ctx context.Context) ([]*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.document_id, c.filename,
		       COUNT(*) AS chunk_count,
		       COUNT(DISTINCT c.unit_number) AS unit_count,
		       COALESCE(d.indexed_at, MAX(c.created_at), '') AS indexed_at,
		       COALESCE(d.source_format, MAX(c.source_format)) AS source_format,
		       COALESCE(d.extraction_method, MAX(c.extraction_method)) AS extraction_method,
		       COALESCE(d.embedding_model, '') AS embedding_model,
		       COALESCE(d.chunk_size, 0) AS chunk_size,
		       COALESCE(d.chunk_overlap, 0) AS chunk_overlap
		FROM chunks c
		LEFT JOIN documents d ON d.document_id = c.document_id
		GROUP BY c.document_id, c.filename
		ORDER BY MAX(c.created_at) DESC, c.document_id
	`)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	var docs []*Document
	for rows.Next() {
		var doc Document
		var indexedAt string
		if err := rows.Scan(&doc.DocumentID, &doc.Filename, &doc.ChunkCount,
			&doc.UnitCount, &indexedAt, &doc.SourceFormat, &doc.ExtractionMethod,
			&doc.EmbeddingModel, &doc.ChunkSize, &doc.ChunkOverlap); err != nil {
			return nil, err
		}
		doc.IndexedAt = parseSQLiteTime(indexedAt)
		docs = append(docs, &doc)
	}
	return docs, rows.Err()
}

// DeleteDocument removes a document's chunk rows and its document row.
// It returns the number of chunks removed and the global ordinals they
// occupied, computed before deletion so the caller can rebuild the
// vector index without them.
func (s *SQLiteStore) DeleteDocument(ctx context.Context, documentID string) (int, []int, error) {
	freed, err := s.ChunkOrdinals(ctx, documentID)
	if err != nil {
		return 0, nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE document_id = ?`, documentID)
	if err != nil {
		return 0, nil, fmt.Errorf("delete chunks: %w", err)
	}
	deleted, _ := res.RowsAffected()

	if _, err := tx.ExecContext(ctx, `DELETE FROM documents WHERE document_id = ?`, documentID); err != nil {
		return 0, nil, fmt.Errorf("delete document row: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, nil, fmt.Errorf("commit delete: %w", err)
	}

	slog.Info("document_deleted", "document_id", documentID, "chunks", deleted)
	return int(deleted), freed, nil
}

// DocumentsCount returns the number of document rows.
func (s *SQLiteStore) DocumentsCount(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents`).Scan(&count)
	return count, err
}

// OrphanedChunkCount counts chunks whose document_id has no document row.
func (s *SQLiteStore) OrphanedChunkCount(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM chunks c
		WHERE NOT EXISTS (
			SELECT 1 FROM documents d WHERE d.document_id = c.document_id
		)
	`).Scan(&count)
	return count, err
}

// RepairedDocument describes one document row reconstructed from chunks.
type RepairedDocument struct {
	DocumentID string
	Filename   string
	ChunkCount int
	Err        error
}

// ReconstructDocuments rebuilds missing document rows by aggregating
// chunk rows: max unit number as unit count, row count as chunk count,
// earliest chunk creation as the indexed-at timestamp. Returns one
// entry per document attempted, including per-item failures.
func (s *SQLiteStore) ReconstructDocuments(ctx context.Context) ([]RepairedDocument, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.document_id, c.filename,
		       MAX(c.unit_number) AS max_unit,
		       COUNT(*) AS chunk_count,
		       MAX(c.source_format) AS source_format,
		       MAX(c.extraction_method) AS extraction_method,
		       MIN(c.created_at) AS first_created
		FROM chunks c
		WHERE NOT EXISTS (
			SELECT 1 FROM documents d WHERE d.document_id = c.document_id
		)
		GROUP BY c.document_id, c.filename
	`)
	if err != nil {
		return nil, fmt.Errorf("query missing documents: %w", err)
	}

	type missing struct {
		docID, filename, sourceFormat, method, firstCreated string
		maxUnit, chunkCount                                 int
	}
	var toRepair []missing
	for rows.Next() {
		var m missing
		var firstCreated sql.NullString
		if err := rows.Scan(&m.docID, &m.filename, &m.maxUnit, &m.chunkCount,
			&m.sourceFormat, &m.method, &firstCreated); err != nil {
			rows.Close()
			return nil, err
		}
		m.firstCreated = firstCreated.String
		toRepair = append(toRepair, m)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var repaired []RepairedDocument
	for _, m := range toRepair {
		indexedAt := m.firstCreated
		if indexedAt == "" {
			indexedAt = time.Now().UTC().Format(time.RFC3339)
		}
		unitCount := m.maxUnit
		if unitCount < 1 {
			unitCount = 1
		}

		_, execErr := s.db.ExecContext(ctx, `
			INSERT INTO documents
			(document_id, filename, unit_count, chunk_count, indexed_at,
			 source_format, extraction_method, embedding_model, chunk_size, chunk_overlap)
			VALUES (?, ?, ?, ?, ?, ?, ?, '', 0, 0)
		`, m.docID, m.filename, unitCount, m.chunkCount, indexedAt, m.sourceFormat, m.method)

		repaired = append(repaired, RepairedDocument{
			DocumentID: m.docID,
			Filename:   m.filename,
			ChunkCount: m.chunkCount,
			Err:        execErr,
		})
		if execErr != nil {
			slog.Error("document_reconstruction_failed", "document_id", m.docID, "error", execErr)
		} else {
			slog.Info("document_reconstructed", "document_id", m.docID, "filename", m.filename)
		}
	}

	return repaired, nil
}

// ClearAll removes every chunk and document row.
func (s *SQLiteStore) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks`); err != nil {
		return fmt.Errorf("clear chunks: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM documents`); err != nil {
		return fmt.Errorf("clear documents: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit clear: %w", err)
	}

	slog.Info("metadata_cleared", "path", s.path)
	return nil
}
