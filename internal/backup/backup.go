// Package backup archives a collection's index files, and optionally
// its source documents, into a portable zip with a manifest that
// records enough configuration to detect incompatible restores.
package backup

import (
	"archive/zip"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/quillstack/docdex/internal/config"
	dexerrors "github.com/quillstack/docdex/internal/errors"
	"github.com/quillstack/docdex/internal/index"
	"github.com/quillstack/docdex/internal/store"
)

// FormatVersion is bumped whenever the archive layout changes. The
// major component gates restores; minor revisions stay compatible.
const FormatVersion = "3.0"

const manifestName = "backup_metadata.json"

// Manifest is the archive's self-description.
type Manifest struct {
	FormatVersion     string    `json:"backup_format_version"`
	SchemaVersion     int       `json:"schema_version"`
	CreatedAt         time.Time `json:"created_at"`
	CollectionID      string    `json:"collection_id"`
	Description       string    `json:"description,omitempty"`
	EmbeddingModel    string    `json:"embedding_model"`
	ChunkSize         int       `json:"chunk_size"`
	ChunkOverlap      int       `json:"chunk_overlap"`
	IncludesDocuments bool      `json:"includes_documents"`
}

// Service creates and restores collection backups.
type Service struct {
	cfg       *config.Config
	backupDir string
}

// NewService builds a backup service storing archives under the data
// directory's backups folder.
func NewService(cfg *config.Config) *Service {
	return &Service{cfg: cfg, backupDir: filepath.Join(cfg.DataDir, "backups")}
}

// Dir returns the backup directory.
func (s *Service) Dir() string { return s.backupDir }

// Create archives a collection and returns the backup path.
func (s *Service) Create(collectionID, description string, includeDocuments bool) (string, error) {
	if collectionID == "" {
		collectionID = index.DefaultCollection
	}
	collectionDir := s.cfg.CollectionDir(collectionID)
	if _, err := os.Stat(collectionDir); err != nil {
		return "", dexerrors.NotFound(dexerrors.ErrCodeCollectionNotFound, "collection", collectionID)
	}

	if err := os.MkdirAll(s.backupDir, 0o755); err != nil {
		return "", dexerrors.IOError("create backup directory", err)
	}

	name := fmt.Sprintf("docdex_backup_%s_%s.zip",
		collectionID, time.Now().UTC().Format("20060102_150405"))
	path := filepath.Join(s.backupDir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", dexerrors.IOError("create backup archive", err)
	}
	defer f.Close()

	zw := zip.NewWriter(f)

	manifest := Manifest{
		FormatVersion:     FormatVersion,
		SchemaVersion:     store.CurrentSchemaVersion,
		CreatedAt:         time.Now().UTC(),
		CollectionID:      collectionID,
		Description:       description,
		EmbeddingModel:    s.cfg.Embedding.Model,
		ChunkSize:         s.cfg.Chunking.Size,
		ChunkOverlap:      s.cfg.Chunking.Overlap,
		IncludesDocuments: includeDocuments,
	}
	if err := writeManifest(zw, &manifest); err != nil {
		_ = zw.Close()
		return "", err
	}

	files, err := s.indexFiles(collectionDir)
	if err != nil {
		_ = zw.Close()
		return "", err
	}
	for _, file := range files {
		if err := addFile(zw, file, "index/"+filepath.Base(file)); err != nil {
			_ = zw.Close()
			return "", err
		}
	}

	if includeDocuments {
		docsDir := s.cfg.DocumentsDir(collectionID)
		if err := addTree(zw, docsDir, "documents"); err != nil {
			_ = zw.Close()
			return "", err
		}
	}

	if err := zw.Close(); err != nil {
		return "", dexerrors.IOError("finalize backup archive", err)
	}

	slog.Info("backup_created", "path", path, "collection", collectionID,
		"include_documents", includeDocuments)
	return path, nil
}

// indexFiles lists the index files of a collection, skipping the
// writer lock and the documents subtree.
func (s *Service) indexFiles(collectionDir string) ([]string, error) {
	entries, err := os.ReadDir(collectionDir)
	if err != nil {
		return nil, dexerrors.IOError("read collection directory", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		files = append(files, filepath.Join(collectionDir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// RestoreReport describes a completed restore.
type RestoreReport struct {
	CollectionID  string `json:"collection_id"`
	IndexFiles    int    `json:"index_files"`
	DocumentFiles int    `json:"document_files"`
}

// Restore unpacks an archive into a collection directory. The target
// defaults to the archive's original collection. An existing,
// non-empty target is refused unless overwrite is set.
func (s *Service) Restore(archivePath, targetCollection string, overwrite bool) (*RestoreReport, error) {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, dexerrors.NotFound(dexerrors.ErrCodeFileNotFound, "backup", archivePath)
		}
		return nil, dexerrors.Newf(dexerrors.ErrCodeBackupFormat,
			"%s is not a readable backup archive: %v", archivePath, err)
	}
	defer zr.Close()

	manifest, err := readManifest(&zr.Reader)
	if err != nil {
		return nil, err
	}
	if majorVersion(manifest.FormatVersion) != majorVersion(FormatVersion) {
		return nil, dexerrors.Newf(dexerrors.ErrCodeBackupFormat,
			"backup format %s is not compatible with %s",
			manifest.FormatVersion, FormatVersion).
			WithSuggestion("re-create the backup with this version of docdex")
	}
	if manifest.FormatVersion != FormatVersion {
		slog.Warn("backup_format_minor_drift",
			"archive_version", manifest.FormatVersion,
			"current_version", FormatVersion)
	}

	if targetCollection == "" {
		targetCollection = manifest.CollectionID
	}
	targetDir := s.cfg.CollectionDir(targetCollection)
	if !overwrite {
		if populated, err := dirPopulated(targetDir); err != nil {
			return nil, err
		} else if populated {
			return nil, dexerrors.Conflict(dexerrors.ErrCodeInvalidInput,
				fmt.Sprintf("collection %s already has data", targetCollection)).
				WithSuggestion("pass --overwrite to replace it")
		}
	}
	if err := os.MkdirAll(targetDir, 0o755); err != nil {
		return nil, dexerrors.IOError("create collection directory", err)
	}

	report := &RestoreReport{CollectionID: targetCollection}
	for _, f := range zr.File {
		switch {
		case f.Name == manifestName:
			continue
		case strings.HasPrefix(f.Name, "index/"):
			dest := filepath.Join(targetDir, filepath.Base(f.Name))
			if err := extractFile(f, dest); err != nil {
				return nil, err
			}
			report.IndexFiles++
		case strings.HasPrefix(f.Name, "documents/"):
			rel := strings.TrimPrefix(f.Name, "documents/")
			dest, ok := safeJoin(s.cfg.DocumentsDir(targetCollection), rel)
			if !ok {
				return nil, dexerrors.Newf(dexerrors.ErrCodeBackupFormat,
					"archive entry %s escapes the target directory", f.Name)
			}
			if err := extractFile(f, dest); err != nil {
				return nil, err
			}
			report.DocumentFiles++
		}
	}

	slog.Info("backup_restored", "archive", archivePath,
		"collection", targetCollection,
		"index_files", report.IndexFiles,
		"document_files", report.DocumentFiles)
	return report, nil
}

// Info describes one archive in the backup directory.
type Info struct {
	Filename  string   `json:"filename"`
	SizeBytes int64    `json:"size_bytes"`
	Manifest  Manifest `json:"manifest"`
}

// List returns the readable backups, newest first. Unreadable archives
// are skipped with a warning.
func (s *Service) List() ([]Info, error) {
	entries, err := os.ReadDir(s.backupDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, dexerrors.IOError("read backup directory", err)
	}

	var infos []Info
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".zip") {
			continue
		}
		path := filepath.Join(s.backupDir, e.Name())
		zr, err := zip.OpenReader(path)
		if err != nil {
			slog.Warn("backup_unreadable", "file", e.Name(), "error", err)
			continue
		}
		manifest, err := readManifest(&zr.Reader)
		_ = zr.Close()
		if err != nil {
			slog.Warn("backup_unreadable", "file", e.Name(), "error", err)
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		infos = append(infos, Info{Filename: e.Name(), SizeBytes: fi.Size(), Manifest: *manifest})
	}

	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Manifest.CreatedAt.After(infos[j].Manifest.CreatedAt)
	})
	return infos, nil
}

// Delete removes an archive by filename.
func (s *Service) Delete(filename string) error {
	if filepath.Base(filename) != filename {
		return dexerrors.Newf(dexerrors.ErrCodeInvalidInput,
			"backup name must not contain path separators")
	}
	path := filepath.Join(s.backupDir, filename)
	if err := os.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return dexerrors.NotFound(dexerrors.ErrCodeFileNotFound, "backup", filename)
		}
		return dexerrors.IOError("delete backup", err)
	}
	slog.Info("backup_deleted", "file", filename)
	return nil
}

// majorVersion returns the part of a format version before the first
// dot ("3" for "3.1").
func majorVersion(v string) string {
	if i := strings.Index(v, "."); i >= 0 {
		return v[:i]
	}
	return v
}

func writeManifest(zw *zip.Writer, m *Manifest) error {
	w, err := zw.Create(manifestName)
	if err != nil {
		return dexerrors.IOError("write backup manifest", err)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(m); err != nil {
		return dexerrors.IOError("write backup manifest", err)
	}
	return nil
}

func readManifest(zr *zip.Reader) (*Manifest, error) {
	for _, f := range zr.File {
		if f.Name != manifestName {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, dexerrors.Newf(dexerrors.ErrCodeBackupFormat,
				"cannot open backup manifest: %v", err)
		}
		defer rc.Close()

		var m Manifest
		if err := json.NewDecoder(rc).Decode(&m); err != nil {
			return nil, dexerrors.Newf(dexerrors.ErrCodeBackupFormat,
				"backup manifest is not valid JSON: %v", err)
		}
		return &m, nil
	}
	return nil, dexerrors.Newf(dexerrors.ErrCodeBackupFormat,
		"archive has no %s", manifestName)
}

func addFile(zw *zip.Writer, path, arcname string) error {
	f, err := os.Open(path)
	if err != nil {
		return dexerrors.IOError("read "+path, err)
	}
	defer f.Close()

	w, err := zw.Create(arcname)
	if err != nil {
		return dexerrors.IOError("add "+arcname, err)
	}
	if _, err := io.Copy(w, f); err != nil {
		return dexerrors.IOError("add "+arcname, err)
	}
	return nil
}

func addTree(zw *zip.Writer, root, prefix string) error {
	if _, err := os.Stat(root); os.IsNotExist(err) {
		return nil
	}
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		return addFile(zw, path, prefix+"/"+filepath.ToSlash(rel))
	})
}

func extractFile(f *zip.File, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return dexerrors.IOError("create "+filepath.Dir(dest), err)
	}
	rc, err := f.Open()
	if err != nil {
		return dexerrors.Newf(dexerrors.ErrCodeBackupFormat,
			"cannot read archive entry %s: %v", f.Name, err)
	}
	defer rc.Close()

	out, err := os.Create(dest)
	if err != nil {
		return dexerrors.IOError("create "+dest, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		return dexerrors.IOError("extract "+f.Name, err)
	}
	return nil
}

// safeJoin joins rel under base and rejects traversal outside base.
func safeJoin(base, rel string) (string, bool) {
	dest := filepath.Join(base, filepath.FromSlash(rel))
	if dest != base && !strings.HasPrefix(dest, base+string(os.PathSeparator)) {
		return "", false
	}
	return dest, true
}

func dirPopulated(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, dexerrors.IOError("read "+dir, err)
	}
	return len(entries) > 0, nil
}
