// Package ledger persists the per-source index state as a CSV file.
// The ledger is the sole source of truth for what the vector store
// currently contains. Saves are atomic (write temp, fsync, rename) and
// every mutation window is protected by an advisory file lock.
package ledger

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/renameio"

	"github.com/pressridge/blogidx/internal/clock"
	idxerrors "github.com/pressridge/blogidx/internal/errors"
)

// Header is the stable CSV column order. It is part of the external
// contract and must not change.
var Header = []string{"source", "content_checksum", "last_modified", "indexed_timestamp", "indexed"}

const backupTimeLayout = "20060102T150405"

// Row is one ledger entry keyed by source.
type Row struct {
	Source           string
	ContentChecksum  string
	LastModified     int64
	IndexedTimestamp int64
	Indexed          bool
}

// Ledger reads and writes the metadata CSV and its rotating backups.
type Ledger struct {
	path   string
	clk    clock.Clock
	logger *slog.Logger
	lock   *flock.Flock
}

// New creates a Ledger over the given CSV path.
func New(path string, clk clock.Clock, logger *slog.Logger) *Ledger {
	if clk == nil {
		clk = clock.NewReal()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ledger{
		path:   path,
		clk:    clk,
		logger: logger,
		lock:   flock.New(path + ".lock"),
	}
}

// Path returns the ledger file path.
func (l *Ledger) Path() string { return l.path }

// Acquire takes the advisory lock for the duration of a pipeline run.
// The lock file lives beside the CSV, so on a fresh state directory the
// parent has to be created first.
func (l *Ledger) Acquire() error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return idxerrors.New(idxerrors.ErrCodeLedgerWrite,
			fmt.Sprintf("failed to create ledger directory for %s", l.path), err)
	}
	ok, err := l.lock.TryLock()
	if err != nil {
		return idxerrors.New(idxerrors.ErrCodeLedgerLocked, "failed to acquire ledger lock", err)
	}
	if !ok {
		return idxerrors.Newf(idxerrors.ErrCodeLedgerLocked, "ledger %s is locked by another process", l.path)
	}
	return nil
}

// Release drops the advisory lock.
func (l *Ledger) Release() error {
	return l.lock.Unlock()
}

// Load reads the ledger into a map keyed by source. A missing file yields
// an empty map; a corrupt file is an integrity error, never silently
// treated as empty.
func (l *Ledger) Load() (map[string]Row, error) {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]Row{}, nil
		}
		return nil, idxerrors.New(idxerrors.ErrCodeLedgerWrite,
			fmt.Sprintf("failed to open ledger %s", l.path), err)
	}
	defer f.Close()

	return l.parse(f)
}

func (l *Ledger) parse(r io.Reader) (map[string]Row, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = len(Header)

	header, err := reader.Read()
	if err == io.EOF {
		return map[string]Row{}, nil
	}
	if err != nil {
		return nil, idxerrors.New(idxerrors.ErrCodeLedgerCorrupt, "failed to read ledger header", err)
	}
	for i, col := range Header {
		if header[i] != col {
			return nil, idxerrors.Newf(idxerrors.ErrCodeLedgerSchemaBad,
				"ledger column %d is %q, want %q", i, header[i], col)
		}
	}

	rows := make(map[string]Row)
	for line := 2; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, idxerrors.New(idxerrors.ErrCodeLedgerCorrupt,
				fmt.Sprintf("malformed ledger record at line %d", line), err)
		}
		row, err := parseRecord(record)
		if err != nil {
			return nil, idxerrors.New(idxerrors.ErrCodeLedgerCorrupt,
				fmt.Sprintf("invalid ledger record at line %d", line), err)
		}
		rows[row.Source] = row
	}
	return rows, nil
}

func parseRecord(record []string) (Row, error) {
	lastModified, err := strconv.ParseInt(record[2], 10, 64)
	if err != nil {
		return Row{}, fmt.Errorf("bad last_modified %q: %w", record[2], err)
	}
	indexedAt, err := strconv.ParseInt(record[3], 10, 64)
	if err != nil {
		return Row{}, fmt.Errorf("bad indexed_timestamp %q: %w", record[3], err)
	}
	indexed, err := strconv.ParseBool(record[4])
	if err != nil {
		return Row{}, fmt.Errorf("bad indexed flag %q: %w", record[4], err)
	}
	return Row{
		Source:           record[0],
		ContentChecksum:  record[1],
		LastModified:     lastModified,
		IndexedTimestamp: indexedAt,
		Indexed:          indexed,
	}, nil
}

// Save writes all rows atomically: the CSV is built in a sibling temp
// file and renamed over the target, so readers never observe a torn file.
// Rows are written in sorted source order for stable diffs.
func (l *Ledger) Save(rows map[string]Row) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return idxerrors.New(idxerrors.ErrCodeLedgerWrite, "failed to create ledger directory", err)
	}

	t, err := renameio.TempFile("", l.path)
	if err != nil {
		return idxerrors.New(idxerrors.ErrCodeLedgerWrite, "failed to create temp ledger file", err)
	}
	defer t.Cleanup()

	w := csv.NewWriter(t)
	if err := w.Write(Header); err != nil {
		return idxerrors.New(idxerrors.ErrCodeLedgerWrite, "failed to write ledger header", err)
	}

	sources := make([]string, 0, len(rows))
	for s := range rows {
		sources = append(sources, s)
	}
	sort.Strings(sources)

	for _, s := range sources {
		row := rows[s]
		record := []string{
			row.Source,
			row.ContentChecksum,
			strconv.FormatInt(row.LastModified, 10),
			strconv.FormatInt(row.IndexedTimestamp, 10),
			strconv.FormatBool(row.Indexed),
		}
		if err := w.Write(record); err != nil {
			return idxerrors.New(idxerrors.ErrCodeLedgerWrite,
				fmt.Sprintf("failed to write ledger row for %s", s), err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return idxerrors.New(idxerrors.ErrCodeLedgerWrite, "failed to flush ledger", err)
	}

	if err := t.CloseAtomicallyReplace(); err != nil {
		return idxerrors.New(idxerrors.ErrCodeLedgerWrite, "failed to replace ledger file", err)
	}

	l.logger.Debug("ledger saved",
		slog.String("path", l.path),
		slog.Int("rows", len(rows)))
	return nil
}

// Backup copies the current ledger to a timestamped sibling and returns
// the backup path. Backing up a nonexistent ledger is a no-op.
func (l *Ledger) Backup() (string, error) {
	src, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", idxerrors.New(idxerrors.ErrCodeLedgerBackup, "failed to open ledger for backup", err)
	}
	defer src.Close()

	backupPath := fmt.Sprintf("%s.backup.%s", l.path, l.clk.Now().UTC().Format(backupTimeLayout))
	dst, err := os.Create(backupPath)
	if err != nil {
		return "", idxerrors.New(idxerrors.ErrCodeLedgerBackup, "failed to create backup file", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return "", idxerrors.New(idxerrors.ErrCodeLedgerBackup, "failed to copy ledger to backup", err)
	}
	if err := dst.Sync(); err != nil {
		return "", idxerrors.New(idxerrors.ErrCodeLedgerBackup, "failed to sync backup file", err)
	}

	l.logger.Info("ledger backed up", slog.String("backup", backupPath))
	return backupPath, nil
}

// Backups lists existing backup files, newest first. Filenames embed the
// timestamp so lexical order is chronological.
func (l *Ledger) Backups() ([]string, error) {
	matches, err := filepath.Glob(l.path + ".backup.*")
	if err != nil {
		return nil, err
	}
	sort.Sort(sort.Reverse(sort.StringSlice(matches)))
	return matches, nil
}

// RestoreLatest replaces the ledger with the newest backup. Restoring
// with no backups available is an error.
func (l *Ledger) RestoreLatest() error {
	backups, err := l.Backups()
	if err != nil {
		return idxerrors.New(idxerrors.ErrCodeLedgerRestore, "failed to list backups", err)
	}
	if len(backups) == 0 {
		return idxerrors.Newf(idxerrors.ErrCodeLedgerRestore, "no backups available for %s", l.path)
	}
	return l.Restore(backups[0])
}

// Restore replaces the ledger with the given backup file atomically.
func (l *Ledger) Restore(backupPath string) error {
	data, err := os.ReadFile(backupPath)
	if err != nil {
		return idxerrors.New(idxerrors.ErrCodeLedgerRestore,
			fmt.Sprintf("failed to read backup %s", backupPath), err)
	}
	if err := renameio.WriteFile(l.path, data, 0o644); err != nil {
		return idxerrors.New(idxerrors.ErrCodeLedgerRestore, "failed to restore ledger", err)
	}
	l.logger.Info("ledger restored", slog.String("backup", backupPath))
	return nil
}

// CleanupBackups removes all but the newest keepN backups.
func (l *Ledger) CleanupBackups(keepN int) error {
	backups, err := l.Backups()
	if err != nil {
		return err
	}
	if keepN < 0 {
		keepN = 0
	}
	for i := keepN; i < len(backups); i++ {
		if err := os.Remove(backups[i]); err != nil {
			l.logger.Warn("failed to remove old backup",
				slog.String("backup", backups[i]),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

// OldestBackupAge returns the age of the oldest backup, or zero when no
// backups exist.
func (l *Ledger) OldestBackupAge() (time.Duration, error) {
	backups, err := l.Backups()
	if err != nil || len(backups) == 0 {
		return 0, err
	}
	info, err := os.Stat(backups[len(backups)-1])
	if err != nil {
		return 0, err
	}
	return l.clk.Now().Sub(info.ModTime()), nil
}
