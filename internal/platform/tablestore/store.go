package tablestore

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

var (
	// ErrUnavailable means the backing resource exists but could not be
	// reached. ReadAll never returns it; backends log it and hand back an
	// empty table. Load returns it so a writer does not replace rows it
	// never saw.
	ErrUnavailable = errors.New("table store unavailable")
	// ErrMalformed means the resource exists but could not be decoded.
	ErrMalformed = errors.New("table store contents malformed")
)

// Store reads and replaces the whole persisted table.
//
// ReadAll returns an empty table, not an error, when the resource does not
// exist yet or cannot be reached. WriteAll overwrites the resource with t,
// header row first, in row order.
type Store interface {
	ReadAll(ctx context.Context) (Table, error)
	WriteAll(ctx context.Context, t Table) error
}

// Loader is implemented by stores whose reads can fail transiently. Load
// behaves like ReadAll except that an unreachable resource is reported as
// ErrUnavailable instead of an empty table. A resource that does not exist
// yet is still an empty table.
type Loader interface {
	Load(ctx context.Context) (Table, error)
}

// ReadForWrite reads the table a caller is about to replace. Unlike
// ReadAll it fails with ErrUnavailable when the resource could not be
// reached.
func ReadForWrite(ctx context.Context, s Store) (Table, error) {
	if l, ok := s.(Loader); ok {
		return l.Load(ctx)
	}
	return s.ReadAll(ctx)
}

func unavailable(backend, location string, cause error) error {
	return fmt.Errorf("%w: %s %s: %v", ErrUnavailable, backend, location, cause)
}

// degrade turns an ErrUnavailable from Load into the empty table ReadAll
// promises, logging the cause.
func degrade(logger zerolog.Logger, t Table, err error) (Table, error) {
	if errors.Is(err, ErrUnavailable) {
		logger.Warn().Err(err).Msg("reading table failed, starting from an empty table")
		return Table{}, nil
	}
	return t, err
}

func malformed(location string, cause error) error {
	return fmt.Errorf("%w: %s: %v", ErrMalformed, location, cause)
}

// EncodeCSV writes t as CSV, header first.
func EncodeCSV(w io.Writer, t Table) error {
	cw := csv.NewWriter(w)
	if err := cw.WriteAll(t.Grid()); err != nil {
		return fmt.Errorf("write csv: %w", err)
	}
	return nil
}

// DecodeCSV reads a table from CSV. Empty input yields an empty table.
func DecodeCSV(r io.Reader) (Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	grid, err := cr.ReadAll()
	if err != nil {
		return Table{}, fmt.Errorf("read csv: %w", err)
	}
	return FromGrid(grid), nil
}

// writeFileAtomic writes into a temporary file next to path and renames it
// into place, so a crash mid-write leaves the previous file intact.
func writeFileAtomic(path string, write func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := write(tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
