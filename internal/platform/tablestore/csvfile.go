package tablestore

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"os"

	"github.com/rs/zerolog"
)

// CSVStore keeps the table in a local CSV file.
type CSVStore struct {
	path   string
	logger zerolog.Logger
}

// NewCSVStore returns a store backed by the CSV file at path. The file is
// created on the first write.
func NewCSVStore(path string, logger zerolog.Logger) *CSVStore {
	return &CSVStore{path: path, logger: logger}
}

func (s *CSVStore) ReadAll(ctx context.Context) (Table, error) {
	t, err := s.Load(ctx)
	return degrade(s.logger, t, err)
}

func (s *CSVStore) Load(_ context.Context) (Table, error) {
	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Table{}, nil
		}
		return Table{}, unavailable("csv", s.path, err)
	}
	defer f.Close()

	t, err := DecodeCSV(f)
	if err != nil {
		return Table{}, malformed(s.path, err)
	}
	return t, nil
}

func (s *CSVStore) WriteAll(_ context.Context, t Table) error {
	return writeFileAtomic(s.path, func(w io.Writer) error {
		return EncodeCSV(w, t)
	})
}
