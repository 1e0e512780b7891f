package tablestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/rs/zerolog"
	"github.com/tealeg/xlsx/v3"
)

// DefaultSheetName is used when a workbook is created from scratch.
const DefaultSheetName = "Sheet1"

// XLSXStore keeps the table on the first sheet of a local Excel workbook.
type XLSXStore struct {
	path      string
	sheetName string
	logger    zerolog.Logger
}

// NewXLSXStore returns a store backed by the workbook at path.
func NewXLSXStore(path string, logger zerolog.Logger) *XLSXStore {
	return &XLSXStore{path: path, sheetName: DefaultSheetName, logger: logger}
}

func (s *XLSXStore) ReadAll(ctx context.Context) (Table, error) {
	t, err := s.Load(ctx)
	return degrade(s.logger, t, err)
}

func (s *XLSXStore) Load(_ context.Context) (Table, error) {
	if _, err := os.Stat(s.path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Table{}, nil
		}
		return Table{}, unavailable("xlsx", s.path, err)
	}

	wb, err := xlsx.OpenFile(s.path)
	if err != nil {
		return Table{}, malformed(s.path, err)
	}
	if len(wb.Sheets) == 0 {
		return Table{}, nil
	}

	grid, err := readSheet(wb.Sheets[0])
	if err != nil {
		return Table{}, malformed(s.path, err)
	}
	return FromGrid(grid), nil
}

func (s *XLSXStore) WriteAll(_ context.Context, t Table) error {
	return writeFileAtomic(s.path, func(w io.Writer) error {
		return EncodeXLSX(w, t, s.sheetName)
	})
}

// EncodeXLSX writes t as a single-sheet workbook, header first. Every cell
// is written as text so dates and flattened lists survive unchanged.
func EncodeXLSX(w io.Writer, t Table, sheetName string) error {
	if sheetName == "" {
		sheetName = DefaultSheetName
	}
	wb := xlsx.NewFile()
	sh, err := wb.AddSheet(sheetName)
	if err != nil {
		return fmt.Errorf("add sheet %q: %w", sheetName, err)
	}
	for _, cells := range t.Grid() {
		row := sh.AddRow()
		for _, v := range cells {
			row.AddCell().SetString(v)
		}
	}
	if err := wb.Write(w); err != nil {
		return fmt.Errorf("write workbook: %w", err)
	}
	return nil
}

func readSheet(sh *xlsx.Sheet) ([][]string, error) {
	var grid [][]string
	err := sh.ForEachRow(func(r *xlsx.Row) error {
		var cells []string
		err := r.ForEachCell(func(c *xlsx.Cell) error {
			v, err := c.FormattedValue()
			if err != nil {
				v = c.Value
			}
			cells = append(cells, v)
			return nil
		})
		grid = append(grid, cells)
		return err
	})
	return grid, err
}
