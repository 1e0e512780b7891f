package tablestore

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// sheetValues is the subset of the Sheets values API the store uses.
type sheetValues interface {
	Get(ctx context.Context, rng string) ([][]any, error)
	Update(ctx context.Context, rng string, values [][]any) error
	Clear(ctx context.Context, rng string) error
}

// SheetsStore keeps the table on one tab of a Google spreadsheet.
type SheetsStore struct {
	values        sheetValues
	spreadsheetID string
	sheet         string
	logger        zerolog.Logger
}

// NewSheetsService authenticates with a service-account key file.
func NewSheetsService(ctx context.Context, credentialsFile string) (*sheets.Service, error) {
	svc, err := sheets.NewService(ctx,
		option.WithCredentialsFile(credentialsFile),
		option.WithScopes(sheets.SpreadsheetsScope),
	)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return svc, nil
}

// NewSheetsStore returns a store for the named tab of the spreadsheet.
func NewSheetsStore(svc *sheets.Service, spreadsheetID, sheet string, logger zerolog.Logger) *SheetsStore {
	return newSheetsStore(&sheetsAPI{svc: svc, spreadsheetID: spreadsheetID}, spreadsheetID, sheet, logger)
}

func newSheetsStore(values sheetValues, spreadsheetID, sheet string, logger zerolog.Logger) *SheetsStore {
	if sheet == "" {
		sheet = DefaultSheetName
	}
	return &SheetsStore{values: values, spreadsheetID: spreadsheetID, sheet: sheet, logger: logger}
}

func (s *SheetsStore) location() string { return s.spreadsheetID + "/" + s.sheet }

func (s *SheetsStore) ReadAll(ctx context.Context) (Table, error) {
	t, err := s.Load(ctx)
	return degrade(s.logger, t, err)
}

func (s *SheetsStore) Load(ctx context.Context) (Table, error) {
	rows, err := s.values.Get(ctx, s.sheet)
	if err != nil {
		var gerr *googleapi.Error
		if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
			return Table{}, nil
		}
		return Table{}, unavailable("sheets", s.location(), err)
	}

	grid := make([][]string, len(rows))
	for i, row := range rows {
		cells := make([]string, len(row))
		for j, v := range row {
			cells[j] = FormatValue(v)
		}
		grid[i] = cells
	}
	return FromGrid(grid), nil
}

// WriteAll overwrites the range starting at A1 and then clears whatever was
// below the new last row. The sheet always holds a readable table, even if
// the clear step fails.
func (s *SheetsStore) WriteAll(ctx context.Context, t Table) error {
	grid := t.Grid()
	values := make([][]any, len(grid))
	for i, row := range grid {
		cells := make([]any, len(row))
		for j, v := range row {
			cells[j] = v
		}
		values[i] = cells
	}

	if err := s.values.Update(ctx, s.sheet+"!A1", values); err != nil {
		return fmt.Errorf("update %s: %w", s.location(), err)
	}
	tail := fmt.Sprintf("%s!A%d:ZZ", s.sheet, len(grid)+1)
	if err := s.values.Clear(ctx, tail); err != nil {
		return fmt.Errorf("clear %s: %w", tail, err)
	}
	return nil
}

type sheetsAPI struct {
	svc           *sheets.Service
	spreadsheetID string
}

func (a *sheetsAPI) Get(ctx context.Context, rng string) ([][]any, error) {
	resp, err := a.svc.Spreadsheets.Values.Get(a.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return nil, err
	}
	return resp.Values, nil
}

func (a *sheetsAPI) Update(ctx context.Context, rng string, values [][]any) error {
	_, err := a.svc.Spreadsheets.Values.Update(a.spreadsheetID, rng, &sheets.ValueRange{Values: values}).
		ValueInputOption("RAW").
		Context(ctx).
		Do()
	return err
}

func (a *sheetsAPI) Clear(ctx context.Context, rng string) error {
	_, err := a.svc.Spreadsheets.Values.Clear(a.spreadsheetID, rng, &sheets.ClearValuesRequest{}).
		Context(ctx).
		Do()
	return err
}
