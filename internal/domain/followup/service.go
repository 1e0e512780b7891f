package followup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"

	"github.com/rtclinic/followup/internal/platform/notify"
	"github.com/rtclinic/followup/internal/platform/tablestore"
)

// Export formats.
const (
	FormatCSV  = "csv"
	FormatXLSX = "xlsx"
)

var ErrUnsupportedFormat = errors.New("unsupported export format")

type Service struct {
	store    tablestore.Store
	notifier notify.Notifier
	logger   zerolog.Logger
	now      func() time.Time

	// mu serializes the read-modify-write of Submit within this process.
	mu sync.Mutex
}

func NewService(store tablestore.Store, notifier notify.Notifier, logger zerolog.Logger) *Service {
	if notifier == nil {
		notifier = notify.Nop{}
	}
	return &Service{
		store:    store,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *Service) today() civil.Date {
	return civil.DateOf(s.now())
}

// Calculate previews the derived fields for f.
func (s *Service) Calculate(f Form) Derived {
	return Compute(f, s.today())
}

// Table returns the whole persisted table.
func (s *Service) Table(ctx context.Context) (tablestore.Table, error) {
	t, err := s.store.ReadAll(ctx)
	if err != nil {
		return tablestore.Table{}, fmt.Errorf("read follow-up table: %w", err)
	}
	return t, nil
}

// Lookup returns the first stored row for mrn.
func (s *Service) Lookup(ctx context.Context, mrn string) (tablestore.Record, bool, error) {
	t, err := s.Table(ctx)
	if err != nil {
		return nil, false, err
	}
	r, ok := Lookup(t, mrn)
	return r, ok, nil
}

func (s *Service) History(ctx context.Context, mrn string) ([]tablestore.Record, error) {
	t, err := s.Table(ctx)
	if err != nil {
		return nil, err
	}
	return History(t, mrn), nil
}

// Prefill returns a form seeded from the most recent visit of mrn, dated
// today.
func (s *Service) Prefill(ctx context.Context, mrn string) (Form, bool, error) {
	visits, err := s.History(ctx, mrn)
	if err != nil {
		return Form{}, false, err
	}
	if len(visits) == 0 {
		return Form{}, false, nil
	}
	f := Prefill(visits[len(visits)-1])
	today := s.today()
	f.FollowUpDate = &today
	return f, true, nil
}

// List pages through the table, optionally restricted to one MRN.
func (s *Service) List(ctx context.Context, mrn string, limit, offset int) ([]tablestore.Record, int, error) {
	t, err := s.Table(ctx)
	if err != nil {
		return nil, 0, err
	}
	rows := t.Rows
	if strings.TrimSpace(mrn) != "" {
		rows = History(t, mrn)
	}

	total := len(rows)
	if offset >= total {
		return []tablestore.Record{}, total, nil
	}
	end := offset + limit
	if end > total {
		end = total
	}
	return rows[offset:end], total, nil
}

// Submit computes the derived fields for f, assembles the record and
// appends it as a new row. Nothing is written when the form is rejected or
// the existing table could not be read.
func (s *Service) Submit(ctx context.Context, f Form) (tablestore.Record, error) {
	today := s.today()
	if !isSet(f.FollowUpDate) {
		f.FollowUpDate = &today
	}

	rec, err := Assemble(f, Compute(f, today))
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	t, err := tablestore.ReadForWrite(ctx, s.store)
	if err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("read follow-up table: %w", err)
	}
	next := t.WithColumns(Columns...).Append(rec)
	if err := s.store.WriteAll(ctx, next); err != nil {
		s.mu.Unlock()
		return nil, fmt.Errorf("write follow-up table: %w", err)
	}
	s.mu.Unlock()

	mrn := rec[ColMRN].(string)
	s.logger.Info().Str("mrn", mrn).Int("rows", next.Len()).Msg("follow-up saved")

	event := notify.NewEvent(notify.EventSubmitted, mrn, next.Len(), s.now())
	if err := s.notifier.Publish(ctx, event); err != nil {
		s.logger.Error().Err(err).Str("event_id", event.ID).Msg("failed to publish submission event")
	}
	return rec, nil
}

// Export writes the whole table to w as CSV or XLSX.
func (s *Service) Export(ctx context.Context, w io.Writer, format string) error {
	t, err := s.Table(ctx)
	if err != nil {
		return err
	}
	if len(t.Columns) == 0 {
		t = t.WithColumns(Columns...)
	}
	switch strings.ToLower(format) {
	case "", FormatCSV:
		return tablestore.EncodeCSV(w, t)
	case FormatXLSX:
		return tablestore.EncodeXLSX(w, t, tablestore.DefaultSheetName)
	}
	return fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
}
