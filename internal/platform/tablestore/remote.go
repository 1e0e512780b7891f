package tablestore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// HTTPStore keeps the table as a CSV document behind a URL. Reads use GET,
// writes replace the document with PUT.
type HTTPStore struct {
	url    string
	token  string
	client *http.Client
	logger zerolog.Logger
}

// NewHTTPStore returns a store for the CSV document at url. When token is
// not empty it is sent as a bearer token.
func NewHTTPStore(url, token string, logger zerolog.Logger) *HTTPStore {
	return &HTTPStore{
		url:    url,
		token:  token,
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

func (s *HTTPStore) ReadAll(ctx context.Context) (Table, error) {
	t, err := s.Load(ctx)
	return degrade(s.logger, t, err)
}

func (s *HTTPStore) Load(ctx context.Context) (Table, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return Table{}, unavailable("http", s.url, err)
	}
	s.authorize(req)
	req.Header.Set("Accept", "text/csv")

	resp, err := s.client.Do(req)
	if err != nil {
		return Table{}, unavailable("http", s.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Table{}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Table{}, unavailable("http", s.url, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	t, err := DecodeCSV(resp.Body)
	if err != nil {
		return Table{}, malformed(s.url, err)
	}
	return t, nil
}

func (s *HTTPStore) WriteAll(ctx context.Context, t Table) error {
	var buf bytes.Buffer
	if err := EncodeCSV(&buf, t); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.url, &buf)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	s.authorize(req)
	req.Header.Set("Content-Type", "text/csv")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("put %s: %w", s.url, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("put %s: unexpected status %d", s.url, resp.StatusCode)
	}
	return nil
}

func (s *HTTPStore) authorize(req *http.Request) {
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
}
