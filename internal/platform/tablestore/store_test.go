package tablestore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"
	"google.golang.org/api/googleapi"
)

func sampleTable() Table {
	return Table{
		Columns: []string{"MRN", "Age", "TNM_stage"},
		Rows: []Record{
			{"MRN": " 123 ", "Age": "40", "TNM_stage": "['T1', 'N0', 'M0']"},
			{"MRN": "456", "Age": "51", "TNM_stage": "[]"},
		},
	}
}

func assertSameGrid(t *testing.T, want, got Table) {
	t.Helper()
	if !reflect.DeepEqual(want.Grid(), got.Grid()) {
		t.Errorf("round trip mismatch:\nwant %v\ngot  %v", want.Grid(), got.Grid())
	}
}

// ---------------------------------------------------------------------------
// CSV
// ---------------------------------------------------------------------------

func TestCSVStore_ReadMissingFileIsEmpty(t *testing.T) {
	store := NewCSVStore(filepath.Join(t.TempDir(), "nope.csv"), zerolog.Nop())
	tbl, err := store.ReadAll(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tbl.Len() != 0 {
		t.Errorf("expected empty table, got %d rows", tbl.Len())
	}
}

func TestCSVStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "followups.csv")
	store := NewCSVStore(path, zerolog.Nop())
	ctx := context.Background()

	if err := store.WriteAll(ctx, sampleTable()); err != nil {
		t.Fatalf("WriteAll: %v", err)
	}
	got, err := store.ReadAll(ctx)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	assertSameGrid(t, sampleTable(), got)

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Errorf("expected only the data file to remain, got %d entries", len(entries))
	}
}

func TestCSVStore_EmptyFileIsEmptyTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.csv")
	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	tbl, err := NewCSVStore(path, zerolog.Nop()).ReadAll(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tbl.Len() != 0 {
		t.Errorf("expected empty table, got %d rows", tbl.Len())
	}
}

func TestCSVStore_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.csv")
	if err := os.WriteFile(path, []byte("MRN,Age\n\"unterminated,1\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := NewCSVStore(path, zerolog.Nop()).ReadAll(context.Background())
	if !errors.Is(err, ErrMalformed) {
		t.Errorf("expected ErrMalformed, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// XLSX
// ---------------------------------------------------------------------------

func TestXLSXStore_ReadMissingFileIsEmpty(t *testing.T) {
	store := NewXLSXStore(filepath.Join(t.TempDir(), "nope.xlsx"), zerolog.Nop())
	tbl, err := store.ReadAll(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tbl.Len() != 0 {
		t.Errorf("expected empty table, got %d rows", tbl.Len())
	}
}

func TestXLSXStore_RoundTrip(t *testing.T) {
	store := NewXLSXStore(filepath.Join(t.TempDir(), "followups.xlsx"), zerolog.Nop())
	ctx := context.Background()

	want := sampleTable()
	want.Rows[0]["MRN"] = "123"
	if err := store.WriteAll(ctx, want); err != nil {
		t.Fatalf("WriteAll: %v", err)
	}
	got, err := store.ReadAll(ctx)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	assertSameGrid(t, want, got)
}

// ---------------------------------------------------------------------------
// HTTP
// ---------------------------------------------------------------------------

type fakeRemote struct {
	mu     sync.Mutex
	body   []byte
	exists bool
	auth   string
}

func (f *fakeRemote) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auth = r.Header.Get("Authorization")
	switch r.Method {
	case http.MethodGet:
		if !f.exists {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		w.Write(f.body)
	case http.MethodPut:
		f.body, _ = io.ReadAll(r.Body)
		f.exists = true
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func TestHTTPStore_RoundTrip(t *testing.T) {
	remote := &fakeRemote{}
	srv := httptest.NewServer(remote)
	defer srv.Close()

	store := NewHTTPStore(srv.URL+"/followups.csv", "secret", zerolog.Nop())
	ctx := context.Background()

	tbl, err := store.ReadAll(ctx)
	if err != nil || tbl.Len() != 0 {
		t.Fatalf("expected empty table for missing document, got %d rows, err %v", tbl.Len(), err)
	}

	if err := store.WriteAll(ctx, sampleTable()); err != nil {
		t.Fatalf("WriteAll: %v", err)
	}
	if remote.auth != "Bearer secret" {
		t.Errorf("expected bearer token, got %q", remote.auth)
	}

	got, err := store.ReadAll(ctx)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	assertSameGrid(t, sampleTable(), got)
}

func TestHTTPStore_UnreachableIsEmpty(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	tbl, err := NewHTTPStore(url, "", zerolog.Nop()).ReadAll(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tbl.Len() != 0 {
		t.Errorf("expected empty table, got %d rows", tbl.Len())
	}
}

func TestHTTPStore_ServerErrorBlocksWriters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	store := NewHTTPStore(srv.URL, "", zerolog.Nop())

	tbl, err := store.ReadAll(context.Background())
	if err != nil || tbl.Len() != 0 {
		t.Errorf("expected readers to see an empty table, got %d rows, err %v", tbl.Len(), err)
	}
	if _, err := ReadForWrite(context.Background(), store); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

func TestHTTPStore_MissingDocumentIsWritable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	tbl, err := ReadForWrite(context.Background(), NewHTTPStore(srv.URL, "", zerolog.Nop()))
	if err != nil || tbl.Len() != 0 {
		t.Errorf("expected empty table, got %d rows, err %v", tbl.Len(), err)
	}
}

func TestHTTPStore_WriteFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	err := NewHTTPStore(srv.URL, "", zerolog.Nop()).WriteAll(context.Background(), sampleTable())
	if err == nil {
		t.Fatal("expected error for rejected PUT")
	}
}

// ---------------------------------------------------------------------------
// S3
// ---------------------------------------------------------------------------

type fakeS3 struct {
	objects map[string][]byte
	getErr  error
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	body, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*in.Bucket+"/"+*in.Key] = body
	return &s3.PutObjectOutput{}, nil
}

func TestS3Store_RoundTrip(t *testing.T) {
	client := &fakeS3{objects: map[string][]byte{}}
	store := NewS3Store(client, "clinic", "followups.csv", zerolog.Nop())
	ctx := context.Background()

	tbl, err := store.ReadAll(ctx)
	if err != nil || tbl.Len() != 0 {
		t.Fatalf("expected empty table for missing key, got %d rows, err %v", tbl.Len(), err)
	}
	if err := store.WriteAll(ctx, sampleTable()); err != nil {
		t.Fatalf("WriteAll: %v", err)
	}
	if !strings.HasPrefix(string(client.objects["clinic/followups.csv"]), "MRN,Age,TNM_stage") {
		t.Errorf("expected header first, got %q", client.objects["clinic/followups.csv"])
	}
	got, err := store.ReadAll(ctx)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	assertSameGrid(t, sampleTable(), got)
}

func TestS3Store_UnreachableIsEmpty(t *testing.T) {
	client := &fakeS3{getErr: errors.New("connection refused")}
	tbl, err := NewS3Store(client, "clinic", "followups.csv", zerolog.Nop()).ReadAll(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tbl.Len() != 0 {
		t.Errorf("expected empty table, got %d rows", tbl.Len())
	}
}

func TestS3Store_UnreachableBlocksWriters(t *testing.T) {
	client := &fakeS3{getErr: errors.New("connection refused")}
	_, err := ReadForWrite(context.Background(), NewS3Store(client, "clinic", "followups.csv", zerolog.Nop()))
	if !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Sheets
// ---------------------------------------------------------------------------

type fakeSheet struct {
	rows    [][]any
	getErr  error
	cleared []string
}

func (f *fakeSheet) Get(_ context.Context, _ string) ([][]any, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	return f.rows, nil
}

func (f *fakeSheet) Update(_ context.Context, _ string, values [][]any) error {
	for i, row := range values {
		if i < len(f.rows) {
			f.rows[i] = row
		} else {
			f.rows = append(f.rows, row)
		}
	}
	return nil
}

func (f *fakeSheet) Clear(_ context.Context, rng string) error {
	f.cleared = append(f.cleared, rng)
	return nil
}

func TestSheetsStore_RoundTrip(t *testing.T) {
	sheet := &fakeSheet{}
	store := newSheetsStore(sheet, "sheet-id", "", zerolog.Nop())
	ctx := context.Background()

	if err := store.WriteAll(ctx, sampleTable()); err != nil {
		t.Fatalf("WriteAll: %v", err)
	}
	if len(sheet.cleared) != 1 || sheet.cleared[0] != "Sheet1!A4:ZZ" {
		t.Errorf("expected tail clear of Sheet1!A4:ZZ, got %v", sheet.cleared)
	}
	got, err := store.ReadAll(ctx)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	assertSameGrid(t, sampleTable(), got)
}

func TestSheetsStore_NotFoundIsEmpty(t *testing.T) {
	sheet := &fakeSheet{getErr: &googleapi.Error{Code: http.StatusNotFound}}
	tbl, err := newSheetsStore(sheet, "sheet-id", "Visits", zerolog.Nop()).ReadAll(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tbl.Len() != 0 {
		t.Errorf("expected empty table, got %d rows", tbl.Len())
	}
}

func TestSheetsStore_QuotaErrorBlocksWriters(t *testing.T) {
	sheet := &fakeSheet{getErr: &googleapi.Error{Code: http.StatusTooManyRequests}}
	store := newSheetsStore(sheet, "sheet-id", "Visits", zerolog.Nop())

	if tbl, err := store.ReadAll(context.Background()); err != nil || tbl.Len() != 0 {
		t.Errorf("expected readers to see an empty table, got %d rows, err %v", tbl.Len(), err)
	}
	if _, err := ReadForWrite(context.Background(), store); !errors.Is(err, ErrUnavailable) {
		t.Errorf("expected ErrUnavailable, got %v", err)
	}
}

// ---------------------------------------------------------------------------
// Memory
// ---------------------------------------------------------------------------

func TestReadForWrite_StoreWithoutLoader(t *testing.T) {
	got, err := ReadForWrite(context.Background(), NewMemoryStore(sampleTable()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertSameGrid(t, sampleTable(), got)
}

func TestMemoryStore_IsolatesCallers(t *testing.T) {
	store := NewMemoryStore(sampleTable())
	ctx := context.Background()

	tbl, _ := store.ReadAll(ctx)
	tbl.Rows[0]["MRN"] = "changed"

	again, _ := store.ReadAll(ctx)
	if again.Rows[0]["MRN"] != " 123 " {
		t.Errorf("store state leaked to caller: %v", again.Rows[0]["MRN"])
	}

	if err := store.WriteAll(ctx, Table{}); err != nil {
		t.Fatal(err)
	}
	if store.Writes() != 1 {
		t.Errorf("expected 1 write, got %d", store.Writes())
	}
	empty, _ := store.ReadAll(ctx)
	if empty.Len() != 0 {
		t.Errorf("expected empty table after overwrite, got %d rows", empty.Len())
	}
}
