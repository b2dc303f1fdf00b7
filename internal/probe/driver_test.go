package probe

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/andresuchdata/uploadprobe/internal/client"
	"github.com/andresuchdata/uploadprobe/internal/domain"
	"github.com/andresuchdata/uploadprobe/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "secret-token"

// fakeAPI scripts the four endpoints. Unset handlers answer like a healthy
// server.
type fakeAPI struct {
	t        *testing.T
	server   *httptest.Server
	requests int32

	mu       sync.Mutex
	uploaded []byte

	presign  http.HandlerFunc
	upload   http.HandlerFunc
	complete http.HandlerFunc
	download http.HandlerFunc
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	f := &fakeAPI{t: t}
	f.server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeAPI) serve(w http.ResponseWriter, r *http.Request) {
	atomic.AddInt32(&f.requests, 1)

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/upload/presign":
		assert.Equal(f.t, "Bearer "+testToken, r.Header.Get("Authorization"))
		if f.presign != nil {
			f.presign(w, r)
			return
		}
		w.Write([]byte(`{"status":"success","data":{"upload_url":"` + f.server.URL + `/bucket/x","file_id":"f1"}}`))
	case r.Method == http.MethodPut && r.URL.Path == "/bucket/x":
		assert.Empty(f.t, r.Header.Get("Authorization"))
		assert.Equal(f.t, "application/octet-stream", r.Header.Get("Content-Type"))
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(r.Body)
		f.mu.Lock()
		f.uploaded = buf.Bytes()
		f.mu.Unlock()
		if f.upload != nil {
			f.upload(w, r)
			return
		}
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodGet && r.URL.Path == "/upload/f1/complete":
		if f.complete != nil {
			f.complete(w, r)
			return
		}
		w.Write([]byte(`{"data":{"id":"r1"}}`))
	case r.Method == http.MethodGet && r.URL.Path == "/file/r1/dl":
		if f.download != nil {
			f.download(w, r)
			return
		}
		w.Write([]byte(`{"data":"<bytes-ref>"}`))
	default:
		http.NotFound(w, r)
	}
}

func (f *fakeAPI) body() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uploaded
}

func (f *fakeAPI) count() int {
	return int(atomic.LoadInt32(&f.requests))
}

func writeTempFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sample.txt")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func newTestDriver(baseURL, token string, out *bytes.Buffer, opts ...Option) *Driver {
	cfg := Config{BaseURL: baseURL, Token: token}
	return New(cfg, append([]Option{WithOutput(out)}, opts...)...)
}

func TestRun_Success(t *testing.T) {
	api := newFakeAPI(t)
	path := writeTempFile(t, "hello")
	var out bytes.Buffer

	d := newTestDriver(api.server.URL, testToken, &out, WithHTTPClient(api.server.Client()))
	report, err := d.Run(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "200\n{\"data\":{\"id\":\"r1\"}}\nUpload completed successfully!\n<bytes-ref>\n", out.String())
	assert.Equal(t, "hello", string(api.body()))
	assert.Equal(t, 4, api.count())

	assert.True(t, report.Success)
	assert.Equal(t, "f1", report.FileID)
	assert.Equal(t, "r1", report.RecordID)
	assert.JSONEq(t, `"<bytes-ref>"`, string(report.DownloadRef))
	require.Len(t, report.Steps, 5)
	assert.Equal(t, domain.StepDownload, report.Steps[4].Name)
}

func TestRun_MissingCredential(t *testing.T) {
	api := newFakeAPI(t)
	path := writeTempFile(t, "hello")
	var out bytes.Buffer

	report, err := newTestDriver(api.server.URL, "", &out).Run(context.Background(), path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingCredential)
	assert.Equal(t, "ERROR: AUTH_TOKEN not found in .env file\n", out.String())
	assert.Equal(t, 0, api.count())
	assert.Equal(t, domain.StepCredential, report.FailedStep)
}

func TestRun_FileNotFound(t *testing.T) {
	api := newFakeAPI(t)
	missing := filepath.Join(t.TempDir(), "nope.bin")
	var out bytes.Buffer

	report, err := newTestDriver(api.server.URL, testToken, &out).Run(context.Background(), missing)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFileNotFound)
	assert.False(t, errors.Is(err, ErrUploadFailed))
	assert.Equal(t, "Error: File "+missing+" not found\n", out.String())

	// presign only, no upload request
	assert.Equal(t, 1, api.count())
	assert.Nil(t, api.body())
	assert.Equal(t, domain.StepUpload, report.FailedStep)
}

func TestRun_PresignFailure(t *testing.T) {
	api := newFakeAPI(t)
	api.presign = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"status":"error","message":"boom"}`))
	}
	path := writeTempFile(t, "hello")
	var out bytes.Buffer

	_, err := newTestDriver(api.server.URL, testToken, &out).Run(context.Background(), path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPresignFailed)

	statusErr, ok := client.AsStatusError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)

	assert.Equal(t, "Failed to get presigned URL: {\"status\":\"error\",\"message\":\"boom\"}\n", out.String())
	assert.Equal(t, 1, api.count())
}

func TestRun_PresignMalformed(t *testing.T) {
	api := newFakeAPI(t)
	api.presign = func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":{"file_id":"f1"}}`))
	}
	path := writeTempFile(t, "hello")
	var out bytes.Buffer

	_, err := newTestDriver(api.server.URL, testToken, &out).Run(context.Background(), path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPresignFailed)
	assert.ErrorIs(t, err, client.ErrMalformedResponse)
	assert.Equal(t, 1, api.count())
}

func TestRun_UploadFailure(t *testing.T) {
	api := newFakeAPI(t)
	api.upload = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		w.Write([]byte("SignatureDoesNotMatch"))
	}
	path := writeTempFile(t, "hello")
	var out bytes.Buffer

	_, err := newTestDriver(api.server.URL, testToken, &out).Run(context.Background(), path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUploadFailed)
	assert.Equal(t, "Failed to upload file to S3: SignatureDoesNotMatch\n", out.String())
	assert.Equal(t, 2, api.count())
}

func TestRun_FinalizeFailure(t *testing.T) {
	api := newFakeAPI(t)
	api.complete = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"status":"error","message":"File not found in the bucket"}`))
	}
	path := writeTempFile(t, "hello")
	var out bytes.Buffer

	report, err := newTestDriver(api.server.URL, testToken, &out).Run(context.Background(), path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFinalizeFailed)
	assert.Equal(t, "404\nFailed to finalize upload: {\"status\":\"error\",\"message\":\"File not found in the bucket\"}\n", out.String())
	assert.NotContains(t, out.String(), "Upload completed successfully!")
	assert.Equal(t, 3, api.count())
	assert.Equal(t, domain.StepFinalize, report.FailedStep)
}

func TestRun_DownloadFailure(t *testing.T) {
	api := newFakeAPI(t)
	api.download = func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("oops"))
	}
	path := writeTempFile(t, "hello")
	var out bytes.Buffer

	_, err := newTestDriver(api.server.URL, testToken, &out).Run(context.Background(), path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDownloadFailed)
	assert.True(t, strings.HasSuffix(out.String(), "Failed to get download reference: oops\n"))
}

func TestRun_ObjectPayloadPrintedCompact(t *testing.T) {
	api := newFakeAPI(t)
	api.download = func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data": {"url": "http://x", "size": 5}}`))
	}
	path := writeTempFile(t, "hello")
	var out bytes.Buffer

	_, err := newTestDriver(api.server.URL, testToken, &out).Run(context.Background(), path)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(out.String(), "{\"url\":\"http://x\",\"size\":5}\n"))
}

func TestRun_VerifySkipsNonURLPayload(t *testing.T) {
	api := newFakeAPI(t)
	path := writeTempFile(t, "hello")
	var out bytes.Buffer

	d := New(Config{BaseURL: api.server.URL, Token: testToken, Verify: true}, WithOutput(&out))
	report, err := d.Run(context.Background(), path)
	require.NoError(t, err)
	assert.Len(t, report.Steps, 5)
	assert.Equal(t, 4, api.count())
}

func TestRun_InspectWithoutBucketAccess(t *testing.T) {
	api := newFakeAPI(t)
	path := writeTempFile(t, "hello")
	var out bytes.Buffer

	d := New(Config{BaseURL: api.server.URL, Token: testToken, InspectBucket: true}, WithOutput(&out))
	_, err := d.Run(context.Background(), path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInspectFailed)
	assert.Contains(t, out.String(), "Bucket inspection failed: bucket access is not configured")
}

func TestRun_InspectSizeMismatch(t *testing.T) {
	api := newFakeAPI(t)
	path := writeTempFile(t, "hello")
	var out bytes.Buffer

	store := storage.NewMemoryStorage("http://unused", "k")
	_, err := store.PutObject(context.Background(), "uploads/f1.bin", strings.NewReader("hi"), "")
	require.NoError(t, err)

	d := New(Config{BaseURL: api.server.URL, Token: testToken, InspectBucket: true},
		WithOutput(&out),
		WithInspector(store, storage.KeyLayout{Prefix: "uploads/", Suffix: ".bin"}))
	_, err = d.Run(context.Background(), path)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInspectFailed)
}

type recordingHistory struct {
	reports []*domain.RunReport
	err     error
}

func (r *recordingHistory) Record(ctx context.Context, report *domain.RunReport) error {
	r.reports = append(r.reports, report)
	return r.err
}

func (r *recordingHistory) Recent(ctx context.Context, limit int) ([]domain.RunReport, error) {
	return nil, nil
}

func (r *recordingHistory) Close() error { return nil }

func TestRun_RecordsHistory(t *testing.T) {
	api := newFakeAPI(t)
	path := writeTempFile(t, "hello")
	var out bytes.Buffer
	rec := &recordingHistory{err: errors.New("redis down")}

	report, err := newTestDriver(api.server.URL, testToken, &out, WithHistory(rec)).Run(context.Background(), path)
	require.NoError(t, err, "history failures must not fail the run")
	require.Len(t, rec.reports, 1)
	assert.Same(t, report, rec.reports[0])
	assert.NotEmpty(t, report.ID)
}

func TestStepError_Unwrap(t *testing.T) {
	cause := &client.StatusError{Op: "complete", StatusCode: 404}
	err := error(&StepError{Step: domain.StepFinalize, Kind: ErrFinalizeFailed, Err: cause})

	assert.ErrorIs(t, err, ErrFinalizeFailed)
	assert.ErrorIs(t, err, cause)
	assert.NotErrorIs(t, err, ErrPresignFailed)

	step, ok := FailedStep(err)
	assert.True(t, ok)
	assert.Equal(t, domain.StepFinalize, step)
	assert.Contains(t, err.Error(), "finalize")
}
