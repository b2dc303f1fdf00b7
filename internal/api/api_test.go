package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/andresuchdata/uploadprobe/internal/api/middleware"
	"github.com/andresuchdata/uploadprobe/internal/client"
	"github.com/andresuchdata/uploadprobe/internal/domain"
	"github.com/andresuchdata/uploadprobe/internal/repository"
	"github.com/andresuchdata/uploadprobe/internal/service"
	"github.com/andresuchdata/uploadprobe/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testToken = "test-token"

type testEnv struct {
	server  *httptest.Server
	store   *storage.MemoryStorage
	metrics *middleware.Metrics
	client  *client.Client
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := storage.NewMemoryStorage("http://placeholder", "signing-secret")
	svc := service.NewUploadService(repository.NewMemoryUploadRepository(), store, service.Options{
		Layout: storage.KeyLayout{Prefix: "uploads/", Suffix: ".bin"},
	})
	metrics := middleware.NewMetrics()

	router := NewRouter(&Services{
		UploadService: svc,
		Objects:       store,
		AuthToken:     testToken,
		Metrics:       metrics,
	}, []string{"*"})

	server := httptest.NewUnstartedServer(router)
	store.SetBaseURL("http://" + server.Listener.Addr().String())
	server.Start()
	t.Cleanup(server.Close)

	return &testEnv{
		server:  server,
		store:   store,
		metrics: metrics,
		client:  client.New(server.URL, testToken),
	}
}

func decodeEnvelope(t *testing.T, body []byte) domain.Envelope {
	t.Helper()
	var env domain.Envelope
	require.NoError(t, json.Unmarshal(body, &env))
	return env
}

func TestRouter_Health(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.server.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRouter_NilServices(t *testing.T) {
	gin.SetMode(gin.TestMode)

	var router *gin.Engine
	require.NotPanics(t, func() { router = NewRouter(nil, nil) })

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/upload/presign", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_Unauthorized(t *testing.T) {
	env := newTestEnv(t)

	tests := []struct {
		name    string
		header  string
		message string
	}{
		{"missing header", "", "Unauthorized"},
		{"wrong scheme", "Basic abc", "Invalid Authorization header format"},
		{"extra parts", "Bearer a b", "Invalid Authorization header format"},
		{"wrong token", "Bearer nope", "Unauthorized"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := http.NewRequest(http.MethodGet, env.server.URL+"/upload/presign", nil)
			require.NoError(t, err)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}

			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			var buf bytes.Buffer
			_, _ = buf.ReadFrom(resp.Body)
			envelope := decodeEnvelope(t, buf.Bytes())
			assert.Equal(t, domain.StatusError, envelope.Status)
			assert.Equal(t, tt.message, envelope.Message)
		})
	}
}

func TestRouter_CompleteBeforeUpload(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	presign, _, err := env.client.Presign(ctx)
	require.NoError(t, err)

	_, resp, err := env.client.Complete(ctx, presign.FileID)
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "File not found in the bucket", decodeEnvelope(t, resp.Body).Message)

	_, resp, err = env.client.Complete(ctx, "does-not-exist")
	require.Error(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "File id not found", decodeEnvelope(t, resp.Body).Message)
}

func TestRouter_FullFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	content := "hello upload"

	presign, _, err := env.client.Presign(ctx)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(presign.UploadURL, env.server.URL+"/objects/uploads/"))

	_, err = env.client.Upload(ctx, presign.UploadURL, strings.NewReader(content), int64(len(content)))
	require.NoError(t, err)

	record, _, err := env.client.Complete(ctx, presign.FileID)
	require.NoError(t, err)
	assert.Equal(t, presign.FileID, record.ID)
	assert.True(t, record.IsUploaded)
	assert.Equal(t, int64(len(content)), record.Size)

	data, _, err := env.client.DownloadRef(ctx, record.ID)
	require.NoError(t, err)
	var downloadURL string
	require.NoError(t, json.Unmarshal(data, &downloadURL))

	var buf bytes.Buffer
	_, err = env.client.Fetch(ctx, downloadURL, &buf)
	require.NoError(t, err)
	assert.Equal(t, content, buf.String())

	require.NoError(t, env.client.RenameFile(ctx, record.ID, "hello.txt"))
	info, err := env.client.GetFile(ctx, record.ID)
	require.NoError(t, err)
	assert.Equal(t, "hello.txt", info.Filename)

	files, err := env.client.ListFiles(ctx)
	require.NoError(t, err)
	assert.Len(t, files, 1)

	require.NoError(t, env.client.DeleteFile(ctx, record.ID))
	assert.Equal(t, 0, env.store.Len())

	_, err = env.client.GetFile(ctx, record.ID)
	statusErr, ok := client.AsStatusError(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
}

func TestRouter_ObjectSignatureRejected(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	presign, _, err := env.client.Presign(ctx)
	require.NoError(t, err)

	tampered := strings.Replace(presign.UploadURL, "signature=", "signature=00", 1)
	resp, err := env.client.Upload(ctx, tampered, strings.NewReader("x"), 1)
	require.Error(t, err)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.Equal(t, 0, env.store.Len())

	// A PUT URL cannot be replayed as a GET.
	getResp, err := http.Get(presign.UploadURL)
	require.NoError(t, err)
	defer getResp.Body.Close()
	assert.Equal(t, http.StatusForbidden, getResp.StatusCode)
}

func TestRouter_Metrics(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, _, err := env.client.Presign(ctx)
	require.NoError(t, err)

	assert.Equal(t, float64(1), testutil.ToFloat64(
		env.metrics.RequestCounter.WithLabelValues("GET", "/upload/presign", "200")))

	resp, err := http.Get(env.server.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	assert.Contains(t, buf.String(), "uploadprobe_mock_requests_total")
}

func TestNormalizeAllowedOrigins(t *testing.T) {
	origins, allowAll := normalizeAllowedOrigins([]string{"http://a.test, http://b.test", " "})
	assert.False(t, allowAll)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, origins)

	_, allowAll = normalizeAllowedOrigins([]string{"*"})
	assert.True(t, allowAll)
}
