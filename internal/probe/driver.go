package probe

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/andresuchdata/uploadprobe/internal/client"
	"github.com/andresuchdata/uploadprobe/internal/domain"
	"github.com/andresuchdata/uploadprobe/internal/history"
	"github.com/andresuchdata/uploadprobe/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const (
	msgMissingToken    = "ERROR: AUTH_TOKEN not found in .env file"
	msgUploadCompleted = "Upload completed successfully!"
)

type Config struct {
	BaseURL string
	Token   string
	Timeout time.Duration
	// Verify downloads the stored object and compares its SHA-256.
	Verify bool
	// InspectBucket stats the object directly in the bucket.
	InspectBucket bool
}

// Driver runs the presign, upload, finalize and download sequence against
// the upload API and writes a human-readable transcript to its output.
type Driver struct {
	cfg       Config
	client    *client.Client
	out       io.Writer
	history   history.Recorder
	inspector storage.ObjectStorage
	layout    storage.KeyLayout
	now       func() time.Time
}

type Option func(*Driver)

// WithOutput sets where the transcript goes. Defaults to os.Stdout.
func WithOutput(w io.Writer) Option {
	return func(d *Driver) {
		d.out = w
	}
}

// WithHistory records every run report.
func WithHistory(r history.Recorder) Option {
	return func(d *Driver) {
		if r != nil {
			d.history = r
		}
	}
}

// WithInspector gives the driver direct bucket access for InspectBucket.
func WithInspector(store storage.ObjectStorage, layout storage.KeyLayout) Option {
	return func(d *Driver) {
		d.inspector = store
		d.layout = layout
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(d *Driver) {
		d.client = client.New(d.cfg.BaseURL, d.cfg.Token, client.WithHTTPClient(hc))
	}
}

func New(cfg Config, opts ...Option) *Driver {
	var clientOpts []client.Option
	if cfg.Timeout > 0 {
		clientOpts = append(clientOpts, client.WithTimeout(cfg.Timeout))
	}

	d := &Driver{
		cfg:     cfg,
		client:  client.New(cfg.BaseURL, cfg.Token, clientOpts...),
		out:     os.Stdout,
		history: history.NewNoopRecorder(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Client exposes the API client the driver uses.
func (d *Driver) Client() *client.Client {
	return d.client
}

// run carries the values one step hands to the next.
type run struct {
	path      string
	presign   *domain.PresignResult
	size      int64
	record    *domain.FileRecord
	reference json.RawMessage
}

// Run executes one end-to-end sequence for the file at path. The first
// failing step ends the run; the returned error is a *StepError.
func (d *Driver) Run(ctx context.Context, path string) (*domain.RunReport, error) {
	start := d.now()
	report := &domain.RunReport{
		ID:        uuid.NewString(),
		File:      path,
		BaseURL:   d.client.BaseURL(),
		StartedAt: start.UTC(),
		Steps:     make([]domain.StepResult, 0, 6),
	}

	err := d.execute(ctx, &run{path: path}, report)

	report.Duration = d.now().Sub(start)
	if err != nil {
		report.Error = err.Error()
		if step, ok := FailedStep(err); ok {
			report.FailedStep = step
		}
	} else {
		report.Success = true
	}

	if recErr := d.history.Record(ctx, report); recErr != nil {
		log.Warn().Err(recErr).Str("run_id", report.ID).Msg("probe: record history failed")
	}

	log.Debug().
		Str("run_id", report.ID).
		Bool("success", report.Success).
		Dur("duration", report.Duration).
		Msg("probe: run finished")

	return report, err
}

func (d *Driver) execute(ctx context.Context, r *run, report *domain.RunReport) error {
	if err := d.checkCredential(report); err != nil {
		return err
	}
	if err := d.presign(ctx, r, report); err != nil {
		return err
	}
	if err := d.upload(ctx, r, report); err != nil {
		return err
	}
	if err := d.finalize(ctx, r, report); err != nil {
		return err
	}
	if err := d.download(ctx, r, report); err != nil {
		return err
	}
	if d.cfg.Verify {
		if err := d.verify(ctx, r, report); err != nil {
			return err
		}
	}
	if d.cfg.InspectBucket {
		if err := d.inspect(ctx, r, report); err != nil {
			return err
		}
	}
	return nil
}

func (d *Driver) checkCredential(report *domain.RunReport) error {
	started := d.now()
	if strings.TrimSpace(d.cfg.Token) == "" {
		d.println(msgMissingToken)
		return d.finish(report, domain.StepCredential, started, nil, ErrMissingCredential, errors.New("AUTH_TOKEN is empty"))
	}
	return d.finish(report, domain.StepCredential, started, nil, nil, nil)
}

func (d *Driver) presign(ctx context.Context, r *run, report *domain.RunReport) error {
	started := d.now()
	result, resp, err := d.client.Presign(ctx)
	if err != nil {
		d.printf("Failed to get presigned URL: %s\n", failureText(resp, err))
		return d.finish(report, domain.StepPresign, started, resp, ErrPresignFailed, err)
	}

	r.presign = result
	report.FileID = result.FileID
	return d.finish(report, domain.StepPresign, started, resp, nil, nil)
}

func (d *Driver) upload(ctx context.Context, r *run, report *domain.RunReport) error {
	started := d.now()

	f, err := os.Open(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		d.printf("Error: File %s not found\n", r.path)
		return d.finish(report, domain.StepUpload, started, nil, ErrFileNotFound, err)
	}
	if err != nil {
		d.printf("Failed to upload file to S3: %v\n", err)
		return d.finish(report, domain.StepUpload, started, nil, ErrUploadFailed, err)
	}

	resp, err := d.sendFile(ctx, f, r)
	if err != nil {
		d.printf("Failed to upload file to S3: %s\n", failureText(resp, err))
		return d.finish(report, domain.StepUpload, started, resp, ErrUploadFailed, err)
	}
	return d.finish(report, domain.StepUpload, started, resp, nil, nil)
}

// sendFile owns f and closes it as soon as the PUT returns.
func (d *Driver) sendFile(ctx context.Context, f *os.File, r *run) (*client.Response, error) {
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", r.path, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", r.path)
	}
	r.size = info.Size()

	return d.client.Upload(ctx, r.presign.UploadURL, f, r.size)
}

func (d *Driver) finalize(ctx context.Context, r *run, report *domain.RunReport) error {
	started := d.now()
	record, resp, err := d.client.Complete(ctx, r.presign.FileID)
	if resp != nil {
		d.println(resp.StatusCode)
	}
	if err != nil {
		d.printf("Failed to finalize upload: %s\n", failureText(resp, err))
		return d.finish(report, domain.StepFinalize, started, resp, ErrFinalizeFailed, err)
	}

	d.println(compactJSON(resp.Body))
	d.println(msgUploadCompleted)

	r.record = record
	report.RecordID = record.ID
	return d.finish(report, domain.StepFinalize, started, resp, nil, nil)
}

func (d *Driver) download(ctx context.Context, r *run, report *domain.RunReport) error {
	started := d.now()
	data, resp, err := d.client.DownloadRef(ctx, r.record.ID)
	if err != nil {
		d.printf("Failed to get download reference: %s\n", failureText(resp, err))
		return d.finish(report, domain.StepDownload, started, resp, ErrDownloadFailed, err)
	}

	d.println(payloadText(data))

	r.reference = data
	report.DownloadRef = data
	return d.finish(report, domain.StepDownload, started, resp, nil, nil)
}

func (d *Driver) verify(ctx context.Context, r *run, report *domain.RunReport) error {
	started := d.now()

	var target string
	if err := json.Unmarshal(r.reference, &target); err != nil || !isHTTPURL(target) {
		log.Warn().Str("run_id", report.ID).Msg("probe: download payload is not a URL, skipping verify")
		return nil
	}

	local, err := fileDigest(r.path)
	if err != nil {
		d.printf("Download verification failed: %v\n", err)
		return d.finish(report, domain.StepVerify, started, nil, ErrVerifyFailed, err)
	}

	hash := sha256.New()
	if _, err := d.client.Fetch(ctx, target, hash); err != nil {
		d.printf("Download verification failed: %v\n", err)
		var resp *client.Response
		if statusErr, ok := client.AsStatusError(err); ok {
			resp = &client.Response{StatusCode: statusErr.StatusCode, Body: statusErr.Body}
		}
		return d.finish(report, domain.StepVerify, started, resp, ErrVerifyFailed, err)
	}
	remote := hex.EncodeToString(hash.Sum(nil))

	if remote != local {
		err := fmt.Errorf("sha256 mismatch: local %s, remote %s", local, remote)
		d.printf("Download verification failed: %v\n", err)
		return d.finish(report, domain.StepVerify, started, nil, ErrVerifyFailed, err)
	}

	d.printf("Download verified: sha256 %s\n", remote)
	return d.finish(report, domain.StepVerify, started, nil, nil, nil)
}

func (d *Driver) inspect(ctx context.Context, r *run, report *domain.RunReport) error {
	started := d.now()

	if d.inspector == nil {
		err := errors.New("bucket access is not configured")
		d.printf("Bucket inspection failed: %v\n", err)
		return d.finish(report, domain.StepInspect, started, nil, ErrInspectFailed, err)
	}

	key := r.presign.Key
	if key == "" {
		key = d.layout.Key(r.presign.FileID)
	}

	info, err := d.inspector.StatObject(ctx, key)
	if err != nil {
		d.printf("Bucket inspection failed: %v\n", err)
		return d.finish(report, domain.StepInspect, started, nil, ErrInspectFailed, err)
	}
	if info.Size != r.size {
		err := fmt.Errorf("object %s has %d bytes, uploaded %d", key, info.Size, r.size)
		d.printf("Bucket inspection failed: %v\n", err)
		return d.finish(report, domain.StepInspect, started, nil, ErrInspectFailed, err)
	}

	d.printf("Bucket object %s: %d bytes, etag %s\n", key, info.Size, info.ETag)
	return d.finish(report, domain.StepInspect, started, nil, nil, nil)
}

// finish appends the step result to the report and builds the step error
// when kind is set.
func (d *Driver) finish(report *domain.RunReport, step domain.Step, started time.Time, resp *client.Response, kind, cause error) error {
	result := domain.StepResult{
		Name:     step,
		OK:       kind == nil,
		Duration: d.now().Sub(started),
	}
	if resp != nil {
		result.StatusCode = resp.StatusCode
	}

	if kind == nil {
		report.Steps = append(report.Steps, result)
		return nil
	}

	stepErr := &StepError{Step: step, Kind: kind, Err: cause}
	result.Error = stepErr.Error()
	report.Steps = append(report.Steps, result)

	log.Debug().Err(stepErr).Str("run_id", report.ID).Msg("probe: step failed")
	return stepErr
}

func (d *Driver) println(v interface{}) {
	fmt.Fprintln(d.out, v)
}

func (d *Driver) printf(format string, args ...interface{}) {
	fmt.Fprintf(d.out, format, args...)
}

// failureText is the server's body when there is one, the error otherwise.
func failureText(resp *client.Response, err error) string {
	if resp != nil {
		if body := strings.TrimSpace(string(resp.Body)); body != "" {
			return body
		}
	}
	return err.Error()
}

func compactJSON(body []byte) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, body); err != nil {
		return strings.TrimSpace(string(body))
	}
	return buf.String()
}

// payloadText prints JSON strings bare and anything else as compact JSON.
func payloadText(data json.RawMessage) string {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s
	}
	return compactJSON(data)
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}
