// SPDX-License-Identifier: MPL-2.0

package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/wheelhouse-dev/wheelhouse/internal/audit"
	"github.com/wheelhouse-dev/wheelhouse/internal/provision"
)

const (
	// IndexName is the object written next to the wheels after an upload.
	IndexName = "index.json"

	// MetaSHA256 is the user metadata key carrying a wheel's digest.
	MetaSHA256 = "Sha256"

	// MetaAudit is the user metadata key carrying a wheel's audit status.
	MetaAudit = "Audit-Status"

	wheelContentType = "application/zip"

	defaultAttempts = 4
	defaultBackoff  = 500 * time.Millisecond
)

var (
	// ErrRejected is wrapped by RejectedError.
	ErrRejected = errors.New("publish rejected")

	// ErrNothingToPublish is returned when the directory holds no wheel.
	ErrNothingToPublish = errors.New("no wheel to publish")
)

type (
	// ObjectStore is the subset of *minio.Client the publisher needs.
	ObjectStore interface {
		BucketExists(ctx context.Context, bucket string) (bool, error)
		MakeBucket(ctx context.Context, bucket string, opts minio.MakeBucketOptions) error
		FPutObject(ctx context.Context, bucket, object, filePath string, opts minio.PutObjectOptions) (minio.UploadInfo, error)
		PutObject(ctx context.Context, bucket, object string, r io.Reader, size int64, opts minio.PutObjectOptions) (minio.UploadInfo, error)
	}

	// Rejection explains why one wheel blocks a publish.
	Rejection struct {
		Wheel  string
		Reason string
	}

	// RejectedError lists every wheel that blocked a publish. Nothing is
	// uploaded when it is returned.
	RejectedError struct {
		Rejections []Rejection
	}

	// Uploaded describes one stored wheel.
	Uploaded struct {
		Name   string `json:"name"`
		Key    string `json:"key"`
		SHA256 string `json:"sha256"`
		Size   int64  `json:"size"`
		Audit  string `json:"audit,omitempty"`
	}

	// Index is the JSON document stored as IndexName.
	Index struct {
		Published time.Time  `json:"published"`
		Wheels    []Uploaded `json:"wheels"`
	}

	// Publisher uploads the wheels of a directory.
	Publisher struct {
		store    ObjectStore
		cfg      Config
		logger   *slog.Logger
		attempts int
		backoff  time.Duration
		after    func(time.Duration) <-chan time.Time
		now      func() time.Time
		reports  map[string]*audit.Report
	}

	// Option configures a Publisher.
	Option func(*Publisher)
)

// Error implements the error interface.
func (e *RejectedError) Error() string {
	parts := make([]string, len(e.Rejections))
	for i, r := range e.Rejections {
		parts[i] = r.Wheel + ": " + r.Reason
	}
	return fmt.Sprintf("%s: %s", ErrRejected, strings.Join(parts, "; "))
}

// Unwrap returns ErrRejected.
func (e *RejectedError) Unwrap() error { return ErrRejected }

// WithLogger sets the logger used for retries and uploads.
func WithLogger(l *slog.Logger) Option {
	return func(p *Publisher) { p.logger = l }
}

// WithRetry sets the number of upload attempts and the first backoff.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(p *Publisher) {
		if attempts > 0 {
			p.attempts = attempts
		}
		p.backoff = backoff
	}
}

// WithAuditReports attaches audit reports to the wheels they produced.
// Each matching report is stored next to its wheel as <wheel>.audit.json.
func WithAuditReports(reports []*audit.Report) Option {
	return func(p *Publisher) {
		for _, r := range reports {
			if r == nil || r.Output == "" {
				continue
			}
			p.reports[filepath.Base(r.Output)] = r
		}
	}
}

// WithClock replaces the timer and wall clock; tests use it to skip waits.
func WithClock(after func(time.Duration) <-chan time.Time, now func() time.Time) Option {
	return func(p *Publisher) {
		p.after = after
		p.now = now
	}
}

// New creates a Publisher writing to store.
func New(store ObjectStore, cfg Config, opts ...Option) *Publisher {
	p := &Publisher{
		store:    store,
		cfg:      cfg,
		logger:   slog.Default(),
		attempts: defaultAttempts,
		backoff:  defaultBackoff,
		after:    time.After,
		now:      time.Now,
		reports:  map[string]*audit.Report{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Check reports the wheels in dir that must not be published.
func Check(dir string) ([]provision.Artifact, error) {
	artifacts, err := provision.ScanArtifacts(dir)
	if err != nil {
		return nil, err
	}
	if len(artifacts) == 0 {
		return nil, fmt.Errorf("%s: %w", dir, ErrNothingToPublish)
	}

	var rejected []Rejection
	for _, a := range artifacts {
		for _, plat := range a.Filename.Platforms() {
			if strings.HasPrefix(plat, "linux_") {
				rejected = append(rejected, Rejection{Wheel: a.Name, Reason: fmt.Sprintf("platform tag %s is not portable", plat)})
				break
			}
		}
		if _, statErr := os.Stat(a.Path + audit.DiagnosticsExt); statErr == nil {
			rejected = append(rejected, Rejection{Wheel: a.Name, Reason: "audit failed (see " + a.Name + audit.DiagnosticsExt + ")"})
		}
	}
	if len(rejected) > 0 {
		return nil, &RejectedError{Rejections: rejected}
	}
	return artifacts, nil
}

// Publish uploads every wheel in dir, then writes the index. The whole set
// is checked before the first upload.
func (p *Publisher) Publish(ctx context.Context, dir string) ([]Uploaded, error) {
	if err := p.cfg.Validate(); err != nil {
		return nil, err
	}
	artifacts, err := Check(dir)
	if err != nil {
		return nil, err
	}
	if err := p.ensureBucket(ctx); err != nil {
		return nil, err
	}

	uploaded := make([]Uploaded, 0, len(artifacts))
	for _, a := range artifacts {
		key := p.key(a.Name)
		meta := map[string]string{MetaSHA256: a.SHA256}
		rep := p.reports[a.Name]
		if rep != nil {
			meta[MetaAudit] = string(rep.Status)
		}
		opts := minio.PutObjectOptions{ContentType: wheelContentType, UserMetadata: meta}
		err := p.retry(ctx, "upload "+a.Name, func() error {
			_, putErr := p.store.FPutObject(ctx, p.cfg.Bucket, key, a.Path, opts)
			return putErr
		})
		if err != nil {
			return uploaded, fmt.Errorf("upload %s: %w", a.Name, err)
		}
		u := Uploaded{Name: a.Name, Key: key, SHA256: a.SHA256, Size: a.Size}
		if rep != nil {
			if err := p.putJSON(ctx, key+audit.DiagnosticsExt, rep); err != nil {
				return uploaded, fmt.Errorf("upload audit report for %s: %w", a.Name, err)
			}
			u.Audit = string(rep.Status)
		}
		p.logger.Info("published wheel", "wheel", a.Name, "bucket", p.cfg.Bucket, "key", key)
		uploaded = append(uploaded, u)
	}

	if err := p.writeIndex(ctx, uploaded); err != nil {
		return uploaded, err
	}
	return uploaded, nil
}

func (p *Publisher) key(name string) string {
	if p.cfg.Prefix == "" {
		return name
	}
	return path.Join(p.cfg.Prefix, name)
}

func (p *Publisher) ensureBucket(ctx context.Context) error {
	var exists bool
	err := p.retry(ctx, "check bucket", func() error {
		var err error
		exists, err = p.store.BucketExists(ctx, p.cfg.Bucket)
		return err
	})
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", p.cfg.Bucket, err)
	}
	if exists {
		return nil
	}
	if err := p.store.MakeBucket(ctx, p.cfg.Bucket, minio.MakeBucketOptions{Region: p.cfg.Region}); err != nil {
		return fmt.Errorf("create bucket %s: %w", p.cfg.Bucket, err)
	}
	return nil
}

func (p *Publisher) writeIndex(ctx context.Context, uploaded []Uploaded) error {
	if err := p.putJSON(ctx, p.key(IndexName), Index{Published: p.now().UTC(), Wheels: uploaded}); err != nil {
		return fmt.Errorf("upload index: %w", err)
	}
	return nil
}

func (p *Publisher) putJSON(ctx context.Context, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return p.retry(ctx, "upload "+key, func() error {
		_, putErr := p.store.PutObject(ctx, p.cfg.Bucket, key, bytes.NewReader(data), int64(len(data)),
			minio.PutObjectOptions{ContentType: "application/json"})
		return putErr
	})
}

func (p *Publisher) retry(ctx context.Context, what string, op func() error) error {
	return retryWithBackoff(ctx, p.attempts, p.backoff, p.after, func(attempt int) (bool, error) {
		err := op()
		if err == nil {
			return false, nil
		}
		transient := isTransient(err)
		if transient && attempt+1 < p.attempts {
			p.logger.Warn("retrying after transient error", "op", what, "attempt", attempt+1, "error", err)
		}
		return transient, err
	})
}

// isTransient reports server-side and network failures. Client errors such
// as AccessDenied are final.
func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "SlowDown", "RequestTimeout", "InternalError", "ServiceUnavailable":
		return true
	}
	return resp.StatusCode >= http.StatusInternalServerError
}
