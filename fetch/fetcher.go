package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/poiesic/regdex/retry"
	"golang.org/x/time/rate"
)

const (
	defaultTimeout = 60 * time.Second
	defaultMinSize = 1024 // smaller responses are error pages, not circulars
)

var pdfMagic = []byte("%PDF-")

// Fetcher downloads source documents to local disk. It retries transient
// failures with the shared backoff policy, rate-limits requests to stay
// polite toward the source host, and rejects soft failures where an error
// page arrives with a 200 status.
type Fetcher struct {
	client  *http.Client
	limiter *rate.Limiter
	policy  retry.Policy
	dir     string
	minSize int64
	logger  *slog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(f *Fetcher) {
		if client != nil {
			f.client = client
		}
	}
}

// WithPolicy overrides the retry policy.
func WithPolicy(policy retry.Policy) Option {
	return func(f *Fetcher) {
		f.policy = policy
	}
}

// WithRequestInterval sets the minimum spacing between requests.
// Zero disables rate limiting.
func WithRequestInterval(interval time.Duration) Option {
	return func(f *Fetcher) {
		if interval > 0 {
			f.limiter = rate.NewLimiter(rate.Every(interval), 1)
		} else {
			f.limiter = nil
		}
	}
}

// WithMinSize sets the minimum acceptable response size in bytes.
func WithMinSize(size int64) Option {
	return func(f *Fetcher) {
		f.minSize = size
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(f *Fetcher) {
		if logger != nil {
			f.logger = logger
		}
	}
}

// NewFetcher creates a Fetcher that stores downloads under dir.
func NewFetcher(dir string, opts ...Option) (*Fetcher, error) {
	if dir == "" {
		return nil, errors.New("download directory required")
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	f := &Fetcher{
		client:  &http.Client{Timeout: defaultTimeout},
		limiter: rate.NewLimiter(rate.Every(2*time.Second), 1),
		policy:  retry.DefaultPolicy(),
		dir:     dir,
		minSize: defaultMinSize,
		logger:  slog.Default().With("component", "fetcher"),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// LocalPath returns the deterministic download destination for an id.
func (f *Fetcher) LocalPath(id string) string {
	return filepath.Join(f.dir, SanitizeID(id)+".pdf")
}

// Fetch downloads the document at sourceURL to the deterministic local
// path for id. On success the file is complete and verified; partial
// downloads never appear at the final path (temp file + rename).
// Failures are either *TransientError (after retries) or *PermanentError.
func (f *Fetcher) Fetch(ctx context.Context, id, sourceURL string) (string, error) {
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	path := f.LocalPath(id)
	tmp := path + ".tmp"

	err := f.policy.Do(ctx, func() error {
		return f.download(ctx, sourceURL, tmp)
	})
	if err != nil {
		os.Remove(tmp)
		var pe *PermanentError
		if errors.As(err, &pe) {
			return "", pe
		}
		var te *TransientError
		if errors.As(err, &te) {
			return "", te
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return "", err
		}
		return "", &TransientError{URL: sourceURL, Err: err}
	}

	if err := os.Rename(tmp, path); err != nil {
		return "", err
	}
	f.logger.Debug("downloaded document", "id", id, "path", path)
	return path, nil
}

// download performs one attempt. Permanent failures are wrapped with
// retry.Permanent so the policy stops immediately.
func (f *Fetcher) download(ctx context.Context, sourceURL, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return retry.Permanent(&PermanentError{URL: sourceURL, Reason: err.Error()})
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return &TransientError{URL: sourceURL, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// fall through to body handling
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return retry.Permanent(&PermanentError{
			URL:        sourceURL,
			StatusCode: resp.StatusCode,
			Reason:     http.StatusText(resp.StatusCode),
		})
	default:
		return &TransientError{
			URL: sourceURL,
			Err: fmt.Errorf("status %d", resp.StatusCode),
		}
	}

	out, err := os.Create(dest)
	if err != nil {
		return retry.Permanent(&PermanentError{URL: sourceURL, Reason: err.Error()})
	}
	written, err := io.Copy(out, resp.Body)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return &TransientError{URL: sourceURL, Err: err}
	}

	return f.verify(sourceURL, dest, written, resp.Header.Get("Content-Type"))
}

// verify catches soft failures: HTML error pages served with 200 OK, or
// truncated responses below the minimum plausible document size.
func (f *Fetcher) verify(sourceURL, dest string, size int64, contentType string) error {
	if size < f.minSize {
		return retry.Permanent(&PermanentError{
			URL:    sourceURL,
			Reason: fmt.Sprintf("response too small (%d bytes)", size),
		})
	}

	head := make([]byte, len(pdfMagic))
	file, err := os.Open(dest)
	if err != nil {
		return retry.Permanent(&PermanentError{URL: sourceURL, Reason: err.Error()})
	}
	_, err = io.ReadFull(file, head)
	file.Close()
	if err != nil || !bytes.Equal(head, pdfMagic) {
		return retry.Permanent(&PermanentError{
			URL:    sourceURL,
			Reason: fmt.Sprintf("not a PDF (content type %q)", contentType),
		})
	}
	return nil
}

// SanitizeID maps a document id to a safe file name component.
func SanitizeID(id string) string {
	var b strings.Builder
	b.Grow(len(id))
	for _, r := range id {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '.' {
			b.WriteRune(r)
		} else {
			b.WriteByte('_')
		}
	}
	return b.String()
}
