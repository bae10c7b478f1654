// Package fetch downloads candidate files into the active directory of a
// scan run.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/stupidcerts/pfxhunt/pkg/pipeline"
)

const (
	UserAgent = "pfxhunt/0.1"

	DefaultTimeout = 15 * time.Second
	// DefaultMaxSize bounds a single download. PFX files are small.
	DefaultMaxSize = 10 << 20
	// DefaultInterval is the minimum gap between two requests.
	DefaultInterval = 200 * time.Millisecond
)

var (
	ErrTooLarge   = errors.New("fetch: file too large")
	ErrStatusCode = errors.New("fetch: unexpected status code")
	ErrExists     = errors.New("fetch: file already exists")
)

type Option func(*Downloader)

func WithHTTPClient(c *http.Client) Option {
	return func(d *Downloader) { d.httpClient = c }
}

func WithMaxSize(n int64) Option {
	return func(d *Downloader) { d.maxSize = n }
}

// WithLimiter replaces the request rate limiter.
func WithLimiter(l *rate.Limiter) Option {
	return func(d *Downloader) { d.limiter = l }
}

func WithWorkers(n int) Option {
	return func(d *Downloader) { d.workers = n }
}

func WithLogger(l *slog.Logger) Option {
	return func(d *Downloader) { d.logger = l }
}

type Downloader struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	maxSize    int64
	workers    int
	logger     *slog.Logger

	// names guards against two URLs with the same basename racing for one
	// file within a run
	namesMu sync.Mutex
	names   map[string]struct{}
}

func NewDownloader(options ...Option) *Downloader {
	d := &Downloader{
		httpClient: &http.Client{Timeout: DefaultTimeout},
		limiter:    rate.NewLimiter(rate.Every(DefaultInterval), 1),
		maxSize:    DefaultMaxSize,
		workers:    runtime.GOMAXPROCS(0),
		logger:     slog.Default(),
		names:      make(map[string]struct{}),
	}
	for _, option := range options {
		option(d)
	}
	if d.workers <= 0 {
		d.workers = 1
	}
	return d
}

// FileName returns the local name for a download URL: the last path
// segment without query, or "download" when there is none.
func FileName(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "download"
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return "download"
	}
	return name
}

// Download fetches rawURL into dir and returns the buffer it wrote. On
// failure nothing is left in dir and the name can be claimed again.
func (d *Downloader) Download(ctx context.Context, rawURL, dir string) (pipeline.Candidate, error) {
	dest := filepath.Join(dir, FileName(rawURL))

	if !d.claim(dest) {
		return pipeline.Candidate{}, fmt.Errorf("%w: %s", ErrExists, dest)
	}

	c, err := d.download(ctx, rawURL, dest)
	if err != nil {
		d.release(dest)
		return pipeline.Candidate{}, err
	}
	return c, nil
}

func (d *Downloader) download(ctx context.Context, rawURL, dest string) (pipeline.Candidate, error) {
	if err := d.limiter.Wait(ctx); err != nil {
		return pipeline.Candidate{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return pipeline.Candidate{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", UserAgent)

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return pipeline.Candidate{}, fmt.Errorf("download %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return pipeline.Candidate{}, fmt.Errorf("%w: %d for %s", ErrStatusCode, resp.StatusCode, rawURL)
	}
	if resp.ContentLength > d.maxSize {
		return pipeline.Candidate{}, fmt.Errorf("%w: %d bytes", ErrTooLarge, resp.ContentLength)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, d.maxSize+1))
	if err != nil {
		return pipeline.Candidate{}, fmt.Errorf("read body: %w", err)
	}
	if int64(len(data)) > d.maxSize {
		return pipeline.Candidate{}, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, d.maxSize)
	}

	f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return pipeline.Candidate{}, fmt.Errorf("create %s: %w", dest, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(dest)
		return pipeline.Candidate{}, fmt.Errorf("write %s: %w", dest, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(dest)
		return pipeline.Candidate{}, fmt.Errorf("close %s: %w", dest, err)
	}

	return pipeline.Candidate{Path: dest, Source: rawURL, Data: data}, nil
}

func (d *Downloader) claim(dest string) bool {
	d.namesMu.Lock()
	defer d.namesMu.Unlock()
	if _, ok := d.names[dest]; ok {
		return false
	}
	d.names[dest] = struct{}{}
	return true
}

func (d *Downloader) release(dest string) {
	d.namesMu.Lock()
	defer d.namesMu.Unlock()
	delete(d.names, dest)
}

// DownloadAll downloads urls in parallel and returns the candidates that
// were stored. Failed downloads are logged and skipped.
func (d *Downloader) DownloadAll(ctx context.Context, urls []string, dir string) []pipeline.Candidate {
	results := make([]*pipeline.Candidate, len(urls))

	var g errgroup.Group
	g.SetLimit(d.workers)
	for i, u := range urls {
		g.Go(func() error {
			c, err := d.Download(ctx, u, dir)
			if err != nil {
				d.logger.ErrorContext(ctx, "Failed to download file", "url", u, "error", err)
				return nil
			}
			d.logger.DebugContext(ctx, "Downloaded file", "url", u, "file", c.Path, "size", len(c.Data))
			results[i] = &c
			return nil
		})
	}
	g.Wait()

	candidates := make([]pipeline.Candidate, 0, len(urls))
	for _, c := range results {
		if c != nil {
			candidates = append(candidates, *c)
		}
	}
	return candidates
}
