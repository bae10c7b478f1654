// Package grayhat is a client for the GrayhatWarfare public bucket search
// API (v2), used to find candidate files by extension.
package grayhat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "https://buckets.grayhatwarfare.com"
	UserAgent      = "pfxhunt/0.1"

	defaultPageSize = 1000
	defaultMaxPages = 100
	defaultTimeout  = 30 * time.Second
)

// ErrPageLimit is returned together with the files collected so far when a
// search is still returning full pages after the page limit.
var ErrPageLimit = errors.New("grayhat: page limit reached")

type ClientOption func(*Client)

func WithBaseURL(baseURL string) ClientOption {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithPageSize sets the limit parameter of each search request.
func WithPageSize(n int) ClientOption {
	return func(c *Client) {
		c.pageSize = n
	}
}

// WithMaxPages bounds the number of requests of one search.
func WithMaxPages(n int) ClientOption {
	return func(c *Client) {
		c.maxPages = n
	}
}

type Client struct {
	apiKey     string
	baseURL    string
	pageSize   int
	maxPages   int
	httpClient *http.Client
}

func NewClient(apiKey string, options ...ClientOption) *Client {
	c := &Client{
		apiKey:     apiKey,
		baseURL:    DefaultBaseURL,
		pageSize:   defaultPageSize,
		maxPages:   defaultMaxPages,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
	for _, option := range options {
		option(c)
	}
	if c.pageSize <= 0 {
		c.pageSize = defaultPageSize
	}
	if c.maxPages <= 0 {
		c.maxPages = defaultMaxPages
	}
	return c
}

// File is one search hit. LastModified is a unix timestamp in seconds.
type File struct {
	ID           int64  `json:"id"`
	Bucket       string `json:"bucket"`
	FullPath     string `json:"fullPath"`
	Filename     string `json:"filename"`
	URL          string `json:"url"`
	Size         int64  `json:"size"`
	Type         string `json:"type"`
	LastModified int64  `json:"lastModified"`
}

func (f File) Modified() time.Time {
	return time.Unix(f.LastModified, 0)
}

type filesResponse struct {
	Meta struct {
		Results int      `json:"results"`
		Notice  []string `json:"notice"`
	} `json:"meta"`
	Files []File `json:"files"`
}

type Query struct {
	Extensions []string
	Keywords   string
	// MaxResults stops pagination once reached. Zero means no limit.
	MaxResults int
}

// APIError is returned for non-2xx responses.
type APIError struct {
	HttpCode int    `json:"-"`
	Message  string `json:"error"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("grayhat api: %d %s", e.HttpCode, e.Message)
}

// Files runs a search and follows the start/limit pagination until a short
// page, the reported result count or q.MaxResults is reached. After
// WithMaxPages requests it stops with ErrPageLimit.
func (c *Client) Files(ctx context.Context, q Query) ([]File, error) {
	var files []File
	for start, pages := 0, 0; ; pages++ {
		if pages >= c.maxPages {
			return files, fmt.Errorf("%w: %d pages", ErrPageLimit, pages)
		}
		page, err := c.filesPage(ctx, q, start)
		if err != nil {
			return files, err
		}
		files = append(files, page.Files...)
		start += len(page.Files)

		if q.MaxResults > 0 && len(files) >= q.MaxResults {
			return files[:q.MaxResults], nil
		}
		if len(page.Files) < c.pageSize || (page.Meta.Results > 0 && start >= page.Meta.Results) {
			return files, nil
		}
	}
}

func (c *Client) filesPage(ctx context.Context, q Query, start int) (*filesResponse, error) {
	params := url.Values{}
	if len(q.Extensions) > 0 {
		params.Set("extensions", strings.Join(q.Extensions, ","))
	}
	if q.Keywords != "" {
		params.Set("keywords", q.Keywords)
	}
	params.Set("start", strconv.Itoa(start))
	params.Set("limit", strconv.Itoa(c.pageSize))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v2/files?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", UserAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch files: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, parseErrorResponse(resp.StatusCode, resp.Body)
	}

	var page filesResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode files response: %w", err)
	}
	return &page, nil
}

func parseErrorResponse(httpCode int, body io.Reader) error {
	data, _ := io.ReadAll(io.LimitReader(body, 4096))
	apiErr := &APIError{HttpCode: httpCode}
	if err := json.Unmarshal(data, apiErr); err != nil || apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(httpCode)
	}
	return apiErr
}

// FilterSince keeps files modified within the last days before now.
func FilterSince(files []File, now time.Time, days int) []File {
	cutoff := now.Add(-time.Duration(days) * 24 * time.Hour)
	var out []File
	for _, f := range files {
		if !f.Modified().Before(cutoff) {
			out = append(out, f)
		}
	}
	return out
}

// URLs returns the download URLs of files.
func URLs(files []File) []string {
	urls := make([]string, 0, len(files))
	for _, f := range files {
		urls = append(urls, f.URL)
	}
	return urls
}
