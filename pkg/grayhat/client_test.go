package grayhat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeFiles(n int, modified int64) []File {
	files := make([]File, n)
	for i := range files {
		files[i] = File{
			ID:           int64(i),
			Bucket:       "bucket",
			Filename:     fmt.Sprintf("f%d.pfx", i),
			URL:          fmt.Sprintf("https://bucket.example/f%d.pfx", i),
			LastModified: modified,
		}
	}
	return files
}

func newSearchServer(t *testing.T, all []File, requests *[]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"error":"Invalid API key"}`))
			return
		}
		assert.Equal(t, "/api/v2/files", r.URL.Path)
		assert.Equal(t, UserAgent, r.Header.Get("User-Agent"))
		*requests = append(*requests, r.URL.RawQuery)

		start, _ := strconv.Atoi(r.URL.Query().Get("start"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		end := min(start+limit, len(all))
		if start > end {
			start = end
		}

		var resp filesResponse
		resp.Meta.Results = len(all)
		resp.Files = all[start:end]
		json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFilesPagination(t *testing.T) {
	all := fakeFiles(5, 1700000000)
	var requests []string
	srv := newSearchServer(t, all, &requests)

	client := NewClient("secret", WithBaseURL(srv.URL+"/"), WithPageSize(2))
	files, err := client.Files(context.Background(), Query{Extensions: []string{"pfx", "p12"}})
	require.NoError(t, err)

	assert.Equal(t, all, files)
	assert.Equal(t, []string{
		"extensions=pfx%2Cp12&limit=2&start=0",
		"extensions=pfx%2Cp12&limit=2&start=2",
		"extensions=pfx%2Cp12&limit=2&start=4",
	}, requests)
}

func TestFilesKeywordsAndMaxResults(t *testing.T) {
	var requests []string
	srv := newSearchServer(t, fakeFiles(10, 0), &requests)

	client := NewClient("secret", WithBaseURL(srv.URL), WithPageSize(4))
	files, err := client.Files(context.Background(), Query{Extensions: []string{"pfx"}, Keywords: "backup", MaxResults: 6})
	require.NoError(t, err)

	assert.Len(t, files, 6)
	assert.Len(t, requests, 2)
	assert.Contains(t, requests[0], "keywords=backup")
}

func TestFilesAPIError(t *testing.T) {
	var requests []string
	srv := newSearchServer(t, nil, &requests)

	client := NewClient("wrong", WithBaseURL(srv.URL))
	_, err := client.Files(context.Background(), Query{})

	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusUnauthorized, apiErr.HttpCode)
	assert.Equal(t, "Invalid API key", apiErr.Message)
	assert.Empty(t, requests)
}

func TestParseErrorResponseFallbacks(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"json", `{"error":"quota exceeded"}`, "quota exceeded"},
		{"text", "upstream timeout\n", "upstream timeout"},
		{"empty", "", "Bad Gateway"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := parseErrorResponse(http.StatusBadGateway, strings.NewReader(tt.body))
			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.want, apiErr.Message)
		})
	}
}

func TestFilterSince(t *testing.T) {
	now := time.Date(2024, 3, 10, 12, 0, 0, 0, time.UTC)
	files := []File{
		{URL: "fresh", LastModified: now.Add(-time.Hour).Unix()},
		{URL: "edge", LastModified: now.Add(-24 * time.Hour).Unix()},
		{URL: "old", LastModified: now.Add(-25 * time.Hour).Unix()},
	}

	assert.Equal(t, []string{"fresh", "edge"}, URLs(FilterSince(files, now, 1)))
	assert.Equal(t, []string{"fresh", "edge", "old"}, URLs(FilterSince(files, now, 2)))
	assert.Empty(t, FilterSince(files, now, 0))
	assert.Empty(t, URLs(nil))
}

func TestFilesPageLimit(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
		// ignores start and never reports a total
		var resp filesResponse
		resp.Files = fakeFiles(2, 0)
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	client := NewClient("secret", WithBaseURL(srv.URL), WithPageSize(2), WithMaxPages(3))
	files, err := client.Files(context.Background(), Query{})

	require.ErrorIs(t, err, ErrPageLimit)
	assert.Len(t, files, 6)
	assert.Equal(t, 3, requests)
}
