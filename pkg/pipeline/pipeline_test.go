package pipeline_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stupidcerts/pfxhunt/internal/pfxtest"
	"github.com/stupidcerts/pfxhunt/pkg/pipeline"
	"github.com/stupidcerts/pfxhunt/pkg/pkcs12"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// fakeMover records moves instead of touching the filesystem.
type fakeMover struct {
	mu    sync.Mutex
	moved []string
	err   error
}

func (m *fakeMover) Move(path string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.moved = append(m.moved, path)
	return "quarantine/" + filepath.Base(path), nil
}

func valid(t *testing.T) []byte {
	return pfxtest.MustBuild(t, pfxtest.Options{Payload: pfxtest.Sniffable(), Iterations: 2048})
}

func TestValidate(t *testing.T) {
	p := pipeline.New(pipeline.Config{}, pipeline.WithLogger(discard))

	noMac := pfxtest.MustBuild(t, pfxtest.Options{Payload: pfxtest.Sniffable(), NoMac: true})
	md5 := pfxtest.MustBuild(t, pfxtest.Options{Payload: pfxtest.Sniffable(), Digest: pkcs12.OIDMD5})
	signed := pfxtest.MustBuild(t, pfxtest.Options{Payload: pfxtest.Sniffable(), ContentType: pkcs12.OIDSignedData})
	// passes the signature check but the outer length is wrong
	truncated := valid(t)[:100]

	tests := []struct {
		name      string
		data      []byte
		wantState pipeline.State
		wantStage pipeline.Stage
		wantErr   error
	}{
		{"html", []byte("<html>404</html>"), pipeline.Fetched, pipeline.StageSignature, pkcs12.ErrSignatureMismatch},
		{"empty", nil, pipeline.Fetched, pipeline.StageSignature, pkcs12.ErrSignatureMismatch},
		{"truncated", truncated, pipeline.SignatureChecked, pipeline.StageDecode, pkcs12.ErrDecode},
		{"signed data", signed, pipeline.SignatureChecked, pipeline.StageDecode, pkcs12.ErrUnsupportedContentType},
		{"no mac", noMac, pipeline.Decoded, pipeline.StageExtract, pkcs12.ErrMissingMacData},
		{"md5", md5, pipeline.Decoded, pipeline.StageExtract, pkcs12.ErrUnsupportedAlgorithm},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record, state, err := p.Validate(pipeline.Candidate{Path: "x.pfx", Data: tt.data})
			assert.Nil(t, record)
			assert.Equal(t, tt.wantState, state)
			require.ErrorIs(t, err, tt.wantErr)

			var stageErr *pipeline.StageError
			require.True(t, errors.As(err, &stageErr))
			assert.Equal(t, tt.wantStage, stageErr.Stage)
			assert.Equal(t, "x.pfx", stageErr.Path)
		})
	}

	record, state, err := p.Validate(pipeline.Candidate{Path: "dir/ok.pfx", Data: valid(t)})
	require.NoError(t, err)
	assert.Equal(t, pipeline.Extracted, state, "not emitted yet")
	assert.Equal(t, "ok.pfx", record.Basename)
	assert.Equal(t, 2048, record.Iterations)
}

func TestProcessFormatted(t *testing.T) {
	var sink bytes.Buffer
	mover := &fakeMover{}
	p := pipeline.New(pipeline.Config{}, pipeline.WithSink(&sink), pipeline.WithQuarantine(mover), pipeline.WithLogger(discard))

	res := p.Process(context.Background(), pipeline.Candidate{Path: "certs_1/a.pfx", Source: "https://b/a.pfx", Data: valid(t)})

	assert.Equal(t, pipeline.Formatted, res.State)
	assert.NoError(t, res.Err)
	require.NotNil(t, res.Record)
	assert.Equal(t, "https://b/a.pfx", res.Source)
	assert.Equal(t, res.Record.String()+"\n", sink.String())
	assert.Empty(t, mover.moved)
}

func TestProcessQuarantines(t *testing.T) {
	var sink bytes.Buffer
	mover := &fakeMover{}
	p := pipeline.New(pipeline.Config{}, pipeline.WithSink(&sink), pipeline.WithQuarantine(mover), pipeline.WithLogger(discard))

	res := p.Process(context.Background(), pipeline.Candidate{Path: "certs_1/bad.pfx", Data: []byte("nope")})

	assert.Equal(t, pipeline.Quarantined, res.State)
	assert.ErrorIs(t, res.Err, pkcs12.ErrSignatureMismatch)
	assert.Equal(t, "quarantine/bad.pfx", res.QuarantinePath)
	assert.Equal(t, []string{"certs_1/bad.pfx"}, mover.moved)
	assert.Empty(t, sink.String())
}

func TestProcessQuarantineFailure(t *testing.T) {
	mover := &fakeMover{err: errors.New("read-only filesystem")}
	p := pipeline.New(pipeline.Config{}, pipeline.WithQuarantine(mover), pipeline.WithLogger(discard))

	res := p.Process(context.Background(), pipeline.Candidate{Path: "certs_1/bad.pfx", Data: []byte("nope")})

	assert.Equal(t, pipeline.Fetched, res.State)
	assert.False(t, res.State.Terminal())
	assert.EqualError(t, res.QuarantineErr, "read-only filesystem")
	assert.Empty(t, res.QuarantinePath)
}

func TestProcessDryRun(t *testing.T) {
	mover := &fakeMover{}
	p := pipeline.New(pipeline.Config{DryRun: true}, pipeline.WithQuarantine(mover), pipeline.WithLogger(discard))

	res := p.Process(context.Background(), pipeline.Candidate{Path: "certs_1/bad.pfx", Data: []byte("nope")})

	assert.Equal(t, pipeline.Fetched, res.State)
	assert.True(t, res.Skipped)
	assert.Empty(t, mover.moved)
	assert.Equal(t, pipeline.Summary{Total: 1, Skipped: 1}, pipeline.Summarize([]pipeline.Result{res}))
}

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) {
	return 0, errors.New("disk full")
}

func TestProcessSinkFailure(t *testing.T) {
	mover := &fakeMover{}
	p := pipeline.New(pipeline.Config{}, pipeline.WithSink(failingWriter{}), pipeline.WithQuarantine(mover), pipeline.WithLogger(discard))

	res := p.Process(context.Background(), pipeline.Candidate{Path: "certs_1/ok.pfx", Data: valid(t)})

	assert.Equal(t, pipeline.Extracted, res.State)
	assert.False(t, res.State.Terminal())
	assert.EqualError(t, res.Err, "certs_1/ok.pfx: emit: disk full")
	var stageErr *pipeline.StageError
	require.True(t, errors.As(res.Err, &stageErr))
	assert.Equal(t, pipeline.StageEmit, stageErr.Stage)
	assert.Empty(t, mover.moved, "a valid file is never quarantined")
	assert.Equal(t, pipeline.Summary{Total: 1, Unresolved: 1}, pipeline.Summarize([]pipeline.Result{res}))
}

func TestProcessCancelled(t *testing.T) {
	mover := &fakeMover{}
	p := pipeline.New(pipeline.Config{}, pipeline.WithQuarantine(mover), pipeline.WithLogger(discard))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := p.Process(ctx, pipeline.Candidate{Path: "certs_1/a.pfx", Data: []byte("nope")})
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Empty(t, mover.moved, "cancelled candidates are not judged")
}

func TestProcessAllKeepsOrder(t *testing.T) {
	var sink bytes.Buffer
	mover := &fakeMover{}
	p := pipeline.New(pipeline.Config{Workers: 4}, pipeline.WithSink(&sink), pipeline.WithQuarantine(mover), pipeline.WithLogger(discard))

	good := valid(t)
	var candidates []pipeline.Candidate
	for i := range 20 {
		data := good
		if i%3 == 0 {
			data = []byte("bad")
		}
		candidates = append(candidates, pipeline.Candidate{Path: fmt.Sprintf("certs_1/%02d.pfx", i), Data: data})
	}

	results := p.ProcessAll(context.Background(), candidates)
	require.Len(t, results, len(candidates))
	for i, res := range results {
		assert.Equal(t, candidates[i].Path, res.Path)
		if i%3 == 0 {
			assert.Equal(t, pipeline.Quarantined, res.State, res.Path)
		} else {
			assert.Equal(t, pipeline.Formatted, res.State, res.Path)
		}
	}

	// one complete line per formatted candidate, never interleaved
	lines := strings.Split(strings.TrimSuffix(sink.String(), "\n"), "\n")
	assert.Len(t, lines, 13)
	for _, line := range lines {
		assert.Contains(t, line, "$pfxng$sha256$32$2048$4$01020304$")
	}
	assert.Len(t, mover.moved, 7)

	summary := pipeline.Summarize(results)
	assert.Equal(t, pipeline.Summary{Total: 20, Formatted: 13, Quarantined: 7}, summary)
}

func TestProcessFiles(t *testing.T) {
	root := t.TempDir()
	active := filepath.Join(root, "certs_20240101120000")
	require.NoError(t, os.MkdirAll(active, 0o755))

	good := filepath.Join(active, "good.pfx")
	bad := filepath.Join(active, "bad.pfx")
	missing := filepath.Join(active, "missing.pfx")
	require.NoError(t, os.WriteFile(good, valid(t), 0o644))
	require.NoError(t, os.WriteFile(bad, []byte("not a certificate"), 0o644))

	var sink bytes.Buffer
	p := pipeline.New(pipeline.Config{Workers: 2}, pipeline.WithSink(&sink), pipeline.WithLogger(discard))

	results := p.ProcessFiles(context.Background(), []string{good, bad, missing})
	require.Len(t, results, 3)

	assert.Equal(t, pipeline.Formatted, results[0].State)
	assert.True(t, strings.HasSuffix(sink.String(), ":::::"+good+"\n"))
	assert.FileExists(t, good)

	assert.Equal(t, pipeline.Quarantined, results[1].State)
	assert.Equal(t, filepath.Join(root, "certs_deleted_20240101120000", "bad.pfx"), results[1].QuarantinePath)
	assert.NoFileExists(t, bad)
	assert.FileExists(t, results[1].QuarantinePath)

	assert.Equal(t, pipeline.Fetched, results[2].State)
	assert.ErrorIs(t, results[2].Err, pipeline.ErrRead)

	assert.Equal(t, pipeline.Summary{Total: 3, Formatted: 1, Quarantined: 1, Unresolved: 1}, pipeline.Summarize(results))
}
