// Package pipeline runs candidate files through signature sniffing, PFX
// decoding, MAC extraction and record formatting. Formatted records go to a
// sink, rejected files are handed to the quarantine.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/stupidcerts/pfxhunt/pkg/pfxng"
	"github.com/stupidcerts/pfxhunt/pkg/pkcs12"
	"github.com/stupidcerts/pfxhunt/pkg/quarantine"
)

var ErrRead = errors.New("pipeline: read candidate")

// Candidate is a complete buffer and the path it was stored at. Source is
// the URL it was downloaded from, if any.
type Candidate struct {
	Path   string
	Source string
	Data   []byte
}

// Result describes how a candidate left the pipeline.
type Result struct {
	Path   string
	Source string
	State  State
	Record *pfxng.Record
	// Err is the reject reason, a *StageError, or the context error if the
	// batch was cancelled before the candidate was looked at.
	Err error
	// QuarantinePath is set once the file has been moved.
	QuarantinePath string
	// QuarantineErr is set when the move failed and the file is still in
	// the active directory.
	QuarantineErr error
	// Skipped is set for rejected files left in place because of DryRun.
	Skipped bool
}

// Mover relocates a rejected file and returns its new path.
type Mover interface {
	Move(path string) (string, error)
}

type Config struct {
	// Workers bounds the number of candidates in flight in ProcessAll and
	// ProcessFiles. Zero means GOMAXPROCS.
	Workers int
	// DryRun logs quarantine decisions without moving files.
	DryRun bool
}

type Option func(*Processor)

func WithDecoder(d pkcs12.Decoder) Option {
	return func(p *Processor) { p.decoder = d }
}

// WithSink sets where record lines are written. Writes are serialised.
func WithSink(w io.Writer) Option {
	return func(p *Processor) { p.sink = w }
}

func WithQuarantine(m Mover) Option {
	return func(p *Processor) { p.mover = m }
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Processor) { p.logger = l }
}

type Processor struct {
	cfg     Config
	decoder pkcs12.Decoder
	mover   Mover
	logger  *slog.Logger

	sinkMu sync.Mutex
	sink   io.Writer
}

func New(cfg Config, opts ...Option) *Processor {
	p := &Processor{
		cfg:     cfg,
		decoder: pkcs12.DERDecoder{},
		mover:   quarantine.New(),
		sink:    io.Discard,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.cfg.Workers <= 0 {
		p.cfg.Workers = runtime.GOMAXPROCS(0)
	}
	return p
}

// Validate runs the stages on c without touching the filesystem or the
// sink. On success it returns the record and Extracted, the record is not
// emitted yet. Otherwise it returns the state reached and a *StageError.
func (p *Processor) Validate(c Candidate) (*pfxng.Record, State, error) {
	if !pkcs12.Sniff(c.Data) {
		return nil, Fetched, &StageError{Stage: StageSignature, Path: c.Path, Err: pkcs12.ErrSignatureMismatch}
	}

	pfx, err := p.decoder.Decode(c.Data)
	if err != nil {
		return nil, SignatureChecked, &StageError{Stage: StageDecode, Path: c.Path, Err: err}
	}

	params, err := pkcs12.ExtractMac(pfx)
	if err != nil {
		return nil, Decoded, &StageError{Stage: StageExtract, Path: c.Path, Err: err}
	}

	record := pfxng.Format(c.Path, params)
	return &record, Extracted, nil
}

// Process validates c and then either writes its record to the sink or
// moves the file into quarantine. Failures are reported in the Result,
// never returned, so one bad file cannot stop a batch.
func (p *Processor) Process(ctx context.Context, c Candidate) Result {
	res := Result{Path: c.Path, Source: c.Source, State: Fetched}
	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}

	record, state, err := p.Validate(c)
	if err != nil {
		res.State = state
		res.Err = err
		p.quarantine(ctx, &res)
		return res
	}

	res.Record = record

	p.sinkMu.Lock()
	_, err = record.WriteTo(p.sink)
	p.sinkMu.Unlock()
	if err != nil {
		// the file itself is fine, keep it where it is
		res.State = state
		res.Err = &StageError{Stage: StageEmit, Path: c.Path, Err: err}
		p.logger.ErrorContext(ctx, "Failed to write hash record", "file", c.Path, "error", err)
		return res
	}

	res.State = Formatted
	p.logger.InfoContext(ctx, "Cert found",
		"file", c.Path,
		"algorithm", string(record.Algorithm),
		"iterations", record.Iterations,
		"salt_len", len(record.Salt),
	)
	return res
}

func (p *Processor) quarantine(ctx context.Context, res *Result) {
	var stageErr *StageError
	stage := Stage("")
	if errors.As(res.Err, &stageErr) {
		stage = stageErr.Stage
	}
	p.logger.ErrorContext(ctx, "File is incorrect", "file", res.Path, "stage", string(stage), "error", res.Err)

	if p.cfg.DryRun {
		res.Skipped = true
		p.logger.InfoContext(ctx, "Dry run, file left in place", "file", res.Path)
		return
	}

	dest, err := p.mover.Move(res.Path)
	if err != nil {
		res.QuarantineErr = err
		p.logger.ErrorContext(ctx, "Failed to quarantine file", "file", res.Path, "error", err)
		return
	}

	res.State = Quarantined
	res.QuarantinePath = dest
	p.logger.InfoContext(ctx, "File moved to quarantine", "file", res.Path, "destination", dest)
}

// ProcessAll processes candidates in parallel. Results keep the order of
// the input.
func (p *Processor) ProcessAll(ctx context.Context, candidates []Candidate) []Result {
	return p.run(ctx, len(candidates), func(i int) Result {
		return p.Process(ctx, candidates[i])
	})
}

// ProcessFiles reads and processes files from disk. A file that cannot be
// read is reported with ErrRead and left alone.
func (p *Processor) ProcessFiles(ctx context.Context, paths []string) []Result {
	return p.run(ctx, len(paths), func(i int) Result {
		data, err := os.ReadFile(paths[i])
		if err != nil {
			p.logger.ErrorContext(ctx, "Error processing file", "file", paths[i], "error", err)
			return Result{
				Path:  paths[i],
				State: Fetched,
				Err:   &StageError{Stage: StageRead, Path: paths[i], Err: fmt.Errorf("%w: %v", ErrRead, err)},
			}
		}
		return p.Process(ctx, Candidate{Path: paths[i], Data: data})
	})
}

func (p *Processor) run(ctx context.Context, n int, fn func(i int) Result) []Result {
	results := make([]Result, n)

	var g errgroup.Group
	g.SetLimit(p.cfg.Workers)
	for i := range n {
		g.Go(func() error {
			results[i] = fn(i)
			return nil
		})
	}
	g.Wait()

	return results
}

// Summary counts the outcomes of a batch.
type Summary struct {
	Total       int
	Formatted   int
	Quarantined int
	// Skipped counts rejected files left in place because of DryRun.
	Skipped int
	// Unresolved counts files that need attention: the move failed, reading
	// failed, or the record could not be written.
	Unresolved int
}

func Summarize(results []Result) Summary {
	s := Summary{Total: len(results)}
	for _, r := range results {
		switch r.State {
		case Formatted:
			s.Formatted++
		case Quarantined:
			s.Quarantined++
		default:
			if r.Skipped {
				s.Skipped++
			} else {
				s.Unresolved++
			}
		}
	}
	return s
}

func (s Summary) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("total", s.Total),
		slog.Int("formatted", s.Formatted),
		slog.Int("quarantined", s.Quarantined),
		slog.Int("skipped", s.Skipped),
		slog.Int("unresolved", s.Unresolved),
	)
}
