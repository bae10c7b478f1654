package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/stupidcerts/pfxhunt/pkg/pipeline"
	"github.com/stupidcerts/pfxhunt/pkg/quarantine"
)

// openSink returns stdout or the configured output file opened for append.
func openSink(path string) (io.Writer, io.Closer, error) {
	if path == "" {
		return os.Stdout, nopCloser{}, nil
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open output %s: %w", path, err)
	}
	return f, f, nil
}

func newProcessor(sink io.Writer) *pipeline.Processor {
	return pipeline.New(
		pipeline.Config{
			Workers: cfg.Pipeline.Workers,
			DryRun:  cfg.Pipeline.DryRun,
		},
		pipeline.WithSink(sink),
		pipeline.WithLogger(logger),
		pipeline.WithQuarantine(&quarantine.Manager{
			Active:     cfg.Pipeline.ActiveMarker,
			Quarantine: cfg.Pipeline.QuarantineMarker,
		}),
	)
}

// checkResults turns unresolved files into a command error. Rejected files
// that were moved, or left in place by a dry run, are not an error.
func checkResults(results []pipeline.Result) error {
	summary := pipeline.Summarize(results)
	logger.Info("Processing done", "summary", summary)
	if summary.Unresolved > 0 {
		return fmt.Errorf("%d file(s) could not be read, recorded or quarantined", summary.Unresolved)
	}
	return nil
}
