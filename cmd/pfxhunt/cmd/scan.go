package cmd

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/segmentio/ksuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"github.com/stupidcerts/pfxhunt/pkg/fetch"
	"github.com/stupidcerts/pfxhunt/pkg/grayhat"
	"github.com/stupidcerts/pfxhunt/pkg/seen"
)

var ErrNoCertificates = errors.New("no certificates found in that timeframe")

func init() {
	flags := scanCmd.Flags()
	flags.IntP("days", "d", 0, "only fetch files modified within this many days")
	flags.String("api-key", "", "GrayHatWarfare API key (prefer PFXHUNT_API_KEY)")
	flags.StringP("output", "o", "", "append records to this file instead of stdout")
	flags.Bool("dry-run", false, "log quarantine decisions without moving files")
	flags.Int("workers", 0, "files processed in parallel (0 = GOMAXPROCS)")
	flags.String("root", "", "directory the certs_<timestamp> directories are created in")
	flags.String("seen-index", "", "bbolt file remembering downloaded URLs across runs")

	rootCmd.AddCommand(scanCmd)
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Search public buckets for PKCS#12 files and extract their MAC hashes",
	PreRun: func(cmd *cobra.Command, args []string) {
		flags := cmd.Flags()
		viper.BindPFlag("days", flags.Lookup("days"))
		viper.BindPFlag("api_key", flags.Lookup("api-key"))
		viper.BindPFlag("output", flags.Lookup("output"))
		viper.BindPFlag("dry_run", flags.Lookup("dry-run"))
		viper.BindPFlag("workers", flags.Lookup("workers"))
		viper.BindPFlag("root", flags.Lookup("root"))
		viper.BindPFlag("seen_index", flags.Lookup("seen-index"))
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		overrideInt(&cfg.Days, "days")
		overrideString(&cfg.APIKey, "api_key")
		overrideString(&cfg.Pipeline.Output, "output")
		overrideBool(&cfg.Pipeline.DryRun, "dry_run")
		overrideInt(&cfg.Pipeline.Workers, "workers")
		overrideString(&cfg.Download.Root, "root")
		overrideString(&cfg.Download.SeenIndex, "seen_index")
		if err := cfg.Validate(); err != nil {
			return err
		}
		if cfg.APIKey == "" {
			return errors.New("an API key is required, set PFXHUNT_API_KEY")
		}
		return runScan(cmd)
	},
}

func runScan(cmd *cobra.Command) error {
	ctx := cmd.Context()
	runLogger := logger.With("run", ksuid.New().String())
	now := time.Now()

	client := grayhat.NewClient(cfg.APIKey,
		grayhat.WithBaseURL(cfg.Search.BaseURL),
		grayhat.WithPageSize(cfg.Search.PageSize),
		grayhat.WithHTTPClient(&http.Client{Timeout: cfg.Download.Timeout}),
	)
	files, err := client.Files(ctx, grayhat.Query{
		Extensions: cfg.Search.Extensions,
		Keywords:   cfg.Search.Keywords,
		MaxResults: cfg.Search.MaxResults,
	})
	if errors.Is(err, grayhat.ErrPageLimit) {
		runLogger.Warn("Search truncated", "files", len(files), "error", err)
	} else if err != nil {
		return fmt.Errorf("search files: %w", err)
	}
	files = grayhat.FilterSince(files, now, cfg.Days)
	if len(files) == 0 {
		return ErrNoCertificates
	}
	urls := grayhat.URLs(files)
	runLogger.Info("Certificates found", "count", len(urls), "days", cfg.Days)

	var index *seen.Index
	if cfg.Download.SeenIndex != "" {
		index, err = seen.Open(cfg.Download.SeenIndex)
		if err != nil {
			return err
		}
		defer index.Close()
		urls, err = index.Unseen(urls)
		if err != nil {
			return err
		}
		if len(urls) == 0 {
			runLogger.Info("All certificates were already downloaded")
			return nil
		}
	}

	ws, err := fetch.NewWorkspace(cfg.Download.Root, cfg.Pipeline.ActiveMarker, cfg.Pipeline.QuarantineMarker, now)
	if err != nil {
		return err
	}

	downloader := fetch.NewDownloader(
		fetch.WithHTTPClient(&http.Client{Timeout: cfg.Download.Timeout}),
		fetch.WithLimiter(rate.NewLimiter(limit(cfg.Download.Interval), 1)),
		fetch.WithMaxSize(cfg.Download.MaxSize),
		fetch.WithWorkers(cfg.Download.Workers),
		fetch.WithLogger(runLogger),
	)
	candidates := downloader.DownloadAll(ctx, urls, ws.Active)

	sink, closer, err := openSink(cfg.Pipeline.Output)
	if err != nil {
		return err
	}
	defer closer.Close()

	processor := newProcessor(sink)
	results := processor.ProcessAll(ctx, candidates)

	if index != nil {
		for _, res := range results {
			if res.Source == "" {
				continue
			}
			path := res.Path
			if res.QuarantinePath != "" {
				path = res.QuarantinePath
			}
			err := index.Mark(res.Source, seen.Entry{State: res.State.String(), Path: path, At: now})
			if err != nil {
				runLogger.Warn("Failed to record download", "url", res.Source, "error", err)
			}
		}
	}

	runLogger.Info("Certificate(s) and hashes saved", "dir", ws.Active)
	return checkResults(results)
}

func limit(interval time.Duration) rate.Limit {
	if interval <= 0 {
		return rate.Inf
	}
	return rate.Every(interval)
}
