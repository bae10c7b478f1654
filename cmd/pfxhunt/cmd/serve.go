package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/stupidcerts/pfxhunt/pkg/extractd"
	"github.com/stupidcerts/pfxhunt/pkg/pipeline"
)

func init() {
	serveCmd.Flags().StringP("addr", "a", "", "address to listen on")

	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve record extraction over HTTP",
	PreRun: func(cmd *cobra.Command, args []string) {
		viper.BindPFlag("address", cmd.Flags().Lookup("addr"))
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		overrideString(&cfg.Serve.Address, "address")
		if err := cfg.Validate(); err != nil {
			return err
		}

		// uploads are validated in memory, the processor never moves files here
		processor := pipeline.New(pipeline.Config{}, pipeline.WithLogger(logger))
		server := extractd.New(processor,
			extractd.WithMaxBody(cfg.Serve.MaxBody),
			extractd.WithLogger(logger),
		)

		e := echo.New()
		e.HideBanner = true
		e.HidePort = true
		server.MountRoutes(e.Group(""))

		for _, route := range e.Routes() {
			logger.Debug("Route", "method", route.Method, "path", route.Path)
		}

		ctx := cmd.Context()
		errc := make(chan error, 1)
		go func() {
			logger.Info(fmt.Sprintf("starting pfxhunt at %s", cfg.Serve.Address), "version", Version)
			errc <- e.Start(cfg.Serve.Address)
		}()

		select {
		case err := <-errc:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case <-ctx.Done():
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("shutting down")
		return e.Shutdown(shutdownCtx)
	},
}
