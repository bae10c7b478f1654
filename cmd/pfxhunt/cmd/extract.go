package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func init() {
	flags := extractCmd.Flags()
	flags.StringP("output", "o", "", "append records to this file instead of stdout")
	flags.Bool("dry-run", false, "log quarantine decisions without moving files")
	flags.Int("workers", 0, "files processed in parallel (0 = GOMAXPROCS)")

	rootCmd.AddCommand(extractCmd)
}

var extractCmd = &cobra.Command{
	Use:   "extract FILE...",
	Short: "Print pfxng records for local PKCS#12 files",
	Long: `Validates each file as a PKCS#12 container and prints one pfxng record
per file with a usable MAC. Rejected files are moved to the quarantine
directory derived from their containing directory.`,
	Args: cobra.MinimumNArgs(1),
	PreRun: func(cmd *cobra.Command, args []string) {
		viper.BindPFlag("output", cmd.Flags().Lookup("output"))
		viper.BindPFlag("dry_run", cmd.Flags().Lookup("dry-run"))
		viper.BindPFlag("workers", cmd.Flags().Lookup("workers"))
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		overrideString(&cfg.Pipeline.Output, "output")
		overrideBool(&cfg.Pipeline.DryRun, "dry_run")
		overrideInt(&cfg.Pipeline.Workers, "workers")

		sink, closer, err := openSink(cfg.Pipeline.Output)
		if err != nil {
			return err
		}
		defer closer.Close()

		results := newProcessor(sink).ProcessFiles(cmd.Context(), args)
		return checkResults(results)
	},
}
