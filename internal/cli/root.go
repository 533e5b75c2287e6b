// Package cli implements the accordctl commands. They build the same
// services as the server and print results as JSON.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"accord/internal/app"
	"accord/internal/platform/config"
	"accord/internal/platform/logger"
)

type rootOptions struct {
	cfgFile string
	verbose bool
	v       *viper.Viper
}

// NewRootCmd returns the accordctl command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{v: config.New()}

	cmd := &cobra.Command{
		Use:   "accordctl",
		Short: "Map institutional evidence to accreditation standards",
		Long: `accordctl runs the evidence analysis pipeline and the standards
crosswalk from the command line. Flags override ACCORD_* environment
variables, which override the config file.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(*cobra.Command, []string) error {
			if opts.cfgFile == "" {
				return nil
			}
			opts.v.SetConfigFile(opts.cfgFile)
			if err := opts.v.ReadInConfig(); err != nil {
				return fmt.Errorf("read config %s: %w", opts.cfgFile, err)
			}
			return nil
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&opts.cfgFile, "config", "", "config file (YAML)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "log pipeline progress to stderr")
	flags.String("corpus", "", "standards corpus file (YAML or JSON)")
	flags.Int("workers", 0, "pipeline worker count")
	_ = opts.v.BindPFlag("corpus.path", flags.Lookup("corpus"))
	_ = opts.v.BindPFlag("pipeline.workers", flags.Lookup("workers"))

	cmd.AddCommand(newAnalyzeCmd(opts), newCrosswalkCmd(opts))
	return cmd
}

// build decodes the layered config and wires the services. The CLI never
// serves /metrics, so collectors stay unregistered.
func (o *rootOptions) build(cmd *cobra.Command) (*app.App, error) {
	cfg, err := config.Decode(o.v)
	if err != nil {
		return nil, err
	}
	if cfg.Corpus.Path == "" {
		return nil, fmt.Errorf("a standards corpus is required (--corpus or corpus.path)")
	}
	return app.Build(cmd.Context(), cfg, o.logger(cmd, cfg), app.WithoutMetrics())
}

func (o *rootOptions) logger(cmd *cobra.Command, cfg config.Config) *slog.Logger {
	if !o.verbose {
		return slog.New(slog.DiscardHandler)
	}
	return logger.NewWithWriter(cmd.ErrOrStderr(), cfg.Server)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
