// Package cli implements the intentctl commands.
package cli

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"intent-engine/internal/common/logger"
	"intent-engine/internal/intent/conversation"
	"intent-engine/internal/intent/engine"
	"intent-engine/pkg/registry"
)

type options struct {
	modelPath  string
	configPath string
	logLevel   string
	format     string

	// openDB replaces the configured Postgres connection.
	openDB func() (*sql.DB, error)
}

// NewRootCmd builds the intentctl command tree writing to out.
func NewRootCmd(out io.Writer) *cobra.Command {
	return newRootCmd(out, &options{})
}

func newRootCmd(out io.Writer, opts *options) *cobra.Command {
	root := &cobra.Command{
		Use:           "intentctl",
		Short:         "Inspect, test and publish intent models",
		Long:          "intentctl validates intent models, expands macros, replays conversations against a model and publishes models to Postgres.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.SetErr(out)

	root.PersistentFlags().StringVarP(&opts.modelPath, "model", "m", "", "Model file (YAML or JSON)")
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Config file for database commands")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level (debug, info, warn, error); silent when empty")
	root.PersistentFlags().StringVarP(&opts.format, "format", "f", "text", "Output format: json or text")

	root.AddCommand(
		newValidateCmd(opts),
		newCompileCmd(opts),
		newExpandCmd(opts),
		newResolveCmd(opts),
		newPushCmd(opts),
		newModelsCmd(opts),
	)
	return root
}

func (o *options) logger() logger.Logger {
	if o.logLevel == "" {
		return logger.NewNoOpLogger()
	}
	return logger.NewStructured(o.logLevel, "console", "stderr")
}

func (o *options) loadModel() (*registry.Model, error) {
	if o.modelPath == "" {
		return nil, fmt.Errorf("--model is required")
	}
	return registry.LoadModel(o.modelPath)
}

// buildEngine compiles every intent of the model with no-op handlers.
func (o *options) buildEngine(m *registry.Model, conv conversation.Config) (*engine.Engine, error) {
	b := engine.NewBuilder(engine.Config{Conversation: conv}, o.logger())
	if err := b.LoadModel(m, nil); err != nil {
		return nil, err
	}
	return b.Build()
}

func (o *options) print(w io.Writer, v interface{}, text func(io.Writer)) error {
	if o.format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}
