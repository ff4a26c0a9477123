package cli

import (
	"database/sql"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"intent-engine/internal/common/config"
	"intent-engine/internal/common/database"
	"intent-engine/internal/modelstore"
)

func (o *options) loadConfig() (*config.Config, error) {
	if o.configPath != "" {
		return config.LoadFromFile(o.configPath)
	}
	return config.Load()
}

// openStore connects to the model database named by the config.
func (o *options) openStore() (*modelstore.PostgresSource, func(), error) {
	var (
		db  *sql.DB
		err error
	)
	if o.openDB != nil {
		db, err = o.openDB()
	} else {
		var cfg *config.Config
		if cfg, err = o.loadConfig(); err != nil {
			return nil, nil, err
		}
		var pg *database.PostgresClient
		if pg, err = database.NewPostgres(cfg.Database.Postgres); err == nil {
			db = pg.GetDB()
		}
	}
	if err != nil {
		return nil, nil, fmt.Errorf("open model store: %w", err)
	}
	return modelstore.NewPostgresSource(db, o.logger()), func() { _ = db.Close() }, nil
}

func newPushCmd(opts *options) *cobra.Command {
	var ensureSchema bool

	cmd := &cobra.Command{
		Use:   "push",
		Short: "Validate a model file and store it in Postgres",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := opts.loadModel()
			if err != nil {
				return err
			}
			store, closeFn, err := opts.openStore()
			if err != nil {
				return err
			}
			defer closeFn()

			ctx := cmd.Context()
			if ensureSchema {
				if err := store.EnsureSchema(ctx); err != nil {
					return err
				}
			}
			if err := store.Save(ctx, m); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pushed model %s@%s (%d intents)\n", m.ID, m.Version, len(m.Intents))
			return nil
		},
	}
	cmd.Flags().BoolVar(&ensureSchema, "ensure-schema", false, "Create the model tables when missing")
	return cmd
}

func newModelsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "Manage models stored in Postgres",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored models",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, closeFn, err := opts.openStore()
			if err != nil {
				return err
			}
			defer closeFn()

			infos, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), infos, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tVERSION\tDESCRIPTION")
				for _, mi := range infos {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", mi.ID, mi.Version, mi.Description)
				}
				tw.Flush()
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show <model-id>",
		Short: "Print a stored model as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeFn, err := opts.openStore()
			if err != nil {
				return err
			}
			defer closeFn()

			m, err := store.Load(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), m, func(w io.Writer) {
				enc := yaml.NewEncoder(w)
				enc.SetIndent(2)
				_ = enc.Encode(m)
				_ = enc.Close()
			})
		},
	})
	return cmd
}
