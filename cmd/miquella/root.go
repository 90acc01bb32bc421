package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/TymurD/miquella/common/version"
	"github.com/TymurD/miquella/internal/miquella/config"
	"github.com/TymurD/miquella/internal/miquella/store"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "miquella",
		Short:         "Group chat companion bot",
		Long:          "miquella joins group chats, decides when to speak and answers with a language model, drawing on recent and long-term conversation memory.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "Config file (default: $MIQUELLA_CONFIG or "+config.DefaultPath+")")

	root.AddCommand(
		newRunCmd(opts),
		newPersonaCmd(opts),
		newMemoryCmd(opts),
		newVersionCmd(),
	)
	return root
}

func (o *rootOptions) path() string {
	return config.ResolvePath(o.configPath)
}

// load reads the config file and opens the database it names.
func (o *rootOptions) load(ctx context.Context) (*config.File, *store.Store, error) {
	cfg, err := config.Load(o.path())
	if err != nil {
		return nil, nil, err
	}
	st, err := store.Open(ctx, cfg.Database.Path)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	return cfg, st, nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Info())
		},
	}
}
