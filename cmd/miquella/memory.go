package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/TymurD/miquella/internal/miquella/app"
	"github.com/TymurD/miquella/internal/miquella/config"
	"github.com/TymurD/miquella/internal/miquella/memory"
)

func newMemoryCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "memory",
		Short: "Inspect long-term memory",
	}

	var (
		limit   int
		channel string
	)
	search := &cobra.Command{
		Use:   "search <query>",
		Short: "Show the stored messages most similar to query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, st, err := root.load(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			secrets, err := config.LoadSecrets(app.Needs(cfg, "", false))
			if err != nil {
				return err
			}
			idx, err := app.NewIndex(ctx, cfg, secrets, st, slog.Default())
			if err != nil {
				return err
			}

			var opts []memory.QueryOption
			if channel != "" {
				opts = append(opts, memory.InChannel(channel))
			}
			recs, err := idx.Query(ctx, strings.Join(args, " "), limit, opts...)
			if errors.Is(err, memory.ErrRetrievalUnavailable) {
				return fmt.Errorf("%w (is embedding.provider set?)", err)
			}
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(recs) == 0 {
				fmt.Fprintln(out, "no matches")
				return nil
			}
			for _, r := range recs {
				fmt.Fprintf(out, "%.3f  %s\n", r.Score, r.String())
			}
			return nil
		},
	}
	search.Flags().IntVarP(&limit, "limit", "l", 5, "Max results")
	search.Flags().StringVar(&channel, "channel", "", "Only search this channel")

	count := &cobra.Command{
		Use:   "count",
		Short: "Print the number of stored messages",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, st, err := root.load(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			idx := memory.NewIndex(st.DB(), cfg.Database.Collection, memory.NoopEmbedder{}, slog.Default())
			n, err := idx.Count(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%d messages in %s\n", n, idx.Collection())
			return nil
		},
	}

	cmd.AddCommand(search, count)
	return cmd
}
