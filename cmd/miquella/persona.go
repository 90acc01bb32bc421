package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/TymurD/miquella/internal/miquella/app"
	"github.com/TymurD/miquella/internal/miquella/persona"
)

func newPersonaCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "persona",
		Short: "Inspect or change the bot's persona",
	}

	// withPersona opens the persona store the same way the running bot does.
	withPersona := func(cmd *cobra.Command, fn func(ctx context.Context, s *persona.Store) error) error {
		ctx := cmd.Context()
		cfg, st, err := root.load(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		s, err := app.OpenPersona(ctx, cfg, root.path(), st, slog.Default())
		if err != nil {
			return err
		}
		return fn(ctx, s)
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the current persona",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withPersona(cmd, func(_ context.Context, s *persona.Store) error {
				text, state := s.Show()
				if state == persona.DisplayEmpty {
					fmt.Fprintln(cmd.OutOrStdout(), "(empty)")
					return nil
				}
				// The display limit only applies to chat messages.
				fmt.Fprintln(cmd.OutOrStdout(), text)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set <text>",
		Short: "Replace the persona",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPersona(cmd, func(ctx context.Context, s *persona.Store) error {
				if err := s.Set(ctx, strings.Join(args, " ")); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), s.Get())
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "append <text>",
		Short: "Add text to the end of the persona",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPersona(cmd, func(ctx context.Context, s *persona.Store) error {
				if err := s.Append(ctx, strings.Join(args, " ")); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), s.Get())
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Clear the persona",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withPersona(cmd, func(ctx context.Context, s *persona.Store) error {
				return s.Reset(ctx)
			})
		},
	})

	return cmd
}
