package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"kittycore/internal/archive"
	"kittycore/internal/blob"
)

// exporter binds the archive to the blob store selected by KITTYCORE_BLOB_*.
func exporter(ctx context.Context, a *app, prefix string) (*archive.Exporter, error) {
	blobs, err := blob.OpenFromEnv(ctx)
	if err != nil {
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	opts := []archive.Option{archive.WithBalances(a.ledger)}
	if prefix != "" {
		opts = append(opts, archive.WithPrefix(prefix))
	}
	return archive.NewExporter(blobs, a.store, opts...), nil
}

func (c *cli) exportCmd() *cobra.Command {
	var prefix string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write a compressed snapshot of the ledger and balances to the blob store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				exp, err := exporter(ctx, a, prefix)
				if err != nil {
					return err
				}
				m, err := exp.Export(ctx)
				if err != nil {
					return err
				}
				a.logger.Info("snapshot exported", "key", m.Key, "kitties", m.Kitties, "bytes", m.Size)
				if c.jsonOut {
					return writeJSON(cmd.OutOrStdout(), m)
				}
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s kitties=%d accounts=%d bytes=%d\n", m.Key, m.Kitties, m.Accounts, m.Size)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "object key prefix (default snapshots/)")
	return cmd
}

func (c *cli) restoreCmd() *cobra.Command {
	var prefix, key string
	cmd := &cobra.Command{
		Use:   "restore",
		Short: "Replace the ledger and balances with a snapshot from the blob store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				exp, err := exporter(ctx, a, prefix)
				if err != nil {
					return err
				}
				var m archive.Manifest
				if key != "" {
					m, err = exp.Restore(ctx, key)
				} else {
					m, err = exp.RestoreLatest(ctx)
				}
				if err != nil {
					return err
				}
				if err := a.saveBalances(ctx); err != nil {
					return err
				}
				a.logger.Info("snapshot restored", "key", m.Key, "kitties", m.Kitties)
				_, err = fmt.Fprintf(cmd.OutOrStdout(), "restored %s kitties=%d accounts=%d\n", m.Key, m.Kitties, m.Accounts)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&prefix, "prefix", "", "object key prefix (default snapshots/)")
	cmd.Flags().StringVar(&key, "key", "", "restore this object instead of the newest snapshot")
	return cmd
}
