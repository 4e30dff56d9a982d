package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"kittycore/internal/core"
	"kittycore/pkg/domain"
)

// withApp opens the ledger for the duration of fn.
func (c *cli) withApp(cmd *cobra.Command, fn func(context.Context, *app) error) error {
	logger, err := newLogger(cmd.ErrOrStderr(), c.cfg)
	if err != nil {
		return err
	}
	a, err := openApp(cmd.Context(), c.cfg, logger, nil)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	return fn(cmd.Context(), a)
}

// transition runs a state-changing command as the calling account, saves
// balances and prints the affected kitty.
func (c *cli) transition(cmd *cobra.Command, fn func(context.Context, *app, domain.AccountID) (domain.KittyID, error)) error {
	account, err := c.caller()
	if err != nil {
		return err
	}
	return c.withApp(cmd, func(ctx context.Context, a *app) error {
		id, err := fn(ctx, a, domain.AccountID(account))
		if err := a.settle(ctx, err); err != nil {
			return err
		}
		details, err := a.svc.Describe(ctx, id)
		if err != nil {
			return err
		}
		return c.printKitty(cmd.OutOrStdout(), details)
	})
}

func (c *cli) createCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "create",
		Short: "Mint a kitty with random genes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.transition(cmd, func(ctx context.Context, a *app, caller domain.AccountID) (domain.KittyID, error) {
				kitty, err := a.svc.Create(ctx, caller)
				return kitty.ID, err
			})
		},
	}
}

func (c *cli) breedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "breed <kitty> <kitty>",
		Short: "Mint the child of two distinct kitties",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			first, err := domain.ParseKittyID(args[0])
			if err != nil {
				return err
			}
			second, err := domain.ParseKittyID(args[1])
			if err != nil {
				return err
			}
			return c.transition(cmd, func(ctx context.Context, a *app, caller domain.AccountID) (domain.KittyID, error) {
				kitty, err := a.svc.Breed(ctx, caller, first, second)
				return kitty.ID, err
			})
		},
	}
}

func (c *cli) transferCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "transfer <kitty> <recipient>",
		Short: "Give a kitty to another account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := domain.ParseKittyID(args[0])
			if err != nil {
				return err
			}
			recipient := domain.AccountID(args[1])
			return c.transition(cmd, func(ctx context.Context, a *app, caller domain.AccountID) (domain.KittyID, error) {
				return id, a.svc.Transfer(ctx, caller, id, recipient)
			})
		},
	}
}

func (c *cli) sellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sell <kitty>",
		Short: "List a kitty for sale at the stake price",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := domain.ParseKittyID(args[0])
			if err != nil {
				return err
			}
			return c.transition(cmd, func(ctx context.Context, a *app, caller domain.AccountID) (domain.KittyID, error) {
				return id, a.svc.ListForSale(ctx, caller, id)
			})
		},
	}
}

func (c *cli) buyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "buy <kitty>",
		Short: "Buy a listed kitty",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := domain.ParseKittyID(args[0])
			if err != nil {
				return err
			}
			return c.transition(cmd, func(ctx context.Context, a *app, caller domain.AccountID) (domain.KittyID, error) {
				return id, a.svc.Buy(ctx, caller, id)
			})
		},
	}
}

func (c *cli) showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <kitty>",
		Short: "Show a kitty with its owner, parents and listing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := domain.ParseKittyID(args[0])
			if err != nil {
				return err
			}
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				details, err := a.svc.Describe(ctx, id)
				if err != nil {
					return err
				}
				return c.printKitty(cmd.OutOrStdout(), details)
			})
		},
	}
}

func (c *cli) kittiesCmd() *cobra.Command {
	var owner string
	cmd := &cobra.Command{
		Use:   "kitties",
		Short: "List kitties in id order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				kitties, err := a.svc.ListKitties(ctx, domain.AccountID(owner))
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if c.jsonOut {
					if kitties == nil {
						kitties = []core.KittyDetails{}
					}
					return writeJSON(out, kitties)
				}
				for _, k := range kitties {
					if err := c.printKitty(out, k); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "only kitties owned by this account")
	return cmd
}

func (c *cli) balanceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "balance <account>",
		Short: "Show an account's free and reserved balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withApp(cmd, func(_ context.Context, a *app) error {
				account := domain.AccountID(args[0])
				acct := a.ledger.Account(account)
				if c.jsonOut {
					return writeJSON(cmd.OutOrStdout(), map[string]any{
						"account": account, "free": acct.Free, "reserved": acct.Reserved,
					})
				}
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s free=%d reserved=%d\n", account, acct.Free, acct.Reserved)
				return err
			})
		},
	}
}

func (c *cli) depositCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "deposit <account> <amount>",
		Short: "Credit free balance to an account in the balances file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			amount, err := strconv.ParseUint(args[1], 10, 64)
			if err != nil {
				return fmt.Errorf("parse amount: %w", err)
			}
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				account := domain.AccountID(args[0])
				if err := a.ledger.Deposit(account, domain.Balance(amount)); err != nil {
					return err
				}
				if err := a.saveBalances(ctx); err != nil {
					return err
				}
				a.logger.Info("deposit", "account", account, "amount", amount)
				acct := a.ledger.Account(account)
				_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s free=%d reserved=%d\n", account, acct.Free, acct.Reserved)
				return err
			})
		},
	}
}

func (c *cli) printKitty(w io.Writer, d core.KittyDetails) error {
	if c.jsonOut {
		return writeJSON(w, d)
	}
	line := fmt.Sprintf("kitty %s genes=%s owner=%s listed=%t", d.ID, d.Genes, d.Owner, d.Listed)
	if d.Parents != nil {
		line += fmt.Sprintf(" parents=%s,%s", d.Parents.A, d.Parents.B)
	}
	_, err := fmt.Fprintln(w, line)
	return err
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
