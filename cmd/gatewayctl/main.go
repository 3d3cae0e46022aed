// Command gatewayctl is the operator tool for the payment-order gateway:
// credential hashing, fixture seeding and one-off maintenance passes.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/ayo6706/payorder-gateway/internal/app"
	"github.com/ayo6706/payorder-gateway/internal/config"
	"github.com/ayo6706/payorder-gateway/internal/credential"
	"github.com/ayo6706/payorder-gateway/internal/repository"
	"github.com/ayo6706/payorder-gateway/internal/service"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// Version is set at build time.
var Version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "gatewayctl",
		Short:         "Operator commands for the payment-order gateway",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			verbose, _ := cmd.Flags().GetBool("verbose")
			level := "warn"
			if verbose {
				level = "debug"
			}
			logger, err := app.NewLogger(level)
			if err != nil {
				return err
			}
			zap.ReplaceGlobals(logger)
			return nil
		},
	}
	root.PersistentFlags().BoolP("verbose", "v", false, "Log storage activity")

	root.AddCommand(hashKeyCmd())
	root.AddCommand(seedCmd())
	root.AddCommand(reassignCmd())
	root.AddCommand(reconcileCmd())
	return root
}

func hashKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-key <secret>",
		Short: "Print the argon2 hash of an API key or password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			encoded, err := credential.Default().Hash(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), encoded)
			return nil
		},
	}
}

func seedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Load merchants, banks, staff and blacklist entries from a YAML file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("file")
			backendName, _ := cmd.Flags().GetString("backend")

			fx, err := LoadFixtures(path)
			if err != nil {
				return err
			}
			return withBackend(cmd.Context(), backendName, func(ctx context.Context, _ *repository.Resolver, b repository.Backend) error {
				n, err := fx.Apply(ctx, b, credential.Default())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "seeded %d records into %s\n", n, b.Name())
				return nil
			})
		},
	}
	cmd.Flags().StringP("file", "f", "fixtures.yaml", "Fixture file")
	cmd.Flags().StringP("backend", "b", "", "Backend to seed (default: the active one)")
	return cmd
}

func reassignCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reassign",
		Short: "Redistribute pending withdrawals across ready processors",
		RunE: func(cmd *cobra.Command, args []string) error {
			backendName, _ := cmd.Flags().GetString("backend")
			batch, _ := cmd.Flags().GetInt("batch")
			return withBackend(cmd.Context(), backendName, func(ctx context.Context, _ *repository.Resolver, b repository.Backend) error {
				summary, err := service.NewAssigner(batch).Reassign(ctx, b)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), summary)
			})
		},
	}
	cmd.Flags().StringP("backend", "b", "", "Backend to reassign on (default: the active one)")
	cmd.Flags().Int("batch", 0, "Maximum withdrawals per pass (0 uses the default)")
	return cmd
}

func reconcileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Check withdrawal ledgers against order status on every backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			grace, _ := cmd.Flags().GetDuration("grace")
			return withBackend(cmd.Context(), "", func(ctx context.Context, resolver *repository.Resolver, _ repository.Backend) error {
				ledger := service.NewLedger(service.LedgerConfig{})
				report, err := service.NewReconciliationService(resolver, ledger).WithGrace(grace).Run(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), report)
			})
		},
	}
	cmd.Flags().Duration("grace", 0, "Minimum order age before repair (0 uses the default)")
	return cmd
}

// withBackend opens storage from the environment and runs fn against the
// named backend, or the active one when name is empty.
func withBackend(ctx context.Context, name string, fn func(context.Context, *repository.Resolver, repository.Backend) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.LoadStorage()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	storage, err := app.OpenStorage(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer storage.Close()

	b, err := pickBackend(ctx, storage.Resolver, name)
	if err != nil {
		return err
	}
	return fn(ctx, storage.Resolver, b)
}

func pickBackend(ctx context.Context, resolver *repository.Resolver, name string) (repository.Backend, error) {
	if name == "" {
		return resolver.Active(ctx)
	}
	for _, b := range resolver.Backends() {
		if b.Name() == name {
			return b, nil
		}
	}
	return nil, fmt.Errorf("backend %q is not configured", name)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
