// cmd/seeder/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/unclebandit/engagement-escrow/internal/config"
	"github.com/unclebandit/engagement-escrow/internal/db"
	"github.com/unclebandit/engagement-escrow/internal/logging"
	"github.com/unclebandit/engagement-escrow/internal/model"
	"github.com/unclebandit/engagement-escrow/internal/service"
)

type cfgKey struct{}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var envFile string
	root := &cobra.Command{
		Use:          "seeder",
		Short:        "Prepare escrow storage: apply the schema and fund wallets",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			var files []string
			if envFile != "" {
				files = append(files, envFile)
			}
			cfg, err := config.Load(files...)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if _, err := logging.Setup("seeder", cfg.Debug); err != nil {
				return err
			}
			cmd.SetContext(context.WithValue(cmd.Context(), cfgKey{}, cfg))
			return nil
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", "", "path to a .env file (default .env)")

	root.AddCommand(migrateCommand())
	root.AddCommand(fundCommand())
	return root
}

func configFrom(cmd *cobra.Command) *config.Config {
	cfg, _ := cmd.Context().Value(cfgKey{}).(*config.Config)
	return cfg
}

func migrateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the postgres tables if they do not exist",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := configFrom(cmd)
			if cfg.StoreBackend != config.StorePostgres {
				return fmt.Errorf("migrate needs STORE_BACKEND=%s, got %q", config.StorePostgres, cfg.StoreBackend)
			}
			conn, err := db.Open(cmd.Context(), cfg.PostgresDSN())
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := db.Migrate(cmd.Context(), conn); err != nil {
				return err
			}
			slog.Info("schema applied", "database", cfg.DBName)
			return nil
		},
	}
}

func fundCommand() *cobra.Command {
	var (
		identity string
		amount   uint64
	)
	cmd := &cobra.Command{
		Use:   "fund",
		Short: "Credit a wallet with native units",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := configFrom(cmd)
			owner, err := model.ParseIdentity(identity)
			if err != nil {
				return err
			}
			balance, err := fund(cmd.Context(), cfg, owner, amount)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s balance: %d\n", owner, balance)
			return nil
		},
	}
	cmd.Flags().StringVar(&identity, "identity", "", "hex ed25519 public key of the wallet owner")
	cmd.Flags().Uint64Var(&amount, "amount", 0, "amount to credit")
	_ = cmd.MarkFlagRequired("identity")
	_ = cmd.MarkFlagRequired("amount")
	return cmd
}

func fund(ctx context.Context, cfg *config.Config, owner model.Identity, amount uint64) (uint64, error) {
	if cfg.StoreBackend == config.StoreMemory {
		return 0, errors.New("fund needs a persistent STORE_BACKEND (badger or postgres)")
	}
	store, err := db.OpenStore(ctx, cfg, slog.Default())
	if err != nil {
		return 0, err
	}
	defer store.Close()

	svc := &service.CampaignService{Store: store, Logger: slog.Default()}
	return svc.Fund(ctx, owner, amount)
}
