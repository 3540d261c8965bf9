// Command echoctl runs operator tasks against an EchoPersona deployment:
// migrations, config checks, secret generation and bot registrations.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/TheCoderAdi/EchoPersona-Backend/internal/config"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/database"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/util"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "echoctl",
		Short:         "Operator tool for the EchoPersona backend",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	root.AddCommand(
		newMigrateCmd(),
		newCheckConfigCmd(),
		newHashPasswordCmd(),
		newGenKeyCmd(),
		newBotsCmd(),
	)
	return root
}

func connect(ctx context.Context) (*config.Config, *database.DB, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	pctx, cancel := context.WithTimeout(ctx, config.DBPingTimeout)
	defer cancel()
	if err := db.Ping(pctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}
	return cfg, db, nil
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, db, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			applied, err := db.Migrate(cmd.Context(), cfg.EmbeddingDimensions)
			if err != nil {
				return err
			}
			log.Info().Int("applied", applied).Msg("migrations up to date")
			return nil
		},
	}
}

func newCheckConfigCmd() *cobra.Command {
	var production bool

	cmd := &cobra.Command{
		Use:   "check-config",
		Short: "Load and validate configuration from the environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if err := cfg.Validate(production || cfg.IsProduction()); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "environment:        %s\n", cfg.Environment)
			fmt.Fprintf(out, "listen:             %s\n", cfg.Addr())
			fmt.Fprintf(out, "chat model:         %s\n", cfg.ChatModel)
			fmt.Fprintf(out, "embedding model:    %s (%d dims)\n", cfg.EmbeddingModel, cfg.EmbeddingDimensions)
			fmt.Fprintf(out, "mail enabled:       %t\n", cfg.MailEnabled())
			fmt.Fprintf(out, "bot persistence:    %t\n", cfg.EncryptionKey != "")
			fmt.Fprintf(out, "matrix homeserver:  %s\n", valueOrNone(cfg.MatrixHomeserver))
			fmt.Fprintf(out, "mint service:       %s\n", valueOrNone(cfg.MintServiceURL))
			fmt.Fprintln(out, "config OK")
			return nil
		},
	}
	cmd.Flags().BoolVar(&production, "production", false, "apply production checks regardless of APP_ENV")
	return cmd
}

func valueOrNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Print the bcrypt hash of a password",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := util.HashPassword(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func newGenKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gen-key",
		Short: "Generate a random 32-byte hex key for ENCRYPTION_KEY or JWT_SECRET",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := util.GenerateToken()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
}
