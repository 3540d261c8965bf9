package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/TheCoderAdi/EchoPersona-Backend/internal/repository"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/supervisor"
)

func newBotsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bots",
		Short: "Inspect persisted bot registrations",
	}
	cmd.AddCommand(newBotsListCmd(), newBotsForgetCmd())
	return cmd
}

// bots list decrypts registrations with the configured key, so it reports
// exactly what the server would restore on startup.
func newBotsListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List users whose bots are restored on startup",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, db, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			if cfg.EncryptionKey == "" {
				return fmt.Errorf("ENCRYPTION_KEY is not set; registrations are not persisted")
			}

			store, err := supervisor.NewEncryptedTokenStore(repository.NewBotRegistrationRepository(db.DB), cfg.EncryptionKey)
			if err != nil {
				return err
			}
			tokens, err := store.LoadAll(cmd.Context())
			if err != nil {
				return err
			}

			users := make([]string, 0, len(tokens))
			for userID := range tokens {
				users = append(users, userID)
			}
			sort.Strings(users)

			out := cmd.OutOrStdout()
			for _, userID := range users {
				fmt.Fprintln(out, userID)
			}
			fmt.Fprintf(out, "%d registration(s)\n", len(users))
			return nil
		},
	}
}

func newBotsForgetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "forget <userId>",
		Short: "Delete a bot registration so it is not restored",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, db, err := connect(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			if err := repository.NewBotRegistrationRepository(db.DB).Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "forgot bot registration for %s\n", args[0])
			return nil
		},
	}
}
