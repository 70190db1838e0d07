package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/apkaapna007-a11y/fluffy-octo-funicular/internal/session"
)

func newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Inspect persisted research sessions",
	}
	var knowledge bool
	get := &cobra.Command{
		Use:   "get <session-id>",
		Short: "Print a stored session as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := loadEnv()
			if err != nil {
				return err
			}
			defer logger.Sync()
			if cfg.Session.Backend == session.BackendMemory {
				return fmt.Errorf("the memory session backend does not persist across processes; configure redis, postgres or sqlite")
			}

			store, err := session.Open(cmd.Context(), cfg.Store(), logger)
			if err != nil {
				return err
			}
			defer store.Close()

			var v any
			if knowledge {
				v, err = store.GetKnowledge(cmd.Context(), args[0])
			} else {
				v, err = store.GetSession(cmd.Context(), args[0])
			}
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(v)
		},
	}
	get.Flags().BoolVar(&knowledge, "knowledge", false, "print the session's knowledge entries instead")
	cmd.AddCommand(get)
	return cmd
}
