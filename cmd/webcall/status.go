package main

import (
	"fmt"

	"webcall/internal/credentials"
	"webcall/internal/kvstore"
	"webcall/pkg/logger"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show what the credential store holds",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		kv, closer, err := kvstore.Open(cmd.Context(), cfg)
		if err != nil {
			return err
		}
		defer closer.Close()

		store, err := credentials.NewStore(kv, logger.New(cfg.App.Env))
		if err != nil {
			return err
		}
		set, class, err := store.Load(cmd.Context())
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "store:       %s\n", cfg.Store.Backend)
		fmt.Fprintf(out, "credentials: %s\n", class)
		if class != credentials.Absent {
			m := set.Masked()
			fmt.Fprintf(out, "account:     %s\napi key:     %s\nsecret:      %s\napplication: %s\n",
				m.AccountID, m.APIKeyID, m.APIKeySecret, m.ApplicationID)
		}
		fmt.Fprintf(out, "token url:   %s\n", cfg.Client.TokenURL)
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Forget the saved credentials",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), cfg, simFlags{}.options())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.ctrl.Reset(cmd.Context()); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "credentials cleared")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(resetCmd)
}
