package main

import (
	"fmt"

	"webcall/internal/credentials"

	"github.com/spf13/cobra"
)

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Validate and save provider credentials",
	Long: `Validate the credential format, probe the token endpoint with the set
and save it to the credential store. Any field left empty is read from the
TWILIO_ACCOUNT_SID, TWILIO_API_KEY_SID, TWILIO_API_KEY_SECRET and
TWILIO_APP_SID environment variables.`,
	RunE: runConfigure,
}

var configureSim simFlags

func init() {
	f := configureCmd.Flags()
	f.String("account-id", "", "account identifier (AC...)")
	f.String("api-key-id", "", "API key identifier (SK...)")
	f.String("api-key-secret", "", "API key secret")
	f.String("application-id", "", "voice application identifier (AP...)")
	configureSim.register(configureCmd)

	for key, flag := range map[string]string{
		"TWILIO_ACCOUNT_SID":    "account-id",
		"TWILIO_API_KEY_SID":    "api-key-id",
		"TWILIO_API_KEY_SECRET": "api-key-secret",
		"TWILIO_APP_SID":        "application-id",
	} {
		if err := v.BindPFlag(key, configureCmd.Flags().Lookup(flag)); err != nil {
			panic(err)
		}
	}
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(cmd.Context(), cfg, configureSim.options())
	if err != nil {
		return err
	}
	defer a.Close()

	set := credentials.Set{
		AccountID:     v.GetString("TWILIO_ACCOUNT_SID"),
		APIKeyID:      v.GetString("TWILIO_API_KEY_SID"),
		APIKeySecret:  v.GetString("TWILIO_API_KEY_SECRET"),
		ApplicationID: v.GetString("TWILIO_APP_SID"),
	}

	err = a.ctrl.Configure(cmd.Context(), set)
	fmt.Fprintln(cmd.OutOrStdout(), a.ctrl.Snapshot().Message)
	return err
}
