package main

import (
	"fmt"
	"os"
	"strings"

	"webcall/internal/config"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	configFile string
	v          = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "webcall",
	Short: "Place outbound voice calls from a local browser page",
	Long: `webcall keeps a set of provider credentials in local storage, fetches
short-lived access tokens from the token server, and drives a single
outbound call at a time. Run "webcall ui" for the browser page.`,
	SilenceUsage: true,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "optional config file (yaml, json or toml) using the environment key names")
	flags.String("env", "", "environment: local, dev, staging, production")
	flags.String("store", "", "credential store backend: file, redis, postgres, memory")
	flags.String("store-path", "", "file store location")
	flags.String("token-url", "", "token endpoint URL")

	bindFlag("APP_ENV", "env")
	bindFlag("STORE_BACKEND", "store")
	bindFlag("STORE_FILE_PATH", "store-path")
	bindFlag("TOKEN_URL", "token-url")

	cobra.OnInitialize(readConfigFile)
}

func bindFlag(key, flag string) {
	if err := v.BindPFlag(key, rootCmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func readConfigFile() {
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if configFile == "" {
		return
	}
	v.SetConfigFile(configFile)
	if err := v.ReadInConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to read config file: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig resolves every key through viper: flag, then environment, then
// config file, then the defaults in config.LoadFrom.
func loadConfig() (config.Config, error) {
	return config.LoadFrom(v.GetString)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
