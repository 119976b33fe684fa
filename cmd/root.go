// Package cmd provides the command-line interface for Anchor with
// configuration from multiple sources.
//
// Configuration precedence (highest to lowest):
//  1. Command-line flags (--config, --port, etc.)
//  2. ANCHOR_CONFIG_FILE environment variable - custom config file path
//  3. Individual environment variables (ANCHOR_SERVER_PORT, etc.)
//  4. Configuration file (.anchor.yml)
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "anchor",
	Short: "A widget engine for server-rendered host pages",
	Long: `Anchor mounts isolated widget instances into host HTML pages. It scans a
page for elements carrying a widget attribute, resolves each named widget from
the registry, and renders it into its mount point behind a fault boundary so
one failing widget never takes its siblings down.

Quick Start:
  anchor serve page.html          Serve a hydrated page with live reload
  anchor render page.html         Hydrate a page once and print the result
  anchor list                     List registered widgets

Documentation: https://github.com/anchor-ui/anchor`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .anchor.yml, can also use ANCHOR_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
}

// initConfig wires viper to the config file and the ANCHOR_ environment
// variables. A missing config file is not an error; defaults apply.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("ANCHOR_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".anchor")
	}

	viper.SetEnvPrefix("ANCHOR")
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}
