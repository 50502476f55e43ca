// Command backfillctl is a terminal client for the backfill orchestrator's
// start/status/cancel/list/summary operations.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "backfillctl",
	Short: "backfillctl drives the analytics backfill orchestrator over HTTP",
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.backfillctl.yaml)")
	rootCmd.PersistentFlags().String("url", "http://localhost:8080", "ingestd API URL")
	rootCmd.PersistentFlags().String("token", "", "bearer token for the ingestd API")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))
	viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, _ := os.UserHomeDir()
		viper.AddConfigPath(home)
		viper.SetConfigType("yaml")
		viper.SetConfigName(".backfillctl")
	}

	viper.SetEnvPrefix("BACKFILLCTL")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()
}

func main() {
	Execute()
}
