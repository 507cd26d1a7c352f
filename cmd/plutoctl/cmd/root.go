package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
	logger  *zap.Logger
	rootCmd = &cobra.Command{
		Use:   "plutoctl",
		Short: "CLI for the pluto tenant provisioning service",
		Long:  `plutoctl starts tenant provisioning deployments, watches their progress, and manages provisioning config records.`,
	}
)

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig, initLogger)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./plutoctl.yaml)")
	rootCmd.PersistentFlags().String("server", "http://localhost:8080", "pluto server base URL")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable verbose logging")

	viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	viper.BindPFlag("verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	rootCmd.AddCommand(provisionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configsCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("plutoctl")
		viper.AddConfigPath(".")
	}
	viper.SetEnvPrefix("PLUTO")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Println("Using config file:", viper.ConfigFileUsed())
	}
}

func initLogger() {
	var err error
	if viper.GetBool("verbose") {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Println("Failed to init logger:", err)
		os.Exit(1)
	}
}
