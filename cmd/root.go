/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>

*/
package cmd

import (
	"fmt"
	"os"

	"github.com/mautops/docflow-gin/internal/api"
	"github.com/mautops/docflow-gin/internal/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "docflow",
	Short: "Regulated document workflow server",
	Long: `Docflow manages GMP document approval workflows.
It routes controlled documents through sequential approval steps,
captures 21 CFR Part 11 electronic signatures and keeps a
hash-chained, append-only audit trail of every action.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Config file path (default: search in current directory, ./config, or $HOME/.docflow)")
}

// GetRootCmd 返回根命令（用于测试）
func GetRootCmd() *cobra.Command {
	return rootCmd
}

// loadConfig 加载配置并初始化日志
func loadConfig(cmd *cobra.Command) (*config.Config, string, *logrus.Logger, error) {
	configPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, "", nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := api.NewLoggerFromConfig(&cfg.Log)
	if err != nil {
		return nil, "", nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	api.SetLogger(logger)
	return cfg, configPath, logger, nil
}
