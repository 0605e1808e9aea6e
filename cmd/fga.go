/*
Copyright © 2025 NAME HERE <EMAIL ADDRESS>

*/
package cmd

import (
	"fmt"
	"time"

	"github.com/mautops/docflow-gin/internal/auth"
	"github.com/spf13/cobra"
)

// fgaCmd represents the fga command
var fgaCmd = &cobra.Command{
	Use:   "fga",
	Short: "Manage OpenFGA authorization data",
}

// fgaModelCmd 输出授权模型
var fgaModelCmd = &cobra.Command{
	Use:   "model",
	Short: "Print the OpenFGA authorization model",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Fprintln(cmd.OutOrStdout(), auth.GetPermissionModel())
		return nil
	},
}

// fgaGrantRoleCmd 授予角色
var fgaGrantRoleCmd = &cobra.Command{
	Use:   "grant-role <user-id> <role>",
	Short: "Make a user a member of a role",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFGA(cmd, func(admin *auth.FGAAdmin) error {
			revoke, _ := cmd.Flags().GetBool("revoke")
			if revoke {
				return admin.RemoveRoleMember(cmd.Context(), args[0], args[1])
			}
			return admin.AddRoleMember(cmd.Context(), args[0], args[1])
		})
	},
}

// fgaGrantPermissionCmd 授予权限
var fgaGrantPermissionCmd = &cobra.Command{
	Use:   "grant-permission <role> <permission>",
	Short: "Grant a permission to every member of a role",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withFGA(cmd, func(admin *auth.FGAAdmin) error {
			revoke, _ := cmd.Flags().GetBool("revoke")
			if revoke {
				return admin.RevokeRolePermission(cmd.Context(), args[0], args[1])
			}
			return admin.GrantRolePermission(cmd.Context(), args[0], args[1])
		})
	},
}

// withFGA 连接 OpenFGA 后执行操作
func withFGA(cmd *cobra.Command, fn func(admin *auth.FGAAdmin) error) error {
	cfg, _, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	client, err := auth.NewOpenFGAClientWithRetry(cfg.OpenFGA.APIURL, cfg.OpenFGA.StoreID, cfg.OpenFGA.ModelID, 3, time.Second)
	if err != nil {
		return err
	}
	if err := fn(auth.NewFGAAdmin(client)); err != nil {
		return err
	}
	logger.WithField("args", cmd.Flags().Args()).Info("openfga relation updated")
	return nil
}

func init() {
	rootCmd.AddCommand(fgaCmd)
	fgaCmd.AddCommand(fgaModelCmd, fgaGrantRoleCmd, fgaGrantPermissionCmd)

	fgaGrantRoleCmd.Flags().Bool("revoke", false, "Remove the relation instead of writing it")
	fgaGrantPermissionCmd.Flags().Bool("revoke", false, "Remove the relation instead of writing it")
}
