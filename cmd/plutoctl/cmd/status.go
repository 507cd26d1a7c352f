package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var statusCmd = &cobra.Command{
	Use:   "status <deployment-id>",
	Short: "Show the step log of a deployment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		prog, err := fetchProgress(viper.GetString("server"), args[0])
		if err != nil {
			return err
		}
		printProgress(prog)
		switch {
		case !prog.Completed:
			fmt.Println("⚙ deployment still running")
		case prog.Success:
			fmt.Println("✅ deployment completed")
		default:
			fmt.Printf("❌ deployment failed: %s\n", prog.Error)
		}
		return nil
	},
}
