package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/systeminit/pluto/pkg/model"
)

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Start a tenant provisioning deployment",
	Long:  `Starts a provisioning pipeline for the given config and account name, then optionally waits for it to finish.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configID, _ := cmd.Flags().GetString("config-id")
		account, _ := cmd.Flags().GetString("account")
		wait, _ := cmd.Flags().GetBool("wait")

		if configID == "" || account == "" {
			return fmt.Errorf("both --config-id and --account are required")
		}

		server := viper.GetString("server")
		body, _ := json.Marshal(map[string]string{
			"config_id":    configID,
			"account_name": account,
		})
		resp, err := http.Post(server+"/api/v1/deployments", "application/json", bytes.NewReader(body))
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		var out struct {
			DeploymentID string `json:"deployment_id"`
			Error        string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return err
		}
		if resp.StatusCode != http.StatusAccepted {
			return fmt.Errorf("server rejected deployment: %s", out.Error)
		}

		logger.Info("deployment started",
			zap.String("deployment_id", out.DeploymentID),
			zap.String("account", account),
		)
		fmt.Println("deployment id:", out.DeploymentID)

		if !wait {
			return nil
		}
		return waitForDeployment(server, out.DeploymentID)
	},
}

func waitForDeployment(server, id string) error {
	for {
		prog, err := fetchProgress(server, id)
		if err != nil {
			return err
		}
		if prog.Completed {
			printProgress(prog)
			if !prog.Success {
				return fmt.Errorf("deployment failed: %s", prog.Error)
			}
			return nil
		}
		time.Sleep(2 * time.Second)
	}
}

func fetchProgress(server, id string) (*model.Progress, error) {
	resp, err := http.Get(server + "/api/v1/deployments/" + id + "/progress")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("progress request failed: %s", resp.Status)
	}
	var prog model.Progress
	if err := json.NewDecoder(resp.Body).Decode(&prog); err != nil {
		return nil, err
	}
	return &prog, nil
}

func printProgress(prog *model.Progress) {
	for _, s := range prog.Steps {
		mark := "⚙"
		switch s.Status {
		case model.StepCompleted:
			mark = "✅"
		case model.StepFailed:
			mark = "❌"
		}
		fmt.Printf("%s %s: %s\n", mark, s.Step, s.Message)
	}
}

func init() {
	provisionCmd.Flags().String("config-id", "", "Provisioning config record id")
	provisionCmd.Flags().String("account", "", "Tenant account name (must be unique)")
	provisionCmd.Flags().Bool("wait", false, "Poll until the deployment reaches a terminal status")
}
