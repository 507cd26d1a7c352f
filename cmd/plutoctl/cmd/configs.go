package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/systeminit/pluto/pkg/model"
)

var configsCmd = &cobra.Command{
	Use:   "configs",
	Short: "Manage provisioning config records",
}

var configsApplyCmd = &cobra.Command{
	Use:   "apply <file.yaml>",
	Short: "Create or update a provisioning config record from YAML",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		var cfg model.ProvisioningConfig
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("failed to parse config file: %w", err)
		}

		body, _ := json.Marshal(cfg)
		resp, err := http.Post(viper.GetString("server")+"/api/v1/configs", "application/json", bytes.NewReader(body))
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("server rejected config: %s", resp.Status)
		}
		fmt.Println("✅ config applied:", cfg.ID)
		return nil
	},
}

var configsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List provisioning config records",
	RunE: func(cmd *cobra.Command, args []string) error {
		resp, err := http.Get(viper.GetString("server") + "/api/v1/configs")
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		var out struct {
			Configs []model.ProvisioningConfig `json:"configs"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return err
		}
		for _, cfg := range out.Configs {
			fmt.Printf("%s\taccount=%s credential=%s region=%s template=%s\n",
				cfg.ID, cfg.AccountSchema, cfg.CredentialSchema, cfg.Region, cfg.TemplateRef)
		}
		return nil
	},
}

func init() {
	configsCmd.AddCommand(configsApplyCmd)
	configsCmd.AddCommand(configsListCmd)
}
