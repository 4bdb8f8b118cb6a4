package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rehearse-io/rehearse/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize rehearse in the current project",
	Long: `Init creates a .rehearse directory with a default config.yaml.

Edit the config afterwards to set your inference provider and, for cloud
replay, the worker pool endpoint.`,
	Run: runInit,
}

func init() {
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) {
	projectDir, _ := cmd.Root().PersistentFlags().GetString("project")
	loader := config.NewLoader(projectDir)

	if loader.IsInitialized() {
		fmt.Println("rehearse is already initialized here.")
		return
	}

	cfg := config.Default()
	path := loader.GetConfigPath()
	if err := loader.Save(cfg, path); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to write config: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Created %s\n", path)
	fmt.Println("Next steps:")
	fmt.Println("  1. Set inference.api_key (or export OPENAI_API_KEY / ANTHROPIC_API_KEY)")
	fmt.Println("  2. rehearse record <name> --url <app-url>")
	fmt.Println("  3. rehearse run <playbook-id>")
}
