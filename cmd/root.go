package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/rehearse-io/rehearse/internal/config"
	"github.com/rehearse-io/rehearse/internal/logging"
	"github.com/rehearse-io/rehearse/internal/store"
)

var (
	rehearseConfig *config.Config
	projectRoot    string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "rehearse",
	Short: "Rehearse - record once, replay anywhere",
	Long: `Rehearse records your interactions with a web app, distills them into
a parameterized playbook, and replays that playbook on demand in an
isolated browser session, locally or on a cloud worker.

Start with 'rehearse init', then 'rehearse record' to capture a flow and
'rehearse run' to replay it.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().BoolP("verbose", "V", false, "verbose output")
	rootCmd.PersistentFlags().StringP("project", "p", ".", "project directory")
}

// initConfig sets up logging and loads configuration.
func initConfig() {
	verbose, _ := rootCmd.PersistentFlags().GetBool("verbose")
	projectDir, _ := rootCmd.PersistentFlags().GetString("project")

	if err := logging.Initialize(projectDir); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: Failed to initialize logging: %v\n", err)
	} else {
		logging.RedirectStandardLog()
	}
	if verbose {
		logging.GetLogger().SetLevel(logging.DEBUG)
	}

	loader := config.NewLoader(projectDir)
	if loader.IsInitialized() {
		cfg, err := loader.Load()
		if err != nil {
			logging.Warn("Failed to load config: %v", err)
		} else {
			rehearseConfig = cfg
		}
		if root, err := loader.GetProjectRoot(); err == nil {
			projectRoot = root
		}
	}
	if rehearseConfig == nil {
		rehearseConfig = config.Default()
	}
	if projectRoot == "" {
		projectRoot = projectDir
	}
}

// requireInit exits unless the project has been initialized.
func requireInit() {
	projectDir, _ := rootCmd.PersistentFlags().GetString("project")
	if !config.NewLoader(projectDir).IsInitialized() {
		fmt.Fprintln(os.Stderr, "rehearse is not initialized here. Run 'rehearse init' first.")
		os.Exit(1)
	}
}

// openStore opens the project's playbook store.
func openStore() (*store.Store, error) {
	dataDir := filepath.Join(projectRoot, config.ConfigDirName)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return store.Open(filepath.Join(dataDir, "rehearse.db"))
}

// screenshotDir returns where failure captures land.
func screenshotDir() string {
	if rehearseConfig.Replay.ScreenshotDir != "" {
		return rehearseConfig.Replay.ScreenshotDir
	}
	return filepath.Join(projectRoot, config.ConfigDirName, "screenshots")
}
