package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rehearse-io/rehearse/internal/config"
	"github.com/rehearse-io/rehearse/internal/playbook"
	"github.com/rehearse-io/rehearse/internal/session"
)

// doctorCmd represents the doctor command
var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Verify rehearse configuration and environment",
	Long: `Doctor runs health checks on your rehearse setup.

This command will:
• Check project initialization
• Validate the configuration
• Verify a Chrome or Chromium binary is available
• Open the playbook store
• Check inference credentials
• Probe the cloud worker endpoint when cloud mode is configured`,
	Run: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) {
	fmt.Println("rehearse health check")
	fmt.Println("=====================")
	fmt.Println()

	allPassed := true
	check := func(name string, fn func() error) {
		fmt.Printf("%-40s", name+"...")
		if err := fn(); err != nil {
			fmt.Println(" FAILED")
			fmt.Printf("    %v\n", err)
			allPassed = false
			return
		}
		fmt.Println(" ok")
	}

	projectDir, _ := cmd.Root().PersistentFlags().GetString("project")
	loader := config.NewLoader(projectDir)

	check("project initialization", func() error {
		if !loader.IsInitialized() {
			return fmt.Errorf("not initialized; run 'rehearse init'")
		}
		return nil
	})
	if !allPassed {
		os.Exit(1)
	}

	check("configuration", func() error {
		cfg, err := loader.Load()
		if err != nil {
			return err
		}
		rehearseConfig = cfg
		return nil
	})

	check("browser binary", func() error {
		_, err := session.FindChrome()
		return err
	})

	check("playbook store", func() error {
		st, err := openStore()
		if err != nil {
			return err
		}
		defer st.Close()
		_, err = st.ListPlaybooks(context.Background())
		return err
	})

	check("inference credentials", func() error {
		if rehearseConfig.Inference.Provider == "mock" {
			return nil
		}
		if rehearseConfig.Inference.APIKey == "" {
			return fmt.Errorf("no API key set for provider %q", rehearseConfig.Inference.Provider)
		}
		return nil
	})

	if rehearseConfig.Sessions.Mode == string(playbook.ModeCloud) || rehearseConfig.Sessions.CloudEndpoint != "" {
		check("cloud worker endpoint", func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return probeCloudEndpoint(ctx, rehearseConfig.Sessions.CloudEndpoint)
		})
	}

	fmt.Println()
	if allPassed {
		fmt.Println("All checks passed.")
	} else {
		fmt.Println("Some checks failed. Fix the issues above and rerun 'rehearse doctor'.")
		os.Exit(1)
	}
}

// probeCloudEndpoint checks the worker pool control API answers at all.
func probeCloudEndpoint(ctx context.Context, endpoint string) error {
	if endpoint == "" {
		return fmt.Errorf("sessions.cloud_endpoint is not set")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/v1/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("endpoint unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("endpoint unhealthy (status %d)", resp.StatusCode)
	}
	return nil
}
