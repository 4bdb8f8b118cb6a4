package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	runsPlaybook string
	runsLimit    int
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List and inspect runs",
	Run:   runRunsList,
}

var runsShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show one run in detail",
	Args:  cobra.ExactArgs(1),
	Run:   runRunsShow,
}

var runsSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Delete finished runs older than the retention window",
	Run:   runRunsSweep,
}

func init() {
	runsCmd.Flags().StringVar(&runsPlaybook, "playbook", "", "filter by playbook ID")
	runsCmd.Flags().IntVar(&runsLimit, "limit", 20, "maximum runs to list")
	runsCmd.AddCommand(runsShowCmd)
	runsCmd.AddCommand(runsSweepCmd)
	rootCmd.AddCommand(runsCmd)
}

func runRunsList(cmd *cobra.Command, args []string) {
	requireInit()
	st, err := openStore()
	if err != nil {
		fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	runs, err := st.ListRuns(context.Background(), runsPlaybook, runsLimit)
	if err != nil {
		fatalf("Failed to list runs: %v", err)
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return
	}

	fmt.Printf("%-14s %-12s %-10s %-7s %-20s\n", "RUN", "PLAYBOOK", "STATE", "MODE", "CREATED")
	for _, run := range runs {
		fmt.Printf("%-14s %-12s %-10s %-7s %-20s\n",
			run.ID, run.Request.PlaybookID, run.State, run.Request.Mode,
			run.CreatedAt.Format("2006-01-02 15:04:05"))
	}
}

func runRunsShow(cmd *cobra.Command, args []string) {
	requireInit()
	st, err := openStore()
	if err != nil {
		fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	run, err := st.GetRun(context.Background(), args[0])
	if err != nil {
		fatalf("Failed to load run: %v", err)
	}

	fmt.Printf("Run:      %s\n", run.ID)
	fmt.Printf("Playbook: %s v%d\n", run.Request.PlaybookID, run.Request.Version)
	fmt.Printf("Mode:     %s\n", run.Request.Mode)
	fmt.Printf("State:    %s\n", run.State)
	if run.SessionID != "" {
		fmt.Printf("Session:  %s\n", run.SessionID)
	}
	fmt.Printf("Created:  %s\n", run.CreatedAt.Format(time.RFC3339))
	if run.StartedAt != nil {
		fmt.Printf("Started:  %s\n", run.StartedAt.Format(time.RFC3339))
	}
	if run.EndedAt != nil {
		fmt.Printf("Ended:    %s\n", run.EndedAt.Format(time.RFC3339))
	}
	printRun(run)
}

func runRunsSweep(cmd *cobra.Command, args []string) {
	requireInit()
	st, err := openStore()
	if err != nil {
		fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	retention := time.Duration(rehearseConfig.Runs.RetentionDays) * 24 * time.Hour
	swept, err := st.SweepRuns(context.Background(), retention)
	if err != nil {
		fatalf("Sweep failed: %v", err)
	}
	fmt.Printf("Removed %d run(s) older than %d day(s).\n", swept, rehearseConfig.Runs.RetentionDays)
}
