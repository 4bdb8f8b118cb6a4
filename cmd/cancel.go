package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rehearse-io/rehearse/internal/playbook"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <run-id>",
	Short: "Mark a stale run as cancelled",
	Long: `Cancel marks a non-terminal run as cancelled in the store.

A run executing in a live 'rehearse run' process is cancelled with Ctrl+C
there. This command cleans up runs left QUEUED or RUNNING by a process
that is no longer alive.`,
	Args: cobra.ExactArgs(1),
	Run:  runCancel,
}

func init() {
	rootCmd.AddCommand(cancelCmd)
}

func runCancel(cmd *cobra.Command, args []string) {
	requireInit()
	st, err := openStore()
	if err != nil {
		fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	ctx := context.Background()
	run, err := st.GetRun(ctx, args[0])
	if err != nil {
		fatalf("Failed to load run: %v", err)
	}

	if run.State.Terminal() {
		fmt.Printf("Run %s is already %s.\n", run.ID, run.State)
		return
	}

	now := time.Now()
	run.State = playbook.RunCancelled
	run.EndedAt = &now
	run.Error = "cancelled via rehearse cancel"
	if err := st.UpdateRun(ctx, run); err != nil {
		fatalf("Failed to update run: %v", err)
	}
	fmt.Printf("Run %s marked cancelled.\n", run.ID)
}
