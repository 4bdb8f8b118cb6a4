package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/rehearse-io/rehearse/internal/playbook"
	"github.com/rehearse-io/rehearse/internal/watcher"
)

var (
	exportVersion int
	exportOut     string
)

var playbooksCmd = &cobra.Command{
	Use:   "playbooks",
	Short: "List and manage playbooks",
	Run:   runPlaybooksList,
}

var playbooksShowCmd = &cobra.Command{
	Use:   "show <playbook-id>",
	Short: "Show a playbook's steps and parameters",
	Args:  cobra.ExactArgs(1),
	Run:   runPlaybooksShow,
}

var playbooksExportCmd = &cobra.Command{
	Use:   "export <playbook-id>",
	Short: "Export a playbook to a YAML file",
	Args:  cobra.ExactArgs(1),
	Run:   runPlaybooksExport,
}

var playbooksImportCmd = &cobra.Command{
	Use:   "import <file.yaml>",
	Short: "Import a playbook from a YAML file",
	Args:  cobra.ExactArgs(1),
	Run:   runPlaybooksImport,
}

var playbooksWatchCmd = &cobra.Command{
	Use:   "watch <dir>",
	Short: "Import playbook YAML files dropped into a directory",
	Args:  cobra.ExactArgs(1),
	Run:   runPlaybooksWatch,
}

func init() {
	playbooksExportCmd.Flags().IntVar(&exportVersion, "version", 0, "version to export (0 = latest)")
	playbooksExportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file (default <id>.yaml)")
	playbooksCmd.AddCommand(playbooksShowCmd)
	playbooksCmd.AddCommand(playbooksExportCmd)
	playbooksCmd.AddCommand(playbooksImportCmd)
	playbooksCmd.AddCommand(playbooksWatchCmd)
	rootCmd.AddCommand(playbooksCmd)
}

func runPlaybooksList(cmd *cobra.Command, args []string) {
	requireInit()
	st, err := openStore()
	if err != nil {
		fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	summaries, err := st.ListPlaybooks(context.Background())
	if err != nil {
		fatalf("Failed to list playbooks: %v", err)
	}
	if len(summaries) == 0 {
		fmt.Println("No playbooks recorded yet. Try 'rehearse record'.")
		return
	}

	fmt.Printf("%-12s %-30s %-8s %-6s %-20s\n", "ID", "NAME", "VERSION", "STEPS", "CREATED")
	for _, s := range summaries {
		fmt.Printf("%-12s %-30s v%-7d %-6d %-20s\n",
			s.ID, s.Name, s.LatestVersion, s.StepCount,
			s.CreatedAt.Format("2006-01-02 15:04:05"))
	}
}

func runPlaybooksShow(cmd *cobra.Command, args []string) {
	requireInit()
	st, err := openStore()
	if err != nil {
		fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	pb, err := st.LoadPlaybook(context.Background(), args[0], 0)
	if err != nil {
		fatalf("Failed to load playbook: %v", err)
	}

	fmt.Printf("Playbook: %s (v%d)\n", pb.Name, pb.Version)
	fmt.Printf("ID:       %s\n", pb.ID)
	if pb.RecordedFrom != "" {
		fmt.Printf("Recorded: %s\n", pb.RecordedFrom)
	}
	fmt.Printf("Created:  %s\n\n", pb.CreatedAt.Format(time.RFC3339))

	fmt.Println("Steps:")
	for _, step := range pb.Steps {
		line := fmt.Sprintf("  %d. [%s] %s", step.Index, step.Kind, step.Title)
		if step.Kind == playbook.StepRawReplay {
			line = fmt.Sprintf("  %d. [%s] %d literal action(s)", step.Index, step.Kind, len(step.Actions))
		}
		if step.Target.Selector != "" {
			line += fmt.Sprintf(" (%s)", step.Target.Selector)
		}
		fmt.Println(line)
	}

	if len(pb.Parameters) > 0 {
		fmt.Println("\nParameters:")
		for _, p := range pb.Parameters {
			if p.Example != "" {
				fmt.Printf("  %s (%s, e.g. %s)\n", p.Name, p.Type, p.Example)
			} else {
				fmt.Printf("  %s (%s)\n", p.Name, p.Type)
			}
		}
	}
}

func runPlaybooksExport(cmd *cobra.Command, args []string) {
	requireInit()
	st, err := openStore()
	if err != nil {
		fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	out := exportOut
	if out == "" {
		out = args[0] + ".yaml"
	}
	if err := st.ExportPlaybook(context.Background(), args[0], exportVersion, out); err != nil {
		fatalf("Export failed: %v", err)
	}
	fmt.Printf("Exported to %s\n", out)
}

func runPlaybooksImport(cmd *cobra.Command, args []string) {
	requireInit()
	st, err := openStore()
	if err != nil {
		fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	pb, err := st.ImportPlaybook(context.Background(), args[0])
	if err != nil {
		fatalf("Import failed: %v", err)
	}
	fmt.Printf("Imported %s as %s v%d (%d steps)\n", args[0], pb.ID, pb.Version, len(pb.Steps))
}

func runPlaybooksWatch(cmd *cobra.Command, args []string) {
	requireInit()
	st, err := openStore()
	if err != nil {
		fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	w, err := watcher.NewImportWatcher(args[0], st, 500*time.Millisecond)
	if err != nil {
		fatalf("Failed to create watcher: %v", err)
	}
	w.OnImport(func(pb *playbook.Playbook) {
		fmt.Printf("Imported %s v%d (%s)\n", pb.ID, pb.Version, pb.Name)
	})

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	fmt.Printf("Watching %s for playbook files. Ctrl+C to stop.\n", args[0])
	if err := w.Start(ctx); err != nil && err != context.Canceled {
		fatalf("Watcher stopped: %v", err)
	}
}
