package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/rehearse-io/rehearse/internal/dispatch"
	"github.com/rehearse-io/rehearse/internal/playbook"
	"github.com/rehearse-io/rehearse/internal/replay"
	"github.com/rehearse-io/rehearse/internal/session"
	"github.com/rehearse-io/rehearse/internal/ui"
)

var (
	runVersion int
	runParams  []string
	runMode    string
	runWatch   bool
)

var runCmd = &cobra.Command{
	Use:   "run <playbook-id>",
	Short: "Replay a playbook in an isolated session",
	Long: `Run binds the playbook's parameters, provisions a fresh browser
session, and replays the playbook step by step.

Credential parameters left unbound are prompted for without echo.

Examples:
  rehearse run pb_3f2a91 --param email=qa@example.com --param password=
  rehearse run pb_3f2a91 --version 2 --mode cloud --watch`,
	Args: cobra.ExactArgs(1),
	Run:  runRun,
}

func init() {
	runCmd.Flags().IntVar(&runVersion, "version", 0, "playbook version (0 = latest)")
	runCmd.Flags().StringArrayVar(&runParams, "param", nil, "parameter binding as name=value (repeatable)")
	runCmd.Flags().StringVar(&runMode, "mode", "", "execution mode: local or cloud (default from config)")
	runCmd.Flags().BoolVar(&runWatch, "watch", false, "watch run progress in a live view")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) {
	requireInit()
	playbookID := args[0]
	ctx := context.Background()

	st, err := openStore()
	if err != nil {
		fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	pb, err := st.LoadPlaybook(ctx, playbookID, runVersion)
	if err != nil {
		fatalf("Failed to load playbook: %v", err)
	}

	bindings, err := collectBindings(pb)
	if err != nil {
		fatalf("%v", err)
	}

	mode := playbook.Mode(runMode)
	if runMode == "" {
		mode = playbook.Mode(rehearseConfig.Sessions.Mode)
	}

	sessions := session.NewManager(session.Options{
		Headless:      rehearseConfig.Sessions.Headless,
		CloudEndpoint: rehearseConfig.Sessions.CloudEndpoint,
		CloudToken:    rehearseConfig.Sessions.CloudAuthToken,
		AcquireWait:   rehearseConfig.AcquireWait(),
	})
	defer sessions.Close()

	factory := func(sess *session.Session) dispatch.Replayer {
		return replay.NewEngine(replay.NewChromedpDriver(sess.Ctx), replay.Options{
			Retries:        rehearseConfig.Replay.StepRetries,
			Backoff:        rehearseConfig.RetryBackoff(),
			SettleInterval: rehearseConfig.SettleInterval(),
			SettleDeadline: rehearseConfig.SettleDeadline(),
			ScreenshotDir:  screenshotDir(),
		})
	}

	d := dispatch.New(st, sessions, factory, dispatch.Options{
		MaxConcurrent: rehearseConfig.Runs.MaxConcurrent,
		RunTimeout:    rehearseConfig.RunTimeout(),
	})

	run, err := d.Submit(ctx, playbook.RunRequest{
		PlaybookID: pb.ID,
		Version:    pb.Version,
		Bindings:   bindings,
		Mode:       mode,
	})
	if err != nil {
		fatalf("Failed to submit run: %v", err)
	}

	fmt.Printf("Run %s started (playbook %s v%d, mode %s)\n", run.ID, pb.ID, pb.Version, mode)

	// Ctrl+C cancels the run; the step in flight finishes first.
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "\nCancelling run...")
		if err := d.Cancel(run.ID, 30*time.Second); err != nil {
			fmt.Fprintf(os.Stderr, "Cancel failed: %v\n", err)
		}
	}()

	if runWatch {
		if err := ui.Watch(st, run.ID); err != nil {
			fmt.Fprintf(os.Stderr, "Watch view failed: %v\n", err)
		}
	}

	d.Wait(run.ID)
	d.Shutdown()

	final, err := st.GetRun(ctx, run.ID)
	if err != nil {
		fatalf("Failed to read run result: %v", err)
	}
	printRun(final)
	if final.State != playbook.RunSucceeded {
		os.Exit(1)
	}
}

// collectBindings merges --param flags with interactive prompts for
// anything still missing. Credential values never echo.
func collectBindings(pb *playbook.Playbook) (map[string]string, error) {
	bindings := make(map[string]string)
	for _, kv := range runParams {
		name, value, found := strings.Cut(kv, "=")
		if !found {
			return nil, fmt.Errorf("invalid --param %q, want name=value", kv)
		}
		bindings[name] = value
	}

	for _, p := range pb.Parameters {
		if v, ok := bindings[p.Name]; ok && v != "" {
			continue
		}
		value, err := promptParameter(p)
		if err != nil {
			return nil, err
		}
		bindings[p.Name] = value
	}
	return bindings, nil
}

func promptParameter(p playbook.Parameter) (string, error) {
	if p.Type == playbook.ParamCredential {
		fmt.Printf("%s (%s, hidden): ", p.Name, p.Type)
		raw, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			return "", fmt.Errorf("failed to read %s: %w", p.Name, err)
		}
		return string(raw), nil
	}

	if p.Example != "" {
		fmt.Printf("%s (%s, e.g. %s): ", p.Name, p.Type, p.Example)
	} else {
		fmt.Printf("%s (%s): ", p.Name, p.Type)
	}
	var value string
	if _, err := fmt.Scanln(&value); err != nil {
		return "", fmt.Errorf("failed to read %s: %w", p.Name, err)
	}
	return value, nil
}

func printRun(run *playbook.Run) {
	fmt.Printf("\nRun %s: %s\n", run.ID, run.State)
	if run.Error != "" {
		fmt.Printf("  error: %s\n", run.Error)
	}
	if run.Result == nil {
		return
	}
	for _, o := range run.Result.Outcomes {
		switch o.Status {
		case playbook.StepSucceeded:
			fmt.Printf("  ✓ step %d (%d attempt(s), %s)\n", o.Index, o.Attempts, o.Duration.Round(time.Millisecond))
		case playbook.StepFailed:
			fmt.Printf("  ✗ step %d: %s\n", o.Index, o.Reason)
			if o.Screenshot != "" {
				fmt.Printf("    screenshot: %s\n", o.Screenshot)
			}
		case playbook.StepSkipped:
			fmt.Printf("  - step %d skipped\n", o.Index)
		}
	}
}
