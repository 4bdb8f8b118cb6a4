package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rehearse-io/rehearse/internal/capture"
	"github.com/rehearse-io/rehearse/internal/extract"
	"github.com/rehearse-io/rehearse/internal/infer"
	"github.com/rehearse-io/rehearse/internal/normalize"
	"github.com/rehearse-io/rehearse/internal/playbook"
	"github.com/rehearse-io/rehearse/internal/replay"
	"github.com/rehearse-io/rehearse/internal/session"
)

var recordURL string

var recordCmd = &cobra.Command{
	Use:   "record <name>",
	Short: "Record a new playbook from a live browser session",
	Long: `Record opens an isolated browser, captures your interactions with the
app, and distills them into a named playbook.

The browser stays open until you press Enter in this terminal. Recorded
values that look like credentials or user data become playbook parameters
you bind at run time.

Example:
  rehearse record login-flow --url https://app.example.com`,
	Args: cobra.ExactArgs(1),
	Run:  runRecord,
}

func init() {
	recordCmd.Flags().StringVar(&recordURL, "url", "", "URL to open for recording (required)")
	recordCmd.MarkFlagRequired("url")
	rootCmd.AddCommand(recordCmd)
}

func runRecord(cmd *cobra.Command, args []string) {
	requireInit()
	name := args[0]
	ctx := context.Background()

	st, err := openStore()
	if err != nil {
		fatalf("Failed to open store: %v", err)
	}
	defer st.Close()

	client, err := newInferClient()
	if err != nil {
		fatalf("Failed to create inference client: %v", err)
	}

	sessions := session.NewManager(session.Options{
		Headless:    false, // recording needs a visible browser
		AcquireWait: rehearseConfig.AcquireWait(),
	})
	defer sessions.Close()

	sess, err := sessions.Acquire(ctx, playbook.ModeLocal)
	if err != nil {
		fatalf("Failed to start browser: %v", err)
	}
	defer sessions.Release(sess)

	driver := replay.NewChromedpDriver(sess.Ctx)
	if err := driver.Navigate(ctx, recordURL); err != nil {
		fatalf("Failed to open %s: %v", recordURL, err)
	}

	recorder := capture.NewRecorder(rehearseConfig.PollInterval())
	source := capture.NewCDPSource(sess.Ctx, recordURL)

	capSess, err := recorder.StartSession(ctx, source)
	if err != nil {
		fatalf("Failed to start capture: %v", err)
	}

	fmt.Printf("Recording %q. Perform the flow in the browser, then press Enter here to stop.\n", name)
	bufio.NewReader(os.Stdin).ReadString('\n')

	trace, err := recorder.StopSession(capSess)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: capture ended early: %v\n", err)
	}
	if trace == nil || len(trace.Events) == 0 {
		fatalf("Nothing was recorded.")
	}
	fmt.Printf("Captured %d raw events.\n", len(trace.Events))

	actions := normalize.Normalize(trace.Events, normalize.Options{TextGap: rehearseConfig.TextGap()})
	fmt.Printf("Normalized into %d actions.\n", len(actions))

	pb, err := extract.New(client).Extract(ctx, name, actions)
	if err != nil && !errors.Is(err, extract.ErrExtractionIncomplete) {
		fatalf("Step extraction failed: %v", err)
	}
	if errors.Is(err, extract.ErrExtractionIncomplete) {
		fmt.Fprintln(os.Stderr, "Warning: some actions could not be labeled and will replay literally.")
	}
	pb.RecordedFrom = recordURL

	if err := st.SavePlaybook(ctx, pb); err != nil {
		fatalf("Failed to save playbook: %v", err)
	}

	fmt.Printf("\nSaved playbook %s v%d (%d steps)\n", pb.ID, pb.Version, len(pb.Steps))
	if len(pb.Parameters) > 0 {
		fmt.Println("Parameters to bind at run time:")
		for _, p := range pb.Parameters {
			fmt.Printf("  --param %s=<%s>\n", p.Name, p.Type)
		}
	}
	fmt.Printf("\nReplay with: rehearse run %s", pb.ID)
	for _, p := range pb.Parameters {
		fmt.Printf(" --param %s=...", p.Name)
	}
	fmt.Println()
}

// newInferClient builds the step-inference client from configuration.
func newInferClient() (infer.Client, error) {
	options := map[string]interface{}{}
	for k, v := range rehearseConfig.Inference.Settings {
		options[k] = v
	}
	if rehearseConfig.Inference.Model != "" {
		options["model"] = rehearseConfig.Inference.Model
	}
	if rehearseConfig.Inference.Endpoint != "" {
		options["base_url"] = rehearseConfig.Inference.Endpoint
	}
	return infer.NewClient(infer.Provider(rehearseConfig.Inference.Provider), rehearseConfig.Inference.APIKey, options)
}

func fatalf(format string, v ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", v...)
	os.Exit(1)
}
