package session

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"

	"github.com/chromedp/chromedp"

	"github.com/rehearse-io/rehearse/internal/logging"
)

// localLauncher starts a dedicated Chrome instance with a throwaway
// profile so sessions never share state.
type localLauncher struct {
	headless bool
}

func (l *localLauncher) Launch(ctx context.Context) (*Session, error) {
	chromePath, err := FindChrome()
	if err != nil {
		return nil, err
	}

	profileDir, err := os.MkdirTemp("", "rehearse-profile-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create profile directory: %w", err)
	}

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(chromePath),
		chromedp.UserDataDir(profileDir),
		chromedp.WindowSize(1920, 1080),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
	)
	if !l.headless {
		opts = append(opts, chromedp.Flag("headless", false))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)

	browserCtx, browserCancel := chromedp.NewContext(
		allocCtx,
		chromedp.WithLogf(func(format string, v ...interface{}) {
			logging.Debug("[Chrome] "+format, v...)
		}),
	)

	// Starting the browser has to honor the acquisition window, but the
	// browser itself must outlive it.
	startCtx, startCancel := mergeDeadline(browserCtx, ctx)
	defer startCancel()
	if err := chromedp.Run(startCtx); err != nil {
		browserCancel()
		allocCancel()
		os.RemoveAll(profileDir)
		return nil, fmt.Errorf("failed to start Chrome: %w", err)
	}

	return &Session{
		Ctx: browserCtx,
		cleanup: func() {
			browserCancel()
			allocCancel()
			os.RemoveAll(profileDir)
		},
	}, nil
}

// FindChrome locates a Chrome or Chromium binary.
func FindChrome() (string, error) {
	var candidates []string
	switch runtime.GOOS {
	case "darwin":
		candidates = []string{
			"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
			"/Applications/Chromium.app/Contents/MacOS/Chromium",
		}
	case "windows":
		candidates = []string{
			`C:\Program Files\Google\Chrome\Application\chrome.exe`,
			`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
		}
	default:
		candidates = []string{
			"/usr/bin/google-chrome",
			"/usr/bin/google-chrome-stable",
			"/usr/bin/chromium",
			"/usr/bin/chromium-browser",
			"/snap/bin/chromium",
		}
	}

	for _, path := range candidates {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	for _, name := range []string{"google-chrome", "chromium", "chrome"} {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("chrome not found; install Google Chrome or Chromium")
}

func mergeDeadline(base, caller context.Context) (context.Context, context.CancelFunc) {
	if deadline, ok := caller.Deadline(); ok {
		return context.WithDeadline(base, deadline)
	}
	return context.WithCancel(base)
}
