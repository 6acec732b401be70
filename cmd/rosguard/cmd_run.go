package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/user"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/newtron-network/rosguard/pkg/audit"
	"github.com/newtron-network/rosguard/pkg/cli"
	"github.com/newtron-network/rosguard/pkg/executor"
	"github.com/newtron-network/rosguard/pkg/risk"
	"github.com/newtron-network/rosguard/pkg/session"
	"github.com/newtron-network/rosguard/pkg/settings"
	"github.com/newtron-network/rosguard/pkg/util"
	"github.com/newtron-network/rosguard/pkg/workflow"
)

var (
	runExecute bool
	runTimeout time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run <command>",
	Short: "Classify and run a RouterOS command",
	Long: `Classify a RouterOS command and run it according to its risk tier.

LOW commands run immediately. Anything riskier prints a preview and sends
nothing to the device until -x is given.

Examples:
  rosguard -d core1 run '/interface print'
  rosguard -d core1 run '/ip route add dst-address=0.0.0.0/0 gateway=10.0.0.1'
  rosguard -d core1 run '/ip route add dst-address=0.0.0.0/0 gateway=10.0.0.1' -x
  rosguard -d core1 run '/system reset-configuration' -x --timeout 45m`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		command := strings.Join(args, " ")
		device, err := requireDevice()
		if err != nil {
			return err
		}

		a := app.catalog.Classify(command)
		touchesDevice := !a.RequiresPreview || runExecute
		if msg := unlockedSessionWarning(a, runExecute, app.settings, device); msg != "" {
			util.Warnf("%s", msg)
		}

		planner, err := newPlanner(cmd.Context(), device, touchesDevice)
		if err != nil {
			return err
		}

		res, err := planner.Run(cmd.Context(), workflow.Request{
			Command:  command,
			DeviceID: device,
			Approved: runExecute,
			Timeout:  runTimeout,
		})
		if err != nil {
			return err
		}

		if app.jsonOutput {
			if err := printJSON(res); err != nil {
				return err
			}
		} else {
			printResult(device, res)
		}

		if res.Status == workflow.OutcomeFailed || res.Status == workflow.OutcomeRolledBack {
			return errWorkflowFailed
		}
		return nil
	},
}

func init() {
	runCmd.Flags().BoolVarP(&runExecute, "execute", "x", false, "Execute after preview (approve the command)")
	runCmd.Flags().DurationVar(&runTimeout, "timeout", 0, "Safe mode timeout (default from the risk catalog)")
}

// newPlanner wires a planner for one invocation. prompt allows asking for a
// password on the terminal when the device profile has no credentials.
func newPlanner(ctx context.Context, device string, prompt bool) (*workflow.Planner, error) {
	password := os.Getenv(settings.PasswordEnv)
	if password == "" && prompt && app.settings.NeedsPassword(device) {
		var err error
		if password, err = readPassword(device); err != nil {
			return nil, err
		}
	}

	resolver := executor.NewSSHResolver(app.settings.SSHProfiles(password))
	app.closers = append(app.closers, resolver.Close)

	registry := session.NewRegistry()
	if app.settings.RedisAddr != "" {
		locker, err := session.DialRedisLocker(ctx, app.settings.RedisAddr, app.settings.RedisDB)
		if err != nil {
			return nil, fmt.Errorf("connecting to lock server: %w", err)
		}
		registry.SetLocker(locker, session.DefaultLockTTL)
		app.closers = append(app.closers, locker.Close)
	}

	cfg := workflow.Config{
		Catalog:         app.catalog,
		Resolver:        resolver,
		Registry:        registry,
		HistoryCapacity: app.settings.HistoryCapacity,
	}
	if app.audit != nil {
		cfg.Sink = audit.Sink{Logger: app.audit, User: currentUser()}
	}
	return workflow.NewPlanner(cfg), nil
}

// unlockedSessionWarning is non-empty when an approved safe mode session will
// run without a cross-process lock.
func unlockedSessionWarning(a risk.Assessment, execute bool, s *settings.Settings, device string) string {
	if !execute || !a.RequiresSafeMode || s.RedisAddr != "" {
		return ""
	}
	return fmt.Sprintf("no redis_addr configured: the %s lock covers this process only; "+
		"another rosguard process can open a session on it concurrently", device)
}

func readPassword(device string) (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", fmt.Errorf("no credentials for %s: set %s or add a password or key file to the device profile", device, settings.PasswordEnv)
	}
	fmt.Fprintf(os.Stderr, "Password for %s: ", device)
	pw, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return string(pw), nil
}

func currentUser() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return os.Getenv("USER")
}

func printResult(device string, res *workflow.Result) {
	if res.Status == workflow.OutcomePending {
		fmt.Print(res.Preview)
		fmt.Println("\n" + cli.Yellow(fmt.Sprintf("PREVIEW: nothing was sent to %s. Use -x to execute.", device)))
		return
	}

	if out := strings.TrimRight(res.Output, "\r\n"); out != "" {
		fmt.Println(out)
		fmt.Println()
	}
	for _, w := range res.Warnings {
		fmt.Println(cli.Yellow("warning: ") + w)
	}

	fmt.Printf("%s %s on %s (%s)\n", cli.Bold("Result:"), cli.Outcome(string(res.Status)), device, cli.Tier(res.Tier))
	if res.Diagnostic != "" && (res.Status != workflow.OutcomeSuccess || app.verbose) {
		fmt.Println()
		fmt.Println(cli.Dim(res.Diagnostic))
	}
	fmt.Println(cli.Dim("record " + res.RecordID))
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
