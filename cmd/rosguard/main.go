// Rosguard - risk-classified command execution for RouterOS devices
//
// Every command is classified before it reaches a router:
//
//	LOW       runs immediately
//	MEDIUM    previewed; with -x runs with log snapshots before and after
//	HIGH      previewed; with -x runs inside a safe mode session
//	CRITICAL  previewed; with -x runs inside a safe mode session with an
//	          extended timeout
//
// A safe mode session is committed only when the command, the device log
// scan and a connectivity probe all succeed. Otherwise the session is
// abandoned and the router reverts the change on its own.
//
// Examples:
//
//	rosguard -d core1 run '/ip address print'
//	rosguard -d core1 run '/ip firewall filter add chain=input action=drop'
//	rosguard -d core1 run '/ip firewall filter add chain=input action=drop' -x
//	rosguard classify '/system reset-configuration'
//	rosguard history --device core1 --outcome rolled-back
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/newtron-network/rosguard/pkg/audit"
	"github.com/newtron-network/rosguard/pkg/cli"
	"github.com/newtron-network/rosguard/pkg/risk"
	"github.com/newtron-network/rosguard/pkg/settings"
	"github.com/newtron-network/rosguard/pkg/util"
	"github.com/newtron-network/rosguard/pkg/version"
)

// App holds the state shared by every command for one invocation.
type App struct {
	deviceName      string
	verbose         bool
	jsonOutput      bool
	metricsTextfile string

	settings *settings.Settings
	catalog  *risk.Catalog
	audit    audit.Logger

	closers []func() error
}

var app = &App{}

// errWorkflowFailed makes the process exit non-zero after the outcome has
// already been printed.
var errWorkflowFailed = errors.New("workflow did not succeed")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if merr := writeMetrics(); merr != nil {
		util.Warnf("%v", merr)
	}
	app.close()

	if err != nil {
		if !errors.Is(err, errWorkflowFailed) {
			fmt.Fprintln(os.Stderr, cli.Red("Error:"), err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:               "rosguard",
	Short:             "Risk-classified command execution for RouterOS",
	SilenceUsage:      true,
	SilenceErrors:     true,
	CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	Long: `Rosguard classifies RouterOS commands by risk before running them.

Risky commands print a preview by default. Use -x to execute; HIGH and
CRITICAL commands then run inside a safe mode session that the router
reverts on its own if verification fails.

  rosguard -d <device> run '<command>' [-x]`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if app.verbose {
			util.SetLogLevel("debug")
		} else {
			util.SetLogLevel("warn")
		}
		if app.jsonOutput {
			cli.SetColor(false)
			util.SetJSONFormat()
		}

		if isSettingsOrHelp(cmd) {
			return nil
		}

		var err error
		app.settings, err = settings.LoadFrom(settingsPath())
		if err != nil {
			util.Warnf("Could not load settings: %v", err)
			app.settings = &settings.Settings{}
		}
		if app.deviceName == "" {
			app.deviceName = app.settings.DefaultDevice
		}

		app.catalog, err = loadCatalog(app.settings.CatalogPath)
		if err != nil {
			return err
		}

		logger, err := audit.NewFileLogger(app.settings.GetAuditLogPath(), audit.RotationConfig{
			MaxSize:    app.settings.GetAuditMaxSize(),
			MaxBackups: app.settings.GetAuditMaxBackups(),
		})
		if err != nil {
			util.Warnf("Could not initialize audit logging: %v", err)
		} else {
			app.audit = logger
			audit.SetDefaultLogger(logger)
			app.closers = append(app.closers, logger.Close)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&app.deviceName, "device", "d", "", "Device name (default from settings)")
	rootCmd.PersistentFlags().BoolVarP(&app.verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVar(&app.jsonOutput, "json", false, "Output as JSON")
	rootCmd.PersistentFlags().StringVar(&app.metricsTextfile, "metrics-textfile", "", "Write Prometheus metrics to this file on exit (node_exporter textfile collector)")

	rootCmd.AddGroup(
		&cobra.Group{ID: "exec", Title: "Command Execution:"},
		&cobra.Group{ID: "meta", Title: "Configuration & Meta:"},
	)

	for _, cmd := range []*cobra.Command{runCmd, classifyCmd, historyCmd} {
		cmd.GroupID = "exec"
		rootCmd.AddCommand(cmd)
	}
	for _, cmd := range []*cobra.Command{settingsCmd, versionCmd} {
		cmd.GroupID = "meta"
		rootCmd.AddCommand(cmd)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		if app.jsonOutput {
			return printJSON(version.Map())
		}
		if version.Version == "dev" {
			fmt.Println("rosguard dev build (version info is set with -ldflags at build time)")
		} else {
			fmt.Printf("rosguard %s\n", version.Info())
		}
		return nil
	},
}

func isSettingsOrHelp(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "settings", "version", "help", "completion":
			return true
		}
	}
	return false
}

func loadCatalog(path string) (*risk.Catalog, error) {
	if path == "" {
		return risk.DefaultCatalog(), nil
	}
	c, err := risk.LoadCatalog(path)
	if err != nil {
		return nil, fmt.Errorf("loading risk catalog: %w", err)
	}
	util.Debugf("Loaded %d patterns from %s", len(c.Patterns), c.Source())
	return c, nil
}

func writeMetrics() error {
	if app.metricsTextfile == "" {
		return nil
	}
	if err := prometheus.WriteToTextfile(app.metricsTextfile, prometheus.DefaultGatherer); err != nil {
		return fmt.Errorf("writing metrics: %w", err)
	}
	return nil
}

func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			util.Debugf("close: %v", err)
		}
	}
	a.closers = nil
}

func requireDevice() (string, error) {
	if app.deviceName == "" {
		return "", fmt.Errorf("device required: use -d <device> or 'rosguard settings set default_device <device>'")
	}
	if _, ok := app.settings.Devices[app.deviceName]; !ok {
		return "", fmt.Errorf("unknown device %q: add it with 'rosguard settings device add %s --host <addr>'", app.deviceName, app.deviceName)
	}
	return app.deviceName, nil
}
