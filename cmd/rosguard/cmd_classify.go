package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/newtron-network/rosguard/pkg/cli"
	"github.com/newtron-network/rosguard/pkg/risk"
)

var classifyPatterns bool

var classifyCmd = &cobra.Command{
	Use:   "classify [command]",
	Short: "Show the risk tier of a command without running it",
	Long: `Classify a RouterOS command against the risk catalog. Nothing is sent
to any device.

Examples:
  rosguard classify '/ip firewall filter remove 3'
  rosguard classify '/ip address print; /system reboot'
  rosguard classify --patterns`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if classifyPatterns {
			return listPatterns(app.catalog)
		}
		if len(args) == 0 {
			return fmt.Errorf("command required (or --patterns to list the catalog)")
		}

		command := strings.Join(args, " ")
		a := app.catalog.Classify(command)
		if app.jsonOutput {
			return printJSON(a)
		}
		fmt.Print(risk.RenderPreview(command, a))
		return nil
	},
}

func init() {
	classifyCmd.Flags().BoolVar(&classifyPatterns, "patterns", false, "List the catalog patterns")
}

func listPatterns(c *risk.Catalog) error {
	if app.jsonOutput {
		return printJSON(c.Patterns)
	}

	fmt.Printf("Catalog: %s (%d patterns)\n\n", c.Source(), len(c.Patterns))
	t := cli.NewTable("ID", "TIER", "MATCH", "WARNING").WithMaxCellWidth(cli.TerminalWidth() / 3)
	for _, p := range c.Patterns {
		match := p.Match
		if p.Regex != "" {
			match = "/" + p.Regex + "/"
		}
		t.Row(p.ID, cli.Tier(p.Tier), match, p.Warning)
	}
	t.Flush()
	return nil
}
