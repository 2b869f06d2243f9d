package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chromext/chromext/internal/cdp"
	"github.com/chromext/chromext/internal/cli/format"
)

var tabsCmd = &cobra.Command{
	Use:   "tabs",
	Short: "List targets on the devtools socket",
	Long: `Lists the targets the browser reports on /json/list.

The id of a page target can be passed to other commands with --tab.
The target commands attach to by default is marked with *.
Without --all only page targets are shown.`,
	Example: `  chromext tabs -n chrome
  chromext tabs -n webview --all --json`,
	Args: cobra.NoArgs,
	RunE: runTabs,
}

func init() {
	tabsCmd.Flags().Bool("all", false, "Include non-page targets")
	rootCmd.AddCommand(tabsCmd)
}

func runTabs(cmd *cobra.Command, _ []string) error {
	all, _ := cmd.Flags().GetBool("all")

	opts, err := cdpOptions()
	if err != nil {
		return outputError(err.Error())
	}

	ctx, cancel := context.WithTimeout(commandContext(cmd), connectTimeout)
	defer cancel()

	targets, err := connector.FetchTargets(ctx, opts)
	if err != nil {
		return outputError(fmt.Sprintf("list targets: %v", err))
	}
	active := activeTarget(targets)
	if !all {
		targets = pageTargets(targets)
	}

	if JSONOutput {
		return outputJSON(os.Stdout, map[string]any{
			"ok":      true,
			"active":  active,
			"targets": formatTargets(targets, active),
		})
	}
	return format.Targets(os.Stdout, targets, active, format.NewOutputOptions(JSONOutput, NoColor))
}

// pageTargets filters targets down to pages.
func pageTargets(targets []cdp.Target) []cdp.Target {
	var out []cdp.Target
	for _, t := range targets {
		if t.Type == "page" {
			out = append(out, t)
		}
	}
	return out
}

// formatTargets formats targets for JSON output.
func formatTargets(targets []cdp.Target, activeID string) []map[string]any {
	result := make([]map[string]any, len(targets))
	for i, t := range targets {
		result[i] = map[string]any{
			"id":     t.ID,
			"type":   t.Type,
			"title":  t.Title,
			"url":    t.URL,
			"active": t.ID == activeID,
		}
	}
	return result
}

// activeTarget returns the id commands would attach to: --tab, or the first page.
func activeTarget(targets []cdp.Target) string {
	if cfg.Tab != "" {
		return cfg.Tab
	}
	if page := cdp.FindPageTarget(targets); page != nil {
		return page.ID
	}
	return ""
}
