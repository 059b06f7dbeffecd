package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/ironfleet/pkg/engine"
	"github.com/openfroyo/ironfleet/pkg/policy"
)

var (
	colorGreen  = lipgloss.Color("#22c55e")
	colorRed    = lipgloss.Color("#ef4444")
	colorYellow = lipgloss.Color("#eab308")
	colorBlue   = lipgloss.Color("#3b82f6")
	colorDim    = lipgloss.Color("#6b7280")
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(colorBlue)
	dimStyle     = lipgloss.NewStyle().Foreground(colorDim)
	addStyle     = lipgloss.NewStyle().Foreground(colorGreen)
	removeStyle  = lipgloss.NewStyle().Foreground(colorRed)
	modifyStyle  = lipgloss.NewStyle().Foreground(colorYellow)
	okStyle      = lipgloss.NewStyle().Foreground(colorGreen)
	failStyle    = lipgloss.NewStyle().Bold(true).Foreground(colorRed)
	warningStyle = lipgloss.NewStyle().Foreground(colorYellow)
)

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printYAML(v interface{}) error {
	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)
	defer enc.Close()
	return enc.Encode(v)
}

// printFormat writes v as JSON or YAML.
func printFormat(format string, v interface{}) error {
	switch format {
	case "json":
		return printJSON(v)
	case "yaml", "yml":
		return printYAML(v)
	default:
		return fmt.Errorf("unsupported output format %q (json or yaml)", format)
	}
}

func renderValue(v interface{}) string {
	if v == nil {
		return "<none>"
	}
	switch val := v.(type) {
	case string:
		return fmt.Sprintf("%q", val)
	default:
		b, err := json.Marshal(val)
		if err != nil {
			return fmt.Sprintf("%v", val)
		}
		return string(b)
	}
}

// renderChanges renders field changes, one per line, relative to the
// observed machine.
func renderChanges(w io.Writer, changes []engine.Change) {
	for _, c := range changes {
		switch c.Action {
		case engine.ChangeActionAdd:
			fmt.Fprintln(w, addStyle.Render(fmt.Sprintf("    + %s = %s", c.Path, renderValue(c.After))))
		case engine.ChangeActionRemove:
			fmt.Fprintln(w, removeStyle.Render(fmt.Sprintf("    - %s = %s", c.Path, renderValue(c.Before))))
		default:
			fmt.Fprintln(w, modifyStyle.Render(fmt.Sprintf("    ~ %s: %s -> %s", c.Path, renderValue(c.Before), renderValue(c.After))))
		}
	}
}

// renderViolations prints policy violations and reports whether any blocks.
func renderViolations(w io.Writer, result *policy.PolicyResult) bool {
	if result == nil {
		return false
	}
	for _, v := range result.Violations {
		line := fmt.Sprintf("  [%s] %s: %s", v.Severity, v.Policy, v.Message)
		if v.Severity.Blocking() {
			fmt.Fprintln(w, failStyle.Render(line))
		} else {
			fmt.Fprintln(w, warningStyle.Render(line))
		}
	}
	for _, e := range result.Errors {
		fmt.Fprintln(w, dimStyle.Render("  [policy error] "+e))
	}
	return !result.Allowed
}

func header(title string) string {
	return titleStyle.Render(title) + "\n" + dimStyle.Render(strings.Repeat("─", lipgloss.Width(title)))
}
