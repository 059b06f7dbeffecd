package commands

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/openfroyo/ironfleet/pkg/engine"
	"github.com/openfroyo/ironfleet/pkg/stores"
)

func newRunsCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect recorded sync runs",
		Long: `List recorded sync runs, newest first.

Use 'runs show' for the outcome of every call of one run and 'runs drift'
for the recorded drift history.`,
		Example: `  # The last 20 runs
  ironfleet runs

  # Details of one run
  ironfleet runs show 4b1c...`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, ctx, err := openWorkspace(cmd.Context(), workspaceOptions{store: true})
			if err != nil {
				return err
			}
			defer ws.Close(ctx)

			runs, err := ws.store.ListRuns(ctx, limit, 0)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(runs)
			}
			if len(runs) == 0 {
				fmt.Println(dimStyle.Render("No runs recorded."))
				return nil
			}
			fmt.Println(renderRuns(runs))
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to list")

	cmd.AddCommand(newRunsShowCommand())
	cmd.AddCommand(newRunsDriftCommand())

	return cmd
}

type runDetail struct {
	Run     *engine.Run          `json:"run"`
	Results []engine.PhaseResult `json:"results"`
	Events  []*engine.Event      `json:"events,omitempty"`
}

func newRunsShowCommand() *cobra.Command {
	var events bool

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the outcomes of one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, ctx, err := openWorkspace(cmd.Context(), workspaceOptions{store: true})
			if err != nil {
				return err
			}
			defer ws.Close(ctx)

			detail := runDetail{}
			if detail.Run, err = ws.store.GetRun(ctx, args[0]); err != nil {
				return err
			}
			if detail.Results, err = ws.store.ListPhaseResults(ctx, args[0]); err != nil {
				return err
			}
			if events {
				runID := args[0]
				detail.Events, err = ws.store.GetEvents(ctx, stores.EventFilter{RunID: &runID, Limit: 1000})
				if err != nil {
					return err
				}
			}

			if jsonOutput {
				return printJSON(detail)
			}
			printRunDetail(detail)
			return nil
		},
	}

	cmd.Flags().BoolVar(&events, "events", false, "include the run's event timeline")

	return cmd
}

func newRunsDriftCommand() *cobra.Command {
	var (
		machine string
		status  string
		limit   int
	)

	cmd := &cobra.Command{
		Use:   "drift",
		Short: "Show recorded drift, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, ctx, err := openWorkspace(cmd.Context(), workspaceOptions{store: true})
			if err != nil {
				return err
			}
			defer ws.Close(ctx)

			filter := stores.DriftFilter{Limit: limit}
			if machine != "" {
				filter.Machine = &machine
			}
			if status != "" {
				s := engine.DriftStatus(status)
				filter.Status = &s
			}
			drifts, err := ws.store.ListDrift(ctx, filter)
			if err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(drifts)
			}
			if len(drifts) == 0 {
				fmt.Println(dimStyle.Render("No drift recorded."))
				return nil
			}
			for _, d := range drifts {
				line := fmt.Sprintf("%s  %-24s %s", d.DetectedAt.Local().Format(time.DateTime), d.Machine, d.Status)
				switch d.Status {
				case engine.DriftStatusDrifted:
					fmt.Println(modifyStyle.Render(line))
					renderChanges(os.Stdout, d.Drifts)
				case engine.DriftStatusInSync:
					fmt.Println(okStyle.Render(line))
				default:
					fmt.Println(dimStyle.Render(line))
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&machine, "server", "s", "", "only drift of this server")
	cmd.Flags().StringVar(&status, "status", "", "only this status (drifted, in_sync, unknown)")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "number of records to list")

	return cmd
}

func statusStyle(s engine.RunStatus) lipgloss.Style {
	switch s {
	case engine.RunStatusSucceeded:
		return okStyle
	case engine.RunStatusFailed, engine.RunStatusCancelled:
		return failStyle
	case engine.RunStatusPartial:
		return warningStyle
	default:
		return dimStyle
	}
}

func renderRuns(runs []*engine.Run) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(dimStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return titleStyle.Padding(0, 1)
			}
			if col == 1 && row >= 0 && row < len(runs) {
				return statusStyle(runs[row].Status).Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		}).
		Headers("ID", "STATUS", "STARTED", "DURATION", "PHASES", "MACHINES", "FAILED", "USER")

	for _, r := range runs {
		t.Row(
			r.ID,
			string(r.Status),
			r.StartedAt.Local().Format(time.DateTime),
			r.Duration.Round(time.Millisecond).String(),
			strings.Join(r.Phases, ","),
			strconv.Itoa(len(r.Machines)),
			strconv.Itoa(r.Summary.Failed),
			r.User,
		)
	}
	return t.String()
}

func printRunDetail(d runDetail) {
	w := os.Stdout
	r := d.Run

	fmt.Fprintln(w, header("Run "+r.ID))
	fmt.Fprintf(w, "  status:   %s\n", statusStyle(r.Status).Render(string(r.Status)))
	fmt.Fprintf(w, "  started:  %s\n", r.StartedAt.Local().Format(time.DateTime))
	fmt.Fprintf(w, "  duration: %s\n", r.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "  user:     %s\n", r.User)
	fmt.Fprintf(w, "  calls:    %d total, %d failed, %d retried\n", r.Summary.Total, r.Summary.Failed, r.Summary.Retried)

	phase := ""
	for _, res := range d.Results {
		if res.Phase != phase {
			phase = res.Phase
			fmt.Fprintln(w)
			fmt.Fprintln(w, titleStyle.Render(phase))
		}
		call := fmt.Sprintf("%s %s.%s", res.Machine, res.Service, strings.ToLower(res.Capability))
		if res.Attempts > 1 {
			call += dimStyle.Render(fmt.Sprintf(" (%d attempts)", res.Attempts))
		}
		if res.Succeeded {
			fmt.Fprintln(w, okStyle.Render("  ✓ ")+call)
			continue
		}
		fmt.Fprintln(w, failStyle.Render("  ✗ "+call))
		fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("      [%s] %s", res.ErrorClass, res.Error)))
	}

	if len(d.Events) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintln(w, titleStyle.Render("Events"))
		for _, e := range d.Events {
			fmt.Fprintf(w, "  %s %-5s %s\n", dimStyle.Render(e.Timestamp.Local().Format(time.TimeOnly)), e.Level, e.Message)
		}
	}
}
