package commands

import (
	"errors"
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/openfroyo/ironfleet/pkg/engine"
	"github.com/openfroyo/ironfleet/pkg/orchestrator"
	"github.com/openfroyo/ironfleet/pkg/policy"
)

// errChanges is returned by diff --exit-code when machines need changes.
var errChanges = errors.New("machines differ from their definitions")

type machineDiffView struct {
	Machine   string                 `json:"machine"`
	Operation engine.OperationType   `json:"operation"`
	Drift     *engine.DriftDetection `json:"drift"`
	Error     string                 `json:"error,omitempty"`
	Policy    *policy.PolicyResult   `json:"policy,omitempty"`
}

type diffView struct {
	RunID    string                   `json:"run_id"`
	Summary  orchestrator.DiffSummary `json:"summary"`
	Machines []machineDiffView        `json:"machines"`
}

func newDiffCommand() *cobra.Command {
	var (
		servers  []string
		noRecord bool
		exitCode bool
	)

	cmd := &cobra.Command{
		Use:   "diff [paths...]",
		Short: "Compare desired manifests with observed machines",
		Long: `Compare every machine's desired manifest with the one observed from the
directory and the cloud.

Machines without a node record are reported as to be created. Drifted
machines are checked against the drift policies, and every comparison is
recorded in the store unless --no-record is given.`,
		Example: `  # Show drift across the fleet
  ironfleet diff

  # Fail when anything drifted, without recording
  ironfleet diff --no-record --exit-code`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, ctx, err := openWorkspace(cmd.Context(), workspaceOptions{store: !noRecord, directory: true})
			if err != nil {
				return err
			}
			defer ws.Close(ctx)

			f, err := ws.loadFleet(ctx, args)
			if err != nil {
				return err
			}
			if err := f.Err(); err != nil {
				return err
			}
			selected, err := f.filter(servers)
			if err != nil {
				return err
			}
			machines := orchestrator.NewMachines(selected)

			observer, err := ws.observer()
			if err != nil {
				return err
			}
			var recorder orchestrator.DriftRecorder
			if !noRecord && ws.store != nil {
				recorder = ws.store
			}
			eng, err := ws.policyEngine(ctx)
			if err != nil {
				return err
			}

			runID := uuid.New().String()
			result, err := orchestrator.NewPlanner(observer, recorder, ws.settings.Sync.Concurrency).
				ComputeDiff(ctx, runID, machines)
			if err != nil {
				return err
			}

			view := diffView{RunID: runID, Summary: result.Summary}
			pctx := &policy.PolicyContext{User: currentUser(), Operation: "diff", DryRun: true}
			blocked := false
			for i, d := range result.Machines {
				mv := machineDiffView{Machine: d.Machine, Operation: d.Operation, Drift: d.Drift}
				if d.Err != nil {
					mv.Error = d.Err.Error()
				}
				if eng != nil && d.Operation == engine.OperationUpdate {
					res, err := eng.EvaluateDrift(ctx, machines[i].Manifest, d.Drift, pctx)
					if err != nil {
						return err
					}
					mv.Policy = res
					blocked = blocked || !res.Allowed
				}
				view.Machines = append(view.Machines, mv)
			}

			if jsonOutput {
				if err := printJSON(view); err != nil {
					return err
				}
			} else {
				printDiff(view)
			}

			if result.Summary.Errors > 0 {
				return fmt.Errorf("%d machines could not be observed", result.Summary.Errors)
			}
			if blocked && ws.settings.Policy.Enforce {
				return fmt.Errorf("drift requires replacing machines")
			}
			if exitCode && result.HasChanges() {
				return errChanges
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&servers, "server", "s", nil, "limit the diff to servers by full name")
	cmd.Flags().BoolVar(&noRecord, "no-record", false, "do not record drift in the store")
	cmd.Flags().BoolVar(&exitCode, "exit-code", false, "exit with an error when machines need changes")

	return cmd
}

func printDiff(view diffView) {
	w := os.Stdout
	fmt.Fprintln(w, header("Drift"))

	for _, m := range view.Machines {
		switch {
		case m.Error != "":
			fmt.Fprintln(w, failStyle.Render(fmt.Sprintf("! %s: %s", m.Machine, m.Error)))
		case m.Operation == engine.OperationCreate:
			fmt.Fprintln(w, addStyle.Render(fmt.Sprintf("+ %s (not registered)", m.Machine)))
		case m.Operation == engine.OperationUpdate:
			fmt.Fprintln(w, modifyStyle.Render(fmt.Sprintf("~ %s (%d changes)", m.Machine, len(m.Drift.Drifts))))
			renderChanges(w, m.Drift.Drifts)
			renderViolations(w, m.Policy)
		default:
			fmt.Fprintln(w, dimStyle.Render(fmt.Sprintf("  %s", m.Machine)))
		}
	}

	s := view.Summary
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s to create, %s to update, %s unchanged, %s errors\n",
		addStyle.Render(fmt.Sprint(s.ToCreate)),
		modifyStyle.Render(fmt.Sprint(s.ToUpdate)),
		dimStyle.Render(fmt.Sprint(s.NoChange)),
		failStyle.Render(fmt.Sprint(s.Errors)))
}
