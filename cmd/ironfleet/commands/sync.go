package commands

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openfroyo/ironfleet/pkg/engine"
	"github.com/openfroyo/ironfleet/pkg/manifest"
	"github.com/openfroyo/ironfleet/pkg/orchestrator"
	"github.com/openfroyo/ironfleet/pkg/policy"
)

type outcomeView struct {
	Machine    string `json:"machine"`
	Service    string `json:"service"`
	Capability string `json:"capability"`
	Attempts   int    `json:"attempts"`
	Error      string `json:"error,omitempty"`
}

type phaseView struct {
	Phase    string        `json:"phase"`
	Status   string        `json:"status"`
	Failed   []string      `json:"failed,omitempty"`
	Outcomes []outcomeView `json:"outcomes"`
}

type syncView struct {
	Run    *engine.Run          `json:"run"`
	Policy *policy.PolicyResult `json:"policy,omitempty"`
	Phases []phaseView          `json:"phases"`
}

func newSyncCommand() *cobra.Command {
	var (
		servers []string
		phases  []string
		force   bool
	)

	cmd := &cobra.Command{
		Use:   "sync [paths...]",
		Short: "Sync machines with the remote directory",
		Long: `Run sync phases for every resolved machine.

Phases run in the given order; each fans out over machines and calls its
sub-services in a fixed order:

  create_dependencies  clients: create credentials
  create_instances     nodes: register the node
  save                 nodes, then roles: write node and role documents
  load                 nodes, clients: fetch records
  correlate            nodes, clients: fetch records
  validate             clients: fetch records

A failed call never stops the other machines or sub-services. Transient
failures are retried with exponential backoff. Re-running a sync converges.`,
		Example: `  # Default phases: create_dependencies, create_instances, save, load
  ironfleet sync

  # Only rewrite node and role documents of two servers
  ironfleet sync --phase save --server prod-web-app-0 --server prod-web-app-1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			selectedPhases, err := orchestrator.ParsePhases(phases)
			if err != nil {
				return err
			}

			ws, ctx, err := openWorkspace(cmd.Context(), workspaceOptions{store: true, directory: true})
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

			view := syncView{}
			eng, err := ws.policyEngine(ctx)
			if err != nil {
				return err
			}
			if eng != nil {
				manifests := make([]*manifest.Manifest, len(machines))
				for i, m := range machines {
					manifests[i] = m.Manifest
				}
				view.Policy, err = eng.EvaluateManifests(ctx, manifests, &policy.PolicyContext{
					User:      currentUser(),
					Operation: "sync",
				})
				if err != nil {
					return err
				}
				if !view.Policy.Allowed && ws.settings.Policy.Enforce && !force {
					renderViolations(os.Stderr, view.Policy)
					return fmt.Errorf("sync blocked by %d policy violations", len(view.Policy.Blocking()))
				}
			}

			baseBackoff, maxBackoff, err := ws.settings.Sync.Backoff()
			if err != nil {
				return err
			}
			services := orchestrator.Subservices{
				Clients: orchestrator.NewClients(ws.dir, ws.settings.Path(ws.settings.KeyDir), ws.logger),
				Nodes:   orchestrator.NewNodes(ws.dir, ws.logger),
				Roles:   orchestrator.NewRoles(ws.dir, ws.logger),
			}
			orch, err := orchestrator.New(services, orchestrator.Config{
				Concurrency: ws.settings.Sync.Concurrency,
				MaxRetries:  ws.settings.Sync.MaxRetries,
				BaseBackoff: baseBackoff,
				MaxBackoff:  maxBackoff,
				User:        syncUser(ws.settings.Sync.User),
			}, ws.store, ws.logger)
			if err != nil {
				return err
			}

			run, reports, runErr := orch.Run(ctx, machines, selectedPhases...)
			view.Run = run
			for _, r := range reports {
				view.Phases = append(view.Phases, newPhaseView(r))
			}

			if jsonOutput {
				if err := printJSON(view); err != nil {
					return err
				}
			} else if run != nil {
				printSync(view)
			}

			if runErr != nil {
				return runErr
			}
			if run.Status != engine.RunStatusSucceeded {
				return fmt.Errorf("run %s finished %s", run.ID, run.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVarP(&servers, "server", "s", nil, "limit the sync to servers by full name")
	cmd.Flags().StringSliceVarP(&phases, "phase", "p", nil, "phases to run, in order (default create_dependencies,create_instances,save,load)")
	cmd.Flags().BoolVar(&force, "force", false, "sync even when enforced policies fail")

	return cmd
}

func syncUser(configured string) string {
	if configured != "" {
		return configured
	}
	return currentUser()
}

func newPhaseView(r *orchestrator.PhaseReport) phaseView {
	pv := phaseView{
		Phase:  string(r.Phase),
		Status: string(r.Status()),
		Failed: r.Failed(),
	}
	for _, o := range r.Outcomes {
		ov := outcomeView{
			Machine:    o.Machine,
			Service:    o.Service,
			Capability: string(o.Capability),
			Attempts:   o.Attempts,
		}
		if o.Err != nil {
			ov.Error = o.Err.Error()
		}
		pv.Outcomes = append(pv.Outcomes, ov)
	}
	return pv
}

func printSync(view syncView) {
	w := os.Stdout
	if view.Policy != nil && len(view.Policy.Violations) > 0 {
		fmt.Fprintln(w, header("Policy"))
		renderViolations(w, view.Policy)
		fmt.Fprintln(w)
	}

	for _, p := range view.Phases {
		fmt.Fprintln(w, header(fmt.Sprintf("Phase %s (%s)", p.Phase, p.Status)))
		for _, o := range p.Outcomes {
			call := fmt.Sprintf("%s %s.%s", o.Machine, o.Service, strings.ToLower(o.Capability))
			if o.Attempts > 1 {
				call += dimStyle.Render(fmt.Sprintf(" (%d attempts)", o.Attempts))
			}
			if o.Error != "" {
				fmt.Fprintln(w, failStyle.Render("  ✗ "+call))
				fmt.Fprintln(w, dimStyle.Render("      "+o.Error))
				continue
			}
			fmt.Fprintln(w, okStyle.Render("  ✓ ")+call)
		}
		fmt.Fprintln(w)
	}

	run := view.Run
	fmt.Fprintf(w, "run %s %s: %d calls, %d failed, %d retried in %s\n",
		run.ID, run.Status, run.Summary.Total, run.Summary.Failed, run.Summary.Retried, run.Duration.Round(1e6))
}
