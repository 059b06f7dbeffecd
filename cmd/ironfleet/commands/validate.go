package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/ironfleet/pkg/config"
	"github.com/openfroyo/ironfleet/pkg/manifest"
	"github.com/openfroyo/ironfleet/pkg/model"
	"github.com/openfroyo/ironfleet/pkg/policy"
	"github.com/openfroyo/ironfleet/pkg/telemetry"
)

// errInvalid is returned when validation found problems it already printed.
var errInvalid = errors.New("validation failed")

type validationReport struct {
	Valid            bool                     `json:"valid"`
	Servers          int                      `json:"servers"`
	DefinitionErrors []config.ValidationError `json:"definition_errors,omitempty"`
	ResolutionErrors []string                 `json:"resolution_errors,omitempty"`
	Lint             []model.Finding          `json:"lint,omitempty"`
	Policy           *policy.PolicyResult     `json:"policy,omitempty"`
}

func newValidateCommand() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "validate [paths...]",
		Short: "Validate fleet definitions",
		Long: `Validate fleet definitions.

This command checks:
  - CUE / YAML syntax and schema conformance
  - that every cluster, facet and server resolves to a full identity
  - that every resolved server has the fields a manifest needs (lint)
  - policy compliance of every manifest (OPA/rego)`,
		Example: `  # Validate the definitions configured in ironfleet.toml
  ironfleet validate

  # Validate specific files or directories
  ironfleet validate ./fleet ./shared/defaults.cue

  # Re-validate whenever a definition or policy changes
  ironfleet validate --watch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, ctx, err := openWorkspace(cmd.Context(), workspaceOptions{})
			if err != nil {
				return err
			}
			defer ws.Close(ctx)

			eng, err := ws.policyEngine(ctx)
			if err != nil {
				return err
			}

			if !watch {
				return runValidation(ctx, ws, eng, args)
			}
			return watchValidation(ctx, ws, eng, args)
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "re-run validation when definitions or policies change")

	return cmd
}

func runValidation(ctx context.Context, ws *workspace, eng *policy.Engine, args []string) error {
	report := &validationReport{Valid: true}

	f, err := ws.loadFleet(ctx, args)
	if f != nil && f.defs != nil && f.defs.HasErrors() {
		report.Valid = false
		report.DefinitionErrors = f.defs.Errors
		return finishValidation(report)
	}
	if err != nil {
		return err
	}

	report.Servers = len(f.servers)
	for _, e := range f.errors {
		report.Valid = false
		report.ResolutionErrors = append(report.ResolutionErrors, e.Error())
	}

	metrics := telemetry.MetricsFrom(ctx)
	manifests := make([]*manifest.Manifest, 0, len(f.servers))
	for _, s := range f.servers {
		for _, finding := range model.Lint(s) {
			metrics.RecordLintFinding(finding.Field)
			report.Lint = append(report.Lint, finding)
			report.Valid = false
		}
		manifests = append(manifests, manifest.FromServer(s))
	}

	if eng != nil {
		result, err := eng.EvaluateManifests(ctx, manifests, &policy.PolicyContext{
			User:      currentUser(),
			Operation: "validate",
			DryRun:    true,
		})
		if err != nil {
			return err
		}
		report.Policy = result
		if !result.Allowed {
			report.Valid = false
		}
	}

	return finishValidation(report)
}

func finishValidation(report *validationReport) error {
	if jsonOutput {
		if err := printJSON(report); err != nil {
			return err
		}
	} else {
		printValidation(report)
	}
	if !report.Valid {
		return errInvalid
	}
	return nil
}

func printValidation(report *validationReport) {
	w := os.Stdout
	fmt.Fprintln(w, header("Validation"))

	for _, e := range report.DefinitionErrors {
		style := failStyle
		if e.Severity != config.SeverityError {
			style = warningStyle
		}
		fmt.Fprintln(w, style.Render("  "+e.Error()))
	}
	for _, e := range report.ResolutionErrors {
		fmt.Fprintln(w, failStyle.Render("  "+e))
	}
	for _, f := range report.Lint {
		fmt.Fprintln(w, failStyle.Render("  "+f.String()))
	}
	renderViolations(w, report.Policy)

	if report.Valid {
		fmt.Fprintln(w, okStyle.Render(fmt.Sprintf("✓ %d servers valid", report.Servers)))
	} else {
		fmt.Fprintln(w, failStyle.Render("✗ validation failed"))
	}
}

// watchValidation validates once and again after every change to the
// definition or policy paths, until ctx is done.
func watchValidation(ctx context.Context, ws *workspace, eng *policy.Engine, args []string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	paths := args
	if len(paths) == 0 {
		paths = ws.settings.DefinitionPaths()
	}
	for _, p := range paths {
		if err := addWatch(watcher, p); err != nil {
			return err
		}
	}
	if eng != nil {
		policyPaths := ws.settings.PolicyPaths()
		if len(policyPaths) > 0 {
			if err := eng.Watch(ctx, policyPaths); err != nil {
				return err
			}
		}
	}

	validate := func() {
		if err := runValidation(ctx, ws, eng, args); err != nil && !errors.Is(err, errInvalid) {
			log.Error().Err(err).Msg("Validation failed")
		}
	}
	validate()
	log.Info().Strs("paths", paths).Msg("Watching for changes")

	var pending <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			log.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Definition changed")
			pending = time.After(300 * time.Millisecond)
		case <-pending:
			pending = nil
			validate()
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("Watcher error")
		}
	}
}

// addWatch watches a file's directory or a directory tree.
func addWatch(watcher *fsnotify.Watcher, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}
	if !info.IsDir() {
		return watcher.Add(filepath.Dir(path))
	}
	return filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(p)
		}
		return nil
	})
}

func currentUser() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return "unknown"
}
