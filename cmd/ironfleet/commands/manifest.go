package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/openfroyo/ironfleet/pkg/manifest"
)

func newManifestCommand() *cobra.Command {
	var (
		servers   []string
		canonical bool
		output    string
	)

	cmd := &cobra.Command{
		Use:   "manifest [paths...]",
		Short: "Print the desired manifests of the fleet",
		Long: `Print the desired manifest of every resolved server.

A manifest is the flattened intended state of one machine: identity, run
list, components, role attributes and cloud placement. The canonical form
keys components by name, normalizes run list entries and is what drift
detection compares.`,
		Example: `  # YAML manifests of every server
  ironfleet manifest

  # Canonical JSON of one server
  ironfleet manifest --canonical -o json --server prod-web-app-0`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if jsonOutput {
				output = "json"
			}

			ws, ctx, err := openWorkspace(cmd.Context(), workspaceOptions{})
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

			docs := make(map[string]interface{}, len(selected))
			for _, s := range selected {
				m := manifest.FromServer(s)
				if !canonical {
					docs[m.FullName()] = m.ToWire()
					continue
				}
				c, err := m.Canonical()
				if err != nil {
					return fmt.Errorf("canonicalize %s: %w", m.FullName(), err)
				}
				docs[m.FullName()] = c
			}
			return printFormat(output, docs)
		},
	}

	cmd.Flags().StringSliceVarP(&servers, "server", "s", nil, "limit output to servers by full name")
	cmd.Flags().BoolVar(&canonical, "canonical", false, "print the canonical form")
	cmd.Flags().StringVarP(&output, "output", "o", "yaml", "output format (yaml, json)")

	return cmd
}
