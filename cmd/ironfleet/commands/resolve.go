package commands

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/openfroyo/ironfleet/pkg/model"
)

func newResolveCommand() *cobra.Command {
	var servers []string

	cmd := &cobra.Command{
		Use:   "resolve [paths...]",
		Short: "Print the resolved servers of the fleet",
		Long: `Resolve realms, clusters and facets down to concrete servers.

Each server inherits the settings of its facet, cluster and realm; the
nearest layer wins for scalar settings and run lists are concatenated.`,
		Example: `  # List every server
  ironfleet resolve

  # Show one server in full
  ironfleet resolve --json --server prod-web-app-0`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ws, ctx, err := openWorkspace(cmd.Context(), workspaceOptions{})
			if err != nil {
				return err
			}
			defer ws.Close(ctx)

			f, err := ws.loadFleet(ctx, args)
			if err != nil {
				return err
			}
			selected, err := f.filter(servers)
			if err != nil {
				return err
			}

			if jsonOutput {
				if err := printJSON(selected); err != nil {
					return err
				}
			} else {
				fmt.Println(renderServers(selected))
				for _, e := range f.errors {
					fmt.Println(failStyle.Render("  " + e.Error()))
				}
			}
			return f.Err()
		},
	}

	cmd.Flags().StringSliceVarP(&servers, "server", "s", nil, "limit output to servers by full name")

	return cmd
}

func renderServers(servers []*model.Server) string {
	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(dimStyle).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return titleStyle.Padding(0, 1)
			}
			return lipgloss.NewStyle().Padding(0, 1)
		}).
		Headers("SERVER", "ENVIRONMENT", "CLOUD", "FLAVOR", "REGION", "COMPONENTS", "RUN LIST")

	for _, s := range servers {
		t.Row(
			s.FullName(),
			s.Environment,
			s.Cloud.CloudName,
			s.Cloud.Flavor,
			s.Cloud.Region,
			strconv.Itoa(len(s.Components)),
			strings.Join(s.RunList.Items(), ", "),
		)
	}
	return t.String()
}
