package commands

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/openfroyo/ironfleet/pkg/config"
)

const sampleFleet = `// Sample fleet. Every server of prod/web/app is named prod-web-app-<n>.
defaults: environment: "production"

realms: prod: {
	run_list: ["role[base]"]
	clusters: web: {
		cloud: {
			cloud_name: "hcloud"
			flavor:     "cx22"
			image_id:   "ubuntu-24.04"
			region:     "fsn1"
		}
		facets: app: {
			instances: 2
			run_list: [{name: "nginx", placement: "first"}]
		}
	}
}
`

func newInitCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init [dir]",
		Short: "Initialize an ironfleet workspace",
		Long: `Initialize a workspace with ironfleet.toml, a sample fleet definition,
the client key directory and the SQLite store.

Existing files are left alone unless --force is given.`,
		Example: `  # Initialize the current directory
  ironfleet init

  # Initialize another directory
  ironfleet init ./infra`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root := "."
			if len(args) == 1 {
				root = args[0]
			}
			settingsPath := configPath
			if settingsPath == "" {
				settingsPath = filepath.Join(root, config.SettingsFile)
			}

			log.Info().Str("root", root).Str("config", settingsPath).Msg("Initializing workspace")
			fmt.Printf("Initializing ironfleet workspace in %s\n\n", root)

			defaults := config.DefaultSettings()
			data, err := toml.Marshal(defaults)
			if err != nil {
				return fmt.Errorf("failed to encode settings: %w", err)
			}
			if err := writeIfAbsent(settingsPath, data, 0o644, force); err != nil {
				return err
			}

			// Re-read so relative paths resolve against the settings file.
			settings, err := config.LoadSettings(settingsPath, false)
			if err != nil {
				return err
			}

			dirs := append([]string{settings.Path(settings.KeyDir)}, settings.DefinitionPaths()...)
			for _, dir := range dirs {
				if err := os.MkdirAll(dir, 0o700); err != nil {
					return fmt.Errorf("failed to create directory %s: %w", dir, err)
				}
				fmt.Printf("%s Created directory: %s\n", okStyle.Render("✓"), dir)
			}

			if defs := settings.DefinitionPaths(); len(defs) > 0 {
				if err := writeIfAbsent(filepath.Join(defs[0], "fleet.cue"), []byte(sampleFleet), 0o644, force); err != nil {
					return err
				}
			}

			store, err := openStore(cmd.Context(), settings)
			if err != nil {
				return err
			}
			if err := store.Close(); err != nil {
				return fmt.Errorf("failed to close store: %w", err)
			}
			fmt.Printf("%s Initialized SQLite store: %s\n", okStyle.Render("✓"), settings.StoreConfig().Path)

			fmt.Println()
			fmt.Println(titleStyle.Render("Workspace ready."))
			fmt.Println("Next steps:")
			fmt.Println("  1. Describe your fleet under", settings.DefinitionPaths())
			fmt.Println("  2. Run 'ironfleet validate'")
			fmt.Println("  3. Run 'ironfleet sync'")
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite existing files")

	return cmd
}

func writeIfAbsent(path string, data []byte, perm os.FileMode, force bool) error {
	if _, err := os.Stat(path); err == nil && !force {
		fmt.Printf("%s Kept existing file: %s\n", dimStyle.Render("•"), path)
		return nil
	} else if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to stat %s: %w", path, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, perm); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	fmt.Printf("%s Created file: %s\n", okStyle.Render("✓"), path)
	return nil
}
