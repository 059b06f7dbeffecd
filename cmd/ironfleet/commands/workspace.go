package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/openfroyo/ironfleet/pkg/cloud/hcloud"
	"github.com/openfroyo/ironfleet/pkg/config"
	"github.com/openfroyo/ironfleet/pkg/directory"
	"github.com/openfroyo/ironfleet/pkg/engine"
	"github.com/openfroyo/ironfleet/pkg/model"
	"github.com/openfroyo/ironfleet/pkg/orchestrator"
	"github.com/openfroyo/ironfleet/pkg/policy"
	"github.com/openfroyo/ironfleet/pkg/resolve"
	"github.com/openfroyo/ironfleet/pkg/stores"
	"github.com/openfroyo/ironfleet/pkg/telemetry"
)

// workspace bundles what a command needs from ironfleet.toml.
type workspace struct {
	settings  *config.Settings
	telemetry *telemetry.Telemetry
	store     *stores.SQLiteStore
	dir       directory.Directory
	logger    zerolog.Logger
}

type workspaceOptions struct {
	// store opens the SQLite store even when the directory lives elsewhere.
	store bool

	// directory opens the configured directory backend.
	directory bool
}

// openWorkspace loads settings, starts telemetry and opens the requested
// backends. The returned context carries the telemetry instance.
func openWorkspace(ctx context.Context, opts workspaceOptions) (*workspace, context.Context, error) {
	path, optional := configPath, configPath == ""
	if optional {
		path = config.SettingsFile
	}
	settings, err := config.LoadSettings(path, optional)
	if err != nil {
		return nil, ctx, err
	}

	tel, err := telemetry.NewTelemetry(settings.TelemetryConfig(buildVersion))
	if err != nil {
		return nil, ctx, fmt.Errorf("failed to start telemetry: %w", err)
	}
	ws := &workspace{
		settings:  settings,
		telemetry: tel,
		logger:    log.Logger,
	}
	ctx = tel.WithContext(ctx)

	if opts.store || (opts.directory && settings.Directory.Backend == config.BackendSQLite) {
		if err := ws.openStore(ctx); err != nil {
			ws.Close(ctx)
			return nil, ctx, err
		}
	}

	if opts.directory {
		if err := ws.openDirectory(ctx); err != nil {
			ws.Close(ctx)
			return nil, ctx, err
		}
	}

	return ws, ctx, nil
}

func (ws *workspace) openStore(ctx context.Context) error {
	store, err := openStore(ctx, ws.settings)
	if err != nil {
		return err
	}
	ws.store = store

	// audit trail
	ws.telemetry.Events.Subscribe(func(event engine.Event) {
		if err := store.AppendEvent(context.Background(), &event); err != nil {
			ws.logger.Warn().Err(err).Str("event", string(event.Type)).Msg("Failed to persist event")
		}
	}, nil)
	return nil
}

// openStore opens and migrates the SQLite store, creating its directory.
func openStore(ctx context.Context, settings *config.Settings) (*stores.SQLiteStore, error) {
	cfg := settings.StoreConfig()
	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create store directory: %w", err)
		}
	}

	store, err := stores.NewSQLiteStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create store: %w", err)
	}
	if err := store.Init(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

func (ws *workspace) openDirectory(ctx context.Context) error {
	switch ws.settings.Directory.Backend {
	case config.BackendMemory:
		ws.dir = directory.NewMemory()
	case config.BackendSQLite:
		ws.dir = ws.store
	case config.BackendS3:
		dir, err := directory.NewS3(ctx, ws.settings.Directory.S3)
		if err != nil {
			return fmt.Errorf("failed to open s3 directory: %w", err)
		}
		ws.dir = dir
	default:
		return fmt.Errorf("unknown directory backend %q", ws.settings.Directory.Backend)
	}
	ws.logger.Debug().Str("backend", ws.settings.Directory.Backend).Msg("Directory opened")
	return nil
}

// Close flushes telemetry, which drains pending events into the store,
// and then closes the store.
func (ws *workspace) Close(ctx context.Context) {
	if ws.telemetry != nil {
		if err := ws.telemetry.Shutdown(context.WithoutCancel(ctx)); err != nil {
			ws.logger.Warn().Err(err).Msg("Telemetry shutdown failed")
		}
	}
	if ws.store != nil {
		if err := ws.store.Close(); err != nil {
			ws.logger.Warn().Err(err).Msg("Store close failed")
		}
	}
}

func (ws *workspace) componentKinds() *model.ComponentKinds {
	return model.DefaultComponentKinds(ws.settings.ComponentKinds...)
}

// describer returns the live machine describer, nil when the node records'
// cloud snapshots stand in for it.
func (ws *workspace) describer() (orchestrator.MachineDescriber, error) {
	if !ws.settings.HCloud.Enabled {
		return nil, nil
	}
	token := os.Getenv(ws.settings.HCloud.TokenEnv)
	d, err := hcloud.NewFromToken(token, buildVersion, ws.logger)
	if err != nil {
		return nil, fmt.Errorf("hcloud (%s): %w", ws.settings.HCloud.TokenEnv, err)
	}
	return d, nil
}

func (ws *workspace) observer() (*orchestrator.Observer, error) {
	describer, err := ws.describer()
	if err != nil {
		return nil, err
	}
	return orchestrator.NewObserver(ws.dir, describer, ws.componentKinds(), ws.logger), nil
}

// policyEngine returns nil when policies are disabled.
func (ws *workspace) policyEngine(ctx context.Context) (*policy.Engine, error) {
	if !ws.settings.Policy.Enabled {
		return nil, nil
	}
	eng, err := policy.NewEngine(ws.logger, policy.WithBuiltins(ws.settings.Policy.Builtin))
	if err != nil {
		return nil, err
	}
	if paths := ws.settings.PolicyPaths(); len(paths) > 0 {
		if err := eng.LoadPolicies(ctx, paths); err != nil {
			return nil, err
		}
	}
	return eng, nil
}

// fleet is the resolved state of a set of definitions.
type fleet struct {
	defs    *config.Definitions
	servers []*model.Server
	errors  []*resolve.ResolutionError
}

// loadFleet parses the definitions named by args, or the configured ones,
// and resolves every realm and realm-less cluster. Definition errors are
// returned together; resolution errors are kept on the fleet.
func (ws *workspace) loadFleet(ctx context.Context, args []string) (*fleet, error) {
	sources := args
	if len(sources) == 0 {
		sources = ws.settings.DefinitionPaths()
	}

	defs, err := config.NewCUEParser().Parse(ctx, sources)
	if err != nil {
		return nil, err
	}
	for _, e := range defs.Errors {
		if e.Severity != config.SeverityError {
			ws.logger.Warn().Msg(e.Error())
		}
	}
	if defs.HasErrors() {
		return &fleet{defs: defs}, defs.Err()
	}

	reg, err := defs.Registry()
	if err != nil {
		return nil, err
	}
	defer reg.Close()

	f := &fleet{defs: defs}
	metrics := telemetry.MetricsFrom(ctx)
	resolver := resolve.New(resolve.WithDefaults(defs.Defaults), resolve.WithLogger(ws.logger))

	realms, err := reg.Realms()
	if err != nil {
		return nil, err
	}
	for _, r := range realms {
		res := resolver.ResolveRealm(r)
		metrics.RecordResolution(r.Name, len(res.Servers), len(res.Errors))
		f.add(res)
	}

	clusters, err := reg.Clusters()
	if err != nil {
		return nil, err
	}
	for _, c := range clusters {
		res := resolver.ResolveCluster(c)
		metrics.RecordResolution("", len(res.Servers), len(res.Errors))
		f.add(res)
	}

	sort.SliceStable(f.servers, func(i, j int) bool {
		return f.servers[i].FullName() < f.servers[j].FullName()
	})
	ws.logger.Debug().
		Int("servers", len(f.servers)).
		Int("errors", len(f.errors)).
		Strs("sources", defs.SourceFiles).
		Msg("Fleet resolved")
	return f, nil
}

func (f *fleet) add(res *resolve.Result) {
	f.servers = append(f.servers, res.Servers...)
	f.errors = append(f.errors, res.Errors...)
}

// Err joins the resolution errors.
func (f *fleet) Err() error {
	errs := make([]error, len(f.errors))
	for i, e := range f.errors {
		errs[i] = e
	}
	return errors.Join(errs...)
}

// filter keeps the servers whose full names are listed. No names keeps all.
func (f *fleet) filter(names []string) ([]*model.Server, error) {
	if len(names) == 0 {
		return f.servers, nil
	}
	byName := make(map[string]*model.Server, len(f.servers))
	for _, s := range f.servers {
		byName[s.FullName()] = s
	}
	out := make([]*model.Server, 0, len(names))
	for _, n := range names {
		s, ok := byName[n]
		if !ok {
			return nil, fmt.Errorf("no server named %q in the fleet", n)
		}
		out = append(out, s)
	}
	return out, nil
}
