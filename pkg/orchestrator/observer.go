package orchestrator

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/openfroyo/ironfleet/pkg/directory"
	"github.com/openfroyo/ironfleet/pkg/manifest"
	"github.com/openfroyo/ironfleet/pkg/model"
	"github.com/openfroyo/ironfleet/pkg/telemetry"
)

// MachineDescriber returns the live description of a machine by name.
type MachineDescriber interface {
	Describe(ctx context.Context, name string) (manifest.MachineDescription, error)
}

// Observer rebuilds the observed manifest of a machine.
type Observer struct {
	dir       directory.Directory
	describer MachineDescriber
	builder   *manifest.Builder
	logger    zerolog.Logger
}

// NewObserver creates an Observer. Without a describer the node record's
// cloud snapshot stands in for the live machine description.
func NewObserver(dir directory.Directory, describer MachineDescriber, kinds *model.ComponentKinds, logger zerolog.Logger) *Observer {
	return &Observer{
		dir:       dir,
		describer: describer,
		builder:   manifest.NewBuilder(dir, kinds, logger),
		logger:    logger.With().Str("component", "observer").Logger(),
	}
}

// Observe returns the observed manifest of the named machine. A machine
// without a node record yields an error wrapping directory.ErrNotFound.
func (o *Observer) Observe(ctx context.Context, name string) (m *manifest.Manifest, err error) {
	op := telemetry.StartOperation(ctx, "machine.observe", telemetry.AttrMachine.String(name))
	defer func() { op.End(err) }()
	ctx = op.Ctx

	node, err := o.dir.Lookup(ctx, directory.KindNode, name)
	if err != nil {
		if directory.IsNotFound(err) {
			return nil, err
		}
		return nil, directoryError("lookup", directory.KindNode, name, err)
	}

	var desc manifest.MachineDescription
	if o.describer != nil {
		desc, err = o.describer.Describe(ctx, name)
		if err != nil {
			return nil, err
		}
	} else {
		desc = manifest.MachineDescription(manifest.Lookup(map[string]interface{}(node)).Get("cloud").Map())
	}

	o.logger.Debug().Str("machine", name).Bool("live", o.describer != nil).Msg("Observing machine")
	return o.builder.FromObservation(ctx, manifest.Observation{
		NodeName: name,
		Node:     node,
		Machine:  desc,
	})
}
