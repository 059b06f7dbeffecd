package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/openfroyo/ironfleet/pkg/directory"
	"github.com/openfroyo/ironfleet/pkg/engine"
	"github.com/openfroyo/ironfleet/pkg/manifest"
	"github.com/openfroyo/ironfleet/pkg/model"
)

// Phase names a synchronization step.
type Phase string

const (
	PhaseCreateDependencies Phase = "create_dependencies"
	PhaseCreateInstances    Phase = "create_instances"
	PhaseSave               Phase = "save"
	PhaseLoad               Phase = "load"
	PhaseCorrelate          Phase = "correlate"
	PhaseValidate           Phase = "validate"
)

// AllPhases lists every phase in declaration order.
var AllPhases = []Phase{
	PhaseCreateDependencies,
	PhaseCreateInstances,
	PhaseSave,
	PhaseLoad,
	PhaseCorrelate,
	PhaseValidate,
}

// DefaultPhases is what Run executes when no phase is given.
var DefaultPhases = []Phase{
	PhaseCreateDependencies,
	PhaseCreateInstances,
	PhaseSave,
	PhaseLoad,
}

// Validate checks that p is a known phase.
func (p Phase) Validate() error {
	for _, known := range AllPhases {
		if p == known {
			return nil
		}
	}
	return engine.NewPermanentError(fmt.Sprintf("unknown phase: %s", p), nil).
		WithCode(engine.ErrCodeValidation)
}

// ParsePhases converts names into phases, rejecting unknown ones.
func ParsePhases(names []string) ([]Phase, error) {
	out := make([]Phase, 0, len(names))
	for _, n := range names {
		p := Phase(n)
		if err := p.Validate(); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Capability is the kind of call a phase makes on a sub-service.
type Capability string

const (
	CapabilityCreate Capability = "Create"
	CapabilitySave   Capability = "Save"
	CapabilityLoad   Capability = "Load"
)

// Machine pairs a resolved server with its desired manifest.
type Machine struct {
	Server   *model.Server
	Manifest *manifest.Manifest
}

// NewMachine builds the desired manifest of s.
func NewMachine(s *model.Server) Machine {
	return Machine{Server: s, Manifest: manifest.FromServer(s)}
}

// NewMachines builds machines for a batch of resolved servers.
func NewMachines(servers []*model.Server) []Machine {
	out := make([]Machine, len(servers))
	for i, s := range servers {
		out[i] = NewMachine(s)
	}
	return out
}

// Name is the machine's full name, which is also its node name.
func (m Machine) Name() string {
	if m.Manifest != nil {
		return m.Manifest.FullName()
	}
	if m.Server != nil {
		return m.Server.FullName()
	}
	return ""
}

// Creator registers a machine's record if it does not exist yet.
type Creator interface {
	Create(ctx context.Context, m Machine) (directory.Document, error)
}

// Saver writes a machine's records from its manifest.
type Saver interface {
	Save(ctx context.Context, m Machine) (directory.Document, error)
}

// Loader fetches a machine's records.
type Loader interface {
	Load(ctx context.Context, m Machine) (directory.Document, error)
}

// Subservices are the handles a phase delegates to.
type Subservices struct {
	Clients interface {
		Creator
		Loader
	}
	Nodes interface {
		Creator
		Saver
		Loader
	}
	Roles interface {
		Saver
		Loader
	}
}

// Outcome is the result of one sub-service call for one machine.
type Outcome struct {
	Machine    string
	Service    string
	Capability Capability

	// Err is nil on success.
	Err error

	// Record is what the sub-service returned, nil on failure.
	Record directory.Document

	// Attempts counts calls including retries.
	Attempts int

	// Duration covers all attempts and backoff.
	Duration time.Duration
}

// Succeeded reports whether the call ended without an error.
func (o Outcome) Succeeded() bool {
	return o.Err == nil
}

// handle is one capability of one sub-service.
type handle struct {
	service    string
	capability Capability
	call       func(ctx context.Context, m Machine) (directory.Document, error)
}

func creates(service string, c Creator) handle {
	return handle{service: service, capability: CapabilityCreate, call: c.Create}
}

func saves(service string, s Saver) handle {
	return handle{service: service, capability: CapabilitySave, call: s.Save}
}

func loads(service string, l Loader) handle {
	return handle{service: service, capability: CapabilityLoad, call: l.Load}
}

// phaseTable lists the ordered sub-service handles of every phase.
func phaseTable(s Subservices) map[Phase][]handle {
	return map[Phase][]handle{
		PhaseCreateDependencies: {creates("clients", s.Clients)},
		PhaseCreateInstances:    {creates("nodes", s.Nodes)},
		PhaseSave:               {saves("nodes", s.Nodes), saves("roles", s.Roles)},
		PhaseLoad:               {loads("nodes", s.Nodes), loads("clients", s.Clients)},
		PhaseCorrelate:          {loads("nodes", s.Nodes), loads("clients", s.Clients)},
		PhaseValidate:           {loads("clients", s.Clients)},
	}
}
