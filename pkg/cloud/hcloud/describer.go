// Package hcloud describes live Hetzner Cloud servers as machine
// descriptions for the observer.
package hcloud

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"
	"github.com/rs/zerolog"

	"github.com/openfroyo/ironfleet/pkg/engine"
	"github.com/openfroyo/ironfleet/pkg/manifest"
)

// Provider is the cloud name reported for Hetzner servers.
const Provider = "hcloud"

// Labels read from a server. Hetzner does not report these settings, so
// the sync phases stamp them on the server.
const (
	LabelKeypair    = "ironfleet.io/keypair"
	LabelMonitoring = "ironfleet.io/monitoring"
	LabelSSHUser    = "ironfleet.io/ssh-user"
)

// ServerGetter looks up servers by name. *hcloud.ServerClient satisfies it.
type ServerGetter interface {
	GetByName(ctx context.Context, name string) (*hcloud.Server, *hcloud.Response, error)
}

// FirewallGetter looks up firewalls by ID. *hcloud.FirewallClient satisfies it.
type FirewallGetter interface {
	GetByID(ctx context.Context, id int64) (*hcloud.Firewall, *hcloud.Response, error)
}

// Describer turns Hetzner Cloud servers into machine descriptions.
type Describer struct {
	servers   ServerGetter
	firewalls FirewallGetter
	sshUser   string
	logger    zerolog.Logger
}

// Option configures a Describer.
type Option func(*Describer)

// WithFirewalls resolves firewall names that server responses leave out.
func WithFirewalls(firewalls FirewallGetter) Option {
	return func(d *Describer) {
		d.firewalls = firewalls
	}
}

// WithSSHUser sets the SSH user reported for servers without the
// LabelSSHUser label. Defaults to "root".
func WithSSHUser(user string) Option {
	return func(d *Describer) {
		d.sshUser = user
	}
}

// NewDescriber creates a Describer over a server lookup.
func NewDescriber(servers ServerGetter, logger zerolog.Logger, opts ...Option) *Describer {
	d := &Describer{
		servers: servers,
		sshUser: "root",
		logger:  logger.With().Str("component", "hcloud-describer").Logger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// NewFromToken creates a Describer backed by the Hetzner Cloud API.
func NewFromToken(token, version string, logger zerolog.Logger, opts ...Option) (*Describer, error) {
	if token == "" {
		return nil, engine.NewPermanentError("hcloud token is empty", nil).
			WithCode(engine.ErrCodePermissionDenied)
	}
	client := hcloud.NewClient(
		hcloud.WithToken(token),
		hcloud.WithApplication("ironfleet", version),
	)
	opts = append([]Option{WithFirewalls(&client.Firewall)}, opts...)
	return NewDescriber(&client.Server, logger, opts...), nil
}

// Describe returns the description of the named server. A missing server
// is a permanent NOT_FOUND error.
func (d *Describer) Describe(ctx context.Context, name string) (manifest.MachineDescription, error) {
	server, _, err := d.servers.GetByName(ctx, name)
	if err != nil {
		return nil, classify(err, "failed to get server", name)
	}
	if server == nil {
		return nil, engine.NewPermanentError("server not found", fmt.Errorf("no hcloud server named %q", name)).
			WithCode(engine.ErrCodeNotFound).
			WithResource(name)
	}

	desc := d.describe(server)
	groups, err := d.firewallNames(ctx, server)
	if err != nil {
		return nil, classify(err, "failed to get firewall", name)
	}
	desc["security_groups"] = groups

	d.logger.Debug().
		Str("machine", name).
		Int64("server_id", server.ID).
		Msg("Described server")
	return desc, nil
}

func (d *Describer) describe(s *hcloud.Server) manifest.MachineDescription {
	desc := manifest.MachineDescription{
		"provider": Provider,
		"ssh_user": d.sshUser,
	}

	if s.ServerType != nil {
		desc["flavor"] = s.ServerType.Name
		if s.ServerType.StorageType != "" {
			desc["root_device_type"] = string(s.ServerType.StorageType)
		}
	}
	if s.Image != nil {
		desc["image_id"] = imageID(s.Image)
	}

	placement := map[string]interface{}{}
	if s.Datacenter != nil {
		desc["availability_zones"] = []interface{}{s.Datacenter.Name}
		if s.Datacenter.Location != nil {
			placement["region"] = s.Datacenter.Location.Name
			placement["network_zone"] = string(s.Datacenter.Location.NetworkZone)
		}
	}
	if s.PlacementGroup != nil {
		placement["group_name"] = s.PlacementGroup.Name
	}
	desc["placement"] = placement

	if ip := s.PublicNet.IPv4; ip.IP != nil && !ip.IP.IsUnspecified() {
		publicIP := map[string]interface{}{"address": ip.IP.String()}
		if ip.ID != 0 {
			publicIP["allocation_id"] = strconv.FormatInt(ip.ID, 10)
		}
		desc["public_ip"] = publicIP
	}

	if len(s.PrivateNet) > 0 && s.PrivateNet[0].Network != nil {
		network := s.PrivateNet[0].Network
		desc["vpc_id"] = networkName(network)
		if s.PrivateNet[0].IP != nil {
			desc["private_ip"] = s.PrivateNet[0].IP.String()
		}
	}

	lbs := make([]interface{}, 0, len(s.LoadBalancers))
	for _, lb := range s.LoadBalancers {
		if lb.Name != "" {
			lbs = append(lbs, lb.Name)
		} else {
			lbs = append(lbs, strconv.FormatInt(lb.ID, 10))
		}
	}
	desc["load_balancers"] = lbs

	labels := make(map[string]interface{}, len(s.Labels))
	for k, v := range s.Labels {
		labels[k] = v
	}
	desc["labels"] = labels
	if v, ok := s.Labels[LabelKeypair]; ok {
		desc["key_name"] = v
	}
	if v, ok := s.Labels[LabelMonitoring]; ok {
		desc["monitoring"] = map[string]interface{}{"state": v}
	}
	if v, ok := s.Labels[LabelSSHUser]; ok {
		desc["ssh_user"] = v
	}

	return desc
}

// firewallNames lists the names of the firewalls applied to s, resolving
// the ones the server response only carries an ID for.
func (d *Describer) firewallNames(ctx context.Context, s *hcloud.Server) ([]interface{}, error) {
	names := make([]interface{}, 0, len(s.PublicNet.Firewalls))
	for _, status := range s.PublicNet.Firewalls {
		if status == nil {
			continue
		}
		fw := status.Firewall
		if fw.Name == "" && d.firewalls != nil {
			resolved, _, err := d.firewalls.GetByID(ctx, fw.ID)
			if err != nil {
				return nil, err
			}
			if resolved != nil {
				fw = *resolved
			}
		}
		if fw.Name != "" {
			names = append(names, fw.Name)
		} else {
			names = append(names, strconv.FormatInt(fw.ID, 10))
		}
	}
	return names, nil
}

func imageID(img *hcloud.Image) string {
	if img.Name != "" {
		return img.Name
	}
	return strconv.FormatInt(img.ID, 10)
}

func networkName(n *hcloud.Network) string {
	if n.Name != "" {
		return n.Name
	}
	return strconv.FormatInt(n.ID, 10)
}

// classify maps an API error onto the engine error taxonomy.
func classify(err error, message, name string) error {
	var apiErr hcloud.Error
	if !errors.As(err, &apiErr) {
		return engine.NewTransientError(message, err).WithResource(name)
	}

	switch apiErr.Code {
	case hcloud.ErrorCodeNotFound:
		return engine.NewPermanentError(message, err).WithCode(engine.ErrCodeNotFound).WithResource(name)
	case hcloud.ErrorCodeRateLimitExceeded:
		return engine.NewThrottledError(message, err).WithCode(engine.ErrCodeRateLimited).WithResource(name)
	case hcloud.ErrorCodeUnauthorized, hcloud.ErrorCodeForbidden:
		return engine.NewPermanentError(message, err).WithCode(engine.ErrCodePermissionDenied).WithResource(name)
	case hcloud.ErrorCodeConflict, hcloud.ErrorCodeLocked:
		return engine.NewConflictError(message, err).WithCode(engine.ErrCodeConflict).WithResource(name)
	case hcloud.ErrorCodeInvalidInput:
		return engine.NewPermanentError(message, err).WithCode(engine.ErrCodeValidation).WithResource(name)
	default:
		return engine.NewTransientError(message, err).WithResource(name)
	}
}
