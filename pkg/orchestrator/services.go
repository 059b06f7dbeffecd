package orchestrator

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/sync/singleflight"

	"github.com/openfroyo/ironfleet/pkg/directory"
	"github.com/openfroyo/ironfleet/pkg/engine"
	"github.com/openfroyo/ironfleet/pkg/manifest"
)

// Clients manages the credential records machines use to talk to the
// directory.
type Clients struct {
	dir    directory.Directory
	keyDir string
	logger zerolog.Logger
}

// NewClients creates the clients sub-service. When keyDir is set, Create
// writes each new private key there as <machine>.pem.
func NewClients(dir directory.Directory, keyDir string, logger zerolog.Logger) *Clients {
	return &Clients{
		dir:    dir,
		keyDir: keyDir,
		logger: logger.With().Str("component", "clients").Logger(),
	}
}

// Create registers a client with a fresh ed25519 key pair unless one
// exists already.
func (c *Clients) Create(ctx context.Context, m Machine) (directory.Document, error) {
	name := m.Name()
	existing, err := c.dir.Lookup(ctx, directory.KindClient, name)
	if err == nil {
		return existing, nil
	}
	if !directory.IsNotFound(err) {
		return nil, directoryError("lookup", directory.KindClient, name, err)
	}

	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate keypair: %w", err)
	}
	sshPubKey, err := ssh.NewPublicKey(pubKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create SSH public key: %w", err)
	}

	if c.keyDir != "" {
		if err := c.writePrivateKey(name, privKey); err != nil {
			return nil, err
		}
	}

	doc := directory.Document{
		"name":        name,
		"public_key":  strings.TrimSpace(string(ssh.MarshalAuthorizedKey(sshPubKey))),
		"fingerprint": ssh.FingerprintSHA256(sshPubKey),
		"created_at":  time.Now().UTC().Format(time.RFC3339),
	}
	if err := c.dir.Save(ctx, directory.KindClient, name, doc); err != nil {
		return nil, directoryError("save", directory.KindClient, name, err)
	}

	c.logger.Info().Str("machine", name).Str("fingerprint", doc["fingerprint"].(string)).Msg("Registered client")
	return doc, nil
}

func (c *Clients) writePrivateKey(name string, key ed25519.PrivateKey) error {
	block, err := ssh.MarshalPrivateKey(key, name)
	if err != nil {
		return fmt.Errorf("failed to marshal private key: %w", err)
	}
	if err := os.MkdirAll(c.keyDir, 0700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}
	path := filepath.Join(c.keyDir, name+".pem")
	if err := os.WriteFile(path, pem.EncodeToMemory(block), 0600); err != nil {
		return fmt.Errorf("failed to write private key: %w", err)
	}
	return nil
}

// Load fetches the client record.
func (c *Clients) Load(ctx context.Context, m Machine) (directory.Document, error) {
	return load(ctx, c.dir, directory.KindClient, m.Name())
}

// Nodes manages node records.
type Nodes struct {
	dir    directory.Directory
	logger zerolog.Logger
}

// NewNodes creates the nodes sub-service.
func NewNodes(dir directory.Directory, logger zerolog.Logger) *Nodes {
	return &Nodes{
		dir:    dir,
		logger: logger.With().Str("component", "nodes").Logger(),
	}
}

// Create registers the node unless it exists already.
func (n *Nodes) Create(ctx context.Context, m Machine) (directory.Document, error) {
	name := m.Name()
	existing, err := n.dir.Lookup(ctx, directory.KindNode, name)
	if err == nil {
		return existing, nil
	}
	if !directory.IsNotFound(err) {
		return nil, directoryError("lookup", directory.KindNode, name, err)
	}

	doc := NodeDocument(m.Manifest)
	if err := n.dir.Save(ctx, directory.KindNode, name, doc); err != nil {
		return nil, directoryError("save", directory.KindNode, name, err)
	}
	n.logger.Info().Str("machine", name).Msg("Registered node")
	return doc, nil
}

// Save writes the node record from the desired manifest.
func (n *Nodes) Save(ctx context.Context, m Machine) (directory.Document, error) {
	name := m.Name()
	doc := NodeDocument(m.Manifest)
	if err := n.dir.Save(ctx, directory.KindNode, name, doc); err != nil {
		return nil, directoryError("save", directory.KindNode, name, err)
	}
	return doc, nil
}

// Load fetches the node record.
func (n *Nodes) Load(ctx context.Context, m Machine) (directory.Document, error) {
	return load(ctx, n.dir, directory.KindNode, m.Name())
}

// NodeDocument renders the node record of a manifest: environment, run
// list, announced components and a snapshot of the cloud placement.
func NodeDocument(m *manifest.Manifest) directory.Document {
	runList := make([]interface{}, len(m.RunList))
	for i, item := range m.RunList {
		runList[i] = item
	}

	announces := make(map[string]interface{}, len(m.Components))
	for _, c := range m.Components {
		fragment := c.Fragment()
		announces[c.Name] = map[string]interface{}{
			"type":       c.Kind,
			"attributes": fragment["attributes"],
		}
	}

	return directory.Document{
		"name":             m.FullName(),
		"chef_environment": m.Environment,
		"run_list":         runList,
		"announces":        announces,
		"cloud":            map[string]interface{}(manifest.Describe(m)),
	}
}

// Roles manages the cluster and facet role documents.
type Roles struct {
	dir    directory.Directory
	group  singleflight.Group
	logger zerolog.Logger
}

// NewRoles creates the roles sub-service.
func NewRoles(dir directory.Directory, logger zerolog.Logger) *Roles {
	return &Roles{
		dir:    dir,
		logger: logger.With().Str("component", "roles").Logger(),
	}
}

// ClusterRoleName is the role document holding a cluster's attributes.
func ClusterRoleName(m *manifest.Manifest) string {
	return m.ClusterName + "-cluster"
}

// FacetRoleName is the role document holding a facet's attributes.
func FacetRoleName(m *manifest.Manifest) string {
	return m.ClusterName + "-" + m.FacetName + "-facet"
}

// Save writes the machine's cluster and facet role documents. Machines of
// the same facet share both documents; concurrent writes of the same role
// are coalesced into one.
func (r *Roles) Save(ctx context.Context, m Machine) (directory.Document, error) {
	mf := m.Manifest
	roles := []struct {
		name                string
		defaults, overrides map[string]interface{}
	}{
		{ClusterRoleName(mf), mf.ClusterDefaultAttributes, mf.ClusterOverrideAttributes},
		{FacetRoleName(mf), mf.FacetDefaultAttributes, mf.FacetOverrideAttributes},
	}

	for _, role := range roles {
		doc := roleDocument(role.name, role.defaults, role.overrides)
		_, err, shared := r.group.Do(role.name, func() (interface{}, error) {
			return nil, r.dir.Save(ctx, directory.KindRole, role.name, doc)
		})
		if err != nil {
			return nil, directoryError("save", directory.KindRole, role.name, err)
		}
		if shared {
			r.logger.Debug().Str("role", role.name).Msg("Role save coalesced")
		}
	}

	return directory.Document{
		"cluster_role": ClusterRoleName(mf),
		"facet_role":   FacetRoleName(mf),
	}, nil
}

// Load fetches the machine's role documents. A missing role is an empty
// document.
func (r *Roles) Load(ctx context.Context, m Machine) (directory.Document, error) {
	out := directory.Document{}
	for key, name := range map[string]string{
		"cluster_role": ClusterRoleName(m.Manifest),
		"facet_role":   FacetRoleName(m.Manifest),
	} {
		doc, err := r.dir.Lookup(ctx, directory.KindRole, name)
		if directory.IsNotFound(err) {
			doc, err = directory.Document{}, nil
		}
		if err != nil {
			return nil, directoryError("lookup", directory.KindRole, name, err)
		}
		out[key] = map[string]interface{}(doc)
	}
	return out, nil
}

func roleDocument(name string, defaults, overrides map[string]interface{}) directory.Document {
	doc := directory.Document{
		"name":                name,
		"default_attributes":  map[string]interface{}{},
		"override_attributes": map[string]interface{}{},
	}
	if defaults != nil {
		doc["default_attributes"] = defaults
	}
	if overrides != nil {
		doc["override_attributes"] = overrides
	}
	return doc.Clone()
}

func load(ctx context.Context, dir directory.Directory, kind directory.Kind, name string) (directory.Document, error) {
	doc, err := dir.Lookup(ctx, kind, name)
	if err != nil {
		return nil, directoryError("lookup", kind, name, err)
	}
	return doc, nil
}

// directoryError classifies a directory failure. A miss is permanent and
// unclassified backend failures are transient.
func directoryError(op string, kind directory.Kind, name string, err error) error {
	resource := string(kind) + "/" + name
	switch {
	case directory.IsNotFound(err):
		return engine.NewPermanentError(fmt.Sprintf("%s %s", op, resource), err).
			WithCode(engine.ErrCodeNotFound).
			WithResource(resource)
	case engine.ClassOf(err) != "":
		return fmt.Errorf("%s %s: %w", op, resource, err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	default:
		return engine.NewTransientError(fmt.Sprintf("%s %s", op, resource), err).
			WithCode(engine.ErrCodeLookup).
			WithResource(resource)
	}
}
