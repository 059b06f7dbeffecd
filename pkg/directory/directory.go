// Package directory is the contract for the remote configuration-management
// directory that stores node, client and role documents, plus in-memory and
// S3-backed implementations.
package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/openfroyo/ironfleet/pkg/model"
)

// Kind is a document collection.
type Kind string

const (
	KindNode   Kind = "node"
	KindClient Kind = "client"
	KindRole   Kind = "role"
)

// Validate checks that k is a known kind.
func (k Kind) Validate() error {
	switch k {
	case KindNode, KindClient, KindRole:
		return nil
	default:
		return fmt.Errorf("invalid document kind: %s", k)
	}
}

// ErrNotFound is returned by Lookup and Delete on a miss.
var ErrNotFound = errors.New("document not found")

// NotFound returns an error wrapping ErrNotFound for kind/name.
func NotFound(kind Kind, name string) error {
	return fmt.Errorf("%s %q: %w", kind, name, ErrNotFound)
}

// IsNotFound reports whether err is a directory miss.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Document is a JSON-shaped directory record.
type Document map[string]interface{}

// Clone returns a deep copy.
func (d Document) Clone() Document {
	if d == nil {
		return nil
	}
	return Document(model.CopyAttributes(d))
}

// Directory stores documents by kind and name.
type Directory interface {
	// Lookup returns the named document or an error wrapping ErrNotFound.
	Lookup(ctx context.Context, kind Kind, name string) (Document, error)

	// Save creates or replaces a document.
	Save(ctx context.Context, kind Kind, name string, doc Document) error

	// Delete removes a document.
	Delete(ctx context.Context, kind Kind, name string) error

	// List returns the document names of a kind in sorted order.
	List(ctx context.Context, kind Kind) ([]string, error)
}
