package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/openfroyo/ironfleet/pkg/model"
)

// Definitions is the fleet declared by a set of definition sources.
type Definitions struct {
	// Defaults is the lowest-precedence compute layer applied to every server.
	Defaults model.Compute `json:"defaults,omitempty"`

	// Realms are the declared realms in source order.
	Realms []*model.Realm `json:"realms,omitempty"`

	// Clusters are clusters declared outside any realm.
	Clusters []*model.Cluster `json:"clusters,omitempty"`

	// SourceFiles are the files that were parsed.
	SourceFiles []string `json:"source_files"`

	// ParsedAt is when the definitions were parsed.
	ParsedAt time.Time `json:"parsed_at"`

	// Errors lists every problem found while parsing and validating.
	Errors []ValidationError `json:"errors,omitempty"`
}

// HasErrors reports whether any error-severity problem was found.
func (d *Definitions) HasErrors() bool {
	for _, e := range d.Errors {
		if e.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Err joins the error-severity problems, or returns nil.
func (d *Definitions) Err() error {
	var errs []error
	for _, e := range d.Errors {
		if e.Severity == SeverityError {
			errs = append(errs, e)
		}
	}
	return errors.Join(errs...)
}

// Registry defines every realm and realmless cluster in a new registry.
// Repeated names are merged in source order.
func (d *Definitions) Registry() (*model.Registry, error) {
	reg := model.NewRegistry()
	for _, r := range d.Realms {
		if err := reg.DefineRealm(r); err != nil {
			return nil, err
		}
	}
	for _, c := range d.Clusters {
		if err := reg.DefineCluster(c); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// Severity levels of a ValidationError.
const (
	SeverityError   = "error"
	SeverityWarning = "warning"
	SeverityInfo    = "info"
)

// ValidationError represents a validation error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the path to the offending value (e.g., "realms.prod.clusters").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`

	// Severity is the error severity (error, warning, info).
	Severity string `json:"severity" validate:"required,oneof=error warning info"`
}

// Error implements the error interface as "file:line:col: path: message".
func (e ValidationError) Error() string {
	msg := e.Message
	if e.Path != "" {
		msg = e.Path + ": " + msg
	}
	switch {
	case e.File != "" && e.Line > 0:
		return fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, msg)
	case e.File != "":
		return e.File + ": " + msg
	default:
		return msg
	}
}

func newError(file, path, message string) ValidationError {
	return ValidationError{File: file, Path: path, Message: message, Severity: SeverityError}
}
