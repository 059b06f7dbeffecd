package model

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Finding is a human-readable lint result for one server.
type Finding struct {
	// Server is the server's full name as far as it is known.
	Server string `json:"server"`

	// Field is the JSON name of the offending field.
	Field string `json:"field"`

	// Message describes the problem.
	Message string `json:"message"`
}

// String implements fmt.Stringer.
func (f Finding) String() string {
	return f.Message
}

var lintValidator = newLintValidator()

func newLintValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Lint reports identity fields a server is missing. It never fails: a
// fully populated server yields an empty list.
func Lint(s *Server) []Finding {
	findings := []Finding{}
	if s == nil {
		return findings
	}

	err := lintValidator.Struct(s)
	if err == nil {
		return findings
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return append(findings, Finding{
			Server:  s.FullName(),
			Message: fmt.Sprintf("server %q could not be linted: %v", s.FullName(), err),
		})
	}
	for _, fe := range verrs {
		findings = append(findings, Finding{
			Server:  s.FullName(),
			Field:   fe.Field(),
			Message: fmt.Sprintf("server %q is missing %s", s.FullName(), fe.Field()),
		})
	}
	return findings
}

// LintRealm lints every declared server of every cluster of r in one pass.
func LintRealm(r *Realm) []Finding {
	findings := []Finding{}
	for _, c := range r.Clusters {
		findings = append(findings, LintCluster(c)...)
	}
	return findings
}

// LintCluster lints every declared server of c.
func LintCluster(c *Cluster) []Finding {
	findings := []Finding{}
	for _, s := range c.Servers() {
		findings = append(findings, Lint(s)...)
	}
	return findings
}
