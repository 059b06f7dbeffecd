package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"

	"github.com/openfroyo/ironfleet/pkg/model"
)

// children names the collection nested inside each level of the hierarchy.
var children = map[string]string{
	"realms":   "clusters",
	"clusters": "facets",
	"facets":   "servers",
}

// fleetDocument is the decoded shape of one definition source.
type fleetDocument struct {
	Defaults model.Compute    `json:"defaults"`
	Realms   []*model.Realm   `json:"realms"`
	Clusters []*model.Cluster `json:"clusters"`
}

// CUEParser loads fleet definitions from CUE and YAML sources.
type CUEParser struct {
	ctx            *cue.Context
	schemaRegistry *SchemaRegistry
}

// NewCUEParser creates a new CUE parser.
func NewCUEParser() *CUEParser {
	ctx := cuecontext.New()
	return &CUEParser{
		ctx:            ctx,
		schemaRegistry: newSchemaRegistry(ctx),
	}
}

// Parse loads every source and returns the combined definitions. Sources
// may be .cue, .yaml, .yml or .json files, or directories. A directory is
// loaded as one CUE package plus each YAML file it contains.
//
// Problems in the definitions are collected in Definitions.Errors; the
// returned error is reserved for unreadable sources.
func (cp *CUEParser) Parse(ctx context.Context, sources []string) (*Definitions, error) {
	if len(sources) == 0 {
		return nil, fmt.Errorf("no sources provided")
	}

	defs := &Definitions{ParsedAt: time.Now().UTC()}
	for _, source := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		info, err := os.Stat(source)
		if err != nil {
			return nil, fmt.Errorf("failed to stat source %s: %w", source, err)
		}

		if info.IsDir() {
			if err := cp.parseDirectory(defs, source); err != nil {
				return nil, err
			}
			continue
		}
		cp.parseFile(defs, source)
	}

	if len(defs.Realms) == 0 && len(defs.Clusters) == 0 && !defs.HasErrors() {
		defs.Errors = append(defs.Errors, ValidationError{
			Message:  "no realms or clusters declared",
			Severity: SeverityWarning,
		})
	}
	return defs, nil
}

// ParseInline parses inline CUE content.
func (cp *CUEParser) ParseInline(ctx context.Context, content string) (*Definitions, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defs := &Definitions{SourceFiles: []string{"inline"}, ParsedAt: time.Now().UTC()}
	val := cp.ctx.CompileString(content, cue.Filename("inline"))
	cp.extract(defs, val, "inline")
	return defs, nil
}

// ParseYAML parses YAML or JSON content. name is used in error locations.
func (cp *CUEParser) ParseYAML(ctx context.Context, name string, content []byte) (*Definitions, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	defs := &Definitions{SourceFiles: []string{name}, ParsedAt: time.Now().UTC()}
	cp.parseYAML(defs, name, content)
	return defs, nil
}

func (cp *CUEParser) parseDirectory(defs *Definitions, dir string) error {
	files, err := DiscoverFiles(dir)
	if err != nil {
		return err
	}

	hasCUE := false
	for _, f := range files {
		if filepath.Ext(f) == ".cue" && filepath.Dir(f) == filepath.Clean(dir) {
			hasCUE = true
			continue
		}
		if filepath.Ext(f) != ".cue" {
			cp.parseFile(defs, f)
		}
	}
	if hasCUE {
		val, sourceFiles, errs := cp.loadDirectory(dir)
		defs.SourceFiles = append(defs.SourceFiles, sourceFiles...)
		if len(errs) > 0 {
			defs.Errors = append(defs.Errors, errs...)
			return nil
		}
		cp.extract(defs, val, dir)
	}
	return nil
}

func (cp *CUEParser) parseFile(defs *Definitions, path string) {
	defs.SourceFiles = append(defs.SourceFiles, path)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		val, errs := cp.loadFile(path)
		if len(errs) > 0 {
			defs.Errors = append(defs.Errors, errs...)
			return
		}
		cp.extract(defs, val, path)
	case ".yaml", ".yml", ".json":
		content, err := os.ReadFile(path)
		if err != nil {
			defs.Errors = append(defs.Errors, newError(path, "", fmt.Sprintf("failed to read file: %v", err)))
			return
		}
		cp.parseYAML(defs, path, content)
	default:
		defs.Errors = append(defs.Errors, newError(path, "", "unsupported definition format"))
	}
}

// loadDirectory loads a directory as a CUE package.
func (cp *CUEParser) loadDirectory(dir string) (cue.Value, []string, []ValidationError) {
	buildInstances := load.Instances([]string{"."}, &load.Config{Dir: dir})
	if len(buildInstances) == 0 {
		return cue.Value{}, nil, []ValidationError{newError(dir, "", "no CUE files found")}
	}

	inst := buildInstances[0]
	if inst.Err != nil {
		return cue.Value{}, nil, cp.convertCUEErrors(inst.Err, dir)
	}

	var files []string
	for _, file := range inst.BuildFiles {
		files = append(files, file.Filename)
	}

	val := cp.ctx.BuildInstance(inst)
	if err := val.Err(); err != nil {
		return cue.Value{}, files, cp.convertCUEErrors(err, dir)
	}
	return val, files, nil
}

// loadFile loads a single CUE file.
func (cp *CUEParser) loadFile(path string) (cue.Value, []ValidationError) {
	content, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, []ValidationError{newError(path, "", fmt.Sprintf("failed to read file: %v", err))}
	}

	val := cp.ctx.CompileString(string(content), cue.Filename(path))
	if err := val.Err(); err != nil {
		return cue.Value{}, cp.convertCUEErrors(err, path)
	}
	return val, nil
}

func (cp *CUEParser) parseYAML(defs *Definitions, path string, content []byte) {
	var data interface{}
	if err := yaml.Unmarshal(content, &data); err != nil {
		defs.Errors = append(defs.Errors, newError(path, "", err.Error()))
		return
	}
	if data == nil {
		return
	}

	val := cp.ctx.Encode(stringKeys(data))
	if err := val.Err(); err != nil {
		defs.Errors = append(defs.Errors, newError(path, "", fmt.Sprintf("failed to encode document: %v", err)))
		return
	}
	cp.extract(defs, val, path)
}

// extract validates val against the fleet schema and appends what it
// declares to defs.
func (cp *CUEParser) extract(defs *Definitions, val cue.Value, source string) {
	if err := val.Err(); err != nil {
		defs.Errors = append(defs.Errors, cp.convertCUEErrors(err, source)...)
		return
	}
	if err := cp.schemaRegistry.Validate(SchemaFleet, val); err != nil {
		defs.Errors = append(defs.Errors, cp.convertCUEErrors(err, source)...)
		return
	}

	tree := make(map[string]interface{})
	for _, field := range []string{"defaults", "realms", "clusters"} {
		v := val.LookupPath(cue.ParsePath(field))
		if !v.Exists() {
			continue
		}
		var (
			decoded interface{}
			err     error
		)
		if field == "defaults" {
			decoded, err = cp.decodeEntity(v, "")
		} else {
			decoded, err = cp.decodeCollection(v, field)
		}
		if err != nil {
			defs.Errors = append(defs.Errors, newError(source, field, err.Error()))
			return
		}
		tree[field] = decoded
	}

	doc, err := toFleetDocument(tree)
	if err != nil {
		defs.Errors = append(defs.Errors, newError(source, "", err.Error()))
		return
	}
	if err := defs.Defaults.Merge(doc.Defaults); err != nil {
		defs.Errors = append(defs.Errors, newError(source, "defaults", err.Error()))
	}
	defs.Realms = append(defs.Realms, doc.Realms...)
	defs.Clusters = append(defs.Clusters, doc.Clusters...)
}

// decodeCollection turns a map keyed by name or a list into a list of
// entities, filling each entity's name from its key. Map order follows
// field order.
func (cp *CUEParser) decodeCollection(v cue.Value, field string) ([]interface{}, error) {
	var (
		keys  []string
		items []cue.Value
	)
	switch v.IncompleteKind() {
	case cue.StructKind:
		iter, err := v.Fields()
		if err != nil {
			return nil, err
		}
		for iter.Next() {
			keys = append(keys, iter.Selector().Unquoted())
			items = append(items, iter.Value())
		}
	case cue.ListKind:
		list, err := v.List()
		if err != nil {
			return nil, err
		}
		for list.Next() {
			keys = append(keys, "")
			items = append(items, list.Value())
		}
	default:
		return nil, fmt.Errorf("%s must be a map or a list", field)
	}

	out := make([]interface{}, 0, len(items))
	for i, item := range items {
		entity, err := cp.decodeEntity(item, children[field])
		if err != nil {
			return nil, err
		}
		if _, ok := entity["name"]; !ok && keys[i] != "" {
			entity["name"] = keys[i]
		}
		out = append(out, entity)
	}
	return out, nil
}

// decodeEntity decodes a struct, recursing into the named child collection.
func (cp *CUEParser) decodeEntity(v cue.Value, child string) (map[string]interface{}, error) {
	iter, err := v.Fields()
	if err != nil {
		return nil, err
	}
	out := make(map[string]interface{})
	for iter.Next() {
		label := iter.Selector().Unquoted()
		if child != "" && label == child {
			items, err := cp.decodeCollection(iter.Value(), child)
			if err != nil {
				return nil, err
			}
			out[label] = items
			continue
		}
		var x interface{}
		if err := iter.Value().Decode(&x); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", label, err)
		}
		out[label] = x
	}
	return out, nil
}

func toFleetDocument(tree map[string]interface{}) (*fleetDocument, error) {
	raw, err := json.Marshal(tree)
	if err != nil {
		return nil, fmt.Errorf("failed to encode definitions: %w", err)
	}
	var doc fleetDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode definitions: %w", err)
	}
	return &doc, nil
}

// stringKeys converts the map[interface{}]interface{} values YAML produces
// for non-string keys, such as server indexes, into string-keyed maps.
func stringKeys(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, val := range t {
			t[k] = stringKeys(val)
		}
		return t
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[cast.ToString(k)] = stringKeys(val)
		}
		return out
	case []interface{}:
		for i, val := range t {
			t[i] = stringKeys(val)
		}
		return t
	default:
		return v
	}
}

// convertCUEErrors converts CUE errors to ValidationError slice. Positions
// inside built-in schemas are skipped in favour of the document's own.
func (cp *CUEParser) convertCUEErrors(err error, source string) []ValidationError {
	var validationErrors []ValidationError

	for _, e := range errors.Errors(err) {
		ve := ValidationError{
			File:     source,
			Path:     strings.Join(e.Path(), "."),
			Message:  errors.Details(e, nil),
			Severity: SeverityError,
		}
		for _, pos := range errors.Positions(e) {
			if strings.HasSuffix(pos.Filename(), ".schema.cue") {
				continue
			}
			if pos.Filename() != "" {
				ve.File = pos.Filename()
			}
			ve.Line = pos.Line()
			ve.Column = pos.Column()
			break
		}
		validationErrors = append(validationErrors, ve)
	}

	return validationErrors
}

// DiscoverFiles returns the definition files under dir, recursively.
func DiscoverFiles(dir string) ([]string, error) {
	var files []string

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if path != dir && strings.HasPrefix(info.Name(), ".") {
				return filepath.SkipDir
			}
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case ".cue", ".yaml", ".yml", ".json":
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to walk directory: %w", err)
	}

	return files, nil
}
