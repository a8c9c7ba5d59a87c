package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/roach88/evreplay/internal/ir"
)

// DomainEvent is a decoded event in the current payload shape of its kind.
type DomainEvent interface {
	EventKind() string
}

// DecodeFunc decodes a current-version payload. It must be pure.
type DecodeFunc func(raw []byte) (DomainEvent, error)

// MigrateFunc rewrites a payload of version v into the shape of v+1.
// It must be pure.
type MigrateFunc func(raw []byte) ([]byte, error)

type kindEntry struct {
	current    uint32
	decode     DecodeFunc
	migrations map[uint32]MigrateFunc
	schemas    map[uint32]*jsonschema.Schema
}

// Registry is a closed table of event kinds. Build it once at startup;
// it is read-only afterwards and safe for concurrent Decode calls.
type Registry struct {
	kinds map[string]*kindEntry
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{kinds: make(map[string]*kindEntry)}
}

// Register sets the decoder for the current version of kind.
// Each kind has exactly one current version.
func (r *Registry) Register(kind string, version uint32, decode DecodeFunc) error {
	if kind == "" {
		return fmt.Errorf("register: kind is required")
	}
	if version == 0 {
		return fmt.Errorf("register %s: version must be >= 1", kind)
	}
	if decode == nil {
		return fmt.Errorf("register %s/v%d: nil decoder", kind, version)
	}
	entry := r.entry(kind)
	if entry.decode != nil {
		return fmt.Errorf("register %s/v%d: decoder already registered for v%d", kind, version, entry.current)
	}
	for from := range entry.migrations {
		if from >= version {
			return fmt.Errorf("register %s/v%d: migration from v%d already registered at or past current", kind, version, from)
		}
	}
	entry.current = version
	entry.decode = decode
	return nil
}

// RegisterMigration adds the step from version from to from+1.
// The kind's decoder must already be registered and from must be older
// than its current version.
func (r *Registry) RegisterMigration(kind string, from uint32, fn MigrateFunc) error {
	entry, ok := r.kinds[kind]
	if !ok || entry.decode == nil {
		return fmt.Errorf("register migration %s/v%d: kind has no decoder", kind, from)
	}
	if fn == nil {
		return fmt.Errorf("register migration %s/v%d: nil function", kind, from)
	}
	if from == 0 || from >= entry.current {
		return fmt.Errorf("register migration %s/v%d: must be older than current v%d", kind, from, entry.current)
	}
	if _, dup := entry.migrations[from]; dup {
		return fmt.Errorf("register migration %s/v%d: already registered", kind, from)
	}
	entry.migrations[from] = fn
	return nil
}

// RegisterPayloadSchema attaches a JSON Schema to one version of kind.
func (r *Registry) RegisterPayloadSchema(kind string, version uint32, schemaJSON string) error {
	if kind == "" || version == 0 {
		return fmt.Errorf("register payload schema: kind and version are required")
	}

	name := fmt.Sprintf("%s.v%d.json", kind, version)
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(schemaJSON)); err != nil {
		return fmt.Errorf("register payload schema %s/v%d: %w", kind, version, err)
	}
	compiled, err := compiler.Compile(name)
	if err != nil {
		return fmt.Errorf("register payload schema %s/v%d: compile: %w", kind, version, err)
	}

	entry := r.entry(kind)
	if _, dup := entry.schemas[version]; dup {
		return fmt.Errorf("register payload schema %s/v%d: already registered", kind, version)
	}
	entry.schemas[version] = compiled
	return nil
}

// MustRegister is like Register but panics on error.
// Use only for static registration tables.
func (r *Registry) MustRegister(kind string, version uint32, decode DecodeFunc) {
	if err := r.Register(kind, version, decode); err != nil {
		panic(err)
	}
}

// MustRegisterMigration is like RegisterMigration but panics on error.
func (r *Registry) MustRegisterMigration(kind string, from uint32, fn MigrateFunc) {
	if err := r.RegisterMigration(kind, from, fn); err != nil {
		panic(err)
	}
}

// MustRegisterPayloadSchema is like RegisterPayloadSchema but panics on error.
func (r *Registry) MustRegisterPayloadSchema(kind string, version uint32, schemaJSON string) {
	if err := r.RegisterPayloadSchema(kind, version, schemaJSON); err != nil {
		panic(err)
	}
}

// Validate checks that every registered kind has a decoder and a complete
// migration chain from v1. Call it after the registration table is built.
func (r *Registry) Validate() error {
	for _, kind := range r.Kinds() {
		entry := r.kinds[kind]
		if entry.decode == nil {
			return fmt.Errorf("kind %s: payload schema registered without a decoder", kind)
		}
		for v := uint32(1); v < entry.current; v++ {
			if _, ok := entry.migrations[v]; !ok {
				return fmt.Errorf("kind %s: missing migration v%d -> v%d", kind, v, v+1)
			}
		}
	}
	return nil
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	kinds := make([]string, 0, len(r.kinds))
	for k := range r.kinds {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	return kinds
}

// Current returns the current version of kind.
func (r *Registry) Current(kind string) (uint32, bool) {
	entry, ok := r.kinds[kind]
	if !ok || entry.decode == nil {
		return 0, false
	}
	return entry.current, true
}

// Upcast brings raw from version to the kind's current version and returns
// the migrated payload. Failures are REPLAY_DIVERGENCE.
func (r *Registry) Upcast(kind string, version uint32, raw []byte) ([]byte, error) {
	entry, ok := r.kinds[kind]
	if !ok || entry.decode == nil {
		return nil, ir.NewDivergence(fmt.Sprintf("unknown event kind %q", kind), nil)
	}
	if version == 0 || version > entry.current {
		return nil, ir.NewDivergence(
			fmt.Sprintf("unknown schema version %s/v%d (current v%d)", kind, version, entry.current), nil)
	}

	if err := entry.check(kind, version, raw); err != nil {
		return nil, err
	}

	for v := version; v < entry.current; v++ {
		fn, ok := entry.migrations[v]
		if !ok {
			return nil, ir.NewDivergence(
				fmt.Sprintf("no migration registered for %s/v%d -> v%d", kind, v, v+1), nil)
		}
		next, err := fn(raw)
		if err != nil {
			return nil, ir.NewDivergence(fmt.Sprintf("migrate %s/v%d -> v%d", kind, v, v+1), err)
		}
		raw = next
		if err := entry.check(kind, v+1, raw); err != nil {
			return nil, err
		}
	}
	return raw, nil
}

// Decode turns a stored payload into a current-version DomainEvent,
// migrating it first when it was written under an older version.
func (r *Registry) Decode(kind string, version uint32, raw []byte) (DomainEvent, error) {
	current, err := r.Upcast(kind, version, raw)
	if err != nil {
		return nil, err
	}
	ev, err := r.kinds[kind].decode(current)
	if err != nil {
		return nil, ir.NewDivergence(fmt.Sprintf("decode %s/v%d", kind, version), err)
	}
	return ev, nil
}

func (r *Registry) entry(kind string) *kindEntry {
	entry, ok := r.kinds[kind]
	if !ok {
		entry = &kindEntry{
			migrations: make(map[uint32]MigrateFunc),
			schemas:    make(map[uint32]*jsonschema.Schema),
		}
		r.kinds[kind] = entry
	}
	return entry
}

// check validates raw against the JSON Schema registered for version, if any.
func (e *kindEntry) check(kind string, version uint32, raw []byte) error {
	compiled, ok := e.schemas[version]
	if !ok {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return ir.NewDivergence(fmt.Sprintf("payload of %s/v%d is not JSON", kind, version), err)
	}
	if err := compiled.Validate(doc); err != nil {
		return ir.NewDivergence(fmt.Sprintf("payload of %s/v%d violates its schema", kind, version), err)
	}
	return nil
}
