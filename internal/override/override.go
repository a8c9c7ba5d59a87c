package override

import (
	"bytes"
	"fmt"
	"sort"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/roach88/evreplay/internal/ir"
)

// Args are the optional arguments carried by an upgrade trigger.
// They are consumed by one upgrade and never persisted as such.
type Args struct {
	Overrides ir.IRObject `json:"overrides"`
}

// Validator checks overrides against a compiled CUE schema.
type Validator struct {
	ctx       *cue.Context
	overrides cue.Value
	config    cue.Value
	hasConfig bool
	keys      map[string]bool
}

// Compile builds a Validator from CUE source defining #Overrides and,
// optionally, #Config.
func Compile(src string) (*Validator, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src, cue.Filename("overrides.cue"))
	if err := v.Err(); err != nil {
		return nil, fmt.Errorf("compile override schema: %w", formatCUEError(err))
	}

	def := v.LookupPath(cue.ParsePath("#Overrides"))
	if !def.Exists() {
		return nil, fmt.Errorf("compile override schema: #Overrides is not defined")
	}

	iter, err := def.Fields(cue.Optional(true))
	if err != nil {
		return nil, fmt.Errorf("compile override schema: %w", formatCUEError(err))
	}
	keys := make(map[string]bool)
	for iter.Next() {
		keys[strings.TrimRight(iter.Label(), "?!")] = true
	}

	val := &Validator{ctx: ctx, overrides: def, keys: keys}

	cfg := v.LookupPath(cue.ParsePath("#Config"))
	if cfg.Exists() {
		val.config = cfg
		val.hasConfig = true
	}
	return val, nil
}

// MustCompile is like Compile but panics on error.
// Use only for schemas embedded in the binary.
func MustCompile(src string) *Validator {
	v, err := Compile(src)
	if err != nil {
		panic(err)
	}
	return v
}

// Keys returns the recognized override keys in sorted order.
func (v *Validator) Keys() []string {
	keys := make([]string, 0, len(v.keys))
	for k := range v.keys {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ValidateAndMerge returns the effective configuration: defaults with every
// override applied. With nil args the defaults are returned unchanged once
// they satisfy #Config.
//
// An unrecognized key or a value failing its predicate is a
// CONFIG_VALIDATION error naming the key, and nothing is merged. The merged
// result must also satisfy #Config.
func (v *Validator) ValidateAndMerge(defaults ir.IRObject, args *Args) (ir.IRObject, error) {
	if args == nil {
		if err := v.CheckConfig(defaults); err != nil {
			return nil, err
		}
		return defaults.Clone(), nil
	}

	for _, key := range args.Overrides.SortedKeys() {
		if !v.keys[key] {
			return nil, ir.NewConfigError(key, "unrecognized override key", nil)
		}
		if err := v.check(v.overrides, map[string]any{key: ir.ToNative(args.Overrides[key])}); err != nil {
			return nil, ir.NewConfigError(key, "invalid override value", err)
		}
	}

	merged := defaults.Clone()
	if merged == nil {
		merged = ir.IRObject{}
	}
	for key, val := range args.Overrides {
		merged[key] = ir.CloneValue(val)
	}

	if v.hasConfig {
		if err := v.check(v.config, ir.ToNative(merged)); err != nil {
			return nil, ir.NewConfigError("", "effective configuration rejected", err)
		}
	}
	return merged, nil
}

// CheckConfig validates a complete configuration against #Config.
func (v *Validator) CheckConfig(cfg ir.IRObject) error {
	if !v.hasConfig {
		return nil
	}
	if err := v.check(v.config, ir.ToNative(cfg)); err != nil {
		return ir.NewConfigError("", "configuration rejected", err)
	}
	return nil
}

func (v *Validator) check(def cue.Value, data any) error {
	doc := v.ctx.Encode(data)
	if err := doc.Err(); err != nil {
		return formatCUEError(err)
	}
	if err := def.Unify(doc).Validate(cue.Concrete(true)); err != nil {
		return formatCUEError(err)
	}
	return nil
}

// DecodeArgs decodes the install argument bytes of an upgrade trigger.
// Empty input or JSON null means "no overrides" and yields nil.
func DecodeArgs(raw []byte) (*Args, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	obj, err := ir.UnmarshalIRObject(raw)
	if err != nil {
		return nil, ir.NewConfigError("", "malformed upgrade arguments", err)
	}
	for _, k := range obj.SortedKeys() {
		if k != "overrides" {
			return nil, ir.NewConfigError(k, "unknown upgrade argument field", nil)
		}
	}

	args := &Args{Overrides: ir.IRObject{}}
	if raw, ok := obj["overrides"]; ok {
		o, ok := raw.(ir.IRObject)
		if !ok {
			return nil, ir.NewConfigError("overrides", "overrides must be an object", nil)
		}
		args.Overrides = o
	}
	return args, nil
}

// EncodeArgs renders args as canonical install argument bytes.
// A nil args encodes to empty bytes.
func EncodeArgs(args *Args) ([]byte, error) {
	if args == nil {
		return nil, nil
	}
	overrides := args.Overrides
	if overrides == nil {
		overrides = ir.IRObject{}
	}
	return ir.MarshalCanonical(ir.IRObject{"overrides": overrides})
}

// formatCUEError keeps the first CUE error, which carries the most
// specific position and message.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return err
	}
	first := errs[0]
	if pos := cueerrors.Positions(first); len(pos) > 0 && pos[0].IsValid() {
		return fmt.Errorf("%s: %s", pos[0], first.Error())
	}
	return first
}
