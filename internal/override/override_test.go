package override

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/evreplay/internal/ir"
)

const abSchema = `
#Overrides: {
	a?: int & >=0
	b?: int & >=0
	tags?: [...string]
}

#Config: {
	a:     int
	b:     int & >=a
	tags?: [...string]
}
`

func newAB(t *testing.T) *Validator {
	t.Helper()
	v, err := Compile(abSchema)
	require.NoError(t, err)
	return v
}

func TestValidateAndMerge_ReplacesPerKey(t *testing.T) {
	v := newAB(t)
	defaults := ir.IRObject{"a": ir.IRInt(1), "b": ir.IRInt(2)}

	got, err := v.ValidateAndMerge(defaults, &Args{Overrides: ir.IRObject{"b": ir.IRInt(3)}})
	require.NoError(t, err)
	assert.Equal(t, ir.IRObject{"a": ir.IRInt(1), "b": ir.IRInt(3)}, got)

	// Defaults are not modified.
	assert.Equal(t, ir.IRInt(2), defaults["b"])
}

func TestValidateAndMerge_UnknownKey(t *testing.T) {
	v := newAB(t)
	defaults := ir.IRObject{"a": ir.IRInt(1), "b": ir.IRInt(2)}

	got, err := v.ValidateAndMerge(defaults, &Args{Overrides: ir.IRObject{"c": ir.IRInt(5)}})
	require.Error(t, err)
	assert.Nil(t, got, "no merge on failure")

	var e *ir.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, ir.ErrCodeConfig, e.Code)
	assert.Equal(t, "c", e.Details["key"])
	assert.Equal(t, ir.IRObject{"a": ir.IRInt(1), "b": ir.IRInt(2)}, defaults)
}

func TestValidateAndMerge_NilArgs(t *testing.T) {
	v := newAB(t)
	defaults := ir.IRObject{"a": ir.IRInt(1), "b": ir.IRInt(2)}

	got, err := v.ValidateAndMerge(defaults, nil)
	require.NoError(t, err)
	assert.Equal(t, defaults, got)
}

func TestValidateAndMerge_NilArgsChecksConfig(t *testing.T) {
	v := newAB(t)
	defaults := ir.IRObject{"a": ir.IRInt(2), "b": ir.IRInt(1)}

	got, err := v.ValidateAndMerge(defaults, nil)
	require.Error(t, err)
	assert.Nil(t, got)

	var e *ir.Error
	require.ErrorAs(t, err, &e)
	assert.Equal(t, ir.ErrCodeConfig, e.Code)
}

func TestValidateAndMerge_Rejections(t *testing.T) {
	v := newAB(t)
	defaults := ir.IRObject{"a": ir.IRInt(1), "b": ir.IRInt(2)}

	tests := []struct {
		name      string
		overrides ir.IRObject
		wantKey   string
	}{
		{"out of range", ir.IRObject{"b": ir.IRInt(-1)}, "b"},
		{"wrong type", ir.IRObject{"a": ir.IRString("one")}, "a"},
		{"wrong element type", ir.IRObject{"tags": ir.IRArray{ir.IRInt(1)}}, "tags"},
		{"cross-field", ir.IRObject{"a": ir.IRInt(5)}, ""},
		{"unknown among known", ir.IRObject{"a": ir.IRInt(1), "zz": ir.IRInt(1)}, "zz"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := v.ValidateAndMerge(defaults, &Args{Overrides: tt.overrides})
			require.Error(t, err)
			assert.Nil(t, got)
			assert.True(t, ir.IsConfigValidation(err), "got %v", err)

			var e *ir.Error
			require.ErrorAs(t, err, &e)
			assert.Equal(t, tt.wantKey, e.Details["key"])
		})
	}
}

func TestValidateAndMerge_TotalReplaceOfCompositeValue(t *testing.T) {
	v := newAB(t)
	defaults := ir.IRObject{
		"a":    ir.IRInt(1),
		"b":    ir.IRInt(2),
		"tags": ir.IRArray{ir.IRString("x"), ir.IRString("y")},
	}

	got, err := v.ValidateAndMerge(defaults, &Args{Overrides: ir.IRObject{"tags": ir.IRArray{ir.IRString("z")}}})
	require.NoError(t, err)
	assert.Equal(t, ir.IRArray{ir.IRString("z")}, got["tags"])
}

func TestKeys(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "tags"}, newAB(t).Keys())
}

func TestCompile_Errors(t *testing.T) {
	_, err := Compile(`#Config: {a: int}`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "#Overrides")

	_, err = Compile(`#Overrides: {a?: int &`)
	require.Error(t, err)
}

func TestCheckConfig(t *testing.T) {
	v := newAB(t)
	assert.NoError(t, v.CheckConfig(ir.IRObject{"a": ir.IRInt(1), "b": ir.IRInt(1)}))
	assert.Error(t, v.CheckConfig(ir.IRObject{"a": ir.IRInt(1)}), "missing required b")
	assert.Error(t, v.CheckConfig(ir.IRObject{"a": ir.IRInt(1), "b": ir.IRInt(1), "x": ir.IRInt(0)}), "closed")
}

func TestDecodeArgs(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    *Args
		wantErr bool
	}{
		{name: "empty", raw: "", want: nil},
		{name: "whitespace", raw: "  \n", want: nil},
		{name: "null", raw: "null", want: nil},
		{name: "no overrides field", raw: `{}`, want: &Args{Overrides: ir.IRObject{}}},
		{name: "overrides", raw: `{"overrides":{"b":3}}`, want: &Args{Overrides: ir.IRObject{"b": ir.IRInt(3)}}},
		{name: "float", raw: `{"overrides":{"b":3.5}}`, wantErr: true},
		{name: "not object", raw: `[1]`, wantErr: true},
		{name: "overrides not object", raw: `{"overrides":3}`, wantErr: true},
		{name: "extra field", raw: `{"overrides":{},"mode":"x"}`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeArgs([]byte(tt.raw))
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, ir.IsConfigValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEncodeArgs(t *testing.T) {
	raw, err := EncodeArgs(&Args{Overrides: ir.IRObject{"b": ir.IRInt(3)}})
	require.NoError(t, err)
	assert.Equal(t, `{"overrides":{"b":3}}`, string(raw))

	back, err := DecodeArgs(raw)
	require.NoError(t, err)
	assert.Equal(t, ir.IRObject{"b": ir.IRInt(3)}, back.Overrides)

	raw, err = EncodeArgs(nil)
	require.NoError(t, err)
	assert.Empty(t, raw)
}
