package schema

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/evreplay/internal/ir"
)

type greet struct {
	Name string `json:"name"`
	Lang string `json:"lang"`
}

func (greet) EventKind() string { return "greet" }

func decodeGreet(raw []byte) (DomainEvent, error) {
	var g greet
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, err
	}
	return g, nil
}

// v1 payloads had no language; v2 defaults it to "en".
func migrateGreetV1(raw []byte) ([]byte, error) {
	var v1 struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &v1); err != nil {
		return nil, err
	}
	return ir.MarshalCanonical(ir.IRObject{"name": ir.IRString(v1.Name), "lang": ir.IRString("en")})
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := New()
	require.NoError(t, r.Register("greet", 2, decodeGreet))
	require.NoError(t, r.RegisterMigration("greet", 1, migrateGreetV1))
	require.NoError(t, r.RegisterPayloadSchema("greet", 2, `{
		"type": "object",
		"required": ["name", "lang"],
		"properties": {"name": {"type": "string"}, "lang": {"type": "string"}},
		"additionalProperties": false
	}`))
	require.NoError(t, r.Validate())
	return r
}

func TestDecode_CurrentVersion(t *testing.T) {
	r := newTestRegistry(t)

	ev, err := r.Decode("greet", 2, []byte(`{"name":"ada","lang":"fr"}`))
	require.NoError(t, err)
	assert.Equal(t, greet{Name: "ada", Lang: "fr"}, ev)
}

func TestDecode_MigratesOldVersion(t *testing.T) {
	r := newTestRegistry(t)

	old, err := r.Decode("greet", 1, []byte(`{"name":"ada"}`))
	require.NoError(t, err)
	cur, err := r.Decode("greet", 2, []byte(`{"lang":"en","name":"ada"}`))
	require.NoError(t, err)

	assert.Equal(t, cur, old)
}

func TestDecode_Divergence(t *testing.T) {
	r := newTestRegistry(t)

	tests := []struct {
		name    string
		kind    string
		version uint32
		raw     string
	}{
		{"unknown kind", "wave", 1, `{}`},
		{"future version", "greet", 3, `{}`},
		{"version zero", "greet", 0, `{}`},
		{"schema violation", "greet", 2, `{"name":"ada"}`},
		{"migrated payload violates schema", "greet", 1, `{"name":7}`},
		{"not json", "greet", 2, `nope`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Decode(tt.kind, tt.version, []byte(tt.raw))
			require.Error(t, err)
			assert.True(t, ir.IsReplayDivergence(err), "got %v", err)
		})
	}
}

func TestDecode_MissingMigrationStep(t *testing.T) {
	r := New()
	r.MustRegister("greet", 3, decodeGreet)
	r.MustRegisterMigration("greet", 2, func(raw []byte) ([]byte, error) { return raw, nil })

	_, err := r.Decode("greet", 1, []byte(`{"name":"ada"}`))
	require.Error(t, err)
	assert.True(t, ir.IsReplayDivergence(err))
	assert.Contains(t, err.Error(), "v1 -> v2")

	require.Error(t, r.Validate())
}

func TestDecode_MigrationErrorIsDivergence(t *testing.T) {
	r := New()
	r.MustRegister("greet", 2, decodeGreet)
	r.MustRegisterMigration("greet", 1, func([]byte) ([]byte, error) { return nil, errors.New("bad") })

	_, err := r.Decode("greet", 1, []byte(`{}`))
	require.Error(t, err)
	assert.True(t, ir.IsReplayDivergence(err))
}

func TestRegister_Errors(t *testing.T) {
	r := New()
	require.NoError(t, r.Register("greet", 2, decodeGreet))

	assert.Error(t, r.Register("greet", 3, decodeGreet), "duplicate decoder")
	assert.Error(t, r.Register("", 1, decodeGreet), "empty kind")
	assert.Error(t, r.Register("x", 0, decodeGreet), "version zero")
	assert.Error(t, r.Register("x", 1, nil), "nil decoder")

	assert.Error(t, r.RegisterMigration("greet", 2, migrateGreetV1), "migration at current")
	assert.Error(t, r.RegisterMigration("wave", 1, migrateGreetV1), "unknown kind")
	require.NoError(t, r.RegisterMigration("greet", 1, migrateGreetV1))
	assert.Error(t, r.RegisterMigration("greet", 1, migrateGreetV1), "duplicate migration")

	assert.Error(t, r.RegisterPayloadSchema("greet", 1, `{"type": 12}`), "bad schema")

	assert.Panics(t, func() { r.MustRegister("greet", 2, decodeGreet) })
}

func TestKindsAndCurrent(t *testing.T) {
	r := New()
	r.MustRegister("zeta", 1, decodeGreet)
	r.MustRegister("alpha", 4, decodeGreet)

	assert.Equal(t, []string{"alpha", "zeta"}, r.Kinds())

	v, ok := r.Current("alpha")
	assert.True(t, ok)
	assert.Equal(t, uint32(4), v)

	_, ok = r.Current("beta")
	assert.False(t, ok)
}

func TestUpcast_ReturnsMigratedBytes(t *testing.T) {
	r := newTestRegistry(t)

	raw, err := r.Upcast("greet", 1, []byte(`{"name":"ada"}`))
	require.NoError(t, err)
	assert.Equal(t, `{"lang":"en","name":"ada"}`, string(raw))
}
