package upgrade

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/roach88/evreplay/internal/ir"
)

func TestTriggerValidate(t *testing.T) {
	ok := Trigger{TargetServiceID: "svc", CodeVersion: "1.2.3", Mode: ModeUpgrade}

	v, err := ok.validate("svc", "1.2.3")
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", v.String())

	tests := []struct {
		name   string
		mutate func(*Trigger)
	}{
		{"other service", func(tr *Trigger) { tr.TargetServiceID = "other" }},
		{"install mode", func(tr *Trigger) { tr.Mode = ModeInstall }},
		{"empty mode", func(tr *Trigger) { tr.Mode = "" }},
		{"not semver", func(tr *Trigger) { tr.CodeVersion = "latest" }},
		{"different version", func(tr *Trigger) { tr.CodeVersion = "1.2.4" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := ok
			tt.mutate(&tr)
			_, err := tr.validate("svc", "1.2.3")
			assert.Equal(t, ir.ErrCodeTrigger, ir.CodeOf(err))
		})
	}
}

func TestTriggerYAML(t *testing.T) {
	var tr Trigger
	require.NoError(t, yaml.Unmarshal([]byte(`
target_service_id: ckbtc-minter
code_version: 1.1.0
mode: upgrade
`), &tr))
	assert.Equal(t, Trigger{TargetServiceID: "ckbtc-minter", CodeVersion: "1.1.0", Mode: ModeUpgrade}, tr)
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "Idle", PhaseIdle.String())
	assert.Equal(t, "Running", PhaseRunning.String())
	assert.Equal(t, "PreUpgrade", PhasePreUpgrade.String())
	assert.Equal(t, "PostUpgrade", PhasePostUpgrade.String())
	assert.Equal(t, "Retired", PhaseRetired.String())
	assert.Equal(t, "Unknown", Phase(42).String())
}

func TestFixedGenerator(t *testing.T) {
	g := NewFixedGenerator("a", "b")
	assert.Equal(t, "a", g.Generate())
	assert.Equal(t, "b", g.Generate())
	assert.Panics(t, func() { g.Generate() })
}

func TestUUIDv7Generator(t *testing.T) {
	var g UUIDv7Generator
	a, b := g.Generate(), g.Generate()
	assert.Len(t, a, 36)
	assert.NotEqual(t, a, b)
}

func TestModuleValidate(t *testing.T) {
	err := Module[int]{}.validate()
	assert.ErrorContains(t, err, "version is required")

	err = Module[int]{Version: "1.0.0"}.validate()
	assert.ErrorContains(t, err, "registry is required")
}
