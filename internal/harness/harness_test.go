package harness

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScenarios(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		name := strings.TrimSuffix(filepath.Base(path), ".yaml")
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)
			assert.Equal(t, name, scenario.Name)

			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestRun_ReportsUnmetExpectations(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/rollback_divergence.yaml")
	require.NoError(t, err)

	// Expect the upgrade to commit; it rolls back instead.
	scenario.Steps[2].Expect = nil
	scenario.Assertions = append(scenario.Assertions, Assertion{Type: AssertCodeVersion, Value: "9.9.9"})

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "outcome rolled_back, want committed")
	assert.Contains(t, result.Errors[1], "code_version")
}

func TestRun_BadPayloadIsHarnessError(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/upgrade_commit.yaml")
	require.NoError(t, err)
	scenario.Steps[0].Append.Payload = map[string]any{"amount": 1.5}

	_, err = Run(scenario)
	assert.ErrorContains(t, err, "floats are forbidden")
}

func TestRun_LogKindsAfterCompaction(t *testing.T) {
	body := `
name: compacted
description: log assertions start at the origin
install:
  version: 1.0.0
  config:
    network: regtest
    ledger_id: ckbtc-ledger
    min_confirmations: 6
    kyt_fee: 100
    mode: general_availability
    retrieve_btc_min_amount: 10000
    max_time_in_queue_nanos: 0
steps:
  - append:
      kind: received_utxos
      payload:
        to: { owner: alice, subaccount: "" }
        utxos:
          - { txid: aa, vout: 0, value: 50000, height: 10 }
  - checkpoint: true
  - compact: true
  - append:
      kind: ignored_utxo
      payload:
        utxo: { txid: cc, vout: 0, value: 1, height: 12 }
assertions:
  - type: log_kinds
    values: [ignored_utxo]
  - type: next_sequence
    value: 3
  - type: balance
    account: alice
    value: 49900
`
	scenario, err := LoadScenario(writeScenario(t, body))
	require.NoError(t, err)

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	require.Len(t, result.Trace, 5)
	assert.Equal(t, "compact", result.Trace[3].Op)
	assert.Equal(t, OutcomeOK, result.Trace[3].Outcome)
}

func TestRun_CompactWithoutSnapshot(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/upgrade_commit.yaml")
	require.NoError(t, err)
	scenario.Steps = []Step{{Compact: true, Expect: &Expect{Outcome: OutcomeError}}}
	scenario.Assertions = nil

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func writeScenario(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadScenario_Errors(t *testing.T) {
	base := `
name: s
description: d
install:
  version: 1.0.0
  config: { network: regtest }
`
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown field", base + "stepz: []\n", "field stepz not found"},
		{"no steps", base, "steps list is required"},
		{"two actions", base + "steps:\n  - { checkpoint: true, restart: true }\n", "exactly one action"},
		{"no action", base + "steps:\n  - { expect: { outcome: ok } }\n", "exactly one action"},
		{"empty kind", base + "steps:\n  - append: { payload: {} }\n", "kind is required"},
		{"bad outcome", base + "steps:\n  - checkpoint: true\n    expect: { outcome: maybe }\n", "unknown outcome"},
		{"bad assertion", base + "steps:\n  - checkpoint: true\nassertions:\n  - type: vibes\n", "unknown assertion type"},
		{"balance without account", base + "steps:\n  - checkpoint: true\nassertions:\n  - { type: balance, value: 1 }\n", "account and value"},
		{"no install", "name: s\ndescription: d\nsteps:\n  - checkpoint: true\n", "install.version"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadScenario(writeScenario(t, tt.body))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := LoadScenario(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "failed to read scenario file")
}

func TestLoadScenario_DefaultsServiceID(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/upgrade_commit.yaml")
	require.NoError(t, err)
	assert.Equal(t, DefaultServiceID, scenario.ServiceID)
}
