package minter

import (
	_ "embed"

	"github.com/roach88/evreplay/internal/ir"
	"github.com/roach88/evreplay/internal/override"
)

// Override keys. Network and ledger id are fixed at install.
const (
	KeyMinConfirmations     = "min_confirmations"
	KeyKytFee               = "kyt_fee"
	KeyMode                 = "mode"
	KeyRetrieveBtcMinAmount = "retrieve_btc_min_amount"
	KeyMaxTimeInQueueNanos  = "max_time_in_queue_nanos"
)

//go:embed overrides.cue
var overridesCUE string

// NewOverrideValidator compiles the minter override schema.
func NewOverrideValidator() (*override.Validator, error) {
	return override.Compile(overridesCUE)
}

// Defaults returns the overridable part of the current configuration:
// the values an upgrade without overrides keeps.
func Defaults(s *State) ir.IRObject {
	c := s.Config
	return ir.IRObject{
		KeyMinConfirmations:     ir.IRInt(c.MinConfirmations),
		KeyKytFee:               ir.IRInt(c.KytFee),
		KeyMode:                 ir.IRString(c.Mode),
		KeyRetrieveBtcMinAmount: ir.IRInt(c.RetrieveBtcMinAmount),
		KeyMaxTimeInQueueNanos:  ir.IRInt(c.MaxTimeInQueueNanos),
	}
}

// RecordedVersion returns the code version recorded by the last upgrade
// event, or "" when the minter has never been upgraded.
func RecordedVersion(s *State) string {
	return s.CodeVersion
}

// UpgradeEvent builds the event a committed upgrade appends.
func UpgradeEvent(codeVersion string, effective ir.IRObject) (string, uint32, []byte, error) {
	payload, err := Payload(Upgrade{CodeVersion: codeVersion, Config: effective})
	if err != nil {
		return "", 0, nil, err
	}
	return KindUpgrade, UpgradeVersion, payload, nil
}
