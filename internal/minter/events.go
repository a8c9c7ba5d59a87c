package minter

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/roach88/evreplay/internal/ir"
	"github.com/roach88/evreplay/internal/schema"
)

// Event kinds of the minter audit log.
const (
	KindInit                = "init"
	KindUpgrade             = "upgrade"
	KindReceivedUtxos       = "received_utxos"
	KindIgnoredUtxo         = "ignored_utxo"
	KindCheckedUtxo         = "checked_utxo"
	KindRetrieveBtcAccepted = "retrieve_btc_accepted"
)

// Current payload versions.
const (
	InitVersion                = 1
	UpgradeVersion             = 1
	ReceivedUtxosVersion       = 2
	IgnoredUtxoVersion         = 1
	CheckedUtxoVersion         = 2
	RetrieveBtcAcceptedVersion = 1
)

//go:embed schemas/*.json
var payloadSchemas embed.FS

// Init is the install event. It fixes the initial configuration.
type Init struct {
	Config Config `json:"config"`
}

// Upgrade records a committed upgrade: the new code version and the
// effective overridable configuration.
type Upgrade struct {
	CodeVersion string      `json:"code_version"`
	Config      ir.IRObject `json:"config"`
}

// ReceivedUtxos credits deposited outputs to an account.
type ReceivedUtxos struct {
	To    Account `json:"to"`
	Utxos []Utxo  `json:"utxos"`
}

// IgnoredUtxo records an output the minter will not credit.
type IgnoredUtxo struct {
	Utxo Utxo `json:"utxo"`
}

// CheckedUtxo records the KYT verdict for an output.
type CheckedUtxo struct {
	Utxo     Utxo   `json:"utxo"`
	Status   string `json:"status"`
	Provider string `json:"kyt_provider"`
}

// RetrieveBtcAccepted debits an account for a withdrawal.
type RetrieveBtcAccepted struct {
	BlockIndex int64   `json:"block_index"`
	Amount     int64   `json:"amount"`
	Address    string  `json:"address"`
	From       Account `json:"from"`
}

func (Init) EventKind() string                { return KindInit }
func (Upgrade) EventKind() string             { return KindUpgrade }
func (ReceivedUtxos) EventKind() string       { return KindReceivedUtxos }
func (IgnoredUtxo) EventKind() string         { return KindIgnoredUtxo }
func (CheckedUtxo) EventKind() string         { return KindCheckedUtxo }
func (RetrieveBtcAccepted) EventKind() string { return KindRetrieveBtcAccepted }

// Payload returns the canonical current-version encoding of ev.
func Payload(ev schema.DomainEvent) ([]byte, error) {
	return canonicalJSON(ev)
}

// Version returns the current payload version of kind.
func Version(kind string) (uint32, bool) {
	switch kind {
	case KindInit:
		return InitVersion, true
	case KindUpgrade:
		return UpgradeVersion, true
	case KindReceivedUtxos:
		return ReceivedUtxosVersion, true
	case KindIgnoredUtxo:
		return IgnoredUtxoVersion, true
	case KindCheckedUtxo:
		return CheckedUtxoVersion, true
	case KindRetrieveBtcAccepted:
		return RetrieveBtcAcceptedVersion, true
	}
	return 0, false
}

// canonicalJSON renders v through encoding/json and then RFC 8785, so the
// bytes are stable whatever the struct field order.
func canonicalJSON(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	val, err := ir.UnmarshalIRValue(data)
	if err != nil {
		return nil, err
	}
	return ir.MarshalCanonical(val)
}

func decodeStrict[T schema.DomainEvent](raw []byte) (schema.DomainEvent, error) {
	var ev T
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// migrateReceivedUtxosV1 turns the owner string into an account with the
// default subaccount.
func migrateReceivedUtxosV1(raw []byte) ([]byte, error) {
	var v1 struct {
		To    string `json:"to"`
		Utxos []Utxo `json:"utxos"`
	}
	if err := json.Unmarshal(raw, &v1); err != nil {
		return nil, fmt.Errorf("received_utxos v1: %w", err)
	}
	return canonicalJSON(ReceivedUtxos{To: Account{Owner: v1.To}, Utxos: v1.Utxos})
}

// migrateCheckedUtxoV1 maps the clean flag to a status. v1 checks predate
// provider tracking, so the provider is empty.
func migrateCheckedUtxoV1(raw []byte) ([]byte, error) {
	var v1 struct {
		Utxo  Utxo `json:"utxo"`
		Clean bool `json:"clean"`
	}
	if err := json.Unmarshal(raw, &v1); err != nil {
		return nil, fmt.Errorf("checked_utxo v1: %w", err)
	}
	status := StatusTainted
	if v1.Clean {
		status = StatusClean
	}
	return canonicalJSON(CheckedUtxo{Utxo: v1.Utxo, Status: status})
}

// NewRegistry returns the registry of every minter event kind, with
// migrations and payload schemas.
func NewRegistry() (*schema.Registry, error) {
	r := schema.New()

	decoders := []struct {
		kind    string
		version uint32
		decode  schema.DecodeFunc
	}{
		{KindInit, InitVersion, decodeStrict[Init]},
		{KindUpgrade, UpgradeVersion, decodeUpgrade},
		{KindReceivedUtxos, ReceivedUtxosVersion, decodeStrict[ReceivedUtxos]},
		{KindIgnoredUtxo, IgnoredUtxoVersion, decodeStrict[IgnoredUtxo]},
		{KindCheckedUtxo, CheckedUtxoVersion, decodeStrict[CheckedUtxo]},
		{KindRetrieveBtcAccepted, RetrieveBtcAcceptedVersion, decodeStrict[RetrieveBtcAccepted]},
	}
	for _, d := range decoders {
		if err := r.Register(d.kind, d.version, d.decode); err != nil {
			return nil, err
		}
	}

	if err := r.RegisterMigration(KindReceivedUtxos, 1, migrateReceivedUtxosV1); err != nil {
		return nil, err
	}
	if err := r.RegisterMigration(KindCheckedUtxo, 1, migrateCheckedUtxoV1); err != nil {
		return nil, err
	}

	schemas := []struct {
		kind    string
		version uint32
	}{
		{KindInit, 1},
		{KindUpgrade, 1},
		{KindReceivedUtxos, 1},
		{KindReceivedUtxos, 2},
		{KindIgnoredUtxo, 1},
		{KindCheckedUtxo, 1},
		{KindCheckedUtxo, 2},
		{KindRetrieveBtcAccepted, 1},
	}
	for _, s := range schemas {
		src, err := payloadSchemas.ReadFile(fmt.Sprintf("schemas/%s.v%d.json", s.kind, s.version))
		if err != nil {
			return nil, fmt.Errorf("read payload schema %s/v%d: %w", s.kind, s.version, err)
		}
		if err := r.RegisterPayloadSchema(s.kind, s.version, string(src)); err != nil {
			return nil, err
		}
	}

	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// decodeUpgrade keeps the config as a canonical value object so unknown
// future keys survive a round trip through the log.
func decodeUpgrade(raw []byte) (schema.DomainEvent, error) {
	obj, err := ir.UnmarshalIRObject(raw)
	if err != nil {
		return nil, err
	}
	version, ok := obj.String("code_version")
	if !ok {
		return nil, fmt.Errorf("upgrade: code_version must be a string")
	}
	cfg, ok := obj.Object("config")
	if !ok {
		return nil, fmt.Errorf("upgrade: config must be an object")
	}
	return Upgrade{CodeVersion: version, Config: cfg}, nil
}
