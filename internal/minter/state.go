package minter

import (
	"fmt"
)

// Modes restrict what the minter accepts.
const (
	ModeGeneralAvailability = "general_availability"
	ModeRestricted          = "restricted"
	ModeDepositsRestricted  = "deposits_restricted"
	ModeReadOnly            = "read_only"
)

// Networks the minter can be installed on.
const (
	NetworkMainnet = "mainnet"
	NetworkTestnet = "testnet"
	NetworkRegtest = "regtest"
)

// MaxMinConfirmations bounds min_confirmations, here and in overrides.cue.
const MaxMinConfirmations = 1000

// KYT statuses of a checked UTXO.
const (
	StatusClean   = "clean"
	StatusTainted = "tainted"
)

// Config is the minter configuration. The json names of the overridable
// fields are also the upgrade override keys.
type Config struct {
	Network              string `json:"network"`
	LedgerID             string `json:"ledger_id"`
	MinConfirmations     int64  `json:"min_confirmations"`
	KytFee               int64  `json:"kyt_fee"`
	Mode                 string `json:"mode"`
	RetrieveBtcMinAmount int64  `json:"retrieve_btc_min_amount"`
	MaxTimeInQueueNanos  int64  `json:"max_time_in_queue_nanos"`
}

// Account identifies a ledger account.
type Account struct {
	Owner      string `json:"owner"`
	Subaccount string `json:"subaccount"`
}

// Key returns the map key of the account.
func (a Account) Key() string {
	if a.Subaccount == "" {
		return a.Owner
	}
	return a.Owner + "." + a.Subaccount
}

// Utxo is an unspent transaction output.
type Utxo struct {
	Txid   string `json:"txid"`
	Vout   int64  `json:"vout"`
	Value  int64  `json:"value"`
	Height int64  `json:"height"`
}

// Outpoint returns the "txid:vout" identity of the output.
func (u Utxo) Outpoint() string {
	return fmt.Sprintf("%s:%d", u.Txid, u.Vout)
}

// Deposit is a UTXO credited to an account.
type Deposit struct {
	Utxo     Utxo    `json:"utxo"`
	Account  Account `json:"account"`
	Credited int64   `json:"credited"`
}

// Check is the KYT verdict for an outpoint.
type Check struct {
	Status   string `json:"status"`
	Provider string `json:"kyt_provider"`
}

// Withdrawal is an accepted retrieve_btc request.
type Withdrawal struct {
	BlockIndex int64   `json:"block_index"`
	Amount     int64   `json:"amount"`
	Address    string  `json:"address"`
	From       Account `json:"from"`
}

// State is the minter state rebuilt from the audit log.
type State struct {
	Initialized  bool   `json:"initialized"`
	Config       Config `json:"config"`
	CodeVersion  string `json:"code_version"`
	UpgradeCount int64  `json:"upgrade_count"`

	Deposits    map[string]Deposit `json:"deposits,omitempty"`
	Ignored     map[string]Utxo    `json:"ignored,omitempty"`
	Checked     map[string]Check   `json:"checked,omitempty"`
	Balances    map[string]int64   `json:"balances,omitempty"`
	Withdrawals []Withdrawal       `json:"withdrawals,omitempty"`

	TotalDeposited int64 `json:"total_deposited"`
	TotalCredited  int64 `json:"total_credited"`
	TotalWithdrawn int64 `json:"total_withdrawn"`
}

// NewState returns an empty, uninitialized state.
func NewState() *State {
	s := &State{}
	s.normalize()
	return s
}

// normalize replaces nil collections with empty ones.
func (s *State) normalize() {
	if s.Deposits == nil {
		s.Deposits = make(map[string]Deposit)
	}
	if s.Ignored == nil {
		s.Ignored = make(map[string]Utxo)
	}
	if s.Checked == nil {
		s.Checked = make(map[string]Check)
	}
	if s.Balances == nil {
		s.Balances = make(map[string]int64)
	}
}

// Clone returns a deep copy of s.
func (s *State) Clone() *State {
	cp := *s
	cp.Deposits = make(map[string]Deposit, len(s.Deposits))
	for k, v := range s.Deposits {
		cp.Deposits[k] = v
	}
	cp.Ignored = make(map[string]Utxo, len(s.Ignored))
	for k, v := range s.Ignored {
		cp.Ignored[k] = v
	}
	cp.Checked = make(map[string]Check, len(s.Checked))
	for k, v := range s.Checked {
		cp.Checked[k] = v
	}
	cp.Balances = make(map[string]int64, len(s.Balances))
	for k, v := range s.Balances {
		cp.Balances[k] = v
	}
	cp.Withdrawals = append([]Withdrawal(nil), s.Withdrawals...)
	return &cp
}

// Balance returns the balance of account.
func (s *State) Balance(a Account) int64 {
	return s.Balances[a.Key()]
}

func validMode(m string) bool {
	switch m {
	case ModeGeneralAvailability, ModeRestricted, ModeDepositsRestricted, ModeReadOnly:
		return true
	}
	return false
}

func validNetwork(n string) bool {
	switch n {
	case NetworkMainnet, NetworkTestnet, NetworkRegtest:
		return true
	}
	return false
}

// Validate reports the first inconsistency in cfg.
func (c Config) Validate() error {
	switch {
	case !validNetwork(c.Network):
		return fmt.Errorf("unknown network %q", c.Network)
	case c.LedgerID == "":
		return fmt.Errorf("ledger_id is required")
	case c.MinConfirmations < 1 || c.MinConfirmations > MaxMinConfirmations:
		return fmt.Errorf("min_confirmations must be in [1, %d], got %d", MaxMinConfirmations, c.MinConfirmations)
	case c.KytFee < 0:
		return fmt.Errorf("kyt_fee must be >= 0, got %d", c.KytFee)
	case !validMode(c.Mode):
		return fmt.Errorf("unknown mode %q", c.Mode)
	case c.KytFee >= c.RetrieveBtcMinAmount:
		return fmt.Errorf("kyt_fee %d must be below retrieve_btc_min_amount %d", c.KytFee, c.RetrieveBtcMinAmount)
	case c.MaxTimeInQueueNanos < 0:
		return fmt.Errorf("max_time_in_queue_nanos must be >= 0, got %d", c.MaxTimeInQueueNanos)
	}
	return nil
}
