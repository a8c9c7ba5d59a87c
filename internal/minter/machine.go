package minter

import (
	"fmt"

	"github.com/roach88/evreplay/internal/ir"
	"github.com/roach88/evreplay/internal/schema"
)

// Machine folds minter events into a *State. Apply updates the state in
// place; the replay engine clones its base before folding.
type Machine struct{}

// Initial returns an uninitialized state.
func (Machine) Initial() *State {
	return NewState()
}

// Clone returns a deep copy of s.
func (Machine) Clone(s *State) *State {
	return s.Clone()
}

// Apply folds one event into s.
func (Machine) Apply(s *State, ev schema.DomainEvent) (*State, error) {
	if init, ok := ev.(Init); ok {
		return s, applyInit(s, init)
	}
	if !s.Initialized {
		return s, fmt.Errorf("%s before init", ev.EventKind())
	}

	switch e := ev.(type) {
	case Upgrade:
		return s, applyUpgrade(s, e)
	case ReceivedUtxos:
		return s, applyReceived(s, e)
	case IgnoredUtxo:
		return s, applyIgnored(s, e)
	case CheckedUtxo:
		return s, applyChecked(s, e)
	case RetrieveBtcAccepted:
		return s, applyRetrieve(s, e)
	default:
		return s, fmt.Errorf("unhandled event kind %q", ev.EventKind())
	}
}

func applyInit(s *State, e Init) error {
	if s.Initialized {
		return fmt.Errorf("init: already initialized")
	}
	if err := e.Config.Validate(); err != nil {
		return fmt.Errorf("init: %w", err)
	}
	s.Config = e.Config
	s.Initialized = true
	return nil
}

// applyUpgrade replaces each configuration key present in the event.
func applyUpgrade(s *State, e Upgrade) error {
	cfg := s.Config
	for _, key := range e.Config.SortedKeys() {
		if err := setConfigKey(&cfg, key, e.Config[key]); err != nil {
			return fmt.Errorf("upgrade: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("upgrade: %w", err)
	}
	s.Config = cfg
	s.CodeVersion = e.CodeVersion
	s.UpgradeCount++
	return nil
}

func setConfigKey(cfg *Config, key string, v ir.IRValue) error {
	switch key {
	case KeyMode:
		m, ok := v.(ir.IRString)
		if !ok {
			return fmt.Errorf("%s must be a string", key)
		}
		cfg.Mode = string(m)
		return nil
	case KeyMinConfirmations, KeyKytFee, KeyRetrieveBtcMinAmount, KeyMaxTimeInQueueNanos:
		n, ok := v.(ir.IRInt)
		if !ok {
			return fmt.Errorf("%s must be an integer", key)
		}
		switch key {
		case KeyMinConfirmations:
			cfg.MinConfirmations = int64(n)
		case KeyKytFee:
			cfg.KytFee = int64(n)
		case KeyRetrieveBtcMinAmount:
			cfg.RetrieveBtcMinAmount = int64(n)
		case KeyMaxTimeInQueueNanos:
			cfg.MaxTimeInQueueNanos = int64(n)
		}
		return nil
	default:
		return fmt.Errorf("unknown config key %q", key)
	}
}

func applyReceived(s *State, e ReceivedUtxos) error {
	switch s.Config.Mode {
	case ModeReadOnly, ModeDepositsRestricted:
		return fmt.Errorf("received_utxos: deposits disabled in mode %s", s.Config.Mode)
	}
	if e.To.Owner == "" {
		return fmt.Errorf("received_utxos: empty owner")
	}

	seen := make(map[string]bool, len(e.Utxos))
	for _, u := range e.Utxos {
		op := u.Outpoint()
		if _, dup := s.Deposits[op]; dup || seen[op] {
			return fmt.Errorf("received_utxos: outpoint %s already deposited", op)
		}
		if _, ign := s.Ignored[op]; ign {
			return fmt.Errorf("received_utxos: outpoint %s was ignored", op)
		}
		seen[op] = true
	}

	key := e.To.Key()
	if _, ok := s.Balances[key]; !ok {
		s.Balances[key] = 0
	}
	for _, u := range e.Utxos {
		var credited int64
		if u.Value > s.Config.KytFee {
			credited = u.Value - s.Config.KytFee
		}
		s.Deposits[u.Outpoint()] = Deposit{Utxo: u, Account: e.To, Credited: credited}
		s.Balances[key] += credited
		s.TotalDeposited += u.Value
		s.TotalCredited += credited
	}
	return nil
}

func applyIgnored(s *State, e IgnoredUtxo) error {
	op := e.Utxo.Outpoint()
	if _, dup := s.Ignored[op]; dup {
		return fmt.Errorf("ignored_utxo: outpoint %s already ignored", op)
	}
	if _, dep := s.Deposits[op]; dep {
		return fmt.Errorf("ignored_utxo: outpoint %s was deposited", op)
	}
	s.Ignored[op] = e.Utxo
	return nil
}

// applyChecked records the latest verdict; a re-check replaces the old one.
func applyChecked(s *State, e CheckedUtxo) error {
	if e.Status != StatusClean && e.Status != StatusTainted {
		return fmt.Errorf("checked_utxo: unknown status %q", e.Status)
	}
	s.Checked[e.Utxo.Outpoint()] = Check{Status: e.Status, Provider: e.Provider}
	return nil
}

func applyRetrieve(s *State, e RetrieveBtcAccepted) error {
	switch s.Config.Mode {
	case ModeReadOnly, ModeRestricted:
		return fmt.Errorf("retrieve_btc_accepted: withdrawals disabled in mode %s", s.Config.Mode)
	}
	if e.Amount < s.Config.RetrieveBtcMinAmount {
		return fmt.Errorf("retrieve_btc_accepted: amount %d below minimum %d", e.Amount, s.Config.RetrieveBtcMinAmount)
	}
	if n := len(s.Withdrawals); n > 0 && e.BlockIndex <= s.Withdrawals[n-1].BlockIndex {
		return fmt.Errorf("retrieve_btc_accepted: block index %d not after %d", e.BlockIndex, s.Withdrawals[n-1].BlockIndex)
	}
	key := e.From.Key()
	if s.Balances[key] < e.Amount {
		return fmt.Errorf("retrieve_btc_accepted: balance %d of %s below %d", s.Balances[key], key, e.Amount)
	}

	s.Balances[key] -= e.Amount
	s.TotalWithdrawn += e.Amount
	s.Withdrawals = append(s.Withdrawals, Withdrawal{
		BlockIndex: e.BlockIndex,
		Amount:     e.Amount,
		Address:    e.Address,
		From:       e.From,
	})
	return nil
}
