package minter

import (
	"fmt"

	"github.com/roach88/evreplay/internal/override"
	"github.com/roach88/evreplay/internal/upgrade"
)

// Checks are the state predicates an upgrade must pass before it commits.
// The configuration must satisfy both Config.Validate and the #Config
// schema of ov.
func Checks(ov *override.Validator) []upgrade.Check[*State] {
	return []upgrade.Check[*State]{
		{Name: "initialized", Fn: checkInitialized},
		{Name: "config_sane", Fn: func(s *State) error { return checkConfig(s, ov) }},
		{Name: "ledger_balanced", Fn: checkLedger},
		{Name: "deposits_referenced", Fn: checkDeposits},
	}
}

func checkInitialized(s *State) error {
	if !s.Initialized {
		return fmt.Errorf("minter was never initialized")
	}
	return nil
}

func checkConfig(s *State, ov *override.Validator) error {
	if err := s.Config.Validate(); err != nil {
		return err
	}
	return ov.CheckConfig(Defaults(s))
}

// checkLedger verifies balances add up to what was credited minus what was
// withdrawn, and that no more was credited than deposited.
func checkLedger(s *State) error {
	var sum int64
	for key, b := range s.Balances {
		if b < 0 {
			return fmt.Errorf("negative balance %d for %s", b, key)
		}
		sum += b
	}
	if want := s.TotalCredited - s.TotalWithdrawn; sum != want {
		return fmt.Errorf("balances sum to %d, credited minus withdrawn is %d", sum, want)
	}
	if s.TotalCredited > s.TotalDeposited {
		return fmt.Errorf("credited %d exceeds deposited %d", s.TotalCredited, s.TotalDeposited)
	}
	return nil
}

func checkDeposits(s *State) error {
	for op, d := range s.Deposits {
		if _, ok := s.Balances[d.Account.Key()]; !ok {
			return fmt.Errorf("deposit %s credits unknown account %s", op, d.Account.Key())
		}
		if _, ign := s.Ignored[op]; ign {
			return fmt.Errorf("outpoint %s is both deposited and ignored", op)
		}
	}
	return nil
}
