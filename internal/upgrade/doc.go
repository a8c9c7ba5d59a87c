// Package upgrade sequences a service's upgrade lifecycle around the
// replay engine.
//
// A Controller owns the live state of one code version. Its phases:
//
//	Idle ──Install/Recover──▶ Running ──PreUpgrade──▶ PreUpgrade
//	  │                          ▲                         │
//	  │                          └──ResumeAfterRollback────┘
//	  └──PostUpgrade──▶ PostUpgrade ──commit──▶ Running
//	                         │
//	                         └──any failure──▶ Idle (no state, no log write)
//
// PostUpgrade runs in the new code: it loads the latest snapshot, replays
// the log in bounded slices, applies the upgrade overrides, validates the
// rebuilt state, and only then appends the upgrade event and goes live.
// Every failure before that append leaves nothing behind, so the host can
// discard the new code and resume the old controller as if the attempt
// never happened. Host models that environment.
package upgrade
