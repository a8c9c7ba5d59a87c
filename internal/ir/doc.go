// Package ir provides the canonical value model and record types shared by
// every evreplay component.
//
// This package contains type definitions and pure helpers only. All other
// internal packages import ir; ir imports nothing internal. This keeps ir the
// foundational layer with no circular dependencies.
//
// Key design constraints:
//   - NO float types anywhere - use int64 for numbers (floats break determinism)
//   - Canonical JSON (RFC 8785) is the only encoding used for hashing
//   - Logical sequence numbers only, never wall-clock timestamps
//   - All JSON tags use snake_case
package ir
