// Package schema maps versioned event kinds to decoders.
//
// Each kind has exactly one current version with a decoder. Older versions
// are reached through a chain of single-step migrations over raw payload
// bytes, v to v+1, so historical events are upgraded on read and never
// rewritten. A (kind, version) pair the registry cannot bring to the
// current version is a REPLAY_DIVERGENCE, never a silent skip.
//
// A version may also carry a JSON Schema; payloads are checked against it
// before migration and after every migration step.
package schema
