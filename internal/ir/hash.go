package ir

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
)

// Domain prefixes for content-addressed hashing.
// The version suffix leaves room for a future algorithm migration.
const (
	DomainEvent    = "evreplay/event/v1"
	DomainState    = "evreplay/state/v1"
	DomainSnapshot = "evreplay/snapshot/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data). The null byte separator removes any
// ambiguity at the domain/data boundary.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// EventChecksum computes the integrity checksum stored alongside an event.
// It covers the sequence, kind, version and raw payload, so a row moved to
// another position or edited in place no longer verifies.
func EventChecksum(seq uint64, kind string, version uint32, payload []byte) string {
	buf := make([]byte, 0, 8+4+4+len(kind)+len(payload))
	buf = binary.BigEndian.AppendUint64(buf, seq)
	buf = binary.BigEndian.AppendUint32(buf, uint32(len(kind)))
	buf = append(buf, kind...)
	buf = binary.BigEndian.AppendUint32(buf, version)
	buf = append(buf, payload...)
	return hashWithDomain(DomainEvent, buf)
}

// StateDigest hashes a canonical state encoding.
// Two states are bit-identical iff their digests match.
func StateDigest(stateBytes []byte) string {
	return hashWithDomain(DomainState, stateBytes)
}

// SnapshotDigest binds a state encoding to the sequence it was taken at.
func SnapshotDigest(upTo uint64, format uint32, stateBytes []byte) string {
	buf := make([]byte, 0, 12+len(stateBytes))
	buf = binary.BigEndian.AppendUint64(buf, upTo)
	buf = binary.BigEndian.AppendUint32(buf, format)
	buf = append(buf, stateBytes...)
	return hashWithDomain(DomainSnapshot, buf)
}
