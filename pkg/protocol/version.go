package protocol

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// Version is a semantic protocol version. Two versions are compatible when
// they share a major number.
type Version struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
	Patch int `json:"patch"`
}

// NewVersion creates a version value.
func NewVersion(major, minor, patch int) Version {
	return Version{Major: major, Minor: minor, Patch: patch}
}

// ParseVersion parses a "major.minor.patch" string.
func ParseVersion(s string) (Version, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return Version{}, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
	}
	nums := make([]int, 3)
	for i, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil || n < 0 {
			return Version{}, fmt.Errorf("%w: %q", ErrInvalidVersion, s)
		}
		nums[i] = n
	}
	return Version{Major: nums[0], Minor: nums[1], Patch: nums[2]}, nil
}

// String returns "major.minor.patch".
func (v Version) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compatible reports whether both versions share a major number.
func (v Version) Compatible(other Version) bool {
	return v.Major == other.Major
}

// Compare orders versions: -1 when v is older than other, 0 when equal,
// 1 when newer.
func (v Version) Compare(other Version) int {
	switch {
	case v.Major != other.Major:
		return compareInt(v.Major, other.Major)
	case v.Minor != other.Minor:
		return compareInt(v.Minor, other.Minor)
	default:
		return compareInt(v.Patch, other.Patch)
	}
}

func compareInt(a, b int) int {
	if a < b {
		return -1
	}
	if a > b {
		return 1
	}
	return 0
}

// VersionedMessage wraps a protocol payload with the version it was encoded
// under, so receivers can migrate payloads from older peers.
type VersionedMessage struct {
	Version    Version         `json:"version"`
	ProtocolID string          `json:"protocol_id"`
	Payload    json.RawMessage `json:"payload"`
}

// Encode serializes the versioned wrapper.
func (m *VersionedMessage) Encode() ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode versioned message: %w", err)
	}
	return data, nil
}

// DecodeVersionedMessage parses a versioned wrapper.
func DecodeVersionedMessage(data []byte) (*VersionedMessage, error) {
	var m VersionedMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode versioned message: %w", err)
	}
	return &m, nil
}

// Migration rewrites a payload encoded under one version into the next.
type Migration func(payload []byte) ([]byte, error)

type migrationKey struct {
	protocolID string
	from       string
	to         string
}

// MigrationRegistry holds registered payload migrations keyed by protocol and
// version step.
type MigrationRegistry struct {
	mu         sync.RWMutex
	migrations map[migrationKey]Migration
}

// NewMigrationRegistry creates an empty migration registry.
func NewMigrationRegistry() *MigrationRegistry {
	return &MigrationRegistry{migrations: make(map[migrationKey]Migration)}
}

// Register adds a migration for protocolID payloads from one version to
// another, replacing any previous registration for the same step.
func (r *MigrationRegistry) Register(protocolID string, from, to Version, m Migration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.migrations[migrationKey{protocolID, from.String(), to.String()}] = m
}

// Migrate rewrites payload from one version to another. Equal versions pass
// through untouched; incompatible majors fail; a compatible step with no
// registered migration also passes through, since minor and patch changes
// are wire-compatible by contract.
func (r *MigrationRegistry) Migrate(protocolID string, from, to Version, payload []byte) ([]byte, error) {
	if from == to {
		return payload, nil
	}
	if !from.Compatible(to) {
		return nil, fmt.Errorf("%w: %s -> %s for %s", ErrIncompatibleVersion, from, to, protocolID)
	}

	r.mu.RLock()
	m, ok := r.migrations[migrationKey{protocolID, from.String(), to.String()}]
	r.mu.RUnlock()

	if !ok {
		return payload, nil
	}
	migrated, err := m(payload)
	if err != nil {
		return nil, fmt.Errorf("migration %s -> %s for %s failed: %w", from, to, protocolID, err)
	}
	return migrated, nil
}
