// Package storage implements the file-backed peer registry with atomic
// writes. The registry holds peers learned at runtime, so a node restarted
// after membership changes rejoins the same mesh.
package storage

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"neuromesh/internal/types"
)

const (
	// DefaultPeersFile is the default filename for the peer registry
	DefaultPeersFile = "peers.yaml"
	// TempFileSuffix is the suffix for temporary files during atomic writes
	TempFileSuffix = ".tmp"
	// BackupFileSuffix is the suffix for backups of corrupt files
	BackupFileSuffix = ".backup"
	// FilePermissions defines the permissions for registry files
	FilePermissions = 0644
)

// peerFile is the on-disk document.
type peerFile struct {
	Peers []types.PeerConfig `yaml:"peers"`
}

// Registry is a file-backed peer list with an in-memory cache. All writes go
// through a temp file and rename, so a crash never leaves a half-written
// registry behind.
type Registry struct {
	mu       sync.RWMutex
	filePath string
	peers    []types.PeerConfig
	lastMod  time.Time
}

// NewRegistry creates a registry backed by filePath, loading it when it
// already exists.
func NewRegistry(filePath string) (*Registry, error) {
	if filePath == "" {
		filePath = DefaultPeersFile
	}

	r := &Registry{
		filePath: filePath,
		peers:    make([]types.PeerConfig, 0),
	}

	if _, err := os.Stat(filePath); err == nil {
		if _, err := r.Load(); err != nil {
			return nil, fmt.Errorf("failed to load initial peers: %w", err)
		}
	}

	return r, nil
}

// Peers returns the cached peer list.
func (r *Registry) Peers() []types.PeerConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]types.PeerConfig, len(r.peers))
	copy(result, r.peers)
	return result
}

// Load reads the registry file and returns its peers. A missing file yields
// an empty list; an unparseable file is backed up before the error returns.
func (r *Registry) Load() ([]types.PeerConfig, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	fileInfo, err := os.Stat(r.filePath)
	if os.IsNotExist(err) {
		r.peers = make([]types.PeerConfig, 0)
		r.lastMod = time.Time{}
		return r.peers, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat peers file: %w", err)
	}

	// Unchanged since last load: serve the cache.
	if !r.lastMod.IsZero() && fileInfo.ModTime().Equal(r.lastMod) {
		result := make([]types.PeerConfig, len(r.peers))
		copy(result, r.peers)
		return result, nil
	}

	data, err := os.ReadFile(r.filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read peers file: %w", err)
	}

	var doc peerFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		if backupErr := r.backup(); backupErr != nil {
			return nil, fmt.Errorf("failed to parse peers file and backup failed: %w, backup error: %v", err, backupErr)
		}
		return nil, fmt.Errorf("failed to parse peers file (backup created): %w", err)
	}

	validPeers, err := filterPeers(doc.Peers)
	if err != nil {
		return nil, fmt.Errorf("failed to validate peers: %w", err)
	}

	r.peers = validPeers
	r.lastMod = fileInfo.ModTime()

	result := make([]types.PeerConfig, len(r.peers))
	copy(result, r.peers)
	return result, nil
}

// Save replaces the registry contents with peers and writes them out.
func (r *Registry) Save(peers []types.PeerConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	validPeers, err := filterPeers(peers)
	if err != nil {
		return fmt.Errorf("failed to validate peers before saving: %w", err)
	}
	return r.persist(validPeers)
}

// Has reports whether a peer with the given node id is registered.
func (r *Registry) Has(nodeID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for i := range r.peers {
		if r.peers[i].NodeID == nodeID {
			return true
		}
	}
	return false
}

// Add appends one peer, rejecting duplicates by node id.
func (r *Registry) Add(peer types.PeerConfig) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := peer.Validate(); err != nil {
		return fmt.Errorf("invalid peer: %w", err)
	}
	for i := range r.peers {
		if r.peers[i].NodeID == peer.NodeID {
			return fmt.Errorf("peer with node id %s already exists", peer.NodeID)
		}
	}

	return r.persist(append(r.peers, peer))
}

// Remove deletes a peer by node id.
func (r *Registry) Remove(nodeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	updated := make([]types.PeerConfig, 0, len(r.peers))
	found := false
	for i := range r.peers {
		if r.peers[i].NodeID == nodeID {
			found = true
			continue
		}
		updated = append(updated, r.peers[i])
	}
	if !found {
		return fmt.Errorf("peer with node id %s not found", nodeID)
	}

	return r.persist(updated)
}

// persist marshals peers, writes them atomically, and updates the cache.
// Callers hold the write lock.
func (r *Registry) persist(peers []types.PeerConfig) error {
	data, err := yaml.Marshal(&peerFile{Peers: peers})
	if err != nil {
		return fmt.Errorf("failed to marshal peers to YAML: %w", err)
	}
	if err := r.writeAtomic(data); err != nil {
		return fmt.Errorf("failed to write peers file: %w", err)
	}

	r.peers = peers
	if fileInfo, err := os.Stat(r.filePath); err == nil {
		r.lastMod = fileInfo.ModTime()
	}
	return nil
}

// filterPeers validates peers and drops duplicates by node id.
func filterPeers(peers []types.PeerConfig) ([]types.PeerConfig, error) {
	validPeers := make([]types.PeerConfig, 0, len(peers))
	seen := make(map[string]bool, len(peers))

	for i := range peers {
		if err := peers[i].Validate(); err != nil {
			return nil, fmt.Errorf("peer %d is invalid: %w", i, err)
		}
		if seen[peers[i].NodeID] {
			continue
		}
		seen[peers[i].NodeID] = true
		validPeers = append(validPeers, peers[i])
	}

	return validPeers, nil
}

// writeAtomic writes data through a temp file and rename.
func (r *Registry) writeAtomic(data []byte) error {
	dir := filepath.Dir(r.filePath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tempFile := r.filePath + TempFileSuffix
	file, err := os.OpenFile(tempFile, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, FilePermissions)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	defer func() {
		if file != nil {
			file.Close()
			os.Remove(tempFile)
		}
	}()

	if _, err := file.Write(data); err != nil {
		return fmt.Errorf("failed to write to temp file: %w", err)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := file.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}
	file = nil

	if err := os.Rename(tempFile, r.filePath); err != nil {
		return fmt.Errorf("failed to rename temp file: %w", err)
	}
	return nil
}

// backup copies the corrupt file aside before the parse error returns.
func (r *Registry) backup() error {
	if _, err := os.Stat(r.filePath); os.IsNotExist(err) {
		return nil
	}
	return copyFile(r.filePath, r.filePath+BackupFileSuffix)
}

func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source file: %w", err)
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create destination file: %w", err)
	}
	defer destFile.Close()

	if _, err := io.Copy(destFile, sourceFile); err != nil {
		return fmt.Errorf("failed to copy file: %w", err)
	}
	return destFile.Sync()
}
