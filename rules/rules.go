// CLAUDE:SUMMARY Rule manager — canonical key to presigned URL mapping per instance, refreshed before signatures expire.
// Package rules maps canonical packet keys to presigned content URLs. One
// rule set per live instance; the runtime refreshes all sets on a timer so
// no served URL ever carries an expired signature.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hazyhaar/packetd/cloud"
	"github.com/hazyhaar/packetd/packet"
	"github.com/hazyhaar/packetd/store"
)

const (
	// SignatureTTL is how long issued URLs stay valid.
	SignatureTTL = time.Hour
	// RefreshInterval renews rule sets with slack before expiry.
	RefreshInterval = 55 * time.Minute
)

// Manager holds the live rule sets.
type Manager struct {
	store  *store.Store
	signer cloud.Presigner
	logger *slog.Logger

	mu    sync.RWMutex
	rules map[string]map[string]string // instanceID -> canonical key -> URL
}

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// New creates a Manager.
func New(s *store.Store, signer cloud.Presigner, opts ...Option) *Manager {
	m := &Manager{
		store:  s,
		signer: signer,
		logger: slog.Default(),
		rules:  make(map[string]map[string]string),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// AddOrUpdatePacketRules (re)issues the rule set for one instance: every
// generated and media item gets a fresh presigned URL for its key.
func (m *Manager) AddOrUpdatePacketRules(ctx context.Context, in *packet.Instance) error {
	if in == nil {
		return fmt.Errorf("rules: nil instance")
	}
	set := make(map[string]string)
	for i := range in.Contents {
		it := &in.Contents[i]
		switch it.Kind {
		case packet.KindGenerated, packet.KindMedia:
			if it.Key == "" {
				continue
			}
			u, err := m.signer.Presign(it.Key, SignatureTTL)
			if err != nil {
				return fmt.Errorf("rules: presign %s: %w", it.Key, err)
			}
			set[it.Key] = u
		}
	}
	m.mu.Lock()
	m.rules[in.InstanceID] = set
	m.mu.Unlock()
	m.logger.Debug("rules: set updated", "instanceId", in.InstanceID, "count", len(set))
	return nil
}

// RemovePacketRules drops the rule set for an instance.
func (m *Manager) RemovePacketRules(instanceID string) {
	m.mu.Lock()
	delete(m.rules, instanceID)
	m.mu.Unlock()
}

// RefreshAllRules rebuilds every rule set from the stored instances. Rule
// sets for vanished instances are dropped.
func (m *Manager) RefreshAllRules(ctx context.Context) error {
	instances, err := m.store.GetPacketInstances(ctx)
	if err != nil {
		return fmt.Errorf("rules: load instances: %w", err)
	}
	for _, in := range instances {
		if err := m.AddOrUpdatePacketRules(ctx, in); err != nil {
			m.logger.Warn("rules: refresh", "instanceId", in.InstanceID, "error", err)
		}
	}
	m.mu.Lock()
	for id := range m.rules {
		if _, live := instances[id]; !live {
			delete(m.rules, id)
		}
	}
	m.mu.Unlock()
	return nil
}

// Resolve returns the presigned URL for an instance's canonical key.
func (m *Manager) Resolve(instanceID, key string) (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.rules[instanceID][key]
	return u, ok
}
