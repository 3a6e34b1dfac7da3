package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/hazyhaar/packetd/packet"
)

// --- packet images ---

// GetPacketImages returns the image map, empty when unset.
func (s *Store) GetPacketImages(ctx context.Context) (map[string]*packet.Image, error) {
	m := map[string]*packet.Image{}
	if _, err := s.getDoc(ctx, KeyPacketImages, &m); err != nil {
		return nil, err
	}
	return m, nil
}

// GetPacketImage returns one image or nil.
func (s *Store) GetPacketImage(ctx context.Context, id string) (*packet.Image, error) {
	m, err := s.GetPacketImages(ctx)
	if err != nil {
		return nil, err
	}
	return m[id], nil
}

// PutPacketImage upserts an image into the map with a single durable write.
func (s *Store) PutPacketImage(ctx context.Context, img *packet.Image) error {
	if img == nil || img.ID == "" {
		return fmt.Errorf("store: put packet image: missing id")
	}
	m, err := s.GetPacketImages(ctx)
	if err != nil {
		return err
	}
	m[img.ID] = img
	return s.putDoc(ctx, KeyPacketImages, m)
}

// DeletePacketImage removes an image from the map.
func (s *Store) DeletePacketImage(ctx context.Context, id string) error {
	m, err := s.GetPacketImages(ctx)
	if err != nil {
		return err
	}
	if _, ok := m[id]; !ok {
		return nil
	}
	delete(m, id)
	return s.putDoc(ctx, KeyPacketImages, m)
}

// --- packet instances ---

// GetPacketInstances returns the instance map, empty when unset. Instances
// with nil progress slices are normalized to empty slices (schema guarantee).
func (s *Store) GetPacketInstances(ctx context.Context) (map[string]*packet.Instance, error) {
	m := map[string]*packet.Instance{}
	if _, err := s.getDoc(ctx, KeyPacketInstances, &m); err != nil {
		return nil, err
	}
	for id, in := range m {
		if in == nil {
			s.logger.Warn("store: nil instance record dropped", "instanceId", id)
			delete(m, id)
			continue
		}
		normalizeInstance(in)
	}
	return m, nil
}

// GetPacketInstance returns one instance or nil.
func (s *Store) GetPacketInstance(ctx context.Context, id string) (*packet.Instance, error) {
	m, err := s.GetPacketInstances(ctx)
	if err != nil {
		return nil, err
	}
	return m[id], nil
}

// PutPacketInstance upserts an instance with a single durable write.
func (s *Store) PutPacketInstance(ctx context.Context, in *packet.Instance) error {
	if in == nil || in.InstanceID == "" {
		return fmt.Errorf("store: put packet instance: missing instanceId")
	}
	m, err := s.GetPacketInstances(ctx)
	if err != nil {
		return err
	}
	m[in.InstanceID] = in
	return s.putDoc(ctx, KeyPacketInstances, m)
}

// DeletePacketInstance removes an instance.
func (s *Store) DeletePacketInstance(ctx context.Context, id string) error {
	m, err := s.GetPacketInstances(ctx)
	if err != nil {
		return err
	}
	if _, ok := m[id]; !ok {
		return nil
	}
	delete(m, id)
	return s.putDoc(ctx, KeyPacketInstances, m)
}

func normalizeInstance(in *packet.Instance) {
	if in.Contents == nil {
		in.Contents = []packet.Item{}
	}
	if in.VisitedURLs == nil {
		in.VisitedURLs = []string{}
	}
	if in.VisitedGeneratedPageIDs == nil {
		in.VisitedGeneratedPageIDs = []string{}
	}
	if in.MentionedMediaLinks == nil {
		in.MentionedMediaLinks = []string{}
	}
}

// --- browser states ---

// GetBrowserStates returns the browser-state map, empty when unset.
func (s *Store) GetBrowserStates(ctx context.Context) (map[string]*BrowserState, error) {
	m := map[string]*BrowserState{}
	if _, err := s.getDoc(ctx, KeyPacketBrowserStates, &m); err != nil {
		return nil, err
	}
	for id, st := range m {
		if st == nil {
			delete(m, id)
			continue
		}
		if st.ActiveTabIDs == nil {
			st.ActiveTabIDs = []int{}
		}
	}
	return m, nil
}

// GetBrowserState returns the state for an instance or nil.
func (s *Store) GetBrowserState(ctx context.Context, instanceID string) (*BrowserState, error) {
	m, err := s.GetBrowserStates(ctx)
	if err != nil {
		return nil, err
	}
	return m[instanceID], nil
}

// PutBrowserState upserts a browser state.
func (s *Store) PutBrowserState(ctx context.Context, st *BrowserState) error {
	if st == nil || st.InstanceID == "" {
		return fmt.Errorf("store: put browser state: missing instanceId")
	}
	m, err := s.GetBrowserStates(ctx)
	if err != nil {
		return err
	}
	m[st.InstanceID] = st
	return s.putDoc(ctx, KeyPacketBrowserStates, m)
}

// DeleteBrowserState removes the state for an instance.
func (s *Store) DeleteBrowserState(ctx context.Context, instanceID string) error {
	m, err := s.GetBrowserStates(ctx)
	if err != nil {
		return err
	}
	if _, ok := m[instanceID]; !ok {
		return nil
	}
	delete(m, instanceID)
	return s.putDoc(ctx, KeyPacketBrowserStates, m)
}

// --- per-tab packet contexts ---

const contextKeyPrefix = "packetContext_"

// ContextKey builds the durable key for a tab's packet context.
func ContextKey(tabID int) string {
	return contextKeyPrefix + strconv.Itoa(tabID)
}

// GetPacketContext returns the context for a tab, or nil when untagged.
func (s *Store) GetPacketContext(ctx context.Context, tabID int) (*PacketContext, error) {
	var pc PacketContext
	ok, err := s.getDoc(ctx, ContextKey(tabID), &pc)
	if err != nil || !ok {
		return nil, err
	}
	if pc.InstanceID == "" || pc.CanonicalPacketURL == "" {
		s.logger.Warn("store: incomplete packet context dropped", "tabId", tabID)
		return nil, nil
	}
	return &pc, nil
}

// PutPacketContext tags a tab.
func (s *Store) PutPacketContext(ctx context.Context, tabID int, pc *PacketContext) error {
	if pc == nil || pc.InstanceID == "" || pc.CanonicalPacketURL == "" {
		return fmt.Errorf("store: put packet context: missing instanceId or canonical url")
	}
	return s.putDoc(ctx, ContextKey(tabID), pc)
}

// DeletePacketContext untags a tab.
func (s *Store) DeletePacketContext(ctx context.Context, tabID int) error {
	return s.deleteDoc(ctx, ContextKey(tabID))
}

// AllPacketContexts returns every tagged tab id and its context.
func (s *Store) AllPacketContexts(ctx context.Context) (map[int]*PacketContext, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT key, value FROM kv WHERE key LIKE ?`, contextKeyPrefix+"%")
	if err != nil {
		return nil, fmt.Errorf("store: list packet contexts: %w", err)
	}
	defer rows.Close()

	out := map[int]*PacketContext{}
	for rows.Next() {
		var key string
		var raw []byte
		if err := rows.Scan(&key, &raw); err != nil {
			return nil, fmt.Errorf("store: scan packet context: %w", err)
		}
		tabID, err := strconv.Atoi(strings.TrimPrefix(key, contextKeyPrefix))
		if err != nil {
			s.logger.Warn("store: malformed context key", "key", key)
			continue
		}
		pc := &PacketContext{}
		if err := json.Unmarshal(raw, pc); err != nil || pc.InstanceID == "" {
			s.logger.Warn("store: corrupt packet context dropped", "key", key)
			continue
		}
		out[tabID] = pc
	}
	return out, rows.Err()
}

// --- settings ---

// GetSettings returns persisted settings merged over defaults.
func (s *Store) GetSettings(ctx context.Context) (Settings, error) {
	out := DefaultSettings()
	if _, err := s.getDoc(ctx, KeySettings, &out); err != nil {
		return out, err
	}
	if out.VisitThresholdSeconds <= 0 {
		out.VisitThresholdSeconds = 5
	}
	return out, nil
}

// PutSettings persists settings.
func (s *Store) PutSettings(ctx context.Context, set Settings) error {
	if set.VisitThresholdSeconds <= 0 {
		set.VisitThresholdSeconds = 5
	}
	return s.putDoc(ctx, KeySettings, set)
}
