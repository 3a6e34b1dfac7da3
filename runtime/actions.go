// CLAUDE:SUMMARY Router action handlers — the full message surface shared by the sidebar websocket, the HTTP API and the MCP tools.
package runtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hazyhaar/packetd/packet"
	"github.com/hazyhaar/packetd/router"
	"github.com/hazyhaar/packetd/store"
	"github.com/hazyhaar/packetd/surfaces"
)

type playParams struct {
	InstanceID string `json:"instanceId"`
	Key        string `json:"key"`
	TabID      int    `json:"tabId,omitempty"`
}

type tickParams struct {
	Key         string  `json:"key"`
	CurrentTime float64 `json:"currentTime"`
	Duration    float64 `json:"duration"`
}

type openParams struct {
	InstanceID string `json:"instanceId"`
	Key        string `json:"key"`
	Background bool   `json:"background,omitempty"`
}

type overlayOpenParams struct {
	URL string `json:"url"`
}

type instanceParams struct {
	InstanceID string `json:"instanceId"`
}

type instantiateParams struct {
	ImageID string `json:"imageId"`
}

// registerActions wires the message surface. Every entry here is reachable
// from the sidebar websocket, the HTTP API and the MCP tools alike.
func (r *Runtime) registerActions() {
	r.router.Register("play_audio", r.actPlayAudio)
	r.router.Register("pause_audio", r.actPauseAudio)
	r.router.Register("toggle_audio", r.actToggleAudio)
	r.router.Register("stop_audio", r.actStopAudio)
	r.router.Register("audio_time_update", r.actTimeUpdate)
	r.router.Register("get_playback_state", r.actPlaybackState)
	r.router.Register("open_content", r.actOpenContent)
	r.router.Register("open_content_from_overlay", r.actOpenFromOverlay)
	r.router.Register("page_interaction_complete", r.actInteractionComplete)
	r.router.Register("get_instances", r.actGetInstances)
	r.router.Register("instantiate_packet", r.actInstantiate)
	r.router.Register("delete_instance", r.actDeleteInstance)
	r.router.Register("acknowledge_completion", r.actAcknowledgeCompletion)
	r.router.Register("get_settings", r.actGetSettings)
	r.router.Register("set_settings", r.actSetSettings)
	r.router.Register("sidebar_ready", r.actSidebarReady)
}

func (r *Runtime) actPlayAudio(ctx context.Context, msg router.Message, _ router.Reply) (any, error) {
	var p playParams
	if err := json.Unmarshal(msg.Data, &p); err != nil {
		return nil, fmt.Errorf("play_audio: %w", err)
	}
	tabID := p.TabID
	if tabID == 0 {
		tabID = msg.TabID
	}
	if err := r.media.Play(ctx, p.InstanceID, p.Key, tabID); err != nil {
		return nil, err
	}
	return r.media.State(), nil
}

func (r *Runtime) actPauseAudio(ctx context.Context, _ router.Message, _ router.Reply) (any, error) {
	if err := r.media.Pause(ctx); err != nil {
		return nil, err
	}
	return r.media.State(), nil
}

func (r *Runtime) actToggleAudio(ctx context.Context, _ router.Message, _ router.Reply) (any, error) {
	if err := r.media.Toggle(ctx); err != nil {
		return nil, err
	}
	return r.media.State(), nil
}

func (r *Runtime) actStopAudio(ctx context.Context, _ router.Message, _ router.Reply) (any, error) {
	if err := r.media.Stop(ctx); err != nil {
		return nil, err
	}
	return map[string]bool{"stopped": true}, nil
}

func (r *Runtime) actTimeUpdate(ctx context.Context, msg router.Message, _ router.Reply) (any, error) {
	var p tickParams
	if err := json.Unmarshal(msg.Data, &p); err != nil {
		return nil, fmt.Errorf("audio_time_update: %w", err)
	}
	if err := r.media.HandleTimeUpdate(ctx, p.Key, p.CurrentTime, p.Duration); err != nil {
		return nil, err
	}
	return map[string]bool{"ok": true}, nil
}

func (r *Runtime) actPlaybackState(ctx context.Context, _ router.Message, _ router.Reply) (any, error) {
	return map[string]any{"playback": r.media.State()}, nil
}

// actOpenContent opens a packet item. External and generated items land in
// a tab bound by trusted context; media items route to the player instead
// since they never occupy a tab of their own.
func (r *Runtime) actOpenContent(ctx context.Context, msg router.Message, _ router.Reply) (any, error) {
	var p openParams
	if err := json.Unmarshal(msg.Data, &p); err != nil {
		return nil, fmt.Errorf("open_content: %w", err)
	}
	in, err := r.store.GetPacketInstance(ctx, p.InstanceID)
	if err != nil {
		return nil, fmt.Errorf("open_content: %w", err)
	}
	if in == nil {
		return nil, fmt.Errorf("open_content: no instance %s", p.InstanceID)
	}
	item := in.ItemByKey(p.Key)
	if item == nil {
		return nil, fmt.Errorf("open_content: instance %s has no item %s", p.InstanceID, p.Key)
	}

	if item.Kind == packet.KindMedia {
		if err := r.media.Play(ctx, p.InstanceID, p.Key, msg.TabID); err != nil {
			return nil, err
		}
		return r.media.State(), nil
	}

	tab, err := r.openItemTab(ctx, in, item, !p.Background)
	if err != nil {
		return nil, err
	}
	return map[string]int{"tabId": tab}, nil
}

// openItemTab focuses the tab already bound to the item, or opens a new one
// stamped with trusted context so the commit handler credits it.
func (r *Runtime) openItemTab(ctx context.Context, in *packet.Instance, item *packet.Item, active bool) (int, error) {
	key := item.CanonicalKey()

	contexts, err := r.store.AllPacketContexts(ctx)
	if err == nil {
		for tabID, pc := range contexts {
			if pc.InstanceID != in.InstanceID || pc.CanonicalPacketURL != key {
				continue
			}
			if _, err := r.host.GetTab(ctx, tabID); err != nil {
				continue
			}
			if err := r.host.FocusTab(ctx, tabID); err != nil {
				return 0, fmt.Errorf("focus tab %d: %w", tabID, err)
			}
			return tabID, nil
		}
	}

	navURL, err := r.itemURL(in, item)
	if err != nil {
		return 0, err
	}

	tab, err := r.host.CreateTab(ctx, navURL, active)
	if err != nil {
		return 0, fmt.Errorf("create tab: %w", err)
	}
	intent := store.Intent{InstanceID: in.InstanceID, CanonicalPacketURL: key}
	// The intent covers the commit event; the direct stamp covers the case
	// where the commit already fired before we got here.
	r.session.PutTrustedIntent(tab.ID, intent)
	if err := r.nav.StampTrustedContext(ctx, tab.ID, intent, navURL); err != nil {
		r.logger.Warn("stamp context for new tab", "tab", tab.ID, "error", err)
	}
	return tab.ID, nil
}

// itemURL resolves the address a tab should load for an item. Generated
// pages are served from our own signed content endpoint.
func (r *Runtime) itemURL(in *packet.Instance, item *packet.Item) (string, error) {
	switch item.Kind {
	case packet.KindExternal:
		return item.URL, nil
	case packet.KindGenerated, packet.KindMedia:
		url, ok := r.rules.Resolve(in.InstanceID, item.CanonicalKey())
		if !ok {
			if err := r.rules.AddOrUpdatePacketRules(context.Background(), in); err != nil {
				return "", fmt.Errorf("sign content: %w", err)
			}
			url, ok = r.rules.Resolve(in.InstanceID, item.CanonicalKey())
			if !ok {
				return "", fmt.Errorf("no content rule for %s", item.CanonicalKey())
			}
		}
		return url, nil
	default:
		return "", fmt.Errorf("item kind %q cannot open", item.Kind)
	}
}

// actOpenFromOverlay opens a mention link from the playback overlay. When
// the link is itself an item of the playing instance, it opens bound; other
// links open as plain tabs.
func (r *Runtime) actOpenFromOverlay(ctx context.Context, msg router.Message, _ router.Reply) (any, error) {
	var p overlayOpenParams
	if err := json.Unmarshal(msg.Data, &p); err != nil {
		return nil, fmt.Errorf("open_content_from_overlay: %w", err)
	}
	if p.URL == "" {
		return nil, fmt.Errorf("open_content_from_overlay: empty url")
	}

	if st := r.media.State(); st != nil {
		in, err := r.store.GetPacketInstance(ctx, st.InstanceID)
		if err == nil && in != nil {
			if item := packet.MatchItem(p.URL, in.Contents); item != nil {
				tab, err := r.openItemTab(ctx, in, item, true)
				if err != nil {
					return nil, err
				}
				return map[string]int{"tabId": tab}, nil
			}
		}
	}

	tab, err := r.host.CreateTab(ctx, p.URL, true)
	if err != nil {
		return nil, fmt.Errorf("open_content_from_overlay: %w", err)
	}
	return map[string]int{"tabId": tab.ID}, nil
}

// actInteractionComplete credits items that complete on in-page interaction
// rather than dwell. The sender's tab context decides which item.
func (r *Runtime) actInteractionComplete(ctx context.Context, msg router.Message, _ router.Reply) (any, error) {
	if msg.TabID == 0 {
		return nil, fmt.Errorf("page_interaction_complete: no sender tab")
	}
	pc, err := r.store.GetPacketContext(ctx, msg.TabID)
	if err != nil || pc == nil {
		return nil, fmt.Errorf("page_interaction_complete: tab %d has no context", msg.TabID)
	}
	in, err := r.store.GetPacketInstance(ctx, pc.InstanceID)
	if err != nil {
		return nil, fmt.Errorf("page_interaction_complete: %w", err)
	}
	if in == nil {
		return nil, fmt.Errorf("page_interaction_complete: instance %s vanished", pc.InstanceID)
	}
	item := in.ItemByKey(pc.CanonicalPacketURL)
	if item == nil || !item.InteractionBasedCompletion {
		return nil, fmt.Errorf("page_interaction_complete: item does not complete on interaction")
	}

	res := packet.MarkVisited(in, pc.CanonicalPacketURL)
	if res.Modified {
		if err := r.store.PutPacketInstance(ctx, in); err != nil {
			return nil, fmt.Errorf("page_interaction_complete: persist: %w", err)
		}
		r.Broadcast(ctx, surfaces.BroadcastOptions{ShowVisitedAnimation: true})
		if res.JustCompleted {
			r.nav.CheckAndPromptForCompletion(ctx, in.InstanceID)
		}
	}
	visited, total := in.Progress()
	return map[string]int{"visited": visited, "total": total}, nil
}

// instanceSummary is the list-view shape for an instance.
type instanceSummary struct {
	InstanceID   string `json:"instanceId"`
	Topic        string `json:"topic"`
	Status       string `json:"status"`
	Visited      int    `json:"visited"`
	Total        int    `json:"total"`
	Completed    bool   `json:"completed"`
	Acknowledged bool   `json:"acknowledged"`
}

func (r *Runtime) actGetInstances(ctx context.Context, _ router.Message, _ router.Reply) (any, error) {
	instances, err := r.store.GetPacketInstances(ctx)
	if err != nil {
		return nil, fmt.Errorf("get_instances: %w", err)
	}
	summaries := make([]instanceSummary, 0, len(instances))
	for _, in := range instances {
		visited, total := in.Progress()
		summaries = append(summaries, instanceSummary{
			InstanceID:   in.InstanceID,
			Topic:        in.Topic,
			Status:       string(in.Status),
			Visited:      visited,
			Total:        total,
			Completed:    in.Completed(),
			Acknowledged: in.CompletionAcknowledged,
		})
	}
	return map[string]any{"instances": summaries}, nil
}

func (r *Runtime) actInstantiate(ctx context.Context, msg router.Message, _ router.Reply) (any, error) {
	var p instantiateParams
	if err := json.Unmarshal(msg.Data, &p); err != nil {
		return nil, fmt.Errorf("instantiate_packet: %w", err)
	}
	img, err := r.store.GetPacketImage(ctx, p.ImageID)
	if err != nil {
		return nil, fmt.Errorf("instantiate_packet: %w", err)
	}
	if img == nil {
		return nil, fmt.Errorf("instantiate_packet: no image %s", p.ImageID)
	}
	settings, err := r.store.GetSettings(ctx)
	if err != nil {
		settings = store.DefaultSettings()
	}
	in, err := packet.Instantiate(img, packet.InstantiateOptions{
		PreferAudio: settings.PreferAudio,
	})
	if err != nil {
		return nil, fmt.Errorf("instantiate_packet: %w", err)
	}
	if err := r.store.PutPacketInstance(ctx, in); err != nil {
		return nil, fmt.Errorf("instantiate_packet: persist: %w", err)
	}
	if err := r.rules.AddOrUpdatePacketRules(ctx, in); err != nil {
		r.logger.Warn("sign content for new instance", "instanceId", in.InstanceID, "error", err)
	}
	r.Broadcast(ctx, surfaces.BroadcastOptions{})
	return in, nil
}

// actDeleteInstance tears an instance down: playback stops, its tab group
// closes, and all keyed state goes with it. The closing-group flag keeps
// the group-removed handler from treating our own teardown as the user
// closing the group.
func (r *Runtime) actDeleteInstance(ctx context.Context, msg router.Message, _ router.Reply) (any, error) {
	var p instanceParams
	if err := json.Unmarshal(msg.Data, &p); err != nil {
		return nil, fmt.Errorf("delete_instance: %w", err)
	}
	instances, err := r.store.GetPacketInstances(ctx)
	if err != nil {
		return nil, fmt.Errorf("delete_instance: %w", err)
	}
	in, ok := instances[p.InstanceID]
	if !ok {
		return nil, fmt.Errorf("delete_instance: no instance %s", p.InstanceID)
	}

	if err := r.media.StopForInstance(ctx, p.InstanceID); err != nil {
		r.logger.Warn("stop media on delete", "instanceId", p.InstanceID, "error", err)
	}

	r.session.Put(store.SessionClosingGroup, true)
	defer r.session.Delete(store.SessionClosingGroup)

	r.closeInstanceTabs(ctx, p.InstanceID)

	if err := r.removeInstanceData(ctx, in, instances); err != nil {
		return nil, fmt.Errorf("delete_instance: %w", err)
	}
	r.Broadcast(ctx, surfaces.BroadcastOptions{})
	return map[string]bool{"deleted": true}, nil
}

// closeInstanceTabs closes every tab bound to the instance and drops its
// contexts. Tabs in the instance's group but without a context close too.
func (r *Runtime) closeInstanceTabs(ctx context.Context, instanceID string) {
	seen := make(map[int]bool)

	if contexts, err := r.store.AllPacketContexts(ctx); err == nil {
		for tabID, pc := range contexts {
			if pc.InstanceID != instanceID {
				continue
			}
			seen[tabID] = true
			if err := r.store.DeletePacketContext(ctx, tabID); err != nil {
				r.logger.Warn("drop context on delete", "tab", tabID, "error", err)
			}
		}
	}

	if bs, err := r.store.GetBrowserState(ctx, instanceID); err == nil && bs != nil && bs.TabGroupID != 0 {
		if r.groupBelongsTo(ctx, bs.TabGroupID, instanceID) {
			if tabs, err := r.host.TabsInGroup(ctx, bs.TabGroupID); err == nil {
				for _, t := range tabs {
					seen[t.ID] = true
				}
			}
		}
	}

	for tabID := range seen {
		if err := r.host.CloseTab(ctx, tabID); err != nil {
			r.logger.Warn("close tab on delete", "tab", tabID, "error", err)
		}
	}
}

func (r *Runtime) actAcknowledgeCompletion(ctx context.Context, msg router.Message, _ router.Reply) (any, error) {
	var p instanceParams
	if err := json.Unmarshal(msg.Data, &p); err != nil {
		return nil, fmt.Errorf("acknowledge_completion: %w", err)
	}
	in, err := r.store.GetPacketInstance(ctx, p.InstanceID)
	if err != nil {
		return nil, fmt.Errorf("acknowledge_completion: %w", err)
	}
	if in == nil {
		return nil, fmt.Errorf("acknowledge_completion: no instance %s", p.InstanceID)
	}
	if !in.CompletionAcknowledged {
		in.CompletionAcknowledged = true
		if err := r.store.PutPacketInstance(ctx, in); err != nil {
			return nil, fmt.Errorf("acknowledge_completion: persist: %w", err)
		}
		r.Broadcast(ctx, surfaces.BroadcastOptions{})
	}
	return map[string]bool{"acknowledged": true}, nil
}

func (r *Runtime) actGetSettings(ctx context.Context, _ router.Message, _ router.Reply) (any, error) {
	settings, err := r.store.GetSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("get_settings: %w", err)
	}
	return settings, nil
}

func (r *Runtime) actSetSettings(ctx context.Context, msg router.Message, _ router.Reply) (any, error) {
	var s store.Settings
	if err := json.Unmarshal(msg.Data, &s); err != nil {
		return nil, fmt.Errorf("set_settings: %w", err)
	}
	if err := validateSettings(s); err != nil {
		return nil, fmt.Errorf("set_settings: %w", err)
	}
	if err := r.store.PutSettings(ctx, s); err != nil {
		return nil, fmt.Errorf("set_settings: persist: %w", err)
	}
	r.Broadcast(ctx, surfaces.BroadcastOptions{})
	return s, nil
}

func validateSettings(s store.Settings) error {
	if s.VisitThresholdSeconds < 1 || s.VisitThresholdSeconds > 600 {
		return fmt.Errorf("visit threshold %d out of range [1,600]", s.VisitThresholdSeconds)
	}
	switch s.ThemePreference {
	case "system", "light", "dark":
	default:
		return fmt.Errorf("unknown theme %q", s.ThemePreference)
	}
	return nil
}

// actSidebarReady hands a freshly connected sidebar the full state in one
// reply instead of waiting for the next broadcast.
func (r *Runtime) actSidebarReady(ctx context.Context, _ router.Message, _ router.Reply) (any, error) {
	instances, err := r.store.GetPacketInstances(ctx)
	if err != nil {
		return nil, fmt.Errorf("sidebar_ready: %w", err)
	}
	settings, err := r.store.GetSettings(ctx)
	if err != nil {
		settings = store.DefaultSettings()
	}
	return surfaces.SidebarState{
		Instances: instances,
		Settings:  settings,
		Playback:  r.media.State(),
	}, nil
}
