package runtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/packetd/cloud"
	"github.com/hazyhaar/packetd/dbopen"
	"github.com/hazyhaar/packetd/host/memhost"
	"github.com/hazyhaar/packetd/media"
	"github.com/hazyhaar/packetd/packet"
	"github.com/hazyhaar/packetd/router"
	"github.com/hazyhaar/packetd/store"
)

type nopDoc struct{}

func (nopDoc) Play(context.Context, media.PlayCommand) error { return nil }
func (nopDoc) Pause(context.Context) error                   { return nil }
func (nopDoc) Resume(context.Context) error                  { return nil }
func (nopDoc) Stop(context.Context) error                    { return nil }

func newRuntime(t *testing.T) (*Runtime, *memhost.Host, context.Context) {
	t.Helper()
	db := dbopen.OpenMemory(t)
	h := memhost.New()
	rt, err := New(Deps{
		DB:     db,
		Host:   h,
		Audio:  nopDoc{},
		Signer: cloud.NewLocalSigner("http://127.0.0.1:8791", []byte("test-secret")),
		Logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	t.Cleanup(func() { rt.Close() })
	return rt, h, ctx
}

func testInstance(id string) *packet.Instance {
	return &packet.Instance{
		InstanceID:   id,
		ImageID:      "img_" + id,
		Topic:        "Topic " + id,
		Status:       packet.StatusReady,
		Instantiated: time.Now().UTC(),
		Contents: []packet.Item{
			{Kind: packet.KindExternal, URL: "https://example.com/" + id + "/a", Title: "A"},
			{Kind: packet.KindGenerated, PageID: "pg_b", Key: "packets/img_" + id + "/b.html", Format: "html", Title: "B"},
			{Kind: packet.KindMedia, PageID: "pg_c", Key: "packets/img_" + id + "/c.mp3", Mime: "audio/mpeg", Title: "C"},
		},
		VisitedURLs:             []string{},
		VisitedGeneratedPageIDs: []string{},
	}
}

func call(t *testing.T, rt *Runtime, action string, data any, tabID int) json.RawMessage {
	t.Helper()
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			t.Fatalf("marshal %s params: %v", action, err)
		}
		raw = b
	}
	res, err := rt.dispatchSync(context.Background(), router.Message{Action: action, Data: raw, TabID: tabID})
	if err != nil {
		t.Fatalf("%s: %v", action, err)
	}
	out, _ := res.(json.RawMessage)
	return out
}

func callErr(t *testing.T, rt *Runtime, action string, data any) error {
	t.Helper()
	b, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal %s params: %v", action, err)
	}
	_, err = rt.dispatchSync(context.Background(), router.Message{Action: action, Data: b})
	return err
}

func TestStartupRestoresContextsFromGroupTitles(t *testing.T) {
	rt, h, ctx := newRuntime(t)

	in := testInstance("inst_r1")
	if err := rt.store.PutPacketInstance(ctx, in); err != nil {
		t.Fatalf("seed instance: %v", err)
	}
	// A context keyed by a pre-restart tab id must not survive restoration.
	if err := rt.store.PutPacketContext(ctx, 999, &store.PacketContext{
		InstanceID: "inst_r1", CanonicalPacketURL: "https://example.com/inst_r1/a",
	}); err != nil {
		t.Fatalf("seed stale context: %v", err)
	}

	t1, _ := h.CreateTab(ctx, "https://example.com/inst_r1/a", true)
	t2, _ := h.CreateTab(ctx, "http://127.0.0.1:8791/content/packets/img_inst_r1/b.html", false)
	gid, err := h.GroupTabs(ctx, 0, t1.ID, t2.ID)
	if err != nil {
		t.Fatalf("group tabs: %v", err)
	}
	h.SetGroupTitle(gid, packet.GroupTitle("inst_r1"))

	if err := rt.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	pc1, err := rt.store.GetPacketContext(ctx, t1.ID)
	if err != nil || pc1 == nil {
		t.Fatalf("first tab has no restored context: %v", err)
	}
	if pc1.CanonicalPacketURL != "https://example.com/inst_r1/a" {
		t.Fatalf("first tab bound to %q", pc1.CanonicalPacketURL)
	}
	pc2, err := rt.store.GetPacketContext(ctx, t2.ID)
	if err != nil || pc2 == nil {
		t.Fatalf("second tab has no restored context: %v", err)
	}
	if pc2.CanonicalPacketURL != "packets/img_inst_r1/b.html" {
		t.Fatalf("second tab bound to %q", pc2.CanonicalPacketURL)
	}

	if pc, _ := rt.store.GetPacketContext(ctx, 999); pc != nil {
		t.Fatal("stale context survived restoration")
	}

	bs, err := rt.store.GetBrowserState(ctx, "inst_r1")
	if err != nil || bs == nil {
		t.Fatalf("browser state not restored: %v", err)
	}
	if bs.TabGroupID != gid {
		t.Fatalf("browser state group = %d, want %d", bs.TabGroupID, gid)
	}
}

func TestGCClearsRecycledGroupBinding(t *testing.T) {
	rt, h, ctx := newRuntime(t)

	in := testInstance("inst_gc")
	if err := rt.store.PutPacketInstance(ctx, in); err != nil {
		t.Fatalf("seed instance: %v", err)
	}
	// The stored group id now belongs to a group the user made themselves.
	h.AddGroup(44, "vacation planning")
	if err := rt.store.PutBrowserState(ctx, &store.BrowserState{
		InstanceID: "inst_gc", TabGroupID: 44, ActiveTabIDs: []int{7, 8},
	}); err != nil {
		t.Fatalf("seed browser state: %v", err)
	}
	// State for an instance that no longer exists.
	if err := rt.store.PutBrowserState(ctx, &store.BrowserState{InstanceID: "inst_gone"}); err != nil {
		t.Fatalf("seed orphan state: %v", err)
	}
	if err := rt.store.PutPacketContext(ctx, 7, &store.PacketContext{
		InstanceID: "inst_gc", CanonicalPacketURL: "https://example.com/inst_gc/a",
	}); err != nil {
		t.Fatalf("seed dead-tab context: %v", err)
	}

	rt.RunGC(ctx)

	bs, err := rt.store.GetBrowserState(ctx, "inst_gc")
	if err != nil || bs == nil {
		t.Fatalf("browser state gone: %v", err)
	}
	if bs.TabGroupID != 0 {
		t.Fatalf("recycled group binding kept: %d", bs.TabGroupID)
	}
	if len(bs.ActiveTabIDs) != 0 {
		t.Fatalf("dead tabs kept: %v", bs.ActiveTabIDs)
	}
	if orphan, _ := rt.store.GetBrowserState(ctx, "inst_gone"); orphan != nil {
		t.Fatal("orphan browser state survived gc")
	}
	if pc, _ := rt.store.GetPacketContext(ctx, 7); pc != nil {
		t.Fatal("dead-tab context survived gc")
	}
}

func TestStuckCreatingSweep(t *testing.T) {
	rt, _, ctx := newRuntime(t)

	stuck := testInstance("inst_stuck")
	stuck.Status = packet.StatusCreating
	stuck.Instantiated = time.Now().Add(-3 * time.Hour)
	fresh := testInstance("inst_fresh")
	fresh.Status = packet.StatusCreating
	for _, in := range []*packet.Instance{stuck, fresh} {
		if err := rt.store.PutPacketInstance(ctx, in); err != nil {
			t.Fatalf("seed: %v", err)
		}
	}

	if err := rt.sweepStuckCreating(ctx); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	if in, _ := rt.store.GetPacketInstance(ctx, "inst_stuck"); in != nil {
		t.Fatal("stuck instance survived sweep")
	}
	if in, _ := rt.store.GetPacketInstance(ctx, "inst_fresh"); in == nil {
		t.Fatal("fresh creating instance swept")
	}
}

func TestOpenContentFocusesExistingBoundTab(t *testing.T) {
	rt, h, ctx := newRuntime(t)

	in := testInstance("inst_open")
	if err := rt.store.PutPacketInstance(ctx, in); err != nil {
		t.Fatalf("seed: %v", err)
	}
	bound, _ := h.CreateTab(ctx, "https://example.com/inst_open/a", false)
	other, _ := h.CreateTab(ctx, "https://unrelated.test/", true)
	if err := rt.store.PutPacketContext(ctx, bound.ID, &store.PacketContext{
		InstanceID: "inst_open", CanonicalPacketURL: "https://example.com/inst_open/a",
	}); err != nil {
		t.Fatalf("seed context: %v", err)
	}

	before := len(h.TabIDs())
	call(t, rt, "open_content", openParams{InstanceID: "inst_open", Key: "https://example.com/inst_open/a"}, 0)

	if got := len(h.TabIDs()); got != before {
		t.Fatalf("tab count changed: %d -> %d", before, got)
	}
	active, err := h.ActiveTab(ctx)
	if err != nil {
		t.Fatalf("active tab: %v", err)
	}
	if active.ID != bound.ID {
		t.Fatalf("active tab = %d, want bound tab %d (was %d)", active.ID, bound.ID, other.ID)
	}
}

func TestOpenContentCreatesSignedTrustedTab(t *testing.T) {
	rt, h, ctx := newRuntime(t)

	in := testInstance("inst_sign")
	if err := rt.store.PutPacketInstance(ctx, in); err != nil {
		t.Fatalf("seed: %v", err)
	}

	call(t, rt, "open_content", openParams{InstanceID: "inst_sign", Key: "packets/img_inst_sign/b.html"}, 0)

	tab, err := h.ActiveTab(ctx)
	if err != nil {
		t.Fatalf("no tab created: %v", err)
	}
	if !strings.Contains(tab.URL, "/content/packets/img_inst_sign/b.html") ||
		!strings.Contains(tab.URL, "sig=") {
		t.Fatalf("tab url not signed content: %q", tab.URL)
	}
	pc, err := rt.store.GetPacketContext(ctx, tab.ID)
	if err != nil || pc == nil {
		t.Fatalf("new tab has no context: %v", err)
	}
	if pc.InstanceID != "inst_sign" || pc.CanonicalPacketURL != "packets/img_inst_sign/b.html" {
		t.Fatalf("context = %+v", pc)
	}
	if _, ok := rt.session.PeekTrustedIntent(tab.ID); !ok {
		t.Fatal("no trusted intent stored for new tab")
	}
}

func TestDeleteInstanceTearsDownEverything(t *testing.T) {
	rt, h, ctx := newRuntime(t)

	in := testInstance("inst_del")
	if err := rt.store.PutPacketInstance(ctx, in); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := rt.store.SaveGeneratedContent(ctx, in.ImageID, "pg_b", []store.File{
		{Name: "b.html", Content: []byte("<p>x</p>"), ContentType: "text/html"},
	}); err != nil {
		t.Fatalf("seed blob: %v", err)
	}

	t1, _ := h.CreateTab(ctx, "https://example.com/inst_del/a", true)
	gid, _ := h.GroupTabs(ctx, 0, t1.ID)
	h.SetGroupTitle(gid, packet.GroupTitle("inst_del"))
	if err := rt.store.PutPacketContext(ctx, t1.ID, &store.PacketContext{
		InstanceID: "inst_del", CanonicalPacketURL: "https://example.com/inst_del/a",
	}); err != nil {
		t.Fatalf("seed context: %v", err)
	}
	if err := rt.store.PutBrowserState(ctx, &store.BrowserState{
		InstanceID: "inst_del", TabGroupID: gid, ActiveTabIDs: []int{t1.ID},
	}); err != nil {
		t.Fatalf("seed browser state: %v", err)
	}

	call(t, rt, "delete_instance", instanceParams{InstanceID: "inst_del"}, 0)

	if in, _ := rt.store.GetPacketInstance(ctx, "inst_del"); in != nil {
		t.Fatal("instance survived delete")
	}
	if _, err := h.GetTab(ctx, t1.ID); err == nil {
		t.Fatal("group tab survived delete")
	}
	if pc, _ := rt.store.GetPacketContext(ctx, t1.ID); pc != nil {
		t.Fatal("context survived delete")
	}
	if bs, _ := rt.store.GetBrowserState(ctx, "inst_del"); bs != nil {
		t.Fatal("browser state survived delete")
	}
	if files, _ := rt.store.GetGeneratedContent(ctx, in.ImageID, "pg_b"); len(files) != 0 {
		t.Fatal("blobs survived delete of last instance")
	}
	if rt.session.GetBool(store.SessionClosingGroup) {
		t.Fatal("closing-group flag left set")
	}
}

func TestInstantiateActionResolvesAlternatives(t *testing.T) {
	rt, _, ctx := newRuntime(t)

	img := &packet.Image{
		ID:      "img_alt",
		Topic:   "Alternatives",
		Created: time.Now().UTC(),
		SourceContent: []packet.Item{
			{Kind: packet.KindExternal, URL: "https://example.com/x"},
			{Kind: packet.KindAlternative, Alternatives: []packet.Item{
				{Kind: packet.KindGenerated, PageID: "pg_txt", Key: "packets/img_alt/s.html", Format: "html"},
				{Kind: packet.KindMedia, PageID: "pg_aud", Key: "packets/img_alt/s.mp3", Mime: "audio/mpeg"},
			}},
		},
	}
	if err := rt.store.PutPacketImage(ctx, img); err != nil {
		t.Fatalf("seed image: %v", err)
	}

	call(t, rt, "instantiate_packet", instantiateParams{ImageID: "img_alt"}, 0)

	instances, err := rt.store.GetPacketInstances(ctx)
	if err != nil || len(instances) != 1 {
		t.Fatalf("instances = %v (%v)", instances, err)
	}
	for _, in := range instances {
		if in.Status != packet.StatusReady {
			t.Fatalf("status = %s", in.Status)
		}
		if len(in.Contents) != 2 {
			t.Fatalf("alternative not resolved: %d items", len(in.Contents))
		}
		if _, ok := rt.rules.Resolve(in.InstanceID, in.Contents[1].CanonicalKey()); !ok {
			t.Fatal("no content rule signed for new instance")
		}
	}
}

func TestSetSettingsValidation(t *testing.T) {
	rt, _, ctx := newRuntime(t)

	bad := store.DefaultSettings()
	bad.VisitThresholdSeconds = 0
	if err := callErr(t, rt, "set_settings", bad); err == nil {
		t.Fatal("zero threshold accepted")
	}
	bad = store.DefaultSettings()
	bad.ThemePreference = "neon"
	if err := callErr(t, rt, "set_settings", bad); err == nil {
		t.Fatal("unknown theme accepted")
	}

	good := store.DefaultSettings()
	good.VisitThresholdSeconds = 12
	if err := callErr(t, rt, "set_settings", good); err != nil {
		t.Fatalf("valid settings rejected: %v", err)
	}
	stored, err := rt.store.GetSettings(ctx)
	if err != nil {
		t.Fatalf("GetSettings: %v", err)
	}
	if stored.VisitThresholdSeconds != 12 {
		t.Fatalf("threshold = %d", stored.VisitThresholdSeconds)
	}
}

func TestInteractionCompleteRequiresMatchingItem(t *testing.T) {
	rt, h, ctx := newRuntime(t)

	in := testInstance("inst_quiz")
	in.Contents[1].InteractionBasedCompletion = true
	if err := rt.store.PutPacketInstance(ctx, in); err != nil {
		t.Fatalf("seed: %v", err)
	}
	tab, _ := h.CreateTab(ctx, "http://127.0.0.1:8791/content/packets/img_inst_quiz/b.html", true)
	if err := rt.store.PutPacketContext(ctx, tab.ID, &store.PacketContext{
		InstanceID: "inst_quiz", CanonicalPacketURL: "packets/img_inst_quiz/b.html",
	}); err != nil {
		t.Fatalf("seed context: %v", err)
	}

	call(t, rt, "page_interaction_complete", nil, tab.ID)

	got, err := rt.store.GetPacketInstance(ctx, "inst_quiz")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if len(got.VisitedGeneratedPageIDs) != 1 || got.VisitedGeneratedPageIDs[0] != "pg_b" {
		t.Fatalf("visited pages = %v", got.VisitedGeneratedPageIDs)
	}

	// A sender with no packet context cannot credit anything.
	loose, _ := h.CreateTab(ctx, "https://elsewhere.test/", true)
	if _, err := rt.dispatchSync(context.Background(), router.Message{
		Action: "page_interaction_complete", TabID: loose.ID,
	}); err == nil {
		t.Fatal("uncontexted sender accepted")
	}
}

func TestReadContentReducesGeneratedPage(t *testing.T) {
	rt, _, ctx := newRuntime(t)

	in := testInstance("inst_read")
	if err := rt.store.PutPacketInstance(ctx, in); err != nil {
		t.Fatalf("seed: %v", err)
	}
	page := `<html><head><title>Reef Fish</title></head><body>` +
		`<h1>Reef Fish</h1><p>Wrasse patrol the shallows.</p>` +
		`<a href="https://example.com/wrasse">Wrasse field guide</a></body></html>`
	if err := rt.store.SaveGeneratedContent(ctx, in.ImageID, "pg_b", []store.File{
		{Name: "b.html", Content: []byte(page), ContentType: "text/html"},
	}); err != nil {
		t.Fatalf("seed blob: %v", err)
	}

	res, err := rt.readContent(ctx, "inst_read", "packets/img_inst_read/b.html")
	if err != nil {
		t.Fatalf("readContent: %v", err)
	}
	out := res.(map[string]any)
	if out["title"] != "Reef Fish" {
		t.Fatalf("title = %v", out["title"])
	}
	text := out["text"].(string)
	if !strings.Contains(text, "Wrasse patrol the shallows") {
		t.Fatalf("text = %q", text)
	}
	b, _ := json.Marshal(out["links"])
	if !strings.Contains(string(b), "https://example.com/wrasse") {
		t.Fatalf("links = %s", b)
	}

	if _, err := rt.readContent(ctx, "inst_read", "https://example.com/inst_read/a"); err == nil {
		t.Fatal("external item accepted")
	}
	if _, err := rt.readContent(ctx, "inst_missing", "packets/img_inst_read/b.html"); err == nil {
		t.Fatal("missing instance accepted")
	}
}
