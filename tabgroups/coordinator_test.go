package tabgroups

import (
	"context"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/packetd/dbopen"
	"github.com/hazyhaar/packetd/host/memhost"
	"github.com/hazyhaar/packetd/packet"
	"github.com/hazyhaar/packetd/store"
)

func testSetup(t *testing.T) (*Coordinator, *memhost.Host, *store.Store) {
	t.Helper()
	db := dbopen.OpenMemory(t)
	s, err := store.OpenDB(db)
	if err != nil {
		t.Fatal(err)
	}
	h := memhost.New()
	c := New(h, s, store.NewSession())
	return c, h, s
}

func twoItemInstance() *packet.Instance {
	return &packet.Instance{
		InstanceID: "inst_tg",
		ImageID:    "img_tg",
		Contents: []packet.Item{
			{Kind: packet.KindExternal, URL: "https://example.com/a"},
			{Kind: packet.KindExternal, URL: "https://example.com/b"},
		},
		VisitedURLs:             []string{},
		VisitedGeneratedPageIDs: []string{},
		MentionedMediaLinks:     []string{},
	}
}

func TestEnsureTabInGroup_CreatesTitledGroup(t *testing.T) {
	c, h, s := testSetup(t)
	ctx := context.Background()
	in := twoItemInstance()

	tab := h.CreateTabWithOpener("https://example.com/a", true, 0)
	gid, err := c.EnsureTabInGroup(ctx, tab.ID, in)
	if err != nil {
		t.Fatal(err)
	}
	if gid == 0 {
		t.Fatal("no group created")
	}

	g, err := h.GetGroup(ctx, gid)
	if err != nil {
		t.Fatal(err)
	}
	if g.Title != "PKT-tg" {
		t.Fatalf("group title = %q", g.Title)
	}

	bs, err := s.GetBrowserState(ctx, in.InstanceID)
	if err != nil || bs == nil {
		t.Fatalf("browser state: %+v %v", bs, err)
	}
	if bs.TabGroupID != gid {
		t.Fatalf("stored group id = %d, want %d", bs.TabGroupID, gid)
	}
}

func TestEnsureTabInGroup_RecycledID(t *testing.T) {
	// Pre-restart state says group 42; after restart group 42 exists but is
	// the user's own "Shopping" group. The stored id must be cleared before
	// any action, and a fresh PKT- group created.
	c, h, s := testSetup(t)
	ctx := context.Background()
	in := twoItemInstance()

	h.AddGroup(42, "Shopping")
	if err := s.PutBrowserState(ctx, &store.BrowserState{
		InstanceID: in.InstanceID, TabGroupID: 42, ActiveTabIDs: []int{},
	}); err != nil {
		t.Fatal(err)
	}

	tab := h.CreateTabWithOpener("https://example.com/a", true, 0)
	gid, err := c.EnsureTabInGroup(ctx, tab.ID, in)
	if err != nil {
		t.Fatal(err)
	}
	if gid == 42 {
		t.Fatal("recycled group id was reused")
	}
	g, _ := h.GetGroup(ctx, 42)
	if g.Title != "Shopping" {
		t.Fatalf("user group touched: %q", g.Title)
	}
	bs, _ := s.GetBrowserState(ctx, in.InstanceID)
	if bs.TabGroupID != gid {
		t.Fatalf("stored id = %d, want %d", bs.TabGroupID, gid)
	}
}

func TestEnsureTabInGroup_ManualDisconnect(t *testing.T) {
	c, h, s := testSetup(t)
	ctx := context.Background()
	in := twoItemInstance()

	if err := s.PutBrowserState(ctx, &store.BrowserState{
		InstanceID: in.InstanceID, ManualDisconnect: true, ActiveTabIDs: []int{},
	}); err != nil {
		t.Fatal(err)
	}

	tab := h.CreateTabWithOpener("https://example.com/a", true, 0)
	gid, err := c.EnsureTabInGroup(ctx, tab.ID, in)
	if err != nil {
		t.Fatal(err)
	}
	if gid != 0 {
		t.Fatal("grouping must be skipped after manual disconnect")
	}
}

func TestOrderTabsInGroup(t *testing.T) {
	c, h, s := testSetup(t)
	ctx := context.Background()
	in := twoItemInstance()

	// Two tabs opened in reverse item order.
	tabB := h.CreateTabWithOpener("https://example.com/b", true, 0)
	tabA := h.CreateTabWithOpener("https://example.com/a", false, 0)
	for tabID, key := range map[int]string{
		tabB.ID: "https://example.com/b",
		tabA.ID: "https://example.com/a",
	} {
		if err := s.PutPacketContext(ctx, tabID, &store.PacketContext{
			InstanceID: in.InstanceID, CanonicalPacketURL: key, CurrentBrowserURL: key,
		}); err != nil {
			t.Fatal(err)
		}
	}

	gid, err := c.EnsureTabInGroup(ctx, tabB.ID, in)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.GroupTabs(ctx, gid, tabA.ID); err != nil {
		t.Fatal(err)
	}

	if err := c.OrderTabsInGroup(ctx, gid, in); err != nil {
		t.Fatal(err)
	}

	tabs, err := h.TabsInGroup(ctx, gid)
	if err != nil {
		t.Fatal(err)
	}
	if tabs[0].ID != tabA.ID || tabs[1].ID != tabB.ID {
		t.Fatalf("order = %d,%d want %d,%d", tabs[0].ID, tabs[1].ID, tabA.ID, tabB.ID)
	}
}

func TestOrderTabsInGroup_RefusesForeignGroup(t *testing.T) {
	c, h, _ := testSetup(t)
	ctx := context.Background()
	h.AddGroup(7, "Shopping")
	if err := c.OrderTabsInGroup(ctx, 7, twoItemInstance()); err == nil {
		t.Fatal("must refuse to reorder a group the runtime does not own")
	}
}

func TestOrderTabsInGroup_RetriesBusy(t *testing.T) {
	c, h, s := testSetup(t)
	ctx := context.Background()
	in := twoItemInstance()

	tabB := h.CreateTabWithOpener("https://example.com/b", true, 0)
	tabA := h.CreateTabWithOpener("https://example.com/a", false, 0)
	gid, err := c.EnsureTabInGroup(ctx, tabB.ID, in)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := h.GroupTabs(ctx, gid, tabA.ID); err != nil {
		t.Fatal(err)
	}
	for tabID, key := range map[int]string{
		tabB.ID: "https://example.com/b",
		tabA.ID: "https://example.com/a",
	} {
		if err := s.PutPacketContext(ctx, tabID, &store.PacketContext{
			InstanceID: in.InstanceID, CanonicalPacketURL: key, CurrentBrowserURL: key,
		}); err != nil {
			t.Fatal(err)
		}
	}

	h.SetBusy(1) // first MoveTabs fails, retry succeeds
	if err := c.OrderTabsInGroup(ctx, gid, in); err != nil {
		t.Fatal(err)
	}
}

func TestHandleGroupRemoved_SetsManualDisconnect(t *testing.T) {
	c, _, s := testSetup(t)
	ctx := context.Background()

	if err := s.PutBrowserState(ctx, &store.BrowserState{
		InstanceID: "inst_tg", TabGroupID: 55, ActiveTabIDs: []int{},
	}); err != nil {
		t.Fatal(err)
	}
	if err := c.HandleGroupRemoved(ctx, 55); err != nil {
		t.Fatal(err)
	}
	bs, _ := s.GetBrowserState(ctx, "inst_tg")
	if bs.TabGroupID != 0 || !bs.ManualDisconnect {
		t.Fatalf("state after removal: %+v", bs)
	}
}

func TestHandleGroupRemoved_RuntimeClose(t *testing.T) {
	c, _, s := testSetup(t)
	ctx := context.Background()

	c.session.Put(store.SessionClosingGroup, true)
	if err := s.PutBrowserState(ctx, &store.BrowserState{
		InstanceID: "inst_tg", TabGroupID: 55, ActiveTabIDs: []int{},
	}); err != nil {
		t.Fatal(err)
	}
	if err := c.HandleGroupRemoved(ctx, 55); err != nil {
		t.Fatal(err)
	}
	bs, _ := s.GetBrowserState(ctx, "inst_tg")
	if bs.ManualDisconnect {
		t.Fatal("runtime-initiated close must not set manualDisconnect")
	}
}
