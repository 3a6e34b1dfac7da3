package rules

import (
	"context"
	"strings"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/packetd/cloud"
	"github.com/hazyhaar/packetd/dbopen"
	"github.com/hazyhaar/packetd/packet"
	"github.com/hazyhaar/packetd/store"
)

func rulesSetup(t *testing.T) (*Manager, *store.Store) {
	t.Helper()
	db := dbopen.OpenMemory(t)
	s, err := store.OpenDB(db)
	if err != nil {
		t.Fatal(err)
	}
	signer := cloud.NewLocalSigner("http://127.0.0.1:9050", []byte("k"))
	return New(s, signer), s
}

func ruleInstance(id string) *packet.Instance {
	return &packet.Instance{
		InstanceID: id,
		ImageID:    "img_r",
		Contents: []packet.Item{
			{Kind: packet.KindExternal, URL: "https://example.com/x"},
			{Kind: packet.KindGenerated, PageID: "pg_a", Key: "packets/img_r/a.html", Format: "html"},
			{Kind: packet.KindMedia, PageID: "pg_b", Key: "packets/img_r/b.mp3"},
		},
		VisitedURLs:             []string{},
		VisitedGeneratedPageIDs: []string{},
		MentionedMediaLinks:     []string{},
	}
}

func TestAddAndResolve(t *testing.T) {
	m, _ := rulesSetup(t)
	ctx := context.Background()
	in := ruleInstance("inst_r")

	if err := m.AddOrUpdatePacketRules(ctx, in); err != nil {
		t.Fatal(err)
	}

	u, ok := m.Resolve("inst_r", "packets/img_r/a.html")
	if !ok || !strings.Contains(u, "/content/packets/img_r/a.html?") {
		t.Fatalf("resolve = %q %v", u, ok)
	}
	// External items get no rule; they are real URLs already.
	if _, ok := m.Resolve("inst_r", "https://example.com/x"); ok {
		t.Fatal("external item has a rule")
	}
}

func TestRefreshDropsVanishedInstances(t *testing.T) {
	m, s := rulesSetup(t)
	ctx := context.Background()

	kept := ruleInstance("inst_kept")
	gone := ruleInstance("inst_gone")
	if err := s.PutPacketInstance(ctx, kept); err != nil {
		t.Fatal(err)
	}
	if err := m.AddOrUpdatePacketRules(ctx, kept); err != nil {
		t.Fatal(err)
	}
	if err := m.AddOrUpdatePacketRules(ctx, gone); err != nil {
		t.Fatal(err)
	}

	if err := m.RefreshAllRules(ctx); err != nil {
		t.Fatal(err)
	}
	if _, ok := m.Resolve("inst_kept", "packets/img_r/a.html"); !ok {
		t.Fatal("kept instance lost its rules")
	}
	if _, ok := m.Resolve("inst_gone", "packets/img_r/a.html"); ok {
		t.Fatal("vanished instance kept its rules")
	}
}

func TestRemovePacketRules(t *testing.T) {
	m, _ := rulesSetup(t)
	ctx := context.Background()
	in := ruleInstance("inst_r")
	if err := m.AddOrUpdatePacketRules(ctx, in); err != nil {
		t.Fatal(err)
	}
	m.RemovePacketRules("inst_r")
	if _, ok := m.Resolve("inst_r", "packets/img_r/a.html"); ok {
		t.Fatal("rules survived removal")
	}
}
