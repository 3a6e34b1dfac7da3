package store_test

import (
	"context"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/packetd/dbopen"
	"github.com/hazyhaar/packetd/packet"
	"github.com/hazyhaar/packetd/store"
)

func openStore(t *testing.T) *store.Store {
	t.Helper()
	db := dbopen.OpenMemory(t)
	s, err := store.OpenDB(db)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestInstances_RoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	in := &packet.Instance{
		InstanceID: "inst_a",
		ImageID:    "img_a",
		Topic:      "tides",
		Contents: []packet.Item{
			{Kind: packet.KindExternal, URL: "https://example.com/t"},
		},
	}
	if err := s.PutPacketInstance(ctx, in); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetPacketInstance(ctx, "inst_a")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.Topic != "tides" {
		t.Fatalf("got %+v", got)
	}
	// Nil progress slices must normalize to empty.
	if got.VisitedURLs == nil || got.MentionedMediaLinks == nil {
		t.Fatal("progress slices not normalized")
	}
}

func TestInstances_RejectMissingID(t *testing.T) {
	s := openStore(t)
	if err := s.PutPacketInstance(context.Background(), &packet.Instance{}); err == nil {
		t.Fatal("put with missing instanceId must fail")
	}
	if err := s.PutBrowserState(context.Background(), &store.BrowserState{}); err == nil {
		t.Fatal("put with missing instanceId must fail")
	}
}

func TestInstances_EmptyDefault(t *testing.T) {
	s := openStore(t)
	m, err := s.GetPacketInstances(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if m == nil || len(m) != 0 {
		t.Fatalf("want empty map, got %v", m)
	}
}

func TestPacketContexts(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	pc := &store.PacketContext{
		InstanceID:         "inst_a",
		CanonicalPacketURL: "https://example.com/t",
		CurrentBrowserURL:  "https://example.com/t?ref=1",
	}
	if err := s.PutPacketContext(ctx, 7, pc); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetPacketContext(ctx, 7)
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.InstanceID != "inst_a" {
		t.Fatalf("got %+v", got)
	}

	all, err := s.AllPacketContexts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all[7] == nil {
		t.Fatalf("all = %v", all)
	}

	if err := s.DeletePacketContext(ctx, 7); err != nil {
		t.Fatal(err)
	}
	got, err = s.GetPacketContext(ctx, 7)
	if err != nil || got != nil {
		t.Fatalf("context survived delete: %+v, %v", got, err)
	}
}

func TestSettings_Defaults(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	set, err := s.GetSettings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if set.VisitThresholdSeconds != 5 || !set.TabGroupsEnabled {
		t.Fatalf("defaults: %+v", set)
	}

	set.PreferAudio = true
	set.VisitThresholdSeconds = 0 // invalid, must normalize
	if err := s.PutSettings(ctx, set); err != nil {
		t.Fatal(err)
	}
	set, err = s.GetSettings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !set.PreferAudio || set.VisitThresholdSeconds != 5 {
		t.Fatalf("after put: %+v", set)
	}
	if set.VisitThreshold() != 5*time.Second {
		t.Fatalf("threshold duration: %v", set.VisitThreshold())
	}
}

func TestGeneratedContent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	files := []store.File{
		{Name: "index.html", Content: []byte("<html></html>"), ContentType: "text/html"},
		{Name: "audio.mp3", Content: []byte{0xff, 0xfb}, ContentType: "audio/mpeg"},
	}
	if err := s.SaveGeneratedContent(ctx, "img_a", "pg_1", files); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetGeneratedContent(ctx, "img_a", "pg_1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[1].Name != "index.html" {
		t.Fatalf("got %d files", len(got))
	}

	if err := s.DeleteGeneratedContentForImage(ctx, "img_a"); err != nil {
		t.Fatal(err)
	}
	got, err = s.GetGeneratedContent(ctx, "img_a", "pg_1")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("blobs survived delete: %d", len(got))
	}
}
