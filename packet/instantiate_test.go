package packet

import (
	"testing"
	"time"
)

func testImage() *Image {
	return &Image{
		ID:      "img_1",
		Topic:   "volcanoes",
		Created: time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
		SourceContent: []Item{
			{Kind: KindExternal, URL: "https://example.com/intro"},
			{Kind: KindAlternative, Alternatives: []Item{
				{Kind: KindGenerated, PageID: "pg_sum", Key: "pkt/summary.html", Format: "html"},
				{Kind: KindMedia, PageID: "pg_aud", Key: "pkt/summary.mp3", Mime: "audio/mpeg"},
			}},
			{Kind: KindExternal, URL: "https://example.com/deep"},
		},
	}
}

func TestInstantiate_PreservesOrder(t *testing.T) {
	in, err := Instantiate(testImage(), InstantiateOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(in.Contents) != 3 {
		t.Fatalf("contents = %d items", len(in.Contents))
	}
	if in.Contents[0].URL != "https://example.com/intro" {
		t.Fatalf("position 0: %+v", in.Contents[0])
	}
	// Default resolution picks the first alternative.
	if in.Contents[1].PageID != "pg_sum" {
		t.Fatalf("position 1 (resolved alternative): %+v", in.Contents[1])
	}
	if in.Contents[2].URL != "https://example.com/deep" {
		t.Fatalf("position 2: %+v", in.Contents[2])
	}
}

func TestInstantiate_PreferAudio(t *testing.T) {
	in, err := Instantiate(testImage(), InstantiateOptions{PreferAudio: true})
	if err != nil {
		t.Fatal(err)
	}
	if in.Contents[1].Kind != KindMedia || in.Contents[1].PageID != "pg_aud" {
		t.Fatalf("preferAudio must pick the media child: %+v", in.Contents[1])
	}
}

func TestInstantiate_InstanceID(t *testing.T) {
	in, err := Instantiate(testImage(), InstantiateOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if GroupIdentifier(in.InstanceID) == in.InstanceID {
		t.Fatalf("instance id missing inst_ prefix: %s", in.InstanceID)
	}
	if in.VisitedURLs == nil || in.VisitedGeneratedPageIDs == nil || in.MentionedMediaLinks == nil {
		t.Fatal("progress sets must be non-nil empty slices")
	}
}

func TestInstantiate_EmptyAlternative(t *testing.T) {
	img := &Image{ID: "img_bad", SourceContent: []Item{{Kind: KindAlternative}}}
	if _, err := Instantiate(img, InstantiateOptions{}); err == nil {
		t.Fatal("empty alternative wrapper must error")
	}
}
