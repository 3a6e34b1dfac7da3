package packet

import "testing"

func TestMarkVisited_JustCompletedFiresOnce(t *testing.T) {
	in := testInstance()

	r1 := MarkVisited(in, "https://example.com/a")
	if !r1.Modified || r1.JustCompleted {
		t.Fatalf("first visit: %+v", r1)
	}
	r2 := MarkVisited(in, "packets/img_test1/b.html")
	if !r2.Modified || r2.JustCompleted {
		t.Fatalf("second visit: %+v", r2)
	}
	r3 := MarkVisited(in, "packets/img_test1/c.mp3")
	if !r3.Modified || !r3.JustCompleted {
		t.Fatalf("third visit must complete: %+v", r3)
	}

	// Fourth call: idempotent, completion already latched.
	r4 := MarkVisited(in, "packets/img_test1/c.mp3")
	if r4.Modified || r4.JustCompleted || !r4.AlreadyVisited {
		t.Fatalf("fourth visit: %+v", r4)
	}
}

func TestMarkVisited_Monotone(t *testing.T) {
	in := testInstance()
	MarkVisited(in, "https://example.com/a")
	before, _ := in.Progress()
	for i := 0; i < 5; i++ {
		MarkVisited(in, "https://example.com/a")
	}
	after, _ := in.Progress()
	if after < before {
		t.Fatalf("completion regressed: %d -> %d", before, after)
	}
	if len(in.VisitedURLs) != 1 {
		t.Fatalf("visited set grew on repeat calls: %v", in.VisitedURLs)
	}
}

func TestMarkVisited_NotTrackable(t *testing.T) {
	in := testInstance()
	r := MarkVisited(in, "https://not-in-packet.test/")
	if !r.NotTrackable || r.Modified {
		t.Fatalf("unknown key: %+v", r)
	}
}

func TestMentionLink_SetSemantics(t *testing.T) {
	in := testInstance()
	if !MentionLink(in, "https://example.com/a") {
		t.Fatal("first mention should grow the set")
	}
	if MentionLink(in, "https://example.com/a") {
		t.Fatal("repeat mention should not grow the set")
	}
	if MentionLink(in, "") {
		t.Fatal("empty url should be ignored")
	}
	if len(in.MentionedMediaLinks) != 1 {
		t.Fatalf("mentioned set = %v", in.MentionedMediaLinks)
	}
}
