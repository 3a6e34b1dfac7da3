package packet

import "testing"

func TestGroupTitle_Bijection(t *testing.T) {
	ids := []string{"inst_abc", "inst_0199-fa7e", "inst_x"}
	for _, id := range ids {
		title := GroupTitle(id)
		if got := InstanceIDFromTitle(title); got != id {
			t.Fatalf("round-trip %q: got %q via title %q", id, got, title)
		}
	}
}

func TestInstanceIDFromTitle_Rejects(t *testing.T) {
	for _, title := range []string{"", "Shopping", "pkt-abc", "PKT-", "Draft"} {
		if got := InstanceIDFromTitle(title); got != "" {
			t.Fatalf("title %q decoded to %q, want empty", title, got)
		}
	}
}

func TestColorForInstance_Stable(t *testing.T) {
	a := ColorForInstance("inst_abc")
	if a != ColorForInstance("inst_abc") {
		t.Fatal("color not stable for same instance")
	}
	found := false
	for _, c := range GroupColors {
		if c == a {
			found = true
		}
	}
	if !found {
		t.Fatalf("color %q not in palette", a)
	}
}
