package cloud

import (
	"net/url"
	"strings"
	"testing"
	"time"
)

func signerAt(t *testing.T, at time.Time) *LocalSigner {
	t.Helper()
	s := NewLocalSigner("http://127.0.0.1:9050", []byte("test-secret"))
	s.now = func() time.Time { return at }
	return s
}

func TestPresignRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := signerAt(t, now)

	raw, err := s.Presign("packets/img_1/a.html", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(raw, "http://127.0.0.1:9050/content/packets/img_1/a.html?") {
		t.Fatalf("url = %s", raw)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Verify(u); err != nil {
		t.Fatal(err)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := signerAt(t, now)
	raw, _ := s.Presign("packets/img_1/a.html", time.Hour)
	u, _ := url.Parse(raw)

	late := signerAt(t, now.Add(2*time.Hour))
	if err := late.Verify(u); err == nil {
		t.Fatal("expired signature accepted")
	}
}

func TestVerifyRejectsTampering(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	s := signerAt(t, now)
	raw, _ := s.Presign("packets/img_1/a.html", time.Hour)
	u, _ := url.Parse(strings.Replace(raw, "a.html", "b.html", 1))
	if err := s.Verify(u); err == nil {
		t.Fatal("tampered key accepted")
	}

	other := NewLocalSigner("http://127.0.0.1:9050", []byte("other-secret"))
	u2, _ := url.Parse(raw)
	if err := other.Verify(u2); err == nil {
		t.Fatal("foreign secret accepted")
	}
}
