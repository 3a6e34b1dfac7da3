package store_test

import (
	"testing"
	"time"

	"github.com/hazyhaar/packetd/store"
)

func TestSession_TrustedIntentSingleUse(t *testing.T) {
	s := store.NewSession()
	s.PutTrustedIntent(3, store.Intent{InstanceID: "inst_a", CanonicalPacketURL: "k"})

	intent, ok := s.TakeTrustedIntent(3)
	if !ok || intent.InstanceID != "inst_a" {
		t.Fatalf("take: %+v %v", intent, ok)
	}
	if _, ok := s.TakeTrustedIntent(3); ok {
		t.Fatal("trusted intent must be single-use")
	}
}

func TestSession_GracePeriod(t *testing.T) {
	s := store.NewSession()
	now := time.Now()
	s.PutGracePeriod(5, now)

	at, ok := s.GracePeriod(5)
	if !ok || !at.Equal(now) {
		t.Fatalf("grace: %v %v", at, ok)
	}
	s.DeleteGracePeriod(5)
	if _, ok := s.GracePeriod(5); ok {
		t.Fatal("grace period survived delete")
	}
}

func TestSession_DropTab(t *testing.T) {
	s := store.NewSession()
	s.PutTrustedIntent(9, store.Intent{InstanceID: "inst_a", CanonicalPacketURL: "k"})
	s.PutGracePeriod(9, time.Now())

	s.DropTab(9)
	if _, ok := s.PeekTrustedIntent(9); ok {
		t.Fatal("intent survived DropTab")
	}
	if _, ok := s.GracePeriod(9); ok {
		t.Fatal("grace survived DropTab")
	}
}

func TestSession_Flags(t *testing.T) {
	s := store.NewSession()
	if s.GetBool(store.SessionSidebarOpen) {
		t.Fatal("flag should default false")
	}
	s.Put(store.SessionSidebarOpen, true)
	if !s.GetBool(store.SessionSidebarOpen) {
		t.Fatal("flag not set")
	}
	s.Delete(store.SessionSidebarOpen)
	if s.GetBool(store.SessionSidebarOpen) {
		t.Fatal("flag survived delete")
	}
}
