package transport

import (
	"context"
	"errors"
	"testing"
)

func TestClientUnavailableBeforeRefresh(t *testing.T) {
	m := New(func() (string, error) { return "127.0.0.1:0", nil })
	if _, ok := m.Client(); ok {
		t.Fatal("Client should be unavailable before the first Refresh")
	}
	if m.Version() != 0 {
		t.Fatalf("Version() = %d, want 0 before any Refresh", m.Version())
	}
}

func TestRefreshPropagatesResolverError(t *testing.T) {
	wantErr := errors.New("no servers configured")
	m := New(func() (string, error) { return "", wantErr })

	err := m.Refresh(context.Background())
	if err == nil {
		t.Fatal("expected Refresh to fail when the resolver fails")
	}
	if m.Version() != 0 {
		t.Fatalf("Version() = %d, want 0 after a failed Refresh", m.Version())
	}
}

func TestRefreshAdvancesVersionOnSuccessfulDial(t *testing.T) {
	m := New(func() (string, error) { return "127.0.0.1:0", nil })
	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if m.Version() != 1 {
		t.Fatalf("Version() = %d, want 1 after the first Refresh", m.Version())
	}
	if _, ok := m.Client(); !ok {
		t.Fatal("Client should be available after a successful Refresh")
	}
	defer m.Close()
}

func TestAdvanceVersionLeavesConnectionIntact(t *testing.T) {
	m := New(func() (string, error) { return "127.0.0.1:0", nil })
	if err := m.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	defer m.Close()

	beforeConn := m.conn
	m.AdvanceVersion()

	if m.Version() != 2 {
		t.Fatalf("Version() = %d, want 2 after Refresh + AdvanceVersion", m.Version())
	}
	if _, ok := m.Client(); !ok {
		t.Fatal("Client should remain available after AdvanceVersion")
	}
	if m.conn != beforeConn {
		t.Fatal("AdvanceVersion must not redial or replace the existing connection")
	}
}
