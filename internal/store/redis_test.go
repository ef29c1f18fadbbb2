package store

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"

	"github.com/rimuz-hub/Tether-Middleman/internal/ticket"
)

func setupTestRedis(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	store, err := NewRedisStore("redis://" + s.Addr())
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	return store, s
}

func TestRedisStoreRoundTrip(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()
	ctx := context.Background()

	want := map[string]ticket.Ticket{}
	for _, tk := range sampleTickets() {
		if err := store.Put(ctx, tk); err != nil {
			t.Fatalf("Put %s failed: %v", tk.ID, err)
		}
		want[tk.ID] = tk
	}

	table, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(table) != len(want) {
		t.Fatalf("expected %d tickets, got %d", len(want), len(table))
	}
	got, ok := table["chan-2"]
	if !ok {
		t.Fatal("chan-2 missing")
	}
	if got.Claimant != "staffX" || got.Status != ticket.StatusClaimed {
		t.Errorf("claim state did not round-trip: %+v", got)
	}
	if len(got.Forms) != 2 || len(got.Confirmations) != 1 {
		t.Errorf("forms/confirmations did not round-trip: %+v", got)
	}
}

func TestRedisStoreRemove(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()
	ctx := context.Background()

	tk := sampleTickets()[0]
	if err := store.Put(ctx, tk); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := store.Remove(ctx, tk.ID); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	table, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(table) != 0 {
		t.Errorf("expected empty table after remove, got %d tickets", len(table))
	}
}

func TestRedisStoreSkipsCorruptRecords(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()
	ctx := context.Background()

	if err := store.Put(ctx, sampleTickets()[0]); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	s.Set(ticketKeyPrefix+"broken", "{not json")

	table, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load must tolerate corrupt records: %v", err)
	}
	if len(table) != 1 {
		t.Errorf("expected the one valid ticket, got %d", len(table))
	}
}

func TestRedisStoreIgnoresForeignKeys(t *testing.T) {
	store, s := setupTestRedis(t)
	defer store.Close()
	defer s.Close()
	ctx := context.Background()

	s.Set("session:abc", "whatever")
	if err := store.Put(ctx, sampleTickets()[0]); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	table, err := store.Load(ctx)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(table) != 1 {
		t.Errorf("expected only prefixed keys to load, got %d tickets", len(table))
	}
}
