package audit

import (
	"context"
	"errors"
	"testing"
	"time"
)

func seedEntry(id, chainID string, at time.Time, hash *string) *AuditEntry {
	return &AuditEntry{
		ID:           id,
		ChainID:      chainID,
		CreatedAt:    at,
		Action:       "record.view",
		ResourceType: "record",
		Hash:         hash,
	}
}

func TestInMemoryListAfter_Pagination(t *testing.T) {
	repo := NewInMemoryEntryRepository()
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	h := "aa"
	for i := 0; i < 5; i++ {
		e := seedEntry(string(rune('a'+i)), "user:alice", base.Add(time.Duration(i)*time.Second), &h)
		if err := repo.Insert(ctx, e); err != nil {
			t.Fatalf("Insert() failed: %v", err)
		}
	}

	// First page.
	page, err := repo.ListAfter(ctx, "user:alice", Position{}, 2)
	if err != nil {
		t.Fatalf("ListAfter() failed: %v", err)
	}
	if len(page) != 2 || page[0].ID != "a" || page[1].ID != "b" {
		t.Fatalf("first page = %v", ids(page))
	}

	// Next page resumes strictly after the last seen entry.
	page, err = repo.ListAfter(ctx, "user:alice", EntryPosition(page[1]), 10)
	if err != nil {
		t.Fatalf("ListAfter() failed: %v", err)
	}
	if len(page) != 3 || page[0].ID != "c" {
		t.Fatalf("second page = %v", ids(page))
	}
}

func TestInMemoryListAfter_TimestampTieBreak(t *testing.T) {
	repo := NewInMemoryEntryRepository()
	ctx := context.Background()
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	// Same timestamp, IDs decide the order.
	for _, id := range []string{"b", "a", "c"} {
		if err := repo.Insert(ctx, seedEntry(id, "user:alice", at, nil)); err != nil {
			t.Fatalf("Insert() failed: %v", err)
		}
	}

	entries, err := repo.ListAfter(ctx, "user:alice", Position{}, 0)
	if err != nil {
		t.Fatalf("ListAfter() failed: %v", err)
	}
	got := ids(entries)
	want := []string{"a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order = %v, want %v", got, want)
		}
	}
}

func TestInMemoryChainIDs_Sorted(t *testing.T) {
	repo := NewInMemoryEntryRepository()
	ctx := context.Background()
	at := time.Now().UTC()

	for _, chain := range []string{"user:carol", "user:alice", "user:bob"} {
		if err := repo.Insert(ctx, seedEntry("e-"+chain, chain, at, nil)); err != nil {
			t.Fatalf("Insert() failed: %v", err)
		}
	}

	chains, err := repo.ChainIDs(ctx)
	if err != nil {
		t.Fatalf("ChainIDs() failed: %v", err)
	}
	want := []string{"user:alice", "user:bob", "user:carol"}
	if len(chains) != len(want) {
		t.Fatalf("chains = %v", chains)
	}
	for i := range want {
		if chains[i] != want[i] {
			t.Fatalf("chains = %v, want %v", chains, want)
		}
	}
}

func TestInMemoryAppend_SkipsGrandfatheredForPrev(t *testing.T) {
	repo := NewInMemoryEntryRepository()
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	hashed := "f0f0"
	if err := repo.Insert(ctx, seedEntry("a", "user:alice", base, &hashed)); err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}
	// Grandfathered entry after the hashed one.
	if err := repo.Insert(ctx, seedEntry("b", "user:alice", base.Add(time.Second), nil)); err != nil {
		t.Fatalf("Insert() failed: %v", err)
	}

	var seenPrev string
	_, err := repo.AppendEntry(ctx, seedEntry("c", "user:alice", base.Add(2*time.Second), nil),
		func(prev string) (string, int, error) {
			seenPrev = prev
			return "cafe", 1, nil
		})
	if err != nil {
		t.Fatalf("AppendEntry() failed: %v", err)
	}
	if seenPrev != hashed {
		t.Errorf("compute saw prev %q, want last non-grandfathered hash %q", seenPrev, hashed)
	}
}

func TestInMemoryAppend_ChainLockedWhenContextExpires(t *testing.T) {
	repo := NewInMemoryEntryRepository()
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

	// First append holds the chain lock until released.
	holding := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := repo.AppendEntry(ctx, seedEntry("a", "user:alice", base, nil),
			func(prev string) (string, int, error) {
				close(holding)
				<-release
				return "aa", 1, nil
			})
		done <- err
	}()
	<-holding

	// Second append on the same chain cannot acquire the lock before its
	// context is done.
	short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	_, err := repo.AppendEntry(short, seedEntry("b", "user:alice", base.Add(time.Second), nil),
		func(prev string) (string, int, error) {
			return "bb", 1, nil
		})
	if !errors.Is(err, ErrChainLocked) {
		t.Fatalf("AppendEntry() error = %v, want ErrChainLocked", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("holding AppendEntry() failed: %v", err)
	}

	// An unrelated chain does not contend on the released lock.
	if _, err := repo.AppendEntry(ctx, seedEntry("c", "user:bob", base, nil),
		func(prev string) (string, int, error) {
			return "cc", 1, nil
		}); err != nil {
		t.Fatalf("AppendEntry() on other chain failed: %v", err)
	}
}

func ids(entries []*AuditEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID
	}
	return out
}
