package runs

import (
	"context"
	"fmt"
	"testing"
	"time"
)

func TestInMemoryRepository_ListRecentNewestFirst(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		err := repo.Record(ctx, &Run{
			ID:     fmt.Sprintf("run-%d", i),
			RunAt:  base.Add(time.Duration(i) * time.Hour),
			Mode:   ModeFull,
			Scope:  ScopeAll,
			Status: StatusOK,
			Intact: true,
		})
		if err != nil {
			t.Fatalf("Record() failed: %v", err)
		}
	}

	got, err := repo.ListRecent(ctx, 3)
	if err != nil {
		t.Fatalf("ListRecent() failed: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, want := range []string{"run-4", "run-3", "run-2"} {
		if got[i].ID != want {
			t.Errorf("got[%d].ID = %s, want %s", i, got[i].ID, want)
		}
	}
}

func TestInMemoryRepository_ListRecentNoLimit(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		if err := repo.Record(ctx, &Run{ID: fmt.Sprintf("run-%d", i)}); err != nil {
			t.Fatalf("Record() failed: %v", err)
		}
	}

	got, err := repo.ListRecent(ctx, 0)
	if err != nil {
		t.Fatalf("ListRecent() failed: %v", err)
	}
	if len(got) != 4 {
		t.Errorf("len = %d, want all 4", len(got))
	}
}

func TestInMemoryRepository_StoresCopies(t *testing.T) {
	repo := NewInMemoryRepository()
	ctx := context.Background()

	run := &Run{ID: "run-1", Status: StatusOK}
	if err := repo.Record(ctx, run); err != nil {
		t.Fatalf("Record() failed: %v", err)
	}
	run.Status = StatusBroken

	got, err := repo.ListRecent(ctx, 1)
	if err != nil {
		t.Fatalf("ListRecent() failed: %v", err)
	}
	if got[0].Status != StatusOK {
		t.Error("Record() retained the caller's pointer")
	}
}
