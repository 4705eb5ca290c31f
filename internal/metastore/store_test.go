package metastore

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	if rec, _ := store.Get(ctx, 99); rec != nil {
		t.Fatalf("expected nil for unknown id, got %+v", rec)
	}

	record := Record{
		ConditionID: 3,
		Metadata:    json.RawMessage(`{"description":"milestone 1"}`),
		CreatedAt:   time.Now().UTC(),
	}
	if err := store.Save(ctx, record); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, _ := store.Get(ctx, 3)
	if got == nil || string(got.Metadata) != `{"description":"milestone 1"}` {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestMemoryStoreOverwrite(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_ = store.Save(ctx, Record{ConditionID: 1, Metadata: json.RawMessage(`{"v":1}`)})
	_ = store.Save(ctx, Record{ConditionID: 1, Metadata: json.RawMessage(`{"v":2}`)})

	got, _ := store.Get(ctx, 1)
	if got == nil || string(got.Metadata) != `{"v":2}` {
		t.Fatalf("expected last write to win, got %+v", got)
	}
}
