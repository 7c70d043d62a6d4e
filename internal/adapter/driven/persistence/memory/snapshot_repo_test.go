package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/Wyydra/meshcall/internal/core/domain"
)

func TestSnapshotRepository(t *testing.T) {
	ctx := context.Background()
	r := NewSnapshotRepository()

	if _, err := r.Get(ctx, "k"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	value := []byte("one")
	if err := r.Put(ctx, "k", value); err != nil {
		t.Fatalf("Put: %v", err)
	}
	value[0] = 'X'

	got, err := r.Get(ctx, "k")
	if err != nil || string(got) != "one" {
		t.Fatalf("Get: %q, %v", got, err)
	}

	if err := r.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := r.Delete(ctx, "k"); err != nil {
		t.Fatalf("Delete of missing key: %v", err)
	}
	if _, err := r.Get(ctx, "k"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}
