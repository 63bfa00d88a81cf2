package slot

import (
	"io"
	"log/slog"
	"sync"
	"testing"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	return NewRegistry(slog.New(slog.NewJSONHandler(io.Discard, nil)))
}

func TestAcquireEmptyCategory(t *testing.T) {
	r := newTestRegistry(t)

	prev, evicted := r.Acquire("image_generation", "sd-xl")
	if evicted {
		t.Errorf("Acquire on empty category reported eviction of %q", prev)
	}

	current, ok := r.Current("image_generation")
	if !ok || current != "sd-xl" {
		t.Errorf("Current = %q, %v; want sd-xl, true", current, ok)
	}
}

func TestAcquireReplacesAndReportsPrevious(t *testing.T) {
	r := newTestRegistry(t)

	r.Acquire("speech_recognition", "whisper-small")
	prev, evicted := r.Acquire("speech_recognition", "whisper-large")

	if !evicted || prev != "whisper-small" {
		t.Errorf("Acquire = (%q, %v), want (whisper-small, true)", prev, evicted)
	}
	current, _ := r.Current("speech_recognition")
	if current != "whisper-large" {
		t.Errorf("Current = %q, want whisper-large", current)
	}
}

func TestAcquireSameIDIsIdempotent(t *testing.T) {
	r := newTestRegistry(t)

	r.Acquire("embedding", "bge-m3")
	first := r.List()[0]

	prev, evicted := r.Acquire("embedding", "bge-m3")
	if evicted {
		t.Errorf("re-acquire reported eviction of %q", prev)
	}

	second := r.List()[0]
	if !second.LoadedAt.Equal(first.LoadedAt) {
		t.Error("re-acquire changed loaded_at, want it untouched")
	}
	if second.LastUsedAt.Before(first.LastUsedAt) {
		t.Error("re-acquire did not refresh last_used_at")
	}
}

func TestCategoriesAreIndependent(t *testing.T) {
	r := newTestRegistry(t)

	r.Acquire("image_generation", "sd-xl")
	prev, evicted := r.Acquire("speech_recognition", "whisper-large")

	if evicted {
		t.Errorf("acquire in a different category evicted %q", prev)
	}
	if current, _ := r.Current("image_generation"); current != "sd-xl" {
		t.Errorf("image_generation slot = %q, want sd-xl", current)
	}
}

func TestRelease(t *testing.T) {
	r := newTestRegistry(t)

	if r.Release("empty") {
		t.Error("Release on empty category = true, want false")
	}

	r.Acquire("embedding", "bge-m3")
	if !r.Release("embedding") {
		t.Error("Release on occupied category = false, want true")
	}
	if _, ok := r.Current("embedding"); ok {
		t.Error("slot still occupied after Release")
	}
}

func TestTouch(t *testing.T) {
	r := newTestRegistry(t)

	if r.Touch("empty") {
		t.Error("Touch on empty category = true, want false")
	}

	r.Acquire("embedding", "bge-m3")
	before := r.List()[0].LastUsedAt
	if !r.Touch("embedding") {
		t.Error("Touch on occupied category = false, want true")
	}
	after := r.List()[0].LastUsedAt
	if after.Before(before) {
		t.Error("Touch did not refresh last_used_at")
	}
	if current, _ := r.Current("embedding"); current != "bge-m3" {
		t.Errorf("Touch changed occupancy to %q", current)
	}
}

func TestReleaseResourceAcrossCategories(t *testing.T) {
	r := newTestRegistry(t)

	r.Acquire("embedding", "multi-tool")
	r.Acquire("reranking", "multi-tool")
	r.Acquire("image_generation", "sd-xl")

	released := r.ReleaseResource("multi-tool")
	if len(released) != 2 {
		t.Fatalf("ReleaseResource released %v, want 2 categories", released)
	}
	if released[0] != "embedding" || released[1] != "reranking" {
		t.Errorf("released = %v, want [embedding reranking]", released)
	}
	if current, _ := r.Current("image_generation"); current != "sd-xl" {
		t.Error("unrelated slot was released")
	}
}

// TestConcurrentAcquireExactlyOneEviction drives two racing acquires and
// checks that the winner is coherent: the final occupant is one of the two
// ids, and the other id was observed as evicted by exactly one caller (or
// by nobody, when the losing acquire committed first into an empty slot).
func TestConcurrentAcquireExactlyOneEviction(t *testing.T) {
	for round := 0; round < 50; round++ {
		r := newTestRegistry(t)

		type outcome struct {
			prev    string
			evicted bool
		}
		results := make([]outcome, 2)
		ids := []string{"model-x", "model-y"}

		var wg sync.WaitGroup
		for i, id := range ids {
			i, id := i, id
			wg.Add(1)
			go func() {
				defer wg.Done()
				prev, evicted := r.Acquire("category", id)
				results[i] = outcome{prev, evicted}
			}()
		}
		wg.Wait()

		current, ok := r.Current("category")
		if !ok || (current != "model-x" && current != "model-y") {
			t.Fatalf("round %d: Current = %q, %v", round, current, ok)
		}

		evictions := 0
		for _, res := range results {
			if res.evicted {
				evictions++
				if res.prev == current {
					t.Fatalf("round %d: the final occupant %q was reported evicted", round, current)
				}
			}
		}
		if evictions > 1 {
			t.Fatalf("round %d: %d evictions observed, want at most 1", round, evictions)
		}
	}
}
