package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/aicenghub/juleha-gateway/internal/store"
	"github.com/aicenghub/juleha-gateway/pkg/models"
)

func TestRun_EnqueuesStaleOnly(t *testing.T) {
	st := store.NewMemory()
	now := time.Unix(2_000_000, 0).UTC()
	st.SetClock(func() time.Time { return now })

	old := now.Add(-200 * time.Hour)
	fresh := now.Add(-time.Hour)
	st.SeedMainLink(models.MainLink{CanonicalURL: "https://stale.example", Name: "stale", LastCheckedAt: &old})
	st.SeedMainLink(models.MainLink{CanonicalURL: "https://fresh.example", Name: "fresh", LastCheckedAt: &fresh})
	st.SeedMainLink(models.MainLink{CanonicalURL: "https://never.example", Name: "never"})

	s := New(st, 48, 200)
	n, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if n != 2 {
		t.Fatalf("enqueued %d, want 2", n)
	}

	for _, j := range st.Jobs() {
		if j.Reason != "scheduled-refresh" {
			t.Errorf("job reason = %q", j.Reason)
		}
		if j.CanonicalURL == "https://fresh.example" {
			t.Error("fresh link was enqueued")
		}
	}
}

func TestRun_BatchSizeBound(t *testing.T) {
	st := store.NewMemory()
	for i := 0; i < 10; i++ {
		st.SeedMainLink(models.MainLink{
			CanonicalURL: "https://t.example/" + string(rune('a'+i)),
			Name:         string(rune('a' + i)),
		})
	}
	s := New(st, 48, 3)
	n, err := s.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if n != 3 {
		t.Errorf("enqueued %d, want batch bound of 3", n)
	}
}

func TestRun_RandomStaleWindowStaysInRange(t *testing.T) {
	st := store.NewMemory()
	s := New(st, 0, 10)
	// With no links there is nothing to enqueue; the run must still succeed
	// for any randomly chosen window.
	for i := 0; i < 20; i++ {
		if _, err := s.Run(context.Background()); err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	}
}
