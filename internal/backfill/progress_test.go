package backfill

import (
	"testing"
	"time"

	"github.com/user/analytics-ingest/internal/store"
)

func TestToProgress_WeightedPercent(t *testing.T) {
	cases := []struct {
		name string
		task store.Task
		want int
	}{
		{
			name: "nothing processed",
			task: store.Task{TotalSessions: 100, TotalEvents: 100},
			want: 0,
		},
		{
			name: "all processed",
			task: store.Task{TotalSessions: 100, ProcessedSessions: 100, TotalEvents: 50, ProcessedEvents: 50},
			want: 100,
		},
		{
			name: "sessions weigh 70 percent",
			task: store.Task{TotalSessions: 100, ProcessedSessions: 100, TotalEvents: 100},
			want: 70,
		},
		{
			name: "events weigh 30 percent",
			task: store.Task{TotalSessions: 100, TotalEvents: 100, ProcessedEvents: 100},
			want: 30,
		},
		{
			name: "zero totals never divide",
			task: store.Task{},
			want: 0,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := toProgress(tc.task).ProgressPercent; got != tc.want {
				t.Errorf("progress_percent: got %d, want %d", got, tc.want)
			}
		})
	}
}

func TestToProgress_EstimatedRemaining(t *testing.T) {
	started := time.Now().Add(-10 * time.Second)
	task := store.Task{
		TotalSessions:     100,
		ProcessedSessions: 50,
		StartedAt:         &started,
	}

	p := toProgress(task)
	if p.EstimatedRemainingSecs == nil {
		t.Fatal("expected an estimate once sessions have been processed")
	}
	// 50 sessions over ~10s leaves ~50 more at ~5/s, so ~10s remaining.
	if *p.EstimatedRemainingSecs < 8 || *p.EstimatedRemainingSecs > 12 {
		t.Errorf("estimate out of range: %d", *p.EstimatedRemainingSecs)
	}

	if got := toProgress(store.Task{TotalSessions: 100}).EstimatedRemainingSecs; got != nil {
		t.Errorf("no estimate expected before the first processed session, got %d", *got)
	}
}

func TestDateChunks(t *testing.T) {
	now := time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)

	day := func(d int) time.Time { return time.Date(2024, 3, d, 0, 0, 0, 0, time.UTC) }

	got := dateChunks(now, 10, 2)
	want := []time.Time{day(6), day(8), day(10), day(12), day(14), day(15)}
	if len(got) != len(want) {
		t.Fatalf("chunk count: got %d (%v), want %d", len(got), got, len(want))
	}
	for i := range want {
		if !got[i].Equal(want[i]) {
			t.Errorf("chunk %d: got %s, want %s", i, got[i].Format("2006-01-02"), want[i].Format("2006-01-02"))
		}
	}

	// An even division ends exactly on today with no clamped extra chunk.
	got = dateChunks(now, 4, 1)
	if len(got) != 4 || !got[len(got)-1].Equal(day(15)) {
		t.Errorf("lookback 4 step 1: got %v", got)
	}

	// A single-day lookback still visits today.
	got = dateChunks(now, 1, 7)
	if len(got) != 1 || !got[0].Equal(day(15)) {
		t.Errorf("lookback 1: got %v", got)
	}
}
