package mailsync

import (
	"testing"
	"time"

	"github.com/masa23/mailsync/model"
)

func TestCutoffFor(t *testing.T) {
	jst := time.FixedZone("JST", 9*60*60)

	tests := []struct {
		name     string
		received time.Time
		want     time.Time
	}{
		{
			name:     "afternoon",
			received: time.Date(2025, 10, 10, 15, 45, 0, 0, time.UTC),
			want:     time.Date(2025, 10, 10, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "midnight stays on the same day",
			received: time.Date(2025, 10, 10, 0, 0, 0, 0, time.UTC),
			want:     time.Date(2025, 10, 10, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "last second of the day",
			received: time.Date(2025, 12, 31, 23, 59, 59, 0, time.UTC),
			want:     time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "location is kept",
			received: time.Date(2025, 10, 11, 1, 0, 0, 0, jst),
			want:     time.Date(2025, 10, 11, 0, 0, 0, 0, jst),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := CutoffFor(&model.Message{ReceivedAt: tt.received})
			if !ok {
				t.Fatalf("CutoffFor(%v) ok = false", tt.received)
			}
			if !got.Equal(tt.want) {
				t.Errorf("CutoffFor(%v) = %v; want %v", tt.received, got, tt.want)
			}
		})
	}
}

func TestCutoffForNoMessages(t *testing.T) {
	if got, ok := CutoffFor(nil); ok || !got.IsZero() {
		t.Errorf("CutoffFor(nil) = %v, %v; want zero time, false", got, ok)
	}
}
