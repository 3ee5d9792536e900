package rsvp

import (
	"testing"
	"time"
)

func mkWindow(t *testing.T, start, end string) Window {
	t.Helper()
	s, err := time.Parse(time.RFC3339, start)
	if err != nil {
		t.Fatalf("parsing start %q: %v", start, err)
	}
	e, err := time.Parse(time.RFC3339, end)
	if err != nil {
		t.Fatalf("parsing end %q: %v", end, err)
	}
	return Window{Start: s, End: e}
}

func TestWindowValidate(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name    string
		window  Window
		wantErr bool
	}{
		{"valid", Window{Start: now, End: now.Add(time.Hour)}, false},
		{"zero start", Window{End: now}, true},
		{"zero end", Window{Start: now}, true},
		{"empty", Window{}, true},
		{"start equals end", Window{Start: now, End: now}, true},
		{"start after end", Window{Start: now.Add(time.Hour), End: now}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.window.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestWindowOverlaps(t *testing.T) {
	tests := []struct {
		name string
		a, b Window
		want bool
	}{
		{
			"partial overlap",
			mkWindow(t, "2022-12-25T15:00:00-07:00", "2022-12-28T12:00:00-07:00"),
			mkWindow(t, "2022-12-26T15:00:00-07:00", "2022-12-30T12:00:00-07:00"),
			true,
		},
		{
			"containment",
			mkWindow(t, "2022-12-01T00:00:00Z", "2022-12-31T00:00:00Z"),
			mkWindow(t, "2022-12-10T00:00:00Z", "2022-12-11T00:00:00Z"),
			true,
		},
		{
			"disjoint",
			mkWindow(t, "2022-12-01T00:00:00Z", "2022-12-02T00:00:00Z"),
			mkWindow(t, "2022-12-03T00:00:00Z", "2022-12-04T00:00:00Z"),
			false,
		},
		{
			"touching endpoints do not overlap",
			mkWindow(t, "2022-12-01T00:00:00Z", "2022-12-02T00:00:00Z"),
			mkWindow(t, "2022-12-02T00:00:00Z", "2022-12-03T00:00:00Z"),
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Overlaps(tt.b); got != tt.want {
				t.Errorf("Overlaps(a, b) = %v, want %v", got, tt.want)
			}
			// Overlap is symmetric.
			if got := tt.b.Overlaps(tt.a); got != tt.want {
				t.Errorf("Overlaps(b, a) = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestWindowOverlapsItself(t *testing.T) {
	w := mkWindow(t, "2022-12-01T00:00:00Z", "2022-12-02T00:00:00Z")
	if !w.Overlaps(w) {
		t.Error("a valid window should overlap itself")
	}
}

func TestWindowContains(t *testing.T) {
	w := mkWindow(t, "2022-12-01T00:00:00Z", "2022-12-02T00:00:00Z")

	if !w.Contains(w.Start) {
		t.Error("Contains(start) = false, want true (half-open includes start)")
	}
	if w.Contains(w.End) {
		t.Error("Contains(end) = true, want false (half-open excludes end)")
	}
	if !w.Contains(w.Start.Add(time.Hour)) {
		t.Error("Contains(interior point) = false, want true")
	}
	if w.Contains(w.Start.Add(-time.Second)) {
		t.Error("Contains(point before start) = true, want false")
	}
}
