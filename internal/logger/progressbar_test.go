package logger

import (
	"strings"
	"testing"
)

// TestNewProgressBar verifies construction defaults
func TestNewProgressBar(t *testing.T) {
	pb := NewProgressBar(10, 20, false)

	if pb.Current() != 0 {
		t.Errorf("Current() = %d, want 0", pb.Current())
	}
	if pb.Total() != 10 {
		t.Errorf("Total() = %d, want 10", pb.Total())
	}
}

// TestNewProgressBarInvalidWidth verifies width defaults when invalid
func TestNewProgressBarInvalidWidth(t *testing.T) {
	pb := NewProgressBar(10, 0, false)
	pb.Update(5)

	// Width should fall back to 10 characters inside brackets
	rendered := pb.Render()
	start := strings.Index(rendered, "[")
	end := strings.Index(rendered, "]")
	if start == -1 || end == -1 || end-start-1 != 10 {
		t.Errorf("expected 10-character bar, got %q", rendered)
	}
}

// TestProgressBarUpdate verifies Update and Increment
func TestProgressBarUpdate(t *testing.T) {
	pb := NewProgressBar(8, 10, false)

	pb.Update(3)
	if pb.Current() != 3 {
		t.Errorf("Current() = %d, want 3", pb.Current())
	}

	pb.Increment()
	if pb.Current() != 4 {
		t.Errorf("Current() = %d after Increment, want 4", pb.Current())
	}
}

// TestProgressBarAdd verifies chunked progress for byte counts
func TestProgressBarAdd(t *testing.T) {
	pb := NewProgressBar(1024, 10, false)

	pb.Add(256)
	pb.Add(256)

	if pb.Current() != 512 {
		t.Errorf("Current() = %d, want 512", pb.Current())
	}
	if pb.Percentage() != 50 {
		t.Errorf("Percentage() = %d, want 50", pb.Percentage())
	}
}

// TestProgressBarPercentage verifies percentage clamping
func TestProgressBarPercentage(t *testing.T) {
	tests := []struct {
		name    string
		current int
		total   int
		want    int
	}{
		{name: "zero total", current: 5, total: 0, want: 0},
		{name: "zero progress", current: 0, total: 10, want: 0},
		{name: "half", current: 5, total: 10, want: 50},
		{name: "complete", current: 10, total: 10, want: 100},
		{name: "overflow clamps to 100", current: 15, total: 10, want: 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pb := NewProgressBar(tt.total, 10, false)
			pb.Update(tt.current)
			if got := pb.Percentage(); got != tt.want {
				t.Errorf("Percentage() = %d, want %d", got, tt.want)
			}
		})
	}
}

// TestProgressBarRender verifies the rendered format
func TestProgressBarRender(t *testing.T) {
	pb := NewProgressBar(8, 10, false)
	pb.Update(4)

	rendered := pb.Render()

	if !strings.Contains(rendered, "4/8") {
		t.Errorf("expected counter in output: %q", rendered)
	}
	if !strings.Contains(rendered, "(50%)") {
		t.Errorf("expected percentage in output: %q", rendered)
	}
	if !strings.HasPrefix(rendered, "[") {
		t.Errorf("expected bar to start with bracket: %q", rendered)
	}
}

// TestProgressBarRenderWithPrefix verifies custom prefixes
func TestProgressBarRenderWithPrefix(t *testing.T) {
	pb := NewProgressBar(2, 10, false)
	pb.SetPrefix("python-3.12.tar.gz ")
	pb.Update(1)

	rendered := pb.Render()
	if !strings.HasPrefix(rendered, "python-3.12.tar.gz ") {
		t.Errorf("expected prefix in output: %q", rendered)
	}
}

// TestProgressBarRenderColor verifies ANSI colors are applied when enabled
func TestProgressBarRenderColor(t *testing.T) {
	pb := NewProgressBar(2, 10, true)

	pb.Update(1)
	if !strings.Contains(pb.Render(), "\033[36m") {
		t.Error("expected cyan color for in-progress bar")
	}

	pb.Update(2)
	if !strings.Contains(pb.Render(), "\033[32m") {
		t.Error("expected green color for complete bar")
	}
}

// TestProgressBarNoColor verifies plain output when color is disabled
func TestProgressBarNoColor(t *testing.T) {
	pb := NewProgressBar(2, 10, false)
	pb.Update(1)

	if strings.Contains(pb.Render(), "\033[") {
		t.Error("expected no ANSI codes when color is disabled")
	}
}
