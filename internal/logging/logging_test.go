package logging

import (
	"context"
	"log/slog"
	"testing"
)

func TestNew_Levels(t *testing.T) {
	tests := []struct {
		level         string
		debugEnabled  bool
		infoEnabled   bool
	}{
		{"debug", true, true},
		{"info", false, true},
		{"warn", false, false},
		{"error", false, false},
		{"", false, true},        // default is info
		{"verbose", false, true}, // unknown falls back to info
	}

	ctx := context.Background()
	for _, tc := range tests {
		t.Run("level_"+tc.level, func(t *testing.T) {
			logger := New(tc.level, "text")
			if logger == nil {
				t.Fatal("Expected non-nil logger")
			}
			if got := logger.Enabled(ctx, slog.LevelDebug); got != tc.debugEnabled {
				t.Errorf("debug enabled = %v, want %v", got, tc.debugEnabled)
			}
			if got := logger.Enabled(ctx, slog.LevelInfo); got != tc.infoEnabled {
				t.Errorf("info enabled = %v, want %v", got, tc.infoEnabled)
			}
		})
	}
}

func TestNew_JSONFormat(t *testing.T) {
	if logger := New("info", "json"); logger == nil {
		t.Fatal("Expected non-nil logger for JSON format")
	}
}

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := context.Background()

	if id := RequestID(ctx); id != "" {
		t.Errorf("Expected empty request ID on fresh context, got %q", id)
	}

	ctx = WithRequestID(ctx, "a1b2c3d4")
	if id := RequestID(ctx); id != "a1b2c3d4" {
		t.Errorf("Expected a1b2c3d4, got %q", id)
	}

	// Later middleware wins.
	ctx = WithRequestID(ctx, "e5f6a7b8")
	if id := RequestID(ctx); id != "e5f6a7b8" {
		t.Errorf("Expected e5f6a7b8, got %q", id)
	}
}

func TestLoggerFromContext(t *testing.T) {
	ctx := context.Background()

	if FromContext(ctx) == nil {
		t.Fatal("Expected default logger when none set")
	}

	custom := New("debug", "json")
	ctx = WithLogger(ctx, custom)
	if FromContext(ctx) != custom {
		t.Error("Expected custom logger from context")
	}
}

func TestL(t *testing.T) {
	ctx := WithLogger(context.Background(), New("info", "text"))
	if L(ctx) == nil {
		t.Fatal("Expected non-nil logger from L()")
	}

	ctx = WithRequestID(ctx, "a1b2c3d4")
	if L(ctx) == nil {
		t.Fatal("Expected non-nil request-scoped logger from L()")
	}
}
