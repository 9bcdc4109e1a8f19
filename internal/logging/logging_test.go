package logging

import (
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tests := []struct {
		env   string
		level string
		want  zapcore.Level
	}{
		{env: "production", want: zapcore.InfoLevel},
		{env: "prod", level: "warn", want: zapcore.WarnLevel},
		{env: "development", want: zapcore.DebugLevel},
		{env: "", level: "error", want: zapcore.ErrorLevel},
	}

	for _, tt := range tests {
		l, err := New(tt.env, tt.level)
		if err != nil {
			t.Fatalf("New(%q, %q): %v", tt.env, tt.level, err)
		}
		if !l.Core().Enabled(tt.want) {
			t.Errorf("New(%q, %q): level %v not enabled", tt.env, tt.level, tt.want)
		}
		if tt.want > zapcore.DebugLevel && l.Core().Enabled(tt.want-1) {
			t.Errorf("New(%q, %q): level %v unexpectedly enabled", tt.env, tt.level, tt.want-1)
		}
	}
}

func TestNew_InvalidLevel(t *testing.T) {
	if _, err := New("production", "loud"); err == nil {
		t.Error("expected error for invalid level")
	}
}

func TestOrNop(t *testing.T) {
	if OrNop(nil) == nil {
		t.Fatal("OrNop(nil) returned nil")
	}
	l := zap.NewExample()
	if OrNop(l) != l {
		t.Error("OrNop should return the given logger")
	}
}
