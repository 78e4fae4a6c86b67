package logging

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"INFO", zerolog.InfoLevel},
		{"warning", zerolog.WarnLevel},
		{"ERROR", zerolog.ErrorLevel},
		{"", zerolog.InfoLevel},
		{"nonsense", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			if got := ParseLevel(tt.in); got != tt.want {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.log")
	l := New(Config{Level: "INFO", Output: path, JSONFormat: true})

	logger := l.Component("Test")
	logger.Debug().Msg("hidden")
	logger.Info().Str("symbol", "EURUSD").Msg("visible")
	if err := l.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	out := string(data)
	if strings.Contains(out, "hidden") {
		t.Error("Expected debug line to be filtered")
	}
	if !strings.Contains(out, `"component":"Test"`) || !strings.Contains(out, `"symbol":"EURUSD"`) {
		t.Errorf("Expected structured fields in output, got %s", out)
	}
}

func TestTraceContext(t *testing.T) {
	ctx, _ := WithTraceContext(context.Background(), zerolog.Nop())
	if TraceID(ctx) == "" {
		t.Error("Expected a trace id in context")
	}
	if TraceID(context.Background()) != "" {
		t.Error("Expected empty trace id for a bare context")
	}
}
