package logger

import (
	"bytes"
	"context"
	"log/slog"
	"reflect"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func callerPC() uintptr {
	pc, _, _, _ := runtime.Caller(1)
	return pc
}

func TestFilteringHandler_PassesOwnPackageAtInfoLevel(t *testing.T) {
	var buf bytes.Buffer
	base := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})
	h := &filteringHandler{handler: base, minLevel: slog.LevelInfo}

	pc := callerPC()
	rec := slog.NewRecord(time.Now(), slog.LevelInfo, "in-package line", pc)
	if err := h.Handle(context.Background(), rec); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatal("expected an in-package log line to be written at info level")
	}
}

func TestFilteringHandler_DropsForeignPackageAtInfoLevel(t *testing.T) {
	var buf bytes.Buffer
	base := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelInfo})
	h := &filteringHandler{handler: base, minLevel: slog.LevelInfo}

	pc := reflect.ValueOf(strings.ToUpper).Pointer()
	rec := slog.NewRecord(time.Now(), slog.LevelInfo, "stdlib line", pc)
	if err := h.Handle(context.Background(), rec); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("expected a non-gateway package log line to be dropped at info level, got %q", buf.String())
	}
}

func TestFilteringHandler_PassesEverythingAtDebugLevel(t *testing.T) {
	var buf bytes.Buffer
	base := slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	h := &filteringHandler{handler: base, minLevel: slog.LevelDebug}

	pc := reflect.ValueOf(strings.ToUpper).Pointer()
	rec := slog.NewRecord(time.Now(), slog.LevelInfo, "stdlib line", pc)
	if err := h.Handle(context.Background(), rec); err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if buf.Len() == 0 {
		t.Fatal("expected every log line to pass through once the configured level is debug")
	}
}
