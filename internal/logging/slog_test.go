package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
)

func newBufLogger() (*SlogLogger, *bytes.Buffer) {
	var buf bytes.Buffer
	return NewSlogLogger(slog.New(slog.NewJSONHandler(&buf, nil))), &buf
}

func TestSlogLogger_InfoWritesJSON(t *testing.T) {
	l, buf := newBufLogger()
	l.Info(context.Background(), "hello", "k", "v")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if rec["msg"] != "hello" {
		t.Fatalf("expected msg %q, got %v", "hello", rec["msg"])
	}
	if rec["k"] != "v" {
		t.Fatalf("expected attr k=v, got %v", rec["k"])
	}
}

func TestNewJSON_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	l := NewJSON(&buf, slog.LevelWarn)

	l.Info(context.Background(), "quiet")
	if buf.Len() != 0 {
		t.Fatalf("info record leaked below warn level: %s", buf.String())
	}

	l.Warn(context.Background(), "loud")
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if rec["msg"] != "loud" {
		t.Fatalf("expected msg %q, got %v", "loud", rec["msg"])
	}
}

func TestSlogLogger_WithAddsAttrs(t *testing.T) {
	l, buf := newBufLogger()
	child := l.With("module", "relay")
	child.Error(context.Background(), "boom")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
	if rec["module"] != "relay" {
		t.Fatalf("expected module=relay, got %v", rec["module"])
	}
	if rec["level"] != "ERROR" {
		t.Fatalf("expected level ERROR, got %v", rec["level"])
	}
}
