package logging

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5/middleware"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"", slog.LevelInfo},
		{"nonsense", slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNew_JSONFormat(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "info", "json").Info("import accepted", "job_id", "j1")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("output is not JSON: %v (%q)", err, buf.String())
	}
	if entry["job_id"] != "j1" {
		t.Errorf("job_id = %v, want j1", entry["job_id"])
	}
}

func TestNew_LevelFilters(t *testing.T) {
	var buf bytes.Buffer
	New(&buf, "warn", "text").Info("hidden")
	if buf.Len() != 0 {
		t.Errorf("info entry written at warn level: %q", buf.String())
	}
}

func TestFromContext_RequestID(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(New(&buf, "info", "text"))
	defer slog.SetDefault(prev)

	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-42")
	WithFields(ctx, "job_id", "j9").Info("hello")

	out := buf.String()
	if !strings.Contains(out, "request_id=req-42") || !strings.Contains(out, "job_id=j9") {
		t.Errorf("log line missing fields: %q", out)
	}
}

func TestLogstashWriter_ForwardsLines(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	got := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		line, _ := bufio.NewReader(conn).ReadString('\n')
		got <- line
	}()

	w, err := NewLogstashWriter(ln.Addr().String(), WithTimeouts(time.Second, time.Second))
	if err != nil {
		t.Fatalf("NewLogstashWriter: %v", err)
	}
	defer w.Close()

	if n, err := w.Write([]byte(`{"msg":"hi"}`)); err != nil || n != 12 {
		t.Fatalf("Write() = %d, %v", n, err)
	}

	select {
	case line := <-got:
		if line != "{\"msg\":\"hi\"}\n" {
			t.Errorf("received %q", line)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("logstash listener received nothing")
	}
}

func TestLogstashWriter_DropsWhileUnreachable(t *testing.T) {
	w, err := NewLogstashWriter("unreachable:5000", WithCooldown(time.Hour))
	if err != nil {
		t.Fatalf("NewLogstashWriter: %v", err)
	}
	dials := 0
	w.dial = func(string, string, time.Duration) (net.Conn, error) {
		dials++
		return nil, errors.New("connection refused")
	}

	for i := 0; i < 3; i++ {
		if n, err := w.Write([]byte("line")); err != nil || n != 4 {
			t.Fatalf("Write() = %d, %v, want 4, nil", n, err)
		}
	}
	if dials != 1 {
		t.Errorf("dials = %d, want 1 during cooldown", dials)
	}
	if w.Dropped() != 3 {
		t.Errorf("Dropped() = %d, want 3", w.Dropped())
	}

	_ = w.Close()
	if _, err := w.Write([]byte("late")); !errors.Is(err, io.ErrClosedPipe) {
		t.Errorf("Write after Close error = %v, want io.ErrClosedPipe", err)
	}
}

func TestNewLogstashWriter_EmptyAddr(t *testing.T) {
	if _, err := NewLogstashWriter("  "); err == nil {
		t.Error("expected error for empty address")
	}
}
