package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"
)

func TestNew_FiltersByLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger := New(slog.LevelWarn, &buf)

	logger.Info("dropped")
	logger.Warn("kept", "user_id", "u1")

	var rec map[string]any
	err := json.Unmarshal(buf.Bytes(), &rec)
	if err != nil {
		t.Fatalf("want one JSON record, got %q: %v", buf.String(), err)
	}
	if rec["msg"] != "kept" || rec["user_id"] != "u1" {
		t.Fatalf("unexpected record: %v", rec)
	}
}

func TestRotatingFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "walletctl.log")
	lj := RotatingFile(path)
	defer lj.Close()

	_, err := lj.Write([]byte("line\n"))
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if lj.Filename != path || lj.MaxBackups != 3 {
		t.Fatalf("unexpected rotation settings: %+v", lj)
	}
}

func TestOrDefault(t *testing.T) {
	t.Parallel()

	if OrDefault(nil) == nil {
		t.Fatal("nil logger not replaced")
	}

	l := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	if OrDefault(l) != l {
		t.Fatal("explicit logger replaced")
	}
}
