// Package logging tests for structured JSON logging.
package logging

import (
	"bytes"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &m), "line %q", line)
		out = append(out, m)
	}
	return out
}

// TestInit_idempotent verifies Init is idempotent.
func TestInit_idempotent(t *testing.T) {
	global = nil
	once = *new(sync.Once)

	var buf1, buf2 bytes.Buffer
	Init(&buf1, LevelInfo)
	first := Get()
	Init(&buf2, LevelDebug)

	if Get() != first {
		t.Error("Second Init() should be ignored, different logger returned")
	}
	if first.out != &buf1 {
		t.Error("Init() did not set output writer correctly")
	}
}

func TestLogger_writesJSONFields(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelInfo)

	l.Info("sync completed", map[string]interface{}{"processed": 3})
	l.Error("push failed", errors.New("connection reset"), map[string]interface{}{"table": "members"})

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)

	assert.Equal(t, "info", lines[0]["level"])
	assert.Equal(t, "sync completed", lines[0]["message"])
	assert.NotEmpty(t, lines[0]["timestamp"])
	ctx := lines[0]["context"].(map[string]interface{})
	assert.EqualValues(t, 3, ctx["processed"])

	assert.Equal(t, "error", lines[1]["level"])
	assert.Equal(t, "connection reset", lines[1]["error"])
}

func TestLogger_minLevelFilters(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelWarn)

	l.Debug("hidden")
	l.Info("hidden too")
	l.Warn("shown")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "shown", lines[0]["message"])
}

func TestLogger_ErrorWithCode(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LevelDebug)

	l.ErrorWithCode("periodic sync failed", "SYNC_FAILED", errors.New("boom"))

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	ctx := lines[0]["context"].(map[string]interface{})
	assert.Equal(t, "SYNC_FAILED", ctx["error_code"])
}

func TestMergeContext(t *testing.T) {
	assert.Nil(t, mergeContext())
	merged := mergeContext(map[string]interface{}{"a": 1}, map[string]interface{}{"b": 2})
	assert.Equal(t, map[string]interface{}{"a": 1, "b": 2}, merged)
}

func TestParseLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   LevelDebug,
		" WARN ":  LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
		"info":    LevelInfo,
		"bogus":   LevelInfo,
	}
	for in, want := range tests {
		if got := ParseLevel(in); got != want {
			t.Errorf("ParseLevel(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestInitWithOptions_file(t *testing.T) {
	global = nil
	once = *new(sync.Once)
	t.Cleanup(func() {
		global = nil
		once = *new(sync.Once)
	})

	path := filepath.Join(t.TempDir(), "attendsync.log")
	InitWithOptions(Options{Level: LevelInfo, File: path, MaxSizeMB: 1})
	Info("written to file")

	require.NotNil(t, Get())
	assert.FileExists(t, path)
}
