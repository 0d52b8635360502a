package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/require"
)

func newTestLogger(t *testing.T, opts ...Option) *Logger {
	t.Helper()

	l, err := NewLogger(hclog.NewNullLogger(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func readLines(t *testing.T, path string) []string {
	t.Helper()

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	require.NoError(t, sc.Err())
	return lines
}

func TestLogger_WritesJSONLines(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "audit.log")
	l := newTestLogger(t, WithPath(path))

	AuthAttempt(l, "alice", "10.0.0.1", "req-1", false, "bad token")
	Request(l, "alice", "10.0.0.1", "req-2", "fs", "tools/list", 12, "")
	require.NoError(t, l.Flush(context.Background()))

	lines := readLines(t, path)
	require.Len(t, lines, 2)

	var first map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	require.Equal(t, "auth_failure", first["event_type"])
	require.Equal(t, "alice", first["user_id"])
	require.Equal(t, false, first["success"])
	require.Equal(t, "bad token", first["error_message"])

	ts, ok := first["timestamp"].(string)
	require.True(t, ok)
	_, err := time.Parse(time.RFC3339Nano, ts)
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(ts, "Z"))

	var second Event
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	require.Equal(t, EventRequest, second.Type)
	require.Equal(t, "fs", second.ServerName)
	require.True(t, second.Success)
	require.JSONEq(t, `{"method":"tools/list","duration_ms":12}`, string(second.Details))
}

func TestLogger_RotatesWhenFull(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "audit.log")
	l := newTestLogger(t, WithPath(path), WithMaxSizeMB(0.000001), WithMaxFiles(3))

	first := NewEvent(EventServerStart)
	second := NewEvent(EventServerStop).WithUser("bob")

	l.Log(first)
	require.NoError(t, l.Flush(context.Background()))
	_, err := os.Stat(RotatedPath(path, 0))
	require.True(t, os.IsNotExist(err))

	l.Log(second)
	require.NoError(t, l.Flush(context.Background()))

	rotated := readLines(t, RotatedPath(path, 0))
	require.Len(t, rotated, 1)
	require.Contains(t, rotated[0], `"server_start"`)

	want, err := json.Marshal(second)
	require.NoError(t, err)

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, int64(len(want)+1), info.Size())
}

func TestLogger_RotationKeepsMaxFiles(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "audit.log")
	l := newTestLogger(t, WithPath(path), WithMaxSizeMB(0.000001), WithMaxFiles(2))

	for i := 0; i < 5; i++ {
		l.Log(NewEvent(EventRequest).WithRequestID(string(rune('a' + i))))
	}
	require.NoError(t, l.Flush(context.Background()))

	require.FileExists(t, RotatedPath(path, 0))
	require.FileExists(t, RotatedPath(path, 1))
	require.NoFileExists(t, RotatedPath(path, 2))

	// Newest in the active file, then .0, then .1.
	require.Contains(t, readLines(t, path)[0], `"request_id":"e"`)
	require.Contains(t, readLines(t, RotatedPath(path, 0))[0], `"request_id":"d"`)
	require.Contains(t, readLines(t, RotatedPath(path, 1))[0], `"request_id":"c"`)
}

func TestLogger_AppendsToExistingFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "audit.log")
	require.NoError(t, os.WriteFile(path, []byte("{\"existing\":true}\n"), 0o644))

	l := newTestLogger(t, WithPath(path))
	ServerStopped(l)
	require.NoError(t, l.Close())

	lines := readLines(t, path)
	require.Len(t, lines, 2)
	require.Equal(t, `{"existing":true}`, lines[0])
}

func TestLogger_PrettyFormatAndStdout(t *testing.T) {
	t.Parallel()

	var mirror bytes.Buffer
	path := filepath.Join(t.TempDir(), "audit.log")
	l := newTestLogger(t, WithPath(path), WithFormat(FormatPretty), WithStdout(&mirror))

	e := NewEvent(EventAuthorizationFailure).WithRequestID("r1").WithServer("fs").WithError("access denied")
	e.Timestamp = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	l.Log(e)
	require.NoError(t, l.Close())

	want := "[2026-01-02T03:04:05Z] r1 | user=anonymous | ip=unknown | server=fs | status=FAIL | type=authorization_failure | error=access denied"
	require.Equal(t, []string{want}, readLines(t, path))
	require.Equal(t, "[AUDIT] "+want+"\n", mirror.String())
}

func TestLogger_LogAfterCloseIsDropped(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "audit.log")
	l := newTestLogger(t, WithPath(path))
	require.NoError(t, l.Close())

	l.Log(NewEvent(EventRequest))
	require.NoError(t, l.Flush(context.Background()))
	require.NoError(t, l.Close())

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Zero(t, info.Size())
}

func TestNewOptions_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		opt  Option
	}{
		{name: "empty path", opt: WithPath("  ")},
		{name: "bad format", opt: WithFormat("xml")},
		{name: "zero size", opt: WithMaxSizeMB(0)},
		{name: "zero files", opt: WithMaxFiles(0)},
		{name: "zero queue", opt: WithQueueSize(0)},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := NewOptions(tc.opt)
			require.Error(t, err)
		})
	}
}

func TestWriterSink(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	s := NewWriterSink(&buf)
	RateLimited(s, "1.2.3.4", "r9")
	SuspiciousActivity(s, "u", "1.2.3.4", "r9", "fs", map[string]int{"findings": 2})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	require.Contains(t, lines[0], `"event_type":"rate_limit_hit"`)
	require.Contains(t, lines[1], `"details":{"findings":2}`)

	Discard{}.Log(NewEvent(EventError))
}

func TestNewLogger_RejectsWritableDirectory(t *testing.T) {
	t.Parallel()

	dir := filepath.Join(t.TempDir(), "shared")
	require.NoError(t, os.Mkdir(dir, 0o755))
	require.NoError(t, os.Chmod(dir, 0o777))

	_, err := NewLogger(hclog.NewNullLogger(), WithPath(filepath.Join(dir, "audit.log")))
	require.ErrorContains(t, err, "preparing audit log directory")
	require.ErrorContains(t, err, "incorrect permissions")
}
