package transport

import (
	"bufio"
	"io"
	"mime"
	"strings"
)

const (
	contentTypeJSON   = "application/json"
	contentTypeNDJSON = "application/x-ndjson"
	contentTypeSSE    = "text/event-stream"

	headerSessionID = "Mcp-Session-Id"
	querySessionID  = "session_id"
)

// maxFrameSize bounds a single inbound line or event.
const maxFrameSize = 16 << 20

// sseEvent is one server-sent event.
type sseEvent struct {
	Event string
	Data  string
	ID    string
}

// readSSE parses a text/event-stream body and calls fn for every complete event.
// It stops early when fn returns false.
func readSSE(r io.Reader, fn func(sseEvent) bool) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxFrameSize)

	var ev sseEvent
	var data []string

	flush := func() bool {
		if len(data) == 0 && ev.Event == "" {
			return true
		}
		ev.Data = strings.Join(data, "\n")
		if ev.Event == "" {
			ev.Event = "message"
		}
		keep := fn(ev)
		ev = sseEvent{}
		data = data[:0]
		return keep
	}

	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		if line == "" {
			if !flush() {
				return nil
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")

		switch field {
		case "event":
			ev.Event = value
		case "data":
			data = append(data, value)
		case "id":
			ev.ID = value
		}
	}
	if err := sc.Err(); err != nil {
		return err
	}

	flush()
	return nil
}

// readLines calls fn for every non-empty line of an NDJSON (or single JSON) body.
func readLines(r io.Reader, fn func([]byte)) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxFrameSize)

	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fn([]byte(line))
	}

	return sc.Err()
}

// isEventStream reports whether the Content-Type header denotes SSE.
func isEventStream(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.HasPrefix(contentType, contentTypeSSE)
	}
	return mt == contentTypeSSE
}
