// Package sse decodes text/event-stream frames from arbitrary chunks.
package sse

import (
	"bytes"
	"strings"
)

// Event is one decoded frame.
type Event struct {
	ID    string
	Event string
	Data  string
}

// Decoder buffers partial frames between Feed calls. It is not safe for
// concurrent use.
type Decoder struct {
	buf []byte
}

// Feed appends chunk and returns every frame completed by it, in order.
// Frames with neither an event name nor data are skipped.
func (d *Decoder) Feed(chunk []byte) []Event {
	if len(chunk) == 0 {
		return nil
	}
	d.buf = append(d.buf, chunk...)
	d.buf = bytes.ReplaceAll(d.buf, []byte("\r\n"), []byte("\n"))

	var events []Event
	for {
		idx := bytes.Index(d.buf, []byte("\n\n"))
		if idx < 0 {
			break
		}
		frame := string(d.buf[:idx])
		d.buf = d.buf[idx+2:]
		if ev, ok := parseFrame(frame); ok {
			events = append(events, ev)
		}
	}
	if len(d.buf) == 0 {
		d.buf = nil
	}
	return events
}

// Pending returns the number of buffered bytes not yet part of a frame.
func (d *Decoder) Pending() int {
	return len(d.buf)
}

// Reset drops any buffered partial frame.
func (d *Decoder) Reset() {
	d.buf = nil
}

func parseFrame(frame string) (Event, bool) {
	var ev Event
	var data []string
	hasData := false
	for _, line := range strings.Split(frame, "\n") {
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			ev.Event = value
		case "data":
			data = append(data, value)
			hasData = true
		case "id":
			ev.ID = value
		}
	}
	if ev.Event == "" && !hasData {
		return Event{}, false
	}
	ev.Data = strings.Join(data, "\n")
	return ev, true
}
