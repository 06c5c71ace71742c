package hub

import (
	"bytes"
	"net/http"
)

// Stream writes Server-Sent Events to a response
type Stream struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

// NewStream sets the SSE headers on w. It reports false when w cannot flush.
func NewStream(w http.ResponseWriter) (*Stream, bool) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, false
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	return &Stream{w: w, flusher: flusher}, true
}

// Write sends a preformatted message and flushes
func (s *Stream) Write(msg []byte) error {
	if _, err := s.w.Write(msg); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Event sends data as one event, named unless name is empty
func (s *Stream) Event(name string, data []byte) error {
	return s.Write(FormatEvent(name, data))
}

// Comment sends an SSE comment line
func (s *Stream) Comment(text string) error {
	return s.Write([]byte(": " + text + "\n\n"))
}

// FormatEvent encodes an SSE message. Multi-line data is split into several
// data fields.
func FormatEvent(name string, data []byte) []byte {
	var buf bytes.Buffer
	if name != "" {
		buf.WriteString("event: ")
		buf.WriteString(name)
		buf.WriteByte('\n')
	}
	for _, line := range bytes.Split(data, []byte("\n")) {
		buf.WriteString("data: ")
		buf.Write(line)
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	return buf.Bytes()
}
