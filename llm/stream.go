package llm

import (
	"bufio"
	"io"
	"strings"
)

// sseReader reads Server-Sent Events from a provider response body and
// dispatches each event to a handler.
type sseReader struct {
	reader  *bufio.Reader
	onEvent func(event, data string) error
}

func newSSEReader(r io.Reader, onEvent func(event, data string) error) *sseReader {
	return &sseReader{
		reader:  bufio.NewReader(r),
		onEvent: onEvent,
	}
}

// read processes the SSE stream until EOF or handler error.
func (r *sseReader) read() error {
	var event string
	var dataBuilder strings.Builder

	for {
		line, err := r.reader.ReadString('\n')
		if err != nil && err != io.EOF {
			return err
		}
		atEOF := err == io.EOF

		line = strings.TrimRight(line, "\r\n")

		if atEOF {
			// Flush any trailing event without a terminating blank line
			if strings.HasPrefix(line, "data:") {
				if dataBuilder.Len() > 0 {
					dataBuilder.WriteString("\n")
				}
				dataBuilder.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
			}
			if dataBuilder.Len() > 0 {
				return r.onEvent(event, dataBuilder.String())
			}
			return nil
		}

		// Blank line terminates the current event
		if line == "" {
			if dataBuilder.Len() > 0 {
				if err := r.onEvent(event, dataBuilder.String()); err != nil {
					return err
				}
			}
			event = ""
			dataBuilder.Reset()
			continue
		}

		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			if dataBuilder.Len() > 0 {
				dataBuilder.WriteString("\n")
			}
			dataBuilder.WriteString(strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
		// id: and retry: fields are ignored
	}
}

// errStreamDone is returned by event handlers to stop reading cleanly.
type streamDoneError struct{}

func (streamDoneError) Error() string { return "stream done" }

var errStreamDone = streamDoneError{}
