package backend

import (
	"bufio"
	"bytes"
	"io"
	"iter"
)

// maxSSELine bounds a single SSE line.
const maxSSELine = 1024 * 1024

// sseEvents yields the data payload of every "data:" line until the [DONE]
// marker or EOF. A read failure is yielded as an error; it never ends the
// sequence silently.
func sseEvents(body io.Reader) iter.Seq2[[]byte, error] {
	return func(yield func([]byte, error) bool) {
		scanner := bufio.NewScanner(body)
		scanner.Buffer(make([]byte, 0, 64*1024), maxSSELine)
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 || line[0] == ':' {
				continue
			}
			data, ok := bytes.CutPrefix(line, []byte("data:"))
			if !ok {
				continue
			}
			data = bytes.TrimSpace(data)
			if bytes.Equal(data, []byte("[DONE]")) {
				return
			}
			if !yield(data, nil) {
				return
			}
		}
		if err := scanner.Err(); err != nil {
			yield(nil, err)
		}
	}
}
