package runtime

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// collectStream concatenates the data frames of a server-sent-event
// stream into a single reply string. Upstream framing is not uniform:
// frames may carry JSON envelopes or bare text, so each frame goes
// through the same forgiving extraction as a unary body.
func collectStream(r io.Reader) (string, error) {
	var reply strings.Builder

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data: "))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			break
		}
		reply.WriteString(extractReply([]byte(data)))
	}
	if err := scanner.Err(); err != nil {
		return "", fmt.Errorf("reading event stream: %w", err)
	}

	return reply.String(), nil
}
