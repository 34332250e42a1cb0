package llm

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// Provider frames can carry a whole page of JSON on one line.
const maxFrameBytes = 4 << 20

// readCompletion concatenates the content deltas of a chat-completion event
// stream. Comment lines and undecodable frames are skipped. The stream ends
// at "[DONE]", at a finish_reason, or at EOF.
func readCompletion(r io.Reader) (string, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64<<10), maxFrameBytes)

	var text strings.Builder
	for sc.Scan() {
		payload, ok := strings.CutPrefix(sc.Text(), "data:")
		if !ok {
			continue
		}
		payload = strings.TrimSpace(payload)
		if payload == "[DONE]" {
			break
		}

		var frame Response
		if json.Unmarshal([]byte(payload), &frame) != nil {
			continue
		}
		if frame.Error != nil {
			return "", fmt.Errorf("provider error: %s", frame.Error.Message)
		}
		if len(frame.Choices) == 0 {
			continue
		}

		choice := frame.Choices[0]
		if choice.Delta.Content != "" {
			text.WriteString(choice.Delta.Content)
		} else {
			text.WriteString(choice.Message.Content)
		}

		switch choice.FinishReason {
		case "":
		case "length":
			return "", fmt.Errorf("response truncated at the model's output limit after %d bytes", text.Len())
		default:
			return text.String(), nil
		}
	}

	if err := sc.Err(); err != nil {
		return "", err
	}
	return text.String(), nil
}
