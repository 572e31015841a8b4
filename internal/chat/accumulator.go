package chat

import (
	"bytes"
	"encoding/json"
	"strings"
)

// DecodeMode selects how event lines are recovered from network chunks.
type DecodeMode int

const (
	// DecodeLines carries partial lines across chunk boundaries so a token
	// split between two reads is still recovered.
	DecodeLines DecodeMode = iota
	// DecodeChunks decodes each chunk in isolation. A line split across two
	// chunks fails to parse on both halves and its token is dropped.
	DecodeChunks
)

func ParseDecodeMode(s string) DecodeMode {
	if strings.EqualFold(strings.TrimSpace(s), "chunk") {
		return DecodeChunks
	}
	return DecodeLines
}

var (
	dataPrefix   = []byte("data:")
	doneSentinel = []byte("[DONE]")
)

// streamChunk is the subset of a completion chunk the relay reads. Every field
// is optional.
type streamChunk struct {
	Choices []struct {
		Delta *struct {
			Content *string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// Accumulator rebuilds the assistant text from the raw event stream. It is
// owned by exactly one relay and is not safe for concurrent use.
type Accumulator struct {
	mode    DecodeMode
	text    strings.Builder
	pending []byte
	tokens  int
	skipped int
}

func NewAccumulator(mode DecodeMode) *Accumulator {
	return &Accumulator{mode: mode}
}

// Feed decodes one chunk. Malformed payloads are counted and skipped.
func (a *Accumulator) Feed(chunk []byte) {
	if a.mode == DecodeChunks {
		for _, line := range bytes.Split(chunk, []byte{'\n'}) {
			a.decodeLine(line)
		}
		return
	}

	a.pending = append(a.pending, chunk...)
	for {
		idx := bytes.IndexByte(a.pending, '\n')
		if idx < 0 {
			break
		}
		a.decodeLine(a.pending[:idx])
		a.pending = a.pending[idx+1:]
	}

	// Reclaim the consumed prefix once nothing is pending.
	if len(a.pending) == 0 {
		a.pending = nil
	}
}

// Flush decodes a trailing line that arrived without a newline.
func (a *Accumulator) Flush() {
	if len(a.pending) > 0 {
		a.decodeLine(a.pending)
		a.pending = nil
	}
}

func (a *Accumulator) Text() string { return a.text.String() }

// Tokens is the number of content tokens appended so far.
func (a *Accumulator) Tokens() int { return a.tokens }

// Skipped is the number of data payloads that failed to decode.
func (a *Accumulator) Skipped() int { return a.skipped }

func (a *Accumulator) decodeLine(line []byte) {
	line = bytes.TrimRight(line, "\r")
	if len(bytes.TrimSpace(line)) == 0 || !bytes.HasPrefix(line, dataPrefix) {
		return
	}

	payload := bytes.TrimSpace(line[len(dataPrefix):])
	if len(payload) == 0 || bytes.Equal(payload, doneSentinel) {
		return
	}

	var chunk streamChunk
	if err := json.Unmarshal(payload, &chunk); err != nil {
		a.skipped++
		return
	}

	if len(chunk.Choices) == 0 || chunk.Choices[0].Delta == nil || chunk.Choices[0].Delta.Content == nil {
		return
	}

	a.text.WriteString(*chunk.Choices[0].Delta.Content)
	a.tokens++
}
