package turn

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nostrswarm/conductor/pkg/nostrcore"
)

const (
	toolUseOpenTag  = "<tool_use>"
	toolUseCloseTag = "</tool_use>"
)

// toolUseEnvelope is the fallback tool-call wire shape (spec.md §6):
// <tool_use>{"name":"…","arguments":{…},"id":"…"}</tool_use> embedded in an
// assistant's streamed content.
type toolUseEnvelope struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
	ID        string          `json:"id"`
}

// toolUseScanner incrementally extracts <tool_use> blocks from streamed
// text, per the DESIGN NOTE "an incremental JSON parser is required to avoid
// buffering entire assistant turns": each Feed call only holds unconsumed
// text since the last complete tag pair, never the whole response.
type toolUseScanner struct {
	pending strings.Builder
}

// Feed appends text to the scanner and returns the visible (non-tool_use)
// portion now resolvable, any tool calls completed by this feed, and a
// non-nil error if a complete <tool_use>...</tool_use> block failed to parse
// as a toolUseEnvelope (spec.md §4.6 failure semantics: "LLM returns
// malformed tool call").
func (s *toolUseScanner) Feed(text string) (visible string, calls []nostrcore.ToolCall, err error) {
	s.pending.WriteString(text)
	buf := s.pending.String()

	var out strings.Builder
	for {
		start := strings.Index(buf, toolUseOpenTag)
		if start == -1 {
			break
		}
		out.WriteString(buf[:start])
		rest := buf[start+len(toolUseOpenTag):]

		end := strings.Index(rest, toolUseCloseTag)
		if end == -1 {
			// Incomplete block; keep from the open tag onward as pending.
			buf = buf[start:]
			s.pending.Reset()
			s.pending.WriteString(buf)
			return out.String(), calls, err
		}

		block := rest[:end]
		buf = rest[end+len(toolUseCloseTag):]

		var env toolUseEnvelope
		if perr := json.Unmarshal([]byte(block), &env); perr != nil {
			err = fmt.Errorf("malformed tool_use block: %w", perr)
			continue
		}
		calls = append(calls, nostrcore.ToolCall{ID: env.ID, Name: env.Name, Arguments: env.Arguments})
	}

	out.WriteString(buf)
	s.pending.Reset()
	return out.String(), calls, err
}

// Flush returns any text left over once streaming ends (an unterminated
// <tool_use> block is surfaced verbatim rather than silently dropped).
func (s *toolUseScanner) Flush() string {
	out := s.pending.String()
	s.pending.Reset()
	return out
}
