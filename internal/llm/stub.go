package llm

import "context"

// StubProvider is a deterministic, in-process Provider used by conductor's
// own tests (internal/conductortest scripts its own provider) — grounded on the
// teacher's test-stub pattern of returning queued responses instead of
// calling a real API (internal/agent/runtime_test.go's mock providers).
type StubProvider struct {
	responses []CompletionChunk
	calls     []CompletionRequest
}

// NewStubProvider returns a provider that replays chunks, in order, for
// every Complete call's single streamed response.
func NewStubProvider(chunks ...CompletionChunk) *StubProvider {
	return &StubProvider{responses: chunks}
}

func (s *StubProvider) Name() string { return "stub" }

func (s *StubProvider) SupportsTools() bool { return true }

func (s *StubProvider) Models() []ModelInfo {
	return []ModelInfo{{ID: "stub-model", Name: "Stub Model", ContextSize: 8192}}
}

// Calls returns every request this stub has received, for assertions.
func (s *StubProvider) Calls() []CompletionRequest {
	return s.calls
}

func (s *StubProvider) Complete(ctx context.Context, req CompletionRequest) (<-chan CompletionChunk, error) {
	s.calls = append(s.calls, req)

	out := make(chan CompletionChunk, len(s.responses)+1)
	for _, c := range s.responses {
		out <- c
	}
	if len(s.responses) == 0 || !s.responses[len(s.responses)-1].Done {
		out <- CompletionChunk{Done: true}
	}
	close(out)
	return out, nil
}
