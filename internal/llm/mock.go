package llm

import (
	"context"
	"fmt"
	"sync"

	cozyerrors "github.com/hpungsan/cozytriage/internal/errors"
)

// Mock replays scripted responses in order and records every request it
// receives. Safe for concurrent use.
type Mock struct {
	mu     sync.Mutex
	script []mockReply
	canned string
	calls  []Request
}

type mockReply struct {
	text string
	err  error
}

// NewMock returns a mock that replays the given responses in order. Once the
// script is exhausted further calls fail.
func NewMock(responses ...string) *Mock {
	m := &Mock{}
	for _, r := range responses {
		m.script = append(m.script, mockReply{text: r})
	}
	return m
}

// cannedResponse is a minimal valid single-item envelope, so the mock
// provider can drive the full pipeline offline.
const cannedResponse = `{"items": [{
  "raw_text": "captured note",
  "action_title": "Review captured note",
  "description": "Placeholder item produced by the mock provider.",
  "status": "INBOX",
  "priority": 3,
  "urgency": 3,
  "effort": "S",
  "para_bucket": "PROJECT",
  "project_suggestions": [],
  "area_suggestions": [],
  "needs_clarification": false,
  "clarifying_questions": [],
  "next_action": ""
}]}`

// NewCannedMock returns a mock that answers every completion with one fixed
// valid item instead of consuming a script.
func NewCannedMock() *Mock {
	return &Mock{canned: cannedResponse}
}

// Queue appends a scripted response.
func (m *Mock) Queue(text string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, mockReply{text: text})
}

// QueueError appends a scripted failure.
func (m *Mock) QueueError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, mockReply{err: err})
}

// Complete implements Client.
func (m *Mock) Complete(_ context.Context, req Request) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)
	if len(m.script) == 0 {
		if m.canned != "" {
			return m.canned, nil
		}
		return "", cozyerrors.NewLLMFailure("mock", fmt.Errorf("no scripted response for call %d", len(m.calls)))
	}
	next := m.script[0]
	m.script = m.script[1:]
	if next.err != nil {
		return "", cozyerrors.NewLLMFailure("mock", next.err)
	}
	return next.text, nil
}

// Model implements Client.
func (m *Mock) Model() string { return "mock-model" }

// Calls returns a copy of every request received so far.
func (m *Mock) Calls() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.calls))
	copy(out, m.calls)
	return out
}
