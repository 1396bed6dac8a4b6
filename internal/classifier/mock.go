package classifier

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MockAnswer is a canned reply for MockInference.
type MockAnswer struct {
	Text  string
	Err   error
	Delay time.Duration
}

// MockInference is a deterministic Inference for testing. Answers are queued
// per prompt and consumed in FIFO order; an empty queue returns Fallback.
type MockInference struct {
	mu       sync.Mutex
	answers  map[string][]MockAnswer
	Fallback MockAnswer
	Calls    []string
}

// NewMockInference creates an empty mock. Unqueued prompts fail.
func NewMockInference() *MockInference {
	return &MockInference{
		answers:  make(map[string][]MockAnswer),
		Fallback: MockAnswer{Err: errors.New("mock: no answer queued")},
	}
}

// Queue appends answers for prompt.
func (m *MockInference) Queue(prompt string, answers ...MockAnswer) *MockInference {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.answers[prompt] = append(m.answers[prompt], answers...)
	return m
}

// QueueFrame queues one density and one motion answer.
func (m *MockInference) QueueFrame(density, motion string) *MockInference {
	m.Queue(DensityPrompt, MockAnswer{Text: density})
	return m.Queue(MotionPrompt, MockAnswer{Text: motion})
}

func (m *MockInference) Ask(ctx context.Context, _ []byte, prompt string) (string, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, prompt)
	answer := m.Fallback
	if q := m.answers[prompt]; len(q) > 0 {
		answer = q[0]
		m.answers[prompt] = q[1:]
	}
	m.mu.Unlock()

	if answer.Delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(answer.Delay):
		}
	}
	if answer.Err != nil {
		return "", answer.Err
	}
	return answer.Text, nil
}

func (m *MockInference) Name() string { return "mock" }

// CallCount returns the number of Ask calls made.
func (m *MockInference) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
