package github

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// MockRunner is a test double for CommandRunner. Responses are matched
// against "name arg1 arg2 ...", exact match first, then by prefix.
type MockRunner struct {
	mu        sync.Mutex
	responses map[string]MockResponse
	calls     [][]string
}

// MockResponse represents a mocked command response.
type MockResponse struct {
	Output string
	Err    error
}

// NewMockRunner creates a new MockRunner.
func NewMockRunner() *MockRunner {
	return &MockRunner{responses: make(map[string]MockResponse)}
}

// On registers a response for commands matching pattern.
func (m *MockRunner) On(pattern string, output string, err error) *MockRunner {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[pattern] = MockResponse{Output: output, Err: err}
	return m
}

// Run implements CommandRunner.
func (m *MockRunner) Run(_ context.Context, name string, args ...string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	call := append([]string{name}, args...)
	m.calls = append(m.calls, call)
	full := strings.Join(call, " ")

	if resp, ok := m.responses[full]; ok {
		return resp.Output, resp.Err
	}
	best := ""
	for pattern := range m.responses {
		if strings.HasPrefix(full, pattern) && len(pattern) > len(best) {
			best = pattern
		}
	}
	if best != "" {
		resp := m.responses[best]
		return resp.Output, resp.Err
	}
	return "", errors.New("no mock response configured for: " + full)
}

// LastCall returns the last command as name followed by args, or nil.
func (m *MockRunner) LastCall() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	return m.calls[len(m.calls)-1]
}
