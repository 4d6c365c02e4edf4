package llm

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
)

// Fake is a deterministic Client for tests: it returns pre-programmed
// responses keyed by a substring match against the prompt, in the order
// matches are registered. It never performs network I/O.
type Fake struct {
	mu        sync.Mutex
	responses []fakeResponse
	calls     int
	err       error
}

type fakeResponse struct {
	match string
	value json.RawMessage
}

// NewFake constructs an empty fake client.
func NewFake() *Fake {
	return &Fake{}
}

// When registers a response returned whenever the prompt contains match.
// value must be JSON-marshalable; it is re-marshaled and decoded into the
// caller's out on each matching Ask call.
func (f *Fake) When(match string, value any) *Fake {
	data, err := json.Marshal(value)
	if err != nil {
		panic(err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, fakeResponse{match: match, value: data})
	return f
}

// FailWith makes every subsequent call return err instead of a response.
func (f *Fake) FailWith(err error) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
	return f
}

// Calls returns how many times Ask has been invoked.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *Fake) Ask(ctx context.Context, prompt string, schema json.RawMessage, level Level, out any) error {
	f.mu.Lock()
	f.calls++
	err := f.err
	responses := f.responses
	f.mu.Unlock()

	if err != nil {
		return err
	}

	for _, r := range responses {
		if r.match == "" || strings.Contains(prompt, r.match) {
			return json.Unmarshal(r.value, out)
		}
	}
	return json.Unmarshal([]byte(`{}`), out)
}
