package review

import (
	"context"
	"sync"

	"github.com/helixir/paper-review-service/internal/llm"
)

// fakeCompleter answers prompts by operation and records what it was asked.
type fakeCompleter struct {
	mu        sync.Mutex
	responses map[string]string
	errs      map[string]error
	prompts   []llm.Prompt
}

func newFakeCompleter() *fakeCompleter {
	return &fakeCompleter{responses: map[string]string{}, errs: map[string]error{}}
}

func (f *fakeCompleter) Complete(ctx context.Context, p llm.Prompt) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, p)
	if err := f.errs[p.Operation]; err != nil {
		return "", err
	}
	return f.responses[p.Operation], nil
}

func (f *fakeCompleter) Provider() string { return "fake" }
func (f *fakeCompleter) Model() string    { return "fake-model" }

func (f *fakeCompleter) last() llm.Prompt {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prompts[len(f.prompts)-1]
}
