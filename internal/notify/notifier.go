package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/obsidianstack/sentinel/internal/alert"
)

// Notifier delivers events to one destination. Each method returns an error
// when delivery fails; it must not panic the caller.
type Notifier interface {
	Name() string
	Send(ctx context.Context, text string) error
	SendAlert(ctx context.Context, a alert.Alert) error
	SendPipelineStatus(ctx context.Context, s alert.PipelineStatus) error
	SendDeployment(ctx context.Context, d alert.Deployment) error
	SendDailyReport(ctx context.Context, r alert.DailyReport) error
}

// Result is the outcome of one notifier in a fan-out.
type Result struct {
	Notifier string
	Err      error
}

// Fanout calls fn for every notifier on its own goroutine and waits for all
// of them. Results are in notifier order. A panicking fn (or Name) is reported
// as an error for that notifier.
func Fanout(ctx context.Context, notifiers []Notifier, fn func(context.Context, Notifier) error) []Result {
	results := make([]Result, len(notifiers))
	var wg sync.WaitGroup
	for i, n := range notifiers {
		wg.Add(1)
		go func(i int, n Notifier) {
			defer wg.Done()
			name := safeName(n, i)
			results[i] = Result{Notifier: name, Err: call(ctx, name, n, fn)}
		}(i, n)
	}
	wg.Wait()
	return results
}

func call(ctx context.Context, name string, n Notifier, fn func(context.Context, Notifier) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notify %s: panic: %v", name, r)
		}
	}()
	return fn(ctx, n)
}

// safeName returns n.Name(), or "notifier[i]" when Name panics.
func safeName(n Notifier, i int) (name string) {
	defer func() {
		if r := recover(); r != nil {
			name = fmt.Sprintf("notifier[%d]", i)
		}
	}()
	return n.Name()
}

// Failed returns the results that carry an error.
func Failed(results []Result) []Result {
	var out []Result
	for _, r := range results {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}
