// Package actortest provides an in-memory market.ActorRunner for tests.
package actortest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/JakeFAU/gumgenie-scout/internal/market"
)

// Call records one Start invocation.
type Call struct {
	ActorID string
	URLs    []string
}

// Fake runs "actors" in memory. By default every URL yields one item of the
// form {"url": ..., "title": ...}.
type Fake struct {
	// Fail, when set, makes Start return its error for matching calls.
	Fail func(actorID string, urls []string) error
	// Items, when set, replaces the default item generator.
	Items func(actorID string, urls []string) []json.RawMessage
	// Delay holds each Start call open, which makes concurrency observable.
	Delay time.Duration

	mu       sync.Mutex
	calls    []Call
	datasets map[string][]json.RawMessage
	seq      int

	active atomic.Int64
	peak   atomic.Int64
}

var _ market.ActorRunner = (*Fake)(nil)

// Start records the call and stores a dataset for it.
func (f *Fake) Start(ctx context.Context, actorID string, input any) (market.ActorRun, error) {
	n := f.active.Add(1)
	defer f.active.Add(-1)
	for {
		p := f.peak.Load()
		if n <= p || f.peak.CompareAndSwap(p, n) {
			break
		}
	}

	urls := startURLs(input)
	f.mu.Lock()
	f.calls = append(f.calls, Call{ActorID: actorID, URLs: urls})
	f.mu.Unlock()

	if f.Delay > 0 {
		select {
		case <-ctx.Done():
			return market.ActorRun{}, ctx.Err()
		case <-time.After(f.Delay):
		}
	}
	if f.Fail != nil {
		if err := f.Fail(actorID, urls); err != nil {
			return market.ActorRun{}, err
		}
	}

	var items []json.RawMessage
	if f.Items != nil {
		items = f.Items(actorID, urls)
	} else {
		for _, u := range urls {
			raw, _ := json.Marshal(map[string]string{"url": u, "title": "Listing " + u})
			items = append(items, raw)
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := fmt.Sprintf("ds-%d", f.seq)
	if f.datasets == nil {
		f.datasets = make(map[string][]json.RawMessage)
	}
	f.datasets[id] = items
	return market.ActorRun{ID: fmt.Sprintf("run-%d", f.seq), Status: "SUCCEEDED", DatasetID: id}, nil
}

// FetchDataset returns the items stored by Start.
func (f *Fake) FetchDataset(_ context.Context, datasetID string) ([]json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items, ok := f.datasets[datasetID]
	if !ok {
		return nil, fmt.Errorf("dataset %s: %w", datasetID, market.ErrNotFound)
	}
	return items, nil
}

// Calls returns a copy of the recorded Start calls.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallsFor returns the calls made against actorID.
func (f *Fake) CallsFor(actorID string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.ActorID == actorID {
			out = append(out, c)
		}
	}
	return out
}

// Peak is the highest number of concurrent Start calls observed.
func (f *Fake) Peak() int {
	return int(f.peak.Load())
}

func startURLs(input any) []string {
	m, ok := input.(map[string]any)
	if !ok {
		return nil
	}
	list, ok := m["startUrls"].([]map[string]string)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(list))
	for _, entry := range list {
		out = append(out, entry["url"])
	}
	return out
}
