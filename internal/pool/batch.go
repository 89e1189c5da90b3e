package pool

import (
	"context"
	"fmt"
	"sync"

	"github.com/charmbracelet/log"

	"proxyfinder/internal/jobs/queue/memory"
)

type Status uint8

const (
	NotAttempted Status = iota
	Succeeded
	Failed
)

func (s Status) String() string {
	switch s {
	case Succeeded:
		return "succeeded"
	case Failed:
		return "failed"
	default:
		return "not attempted"
	}
}

// Call is one element of a batch.
type Call struct {
	URL     string
	Options RequestOptions
}

// Result is the outcome of one batch slot.
type Result struct {
	Status   Status
	Response *Response
	Err      error
}

func (r Result) OK() bool {
	return r.Status == Succeeded
}

type indexedCall struct {
	index int
	call  Call
}

type indexedResult struct {
	index  int
	result Result
}

// RequestMany performs every call concurrently through Request, merging
// common into each call's options. Exactly MaxThreads workers drain a shared
// FIFO of calls; the returned slice is index-aligned with calls whatever the
// completion order. Slots left untouched because ctx ended stay NotAttempted.
func (p *Pool) RequestMany(ctx context.Context, calls []Call, common RequestOptions) []Result {
	results := make([]Result, len(calls))
	if len(calls) == 0 {
		return results
	}

	work := memory.New[indexedCall]()
	for i, call := range calls {
		work.Push(indexedCall{index: i, call: call})
	}
	done := memory.New[indexedResult]()

	var wg sync.WaitGroup
	for i := 0; i < p.maxThreads; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.batchWorker(ctx, work, done, common)
		}()
	}
	wg.Wait()

	var succeeded, failed int
	for _, item := range done.Drain() {
		results[item.index] = item.result
		if item.result.OK() {
			succeeded++
		} else {
			failed++
		}
	}

	log.Debug("Batch finished", "calls", len(calls), "workers", p.maxThreads, "succeeded", succeeded, "failed", failed)
	return results
}

func (p *Pool) batchWorker(ctx context.Context, work *memory.Queue[indexedCall], done *memory.Queue[indexedResult], common RequestOptions) {
	for ctx.Err() == nil {
		item, ok := work.TryPop()
		if !ok {
			return
		}
		done.Push(indexedResult{index: item.index, result: p.dispatch(ctx, item.call, common)})
	}
}

func (p *Pool) dispatch(ctx context.Context, call Call, common RequestOptions) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			result = Result{Status: Failed, Err: fmt.Errorf("request to %s panicked: %v", call.URL, r)}
		}
	}()

	resp, err := p.Request(ctx, call.URL, call.Options.Merge(common))
	if err != nil {
		log.Debug("Batch call failed", "url", call.URL, "error", err)
		return Result{Status: Failed, Err: err}
	}
	return Result{Status: Succeeded, Response: resp}
}
