// Package mock provides a scriptable docintel client for tests.
package mock

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/opsgrid/docbase/docintel"
	"github.com/opsgrid/docbase/split"
)

// Client is a docintel.Client whose behavior is driven by injected
// functions. The zero value accepts every submission and reports every
// job as immediately succeeded with an empty document.
type Client struct {
	// SubmitFunc overrides Submit when set.
	SubmitFunc func(ctx context.Context, sub docintel.Submission) (docintel.JobHandle, error)

	// PollFunc overrides Poll when set.
	PollFunc func(ctx context.Context, handle docintel.JobHandle) (*docintel.PollResult, error)

	mu      sync.Mutex
	scripts map[docintel.JobHandle][]*docintel.PollResult

	submitCount atomic.Int64
	pollCount   atomic.Int64
}

var _ docintel.Client = (*Client)(nil)

// Script registers a sequence of poll results for handle. Each Poll call
// consumes one entry; the final entry is repeated once the script runs out.
func (c *Client) Script(handle docintel.JobHandle, results ...*docintel.PollResult) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.scripts == nil {
		c.scripts = make(map[docintel.JobHandle][]*docintel.PollResult)
	}
	c.scripts[handle] = results
}

// Submit records the call and returns a handle derived from the file name.
func (c *Client) Submit(ctx context.Context, sub docintel.Submission) (docintel.JobHandle, error) {
	c.submitCount.Add(1)

	if c.SubmitFunc != nil {
		return c.SubmitFunc(ctx, sub)
	}

	if err := docintel.ValidateFormat(sub.FileName); err != nil {
		return "", err
	}

	return docintel.JobHandle("mock-" + sub.FileName), nil
}

// Poll records the call and returns the next scripted result for handle.
func (c *Client) Poll(ctx context.Context, handle docintel.JobHandle) (*docintel.PollResult, error) {
	c.pollCount.Add(1)

	if c.PollFunc != nil {
		return c.PollFunc(ctx, handle)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	script, ok := c.scripts[handle]
	if !ok || len(script) == 0 {
		return &docintel.PollResult{
			State:  docintel.StateSucceeded,
			Result: &split.ParsedDocument{},
		}, nil
	}

	next := script[0]
	if len(script) > 1 {
		c.scripts[handle] = script[1:]
	}

	if next == nil {
		return nil, fmt.Errorf("scripted poll error for %s", handle)
	}

	return next, nil
}

// SubmitCalls reports how many times Submit was invoked.
func (c *Client) SubmitCalls() int64 { return c.submitCount.Load() }

// PollCalls reports how many times Poll was invoked.
func (c *Client) PollCalls() int64 { return c.pollCount.Load() }
