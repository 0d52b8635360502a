package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/mozilla-ai/mcpshield/internal/errors"
	"github.com/mozilla-ai/mcpshield/internal/jsonrpc"
)

// result is what a waiting caller receives.
type result struct {
	resp *jsonrpc.Response
	err  error
}

// pending correlates in-flight requests with their responses by id.
type pending struct {
	mu      sync.Mutex
	waiters map[jsonrpc.ID]chan result
	closed  error
}

func newPending() *pending {
	return &pending{waiters: make(map[jsonrpc.ID]chan result)}
}

// register reserves a slot for id. It fails when the transport has already shut down.
func (p *pending) register(id jsonrpc.ID) (<-chan result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed != nil {
		return nil, p.closed
	}
	if _, ok := p.waiters[id]; ok {
		return nil, errors.InvalidRequest("duplicate request id %s", id.String())
	}

	ch := make(chan result, 1)
	p.waiters[id] = ch

	return ch, nil
}

// deliver routes resp to its waiter. It reports false when nobody is waiting for the id.
func (p *pending) deliver(resp *jsonrpc.Response) bool {
	if resp == nil || resp.ID == nil {
		return false
	}

	return p.complete(*resp.ID, result{resp: resp})
}

// fail completes the waiter for id with err.
func (p *pending) fail(id jsonrpc.ID, err error) bool {
	return p.complete(id, result{err: err})
}

func (p *pending) complete(id jsonrpc.ID, r result) bool {
	p.mu.Lock()
	ch, ok := p.waiters[id]
	if ok {
		delete(p.waiters, id)
	}
	p.mu.Unlock()

	if !ok {
		return false
	}

	ch <- r
	return true
}

// cancel forgets id without completing it.
func (p *pending) cancel(id jsonrpc.ID) {
	p.mu.Lock()
	delete(p.waiters, id)
	p.mu.Unlock()
}

// failAll completes every waiter with err and rejects future registrations.
func (p *pending) failAll(err error) {
	p.mu.Lock()
	if p.closed == nil {
		p.closed = err
	}
	waiters := p.waiters
	p.waiters = make(map[jsonrpc.ID]chan result)
	p.mu.Unlock()

	for _, ch := range waiters {
		ch <- result{err: err}
	}
}

// len returns the number of in-flight requests.
func (p *pending) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	return len(p.waiters)
}

// await waits for the response to id, honoring the timeout and ctx.
func (p *pending) await(ctx context.Context, id jsonrpc.ID, ch <-chan result, timeout time.Duration) (*jsonrpc.Response, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case r := <-ch:
		return r.resp, r.err
	case <-timer.C:
		p.cancel(id)
		return nil, errors.Timeout(timeout.Milliseconds())
	case <-ctx.Done():
		p.cancel(id)
		if ctx.Err() == context.DeadlineExceeded {
			return nil, errors.Wrap(errors.KindTimeout, ctx.Err(), "waiting for response to %s", id.String())
		}
		return nil, errors.Wrap(errors.KindTransport, ctx.Err(), "waiting for response to %s", id.String())
	}
}

// dispatchLine decodes one inbound frame and routes it.
// Server-initiated requests and notifications carry a method and are ignored.
// It returns false when the frame could not be parsed.
func (p *pending) dispatchLine(line []byte) (handled bool, err error) {
	var envelope struct {
		Method string `json:"method"`
	}
	if err := json.Unmarshal(line, &envelope); err != nil {
		return false, errors.Wrap(errors.KindSerialization, err, "decoding frame")
	}
	if envelope.Method != "" {
		return false, nil
	}

	var resp jsonrpc.Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return false, errors.Wrap(errors.KindSerialization, err, "decoding response")
	}

	return p.deliver(&resp), nil
}
