package client

import (
	"context"

	"github.com/tradehound/gobroker/broker/types"
)

// Pager drives Call repeatedly along a pagination cursor chain, yielding one
// Envelope per page. It is lazy: no request is made until Next is called,
// and the dispatcher never follows cursors on its own.
type Pager struct {
	c      *Client
	first  *types.Request
	cursor string
	begun  bool
	done   bool
}

// Pages returns a Pager over req and its next-page cursors.
func (c *Client) Pages(req *types.Request) *Pager {
	return &Pager{c: c, first: req}
}

// Next fetches the next page. ok is false once the cursor chain ends; env is
// nil in that case.
func (p *Pager) Next(ctx context.Context) (env *types.Envelope, ok bool, err error) {
	if p.done {
		return nil, false, nil
	}

	req := p.first
	if p.begun {
		if p.cursor == "" {
			p.done = true
			return nil, false, nil
		}
		// cursors are absolute URLs; carry over the auth requirement
		req = &types.Request{Method: "GET", URL: p.cursor, NoAuth: p.first.NoAuth}
	}
	p.begun = true

	env, err = p.c.Call(ctx, req)
	if err != nil {
		p.done = true
		return nil, false, err
	}
	p.cursor = env.Next
	return env, true, nil
}

// Collect drains the remaining pages and concatenates their Results.
func (p *Pager) Collect(ctx context.Context) ([]*types.Envelope, error) {
	var out []*types.Envelope
	for {
		env, ok, err := p.Next(ctx)
		if err != nil {
			return out, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, env)
	}
}
