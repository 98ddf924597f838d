// Lightweight context propagation for control-socket round trips,
// generalized from client/context_client.go's role of attaching
// cancellation to otherwise blocking client workflows.
//
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package clientshim

import (
	"context"
	"time"

	"github.com/openperf/corenet/errs"
	"github.com/openperf/corenet/internal/socket"
)

// acceptPollInterval paces AcceptContext's retry loop.
const acceptPollInterval = 20 * time.Millisecond

// AcceptContext blocks until a connection is accepted, ctx is
// canceled, or ctx's deadline passes, polling Accept at a fixed
// interval since the control protocol has no blocking-accept verb of
// its own.
func (c *Client) AcceptContext(ctx context.Context, id SocketID) (SocketID, error) {
	for {
		newID, err := c.Accept(id)
		if err == nil {
			return newID, nil
		}
		if errs.CodeOf(err) != errs.Timeout {
			return 0, err
		}
		select {
		case <-ctx.Done():
			return 0, errs.Wrap(errs.Timeout, "AcceptContext canceled", ctx.Err())
		case <-time.After(acceptPollInterval):
		}
	}
}

// CallContext round-trips req, honoring ctx cancellation in addition
// to the client's own RequestTimeout; whichever fires first wins.
func (c *Client) CallContext(ctx context.Context, req *socket.Request) (*socket.Reply, error) {
	type result struct {
		rep *socket.Reply
		err error
	}
	done := make(chan result, 1)
	go func() {
		rep, _, err := c.call(req)
		done <- result{rep, err}
	}()
	select {
	case r := <-done:
		return r.rep, r.err
	case <-ctx.Done():
		return nil, errs.Wrap(errs.Timeout, "control socket call canceled", ctx.Err())
	}
}
