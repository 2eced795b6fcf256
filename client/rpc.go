package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	amqperrors "github.com/maxpert/amqp-go-client/errors"
	"github.com/maxpert/amqp-go-client/protocol"
)

type callResult struct {
	resp *Response
	err  error
}

// pendingCall is the single outstanding synchronous request of a channel.
type pendingCall struct {
	request string
	expect  []protocol.MethodKey
	// done has room for exactly one result
	done chan callResult
}

func (p *pendingCall) expects(key protocol.MethodKey) bool {
	for _, k := range p.expect {
		if k == key {
			return true
		}
	}
	return false
}

func (p *pendingCall) expected() string {
	names := make([]string, len(p.expect))
	for i, k := range p.expect {
		names[i] = k.String()
	}
	return strings.Join(names, " or ")
}

// finishLocked delivers the call's outcome. c.mu must be held.
func (c *Channel) finishLocked(p *pendingCall, resp *Response, err error) {
	if c.pending == p {
		c.pending = nil
	}
	select {
	case p.done <- callResult{resp: resp, err: err}:
	default:
	}
}

// usableLocked returns why the channel cannot carry a request, if it cannot.
func (c *Channel) usableLocked(op string) error {
	if c.released {
		return &amqperrors.UsageError{ChannelID: c.id, Op: op, Reason: amqperrors.ErrChannelReleased}
	}
	return c.failure
}

// call sends req and waits for one of its expected replies.
func (c *Channel) call(ctx context.Context, req protocol.Method) (*Response, error) {
	key, ok := protocol.KeyOf(req)
	expect := expectedReplies[key]
	if !ok || len(expect) == 0 {
		return nil, fmt.Errorf("%s is not a synchronous method", protocol.MethodName(req))
	}
	name := key.String()

	if !c.inFlight.CompareAndSwap(false, true) {
		return nil, &amqperrors.UsageError{ChannelID: c.id, Op: name, Reason: amqperrors.ErrConcurrentCall}
	}
	defer c.inFlight.Store(false)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	frame, err := c.conn.codec.EncodeMethod(c.id, req)
	if err != nil {
		return nil, err
	}

	p := &pendingCall{request: name, expect: expect, done: make(chan callResult, 1)}

	c.mu.Lock()
	if err := c.usableLocked(name); err != nil {
		c.mu.Unlock()
		return nil, err
	}
	c.pending = p
	c.wireOpen = true
	c.mu.Unlock()

	start := c.conn.clock.Now()
	if err := c.conn.transport.Send(frame); err != nil {
		c.mu.Lock()
		if c.pending == p {
			c.pending = nil
		}
		c.mu.Unlock()
		c.conn.metrics.RecordRPCError(name, "transport")
		return nil, err
	}

	resp, err := c.wait(ctx, p, start)
	if err != nil {
		c.conn.metrics.RecordRPCError(name, errorKind(err))
		return nil, err
	}
	c.conn.metrics.RecordRPC(name, c.conn.clock.Since(start))
	return resp, nil
}

func (c *Channel) wait(ctx context.Context, p *pendingCall, start time.Time) (*Response, error) {
	timeout := c.conn.cfg.RPC.Timeout
	timer := c.conn.clock.Timer(timeout)
	defer timer.Stop()

	select {
	case res := <-p.done:
		return res.resp, res.err
	case <-timer.C:
		return c.abandon(p, &amqperrors.TimeoutError{ChannelID: c.id, Method: p.request, After: timeout})
	case <-ctx.Done():
		cause := ctx.Err()
		if !errors.Is(cause, context.DeadlineExceeded) {
			return c.abandon(p, &amqperrors.UsageError{ChannelID: c.id, Op: p.request, Reason: cause})
		}
		return c.abandon(p, &amqperrors.TimeoutError{
			ChannelID: c.id,
			Method:    p.request,
			After:     c.conn.clock.Since(start),
			Cause:     cause,
		})
	}
}

// abandon gives up on p. A reply arriving later finds no pending call, so
// the channel is marked unusable.
func (c *Channel) abandon(p *pendingCall, err error) (*Response, error) {
	c.mu.Lock()
	if c.pending != p {
		// The outcome was delivered while we were giving up.
		c.mu.Unlock()
		res := <-p.done
		return res.resp, res.err
	}
	c.pending = nil
	if c.failure == nil && !c.released {
		c.failure = err
	}
	c.mu.Unlock()

	c.log.Warn("Call abandoned", zap.String("method", p.request), zap.Error(err))
	return nil, err
}

// send writes a method that has no reply.
func (c *Channel) send(m protocol.Method) error {
	name := protocol.MethodName(m)

	c.mu.Lock()
	err := c.usableLocked(name)
	c.mu.Unlock()
	if err != nil {
		return err
	}

	frame, err := c.conn.codec.EncodeMethod(c.id, m)
	if err != nil {
		return err
	}
	return c.conn.transport.Send(frame)
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, amqperrors.ErrTimeout):
		return "timeout"
	case errors.Is(err, amqperrors.ErrProtocol):
		return "protocol"
	case errors.Is(err, amqperrors.ErrCanceled), errors.Is(err, amqperrors.ErrChannelReleased), errors.Is(err, amqperrors.ErrConcurrentCall):
		return "usage"
	case errors.Is(err, amqperrors.ErrConnectionClosed):
		return "connection"
	default:
		return "other"
	}
}
