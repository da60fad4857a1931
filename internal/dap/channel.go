package dap

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/go-dap"
	"github.com/rs/zerolog"

	bridgeerrors "github.com/ctagard/debug-bridge/internal/errors"
)

// DefaultRequestTimeout bounds a request when the channel is built without one
const DefaultRequestTimeout = 10 * time.Second

// Response is an inbound DAP response. The body is kept as raw JSON; the
// bridge passes it through and does not validate its contents.
type Response struct {
	dap.Response
	Body json.RawMessage `json:"body,omitempty"`
}

// Event is an inbound DAP event
type Event struct {
	dap.Event
	Body json.RawMessage `json:"body,omitempty"`

	// Raw is the complete message as read from the wire
	Raw []byte `json:"-"`
}

// request is an outbound DAP request with arbitrary arguments
type request struct {
	dap.Request
	Arguments any `json:"arguments,omitempty"`
}

// ChannelOptions configures a Channel
type ChannelOptions struct {
	// RequestTimeout bounds Wait when the caller sets no tighter deadline
	RequestTimeout time.Duration
	// OnEvent is called on the read goroutine for every event. It must not block.
	OnEvent func(*Event)
	Logger  zerolog.Logger
}

// Channel assigns sequence numbers to outgoing requests and correlates
// responses back to them. It is safe for concurrent senders. Once the
// underlying stream fails, every pending request fails with CHANNEL_CLOSED
// and the channel rejects further requests.
type Channel struct {
	transport *Transport
	timeout   time.Duration
	onEvent   func(*Event)
	logger    zerolog.Logger

	mu       sync.Mutex
	seq      int
	pending  map[int]*Pending
	closed   bool
	closeErr error
	done     chan struct{}

	initialized     chan struct{}
	initializedOnce sync.Once
}

// NewChannel starts reading from transport
func NewChannel(transport *Transport, opts ChannelOptions) *Channel {
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	c := &Channel{
		transport:   transport,
		timeout:     timeout,
		onEvent:     opts.OnEvent,
		logger:      opts.Logger,
		pending:     make(map[int]*Pending),
		done:        make(chan struct{}),
		initialized: make(chan struct{}),
	}

	go c.readLoop()

	return c
}

// Pending is an outstanding request. It is resolved exactly once: by its
// response, by the channel failing, or by the waiter giving up.
type Pending struct {
	Seq     int
	Command string

	ch   *Channel
	done chan struct{}
	resp *Response
	err  error
}

// Done is closed once the request is resolved
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the response arrives, the channel fails, or the request
// timeout of the channel (or ctx) expires.
func (p *Pending) Wait(ctx context.Context) (*Response, error) {
	return p.WaitTimeout(ctx, p.ch.timeout)
}

// WaitTimeout is Wait with an explicit timeout
func (p *Pending) WaitTimeout(ctx context.Context, timeout time.Duration) (*Response, error) {
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < timeout {
		timeout = time.Until(deadline)
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-p.done:
		return p.result()
	case <-timer.C:
	case <-ctx.Done():
	}

	if !p.ch.forget(p.Seq) {
		// Resolved while the timer fired; the response wins.
		<-p.done
		return p.result()
	}

	if err := ctx.Err(); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return nil, err
	}
	return nil, bridgeerrors.Timeout(p.Command, timeout.Round(time.Millisecond))
}

func (p *Pending) result() (*Response, error) {
	if p.err != nil {
		return nil, p.err
	}
	if !p.resp.Success {
		return nil, bridgeerrors.ProtocolRejected(p.Command, rejectionMessage(p.resp))
	}
	return p.resp, nil
}

// resolve must be called with the channel mutex held, after the pending
// entry has been removed from the map.
func (p *Pending) resolve(resp *Response, err error) {
	p.resp = resp
	p.err = err
	close(p.done)
}

// Start sends a request and returns its pending handle without waiting
func (c *Channel) Start(command string, args any) *Pending {
	c.mu.Lock()
	if c.closed {
		p := &Pending{Command: command, ch: c, done: make(chan struct{})}
		p.resolve(nil, c.closeErr)
		c.mu.Unlock()
		return p
	}
	c.seq++
	p := &Pending{Seq: c.seq, Command: command, ch: c, done: make(chan struct{})}
	c.pending[p.Seq] = p
	c.mu.Unlock()

	req := request{
		Request: dap.Request{
			ProtocolMessage: dap.ProtocolMessage{Seq: p.Seq, Type: "request"},
			Command:         command,
		},
		Arguments: args,
	}

	c.logger.Debug().Int("seq", p.Seq).Str("command", command).Msg("sending request")

	if err := c.transport.Write(req); err != nil {
		c.fail(err)
	}
	return p
}

// Send sends a request and waits for its response
func (c *Channel) Send(ctx context.Context, command string, args any) (*Response, error) {
	return c.Start(command, args).Wait(ctx)
}

// Initialized is closed when the adapter sends the initialized event
func (c *Channel) Initialized() <-chan struct{} {
	return c.initialized
}

// Closed is closed when the channel reaches its terminal state
func (c *Channel) Closed() <-chan struct{} {
	return c.done
}

// IsClosed reports whether the channel reached its terminal state
func (c *Channel) IsClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// Close fails all pending requests and closes the stream
func (c *Channel) Close() error {
	c.fail(nil)
	return nil
}

// forget removes a pending entry whose waiter gave up. It reports false if
// the entry was already resolved.
func (c *Channel) forget(seq int) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.pending[seq]; !ok {
		return false
	}
	delete(c.pending, seq)
	return true
}

// fail moves the channel to its terminal state
func (c *Channel) fail(cause error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.closeErr = bridgeerrors.ChannelClosed(cause)
	for seq, p := range c.pending {
		delete(c.pending, seq)
		p.resolve(nil, c.closeErr)
	}
	close(c.done)
	c.mu.Unlock()

	if cause != nil {
		c.logger.Warn().Err(cause).Msg("channel closed")
	} else {
		c.logger.Debug().Msg("channel closed")
	}
	_ = c.transport.Close()
}

// readLoop reads messages until the stream fails
func (c *Channel) readLoop() {
	for {
		raw, err := c.transport.ReadRaw()
		if err != nil {
			c.fail(err)
			return
		}
		c.handleMessage(raw)
	}
}

// handleMessage routes one inbound message
func (c *Channel) handleMessage(raw []byte) {
	var envelope dap.ProtocolMessage
	if err := json.Unmarshal(raw, &envelope); err != nil {
		c.logger.Warn().Err(err).Msg("dropping malformed message")
		return
	}

	switch envelope.Type {
	case "response":
		var resp Response
		if err := json.Unmarshal(raw, &resp); err != nil {
			c.logger.Warn().Err(err).Msg("dropping malformed response")
			return
		}
		c.handleResponse(&resp)

	case "event":
		var evt Event
		if err := json.Unmarshal(raw, &evt); err != nil {
			c.logger.Warn().Err(err).Msg("dropping malformed event")
			return
		}
		evt.Raw = raw
		c.handleEvent(&evt)

	case "request":
		var req dap.Request
		_ = json.Unmarshal(raw, &req)
		c.logger.Info().Str("command", req.Command).Msg("ignoring reverse request from adapter")

	default:
		c.logger.Warn().Str("type", envelope.Type).Msg("dropping message of unknown type")
	}
}

func (c *Channel) handleResponse(resp *Response) {
	c.mu.Lock()
	p, ok := c.pending[resp.RequestSeq]
	if ok {
		delete(c.pending, resp.RequestSeq)
		p.resolve(resp, nil)
	}
	c.mu.Unlock()

	if !ok {
		c.logger.Warn().
			Int("request_seq", resp.RequestSeq).
			Str("command", resp.Command).
			Msg("dropping response with no pending request")
	}
}

func (c *Channel) handleEvent(evt *Event) {
	c.logger.Debug().Str("event", evt.Event.Event).Msg("received event")

	if evt.Event.Event == "initialized" {
		c.initializedOnce.Do(func() {
			close(c.initialized)
		})
	}

	if c.onEvent != nil {
		c.onEvent(evt)
	}
}

// rejectionMessage formats the error of a failed response, including the
// structured error body if the adapter sent one.
func rejectionMessage(resp *Response) string {
	msg := resp.Message
	if len(resp.Body) == 0 {
		return msg
	}

	var body dap.ErrorResponseBody
	if err := json.Unmarshal(resp.Body, &body); err != nil || body.Error == nil || body.Error.Format == "" {
		return msg
	}

	detail := body.Error.Format
	for k, v := range body.Error.Variables {
		detail = strings.ReplaceAll(detail, "{"+k+"}", v)
	}
	if msg == "" || msg == detail {
		return detail
	}
	return fmt.Sprintf("%s: %s", msg, detail)
}
