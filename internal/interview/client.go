// Package interview is the client side of the interview socket: the single
// authoritative channel between the candidate and the remote interview
// session.
//
// A [Client] turns a raw duplex socket into a typed message stream. It
// guards against duplicate sockets for the same session, reconnects after
// unexpected closures with exponential backoff, sheds audio under
// backpressure, and keeps the socket alive while a recording runs.
//
// Inbound messages are delivered to OnMessage strictly in arrival order on
// the client's read goroutine.
package interview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MrWong99/mockview/internal/observe"
	"github.com/MrWong99/mockview/internal/resilience"
	"github.com/MrWong99/mockview/pkg/audio"
)

var (
	// ErrNotOpen is returned by every send while the socket is not open.
	// Nothing is queued for later delivery.
	ErrNotOpen = errors.New("interview: socket is not open")

	// ErrReconnectExhausted is reported through OnError once the reconnect
	// budget is spent. Automatic recovery stops until Connect is called.
	ErrReconnectExhausted = errors.New("interview: reconnect attempts exhausted")

	// ErrConnectionReplaced is reported through OnError when another socket
	// took over the session.
	ErrConnectionReplaced = errors.New("interview: connection replaced by another client")
)

// disconnectReason is the close reason of an intentional [Client.Disconnect].
const disconnectReason = "client disconnect"

// writeTimeout bounds a single frame write.
const writeTimeout = 10 * time.Second

// Defaults applied by [New].
const (
	DefaultReconnectBase         = time.Second
	DefaultMaxReconnectAttempts  = 5
	DefaultBackpressureThreshold = 3 * 1024 * 1024
	DefaultPingInterval          = 10 * time.Second
)

// State is the connection state of a [Client].
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosing
)

// String returns the human-readable name of s.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Options configures a [Client].
type Options struct {
	// URL is the full socket URL for one interview. Required.
	URL string

	// Token is sent as a bearer token on the handshake.
	Token string

	// Dialer defaults to [WebsocketDialer].
	Dialer Dialer

	ReconnectBase         time.Duration
	MaxReconnectAttempts  int
	BackpressureThreshold int
	PingInterval          time.Duration

	// OnMessage receives every inbound message except pong.
	OnMessage func(Message)

	// OnStateChange receives every connection state change.
	OnStateChange func(State)

	// OnReconnecting fires when a reconnect is scheduled.
	OnReconnecting func(attempt int, delay time.Duration)

	// OnError receives terminal transport errors.
	OnError func(error)

	// Metrics defaults to [observe.DefaultMetrics].
	Metrics *observe.Metrics
}

// Client is the interview socket client. All methods are safe for
// concurrent use.
type Client struct {
	opts    Options
	metrics *observe.Metrics

	mu        sync.Mutex
	state     State
	guard     bool
	gen       uint64
	link      *link
	attempts  int
	reconnect *reconnectRun
	keepalive context.CancelFunc

	dropped atomic.Int64
}

type reconnectRun struct {
	cancel context.CancelFunc
}

// New returns an idle Client.
func New(opts Options) *Client {
	if opts.Dialer == nil {
		opts.Dialer = WebsocketDialer{}
	}
	if opts.ReconnectBase <= 0 {
		opts.ReconnectBase = DefaultReconnectBase
	}
	if opts.MaxReconnectAttempts <= 0 {
		opts.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if opts.BackpressureThreshold <= 0 {
		opts.BackpressureThreshold = DefaultBackpressureThreshold
	}
	if opts.PingInterval <= 0 {
		opts.PingInterval = DefaultPingInterval
	}
	m := opts.Metrics
	if m == nil {
		m = observe.DefaultMetrics()
	}
	return &Client{opts: opts, metrics: m}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Reconnecting reports whether a reconnect is scheduled or in progress.
func (c *Client) Reconnecting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reconnect != nil
}

// BufferedAmount returns the number of outbound bytes queued or in flight.
func (c *Client) BufferedAmount() int {
	c.mu.Lock()
	l := c.link
	c.mu.Unlock()
	if l == nil {
		return 0
	}
	return int(l.buffered.Load())
}

// Dropped returns how many audio chunks were shed under backpressure.
func (c *Client) Dropped() int64 { return c.dropped.Load() }

// Connect opens the socket. While a connection attempt is pending or the
// socket is open it returns nil without dialing. A manual Connect cancels any
// scheduled reconnect and resets the attempt budget.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.guard {
		c.mu.Unlock()
		return nil
	}
	c.stopReconnectLocked()
	c.attempts = 0
	c.mu.Unlock()
	return c.dial(ctx)
}

func (c *Client) dial(ctx context.Context) error {
	c.mu.Lock()
	if c.guard {
		c.mu.Unlock()
		return nil
	}
	c.guard = true
	gen := c.gen
	c.state = StateConnecting
	c.mu.Unlock()
	c.notifyState(StateConnecting)

	header := http.Header{}
	if c.opts.Token != "" {
		header.Set("Authorization", "Bearer "+c.opts.Token)
	}
	ctx, span := observe.StartSpan(ctx, "interview.dial")
	observe.InjectHeaders(ctx, header)
	conn, err := c.opts.Dialer.Dial(ctx, c.opts.URL, header)
	observe.EndSpan(span, err)

	c.mu.Lock()
	if gen != c.gen {
		// Disconnect ran while dialing.
		c.mu.Unlock()
		if conn != nil {
			_ = conn.Close(StatusNormalClosure, disconnectReason)
		}
		return nil
	}
	if err != nil {
		c.guard = false
		c.state = StateIdle
		c.mu.Unlock()
		c.notifyState(StateIdle)
		return fmt.Errorf("interview: dial: %w", err)
	}
	l := newLink(conn)
	c.link = l
	c.attempts = 0
	c.reconnect = nil
	c.state = StateOpen
	c.mu.Unlock()
	c.notifyState(StateOpen)

	slog.Info("interview: socket open", "url", c.opts.URL)
	go l.writeLoop()
	go c.readLoop(l)
	return nil
}

// readLoop is the single inbound dispatcher for one connection.
func (c *Client) readLoop(l *link) {
	ctx := context.Background()
	for {
		data, err := l.conn.Read(ctx)
		if err != nil {
			c.handleClose(l, err)
			return
		}
		msg, err := Decode(data)
		if err != nil {
			if errors.Is(err, ErrUnknownType) {
				slog.Debug("interview: skipping message", "err", err)
			} else {
				slog.Warn("interview: malformed message", "err", err)
			}
			continue
		}
		c.metrics.RecordSocketMessage(ctx, "in", string(msg.Type()))
		switch msg.(type) {
		case Pong:
			continue
		case ConnectionReplaced:
			l.replaced.Store(true)
		}
		if c.opts.OnMessage != nil {
			c.opts.OnMessage(msg)
		}
	}
}

// closeStatus extracts the close code and reason from a read error. Errors
// without a close frame count as abnormal closures.
func closeStatus(err error) (code int, reason string) {
	var ce *CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Reason
	}
	return StatusAbnormalClosure, ""
}

// shouldReconnect classifies a closure. Replacement signals and
// policy/protocol/server errors are terminal; everything else is retried.
func shouldReconnect(code int, reason string, replaced bool) bool {
	if replaced {
		return false
	}
	switch code {
	case StatusPolicyViolation, StatusProtocolError, StatusInternalError:
		return false
	case StatusNormalClosure:
		r := strings.ToLower(reason)
		if strings.Contains(r, "new connection") || strings.Contains(r, "replaced") {
			return false
		}
	}
	return true
}

func (c *Client) handleClose(l *link, err error) {
	c.mu.Lock()
	if c.link != l {
		// Intentional disconnect or stale connection.
		c.mu.Unlock()
		return
	}
	c.link = nil
	c.guard = false
	c.state = StateIdle
	c.mu.Unlock()
	l.shutdown()
	c.notifyState(StateIdle)

	code, reason := closeStatus(err)
	replaced := l.replaced.Load()
	retry := shouldReconnect(code, reason, replaced)
	slog.Info("interview: socket closed", "code", code, "reason", reason, "reconnect", retry)

	switch {
	case retry:
		c.startReconnect()
	case replaced || code == StatusNormalClosure:
		c.reportError(ErrConnectionReplaced)
	default:
		c.reportError(&CloseError{Code: code, Reason: reason})
	}
}

func (c *Client) startReconnect() {
	c.mu.Lock()
	if c.reconnect != nil {
		c.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r := &reconnectRun{cancel: cancel}
	c.reconnect = r
	c.mu.Unlock()
	go c.reconnectLoop(ctx, r)
}

func (c *Client) reconnectLoop(ctx context.Context, r *reconnectRun) {
	defer func() {
		c.mu.Lock()
		if c.reconnect == r {
			c.reconnect = nil
		}
		c.mu.Unlock()
		r.cancel()
	}()

	for {
		c.mu.Lock()
		if ctx.Err() != nil {
			c.mu.Unlock()
			return
		}
		attempt := c.attempts
		if attempt >= c.opts.MaxReconnectAttempts {
			c.mu.Unlock()
			slog.Error("interview: giving up reconnecting", "attempts", attempt)
			c.reportError(ErrReconnectExhausted)
			return
		}
		c.attempts++
		c.mu.Unlock()

		delay := resilience.Backoff(c.opts.ReconnectBase, attempt)
		c.metrics.ReconnectAttempts.Add(ctx, 1)
		slog.Info("interview: reconnecting",
			"attempt", attempt+1,
			"max_attempts", c.opts.MaxReconnectAttempts,
			"delay", delay,
		)
		if c.opts.OnReconnecting != nil {
			c.opts.OnReconnecting(attempt+1, delay)
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
		if err := c.dial(ctx); err != nil {
			slog.Warn("interview: reconnect failed", "attempt", attempt+1, "err", err)
			continue
		}
		return
	}
}

// stopReconnectLocked cancels a scheduled reconnect. Caller holds c.mu.
func (c *Client) stopReconnectLocked() {
	if c.reconnect != nil {
		c.reconnect.cancel()
		c.reconnect = nil
	}
}

// Disconnect closes the socket intentionally with code 1000. It cancels any
// scheduled reconnect and stops the keepalive. It is the only close that is
// never followed by a reconnect.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.gen++
	c.stopReconnectLocked()
	c.stopKeepaliveLocked()
	l := c.link
	c.link = nil
	c.guard = false
	if l != nil {
		c.state = StateClosing
	}
	c.mu.Unlock()

	if l != nil {
		c.notifyState(StateClosing)
		l.shutdown()
		if err := l.conn.Close(StatusNormalClosure, disconnectReason); err != nil {
			slog.Debug("interview: close", "err", err)
		}
	}

	c.mu.Lock()
	changed := c.state != StateIdle && !c.guard
	if changed {
		c.state = StateIdle
	}
	c.mu.Unlock()
	if changed {
		c.notifyState(StateIdle)
	}
	slog.Info("interview: disconnected")
}

// StartKeepalive sends a ping every PingInterval until StopKeepalive or
// Disconnect. Pings that find the socket closed are skipped. Calling it
// twice is a no-op.
func (c *Client) StartKeepalive() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.keepalive != nil {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.keepalive = cancel
	go func() {
		t := time.NewTicker(c.opts.PingInterval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if err := c.Ping(); err != nil {
					slog.Debug("interview: keepalive ping skipped", "err", err)
				}
			}
		}
	}()
}

// StopKeepalive stops the keepalive pings.
func (c *Client) StopKeepalive() {
	c.mu.Lock()
	c.stopKeepaliveLocked()
	c.mu.Unlock()
}

func (c *Client) stopKeepaliveLocked() {
	if c.keepalive != nil {
		c.keepalive()
		c.keepalive = nil
	}
}

func (c *Client) openLink() (*link, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateOpen || c.link == nil {
		return nil, ErrNotOpen
	}
	return c.link, nil
}

func (c *Client) send(t MessageType, data any) error {
	l, err := c.openLink()
	if err != nil {
		return err
	}
	b, err := encode(t, data)
	if err != nil {
		return err
	}
	l.enqueue(b)
	c.metrics.RecordSocketMessage(context.Background(), "out", string(t))
	return nil
}

// SendAudioChunk relays an aggregated chunk as an audio_chunk frame. While
// more than BackpressureThreshold bytes are queued the chunk is dropped and
// nil is returned; sending resumes once the queue drains.
func (c *Client) SendAudioChunk(chunk audio.Chunk) error {
	ctx := context.Background()
	l, err := c.openLink()
	if err != nil {
		c.metrics.RecordChunkDropped(ctx, "not_open")
		return err
	}
	if l.buffered.Load() > int64(c.opts.BackpressureThreshold) {
		n := c.dropped.Add(1)
		c.metrics.RecordChunkDropped(ctx, "backpressure")
		slog.Debug("interview: dropping audio chunk under backpressure",
			"buffered", l.buffered.Load(),
			"dropped_total", n,
		)
		return nil
	}
	b, err := encode(TypeAudioChunk, AudioChunkData{
		Chunk:      chunk.Encoded,
		SampleRate: chunk.SampleRate,
		Channels:   chunk.Channels,
	})
	if err != nil {
		return err
	}
	l.enqueue(b)
	c.metrics.RecordChunk(ctx, "backend")
	c.metrics.RecordSocketMessage(ctx, "out", string(TypeAudioChunk))
	return nil
}

// SubmitAnswer sends the final transcript of a recording.
func (c *Client) SubmitAnswer(interviewID, answer string) error {
	return c.send(TypeSubmitAnswer, SubmitAnswerData{InterviewID: interviewID, Answer: answer})
}

// SendAnswer sends a typed answer, optionally with code.
func (c *Client) SendAnswer(a Answer) error {
	return c.send(TypeAnswer, a)
}

// Ping sends a keepalive ping.
func (c *Client) Ping() error {
	return c.send(TypePing, nil)
}

func (c *Client) notifyState(s State) {
	if c.opts.OnStateChange != nil {
		c.opts.OnStateChange(s)
	}
}

func (c *Client) reportError(err error) {
	if c.opts.OnError != nil {
		c.opts.OnError(err)
	}
}

// link is one open connection with its outbound queue.
type link struct {
	conn Conn

	mu       sync.Mutex
	pending  [][]byte
	wake     chan struct{}
	done     chan struct{}
	once     sync.Once
	buffered atomic.Int64
	replaced atomic.Bool
}

func newLink(conn Conn) *link {
	return &link{
		conn: conn,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

func (l *link) enqueue(b []byte) {
	l.buffered.Add(int64(len(b)))
	l.mu.Lock()
	l.pending = append(l.pending, b)
	l.mu.Unlock()
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

func (l *link) pop() ([]byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.pending) == 0 {
		return nil, false
	}
	b := l.pending[0]
	l.pending[0] = nil
	l.pending = l.pending[1:]
	return b, true
}

func (l *link) writeLoop() {
	for {
		select {
		case <-l.done:
			return
		case <-l.wake:
		}
		for {
			select {
			case <-l.done:
				return
			default:
			}
			b, ok := l.pop()
			if !ok {
				break
			}
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err := l.conn.Write(ctx, b)
			cancel()
			l.buffered.Add(-int64(len(b)))
			if err != nil {
				slog.Debug("interview: write failed", "err", err)
				l.discard()
				return
			}
		}
	}
}

// discard drops every queued frame.
func (l *link) discard() {
	l.mu.Lock()
	for _, b := range l.pending {
		l.buffered.Add(-int64(len(b)))
	}
	l.pending = nil
	l.mu.Unlock()
}

func (l *link) shutdown() {
	l.once.Do(func() {
		close(l.done)
		l.discard()
	})
}
