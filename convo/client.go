package convo

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/url"
	"sync"

	"github.com/coder/websocket"
	"github.com/talentloop/convo/pkg/model"
)

// Client is the high-level SDK handle for one topic: it subscribes to the
// gateway's fan-out stream, reconciles it into a Thread, and routes every
// write through the REST boundary.
type Client struct {
	cfg        Config
	topic      model.Topic
	logger     Logger
	rest       *REST
	thread     *Thread
	paginator  *Paginator
	dispatcher Dispatcher

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	cancel    context.CancelFunc
}

// NewClient constructs a client for one topic. Use DefaultConfig() as a
// starting point and modify as needed.
func NewClient(cfg Config, topic model.Topic) (*Client, error) {
	if cfg.UserID == "" {
		return nil, errors.New("config needs UserID")
	}
	if topic.IsZero() {
		return nil, errors.New("topic needs candidate and job")
	}

	rest := NewREST(cfg.APIBaseURL)
	rest.SetToken(cfg.Token)
	thread := NewThread(topic, cfg)

	return &Client{
		cfg:       cfg,
		topic:     topic,
		logger:    noopLogger{},
		rest:      rest,
		thread:    thread,
		paginator: NewPaginator(rest, thread, cfg.PageSize),
	}, nil
}

// SetLogger overrides logger (optional).
func (c *Client) SetLogger(l Logger) {
	if l == nil {
		return
	}
	c.logger = l
}

// Thread exposes the reconciled view.
func (c *Client) Thread() *Thread { return c.thread }

// REST exposes the write-boundary client for calls the SDK does not wrap.
func (c *Client) REST() *REST { return c.rest }

// Callback registration, routed through the dispatcher.
func (c *Client) OnMessageInserted(fn func(model.Message)) { c.dispatcher.SetOnMessageInserted(fn) }
func (c *Client) OnMessageUpdated(fn func(model.Message))  { c.dispatcher.SetOnMessageUpdated(fn) }
func (c *Client) OnMessageDeleted(fn func(int64))          { c.dispatcher.SetOnMessageDeleted(fn) }
func (c *Client) OnReaction(fn func(model.ReactionDelta))  { c.dispatcher.SetOnReaction(fn) }
func (c *Client) OnTyping(fn func(model.TypingEvent))      { c.dispatcher.SetOnTyping(fn) }
func (c *Client) OnReadReceipt(fn func(model.ReadReceipt)) { c.dispatcher.SetOnReadReceipt(fn) }
func (c *Client) OnError(fn func(error))                   { c.dispatcher.SetOnError(fn) }

// Connect loads the head page, dials the gateway and starts the read loop.
func (c *Client) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.connected {
		c.mu.Unlock()
		return errors.New("already connected")
	}
	c.mu.Unlock()

	if c.cfg.GatewayURL == "" {
		return errors.New("empty GatewayURL")
	}

	// Head page first, so live events land on a seeded thread.
	page, err := c.rest.ListMessages(ctx, c.topic, c.pageSize(), 0)
	if err != nil {
		return err
	}
	c.thread.Seed(page)

	u, err := url.Parse(c.cfg.GatewayURL)
	if err != nil {
		return err
	}
	q := u.Query()
	q.Set("candidate", c.topic.CandidateID)
	q.Set("job", c.topic.JobID)
	q.Set("token", c.cfg.Token)
	u.RawQuery = q.Encode()

	dialCtx := ctx
	if c.cfg.HandshakeTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
		defer cancel()
	}

	ws, _, err := websocket.Dial(dialCtx, u.String(), nil)
	if err != nil {
		return WrapError(ErrorTransport, "dial gateway", err)
	}
	ws.SetReadLimit(1 << 20)

	runCtx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.conn = ws
	c.connected = true
	c.cancel = cancel
	c.mu.Unlock()

	go c.readLoop(runCtx, ws)
	return nil
}

// Send stages an optimistic message and issues the write. The returned
// token identifies the entry until its insert event confirms it; on a
// rejected write the entry is marked failed, never silently dropped.
func (c *Client) Send(ctx context.Context, text string, opts ...SendOption) (string, error) {
	var o sendOptions
	for _, opt := range opts {
		opt(&o)
	}

	token, err := c.thread.StageSend(text, o.replyTo, o.attachment, o.attachmentRef)
	if err != nil {
		return "", err
	}

	req := SendRequest{
		Text:          text,
		CorrelationID: token,
		AttachmentRef: o.attachmentRef,
	}
	if o.replyTo != nil {
		req.ReplyToID = o.replyTo.ID
	}

	if _, err := c.rest.SendMessage(ctx, c.topic, req); err != nil {
		c.thread.MarkFailed(token)
		return token, WrapError(ErrorWriteRejected, "send rejected at write boundary", err)
	}
	return token, nil
}

// RetrySend re-issues a failed send under its original token.
func (c *Client) RetrySend(ctx context.Context, token string) error {
	if !c.thread.Restage(token) {
		return NewError(ErrorNotFound, "no failed send with that token")
	}

	entry, ok := c.stagedEntry(token)
	if !ok {
		return NewError(ErrorNotFound, "no failed send with that token")
	}

	req := SendRequest{Text: entry.Text, CorrelationID: token, AttachmentRef: entry.AttachmentRef}
	if entry.ReplyTo != nil {
		req.ReplyToID = entry.ReplyTo.ID
	}
	if _, err := c.rest.SendMessage(ctx, c.topic, req); err != nil {
		c.thread.MarkFailed(token)
		return WrapError(ErrorWriteRejected, "retry rejected at write boundary", err)
	}
	return nil
}

// DiscardSend drops a failed optimistic entry.
func (c *Client) DiscardSend(token string) {
	c.thread.Discard(token)
}

func (c *Client) stagedEntry(token string) (ThreadMessage, bool) {
	for _, m := range c.thread.Messages() {
		if m.Token == token {
			return m, true
		}
	}
	return ThreadMessage{}, false
}

func (c *Client) Edit(ctx context.Context, id int64, text string) error {
	_, err := c.rest.EditMessage(ctx, c.topic, id, text)
	return err
}

func (c *Client) Delete(ctx context.Context, id int64) error {
	return c.rest.DeleteMessage(ctx, c.topic, id)
}

func (c *Client) React(ctx context.Context, id int64, emoji string) error {
	return c.rest.AddReaction(ctx, c.topic, id, emoji)
}

func (c *Client) Unreact(ctx context.Context, id int64, emoji string) error {
	return c.rest.RemoveReaction(ctx, c.topic, id, emoji)
}

func (c *Client) MarkRead(ctx context.Context) error {
	return c.rest.MarkRead(ctx, c.topic)
}

// Upload commits a file and returns the reference for a later Send.
func (c *Client) Upload(ctx context.Context, name, mimeType string, r io.Reader) (*UploadResult, error) {
	return c.rest.Upload(ctx, c.topic, name, mimeType, r)
}

// LoadOlder pages backward through history. See Paginator.LoadOlder.
func (c *Client) LoadOlder(ctx context.Context) ([]model.Message, bool, error) {
	msgs, hasMore, err := c.paginator.LoadOlder(ctx)
	if IsStaleCursor(err) {
		c.logger.Warn("stale cursor, restarting from live head", nil)
		if resetErr := c.paginator.Reset(ctx); resetErr != nil {
			return nil, false, resetErr
		}
		return nil, c.thread.HasMore(), nil
	}
	return msgs, hasMore, err
}

// StartTyping broadcasts that the user is typing. Best-effort: failures are
// logged, not surfaced.
func (c *Client) StartTyping(ctx context.Context) {
	c.writeFrame(ctx, "typing.start")
}

// StopTyping broadcasts an explicit stop. Without it the server TTL expires
// the entry on its own.
func (c *Client) StopTyping(ctx context.Context) {
	c.writeFrame(ctx, "typing.stop")
}

func (c *Client) writeFrame(ctx context.Context, frameType string) {
	c.mu.Lock()
	conn, connected := c.conn, c.connected
	c.mu.Unlock()
	if !connected {
		return
	}

	if c.cfg.WriteTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.WriteTimeout)
		defer cancel()
	}

	raw, _ := json.Marshal(map[string]string{"type": frameType})
	if err := conn.Write(ctx, websocket.MessageText, raw); err != nil {
		c.logger.Warn("typing frame dropped", map[string]any{"error": err.Error()})
	}
}

// Close shuts the client down and closes the WebSocket.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	conn := c.conn
	c.conn = nil
	c.connected = false
	c.mu.Unlock()

	if conn != nil {
		return conn.Close(websocket.StatusNormalClosure, "client close")
	}
	return nil
}

func (c *Client) readLoop(ctx context.Context, ws *websocket.Conn) {
	for {
		_, raw, err := ws.Read(ctx)
		if err != nil {
			if isExpectedDisconnect(ctx, err) {
				return
			}
			c.dispatcher.fireError(WrapError(ErrorTransport, "read loop exit", err))
			c.logger.Warn("read loop exit", map[string]any{"error": err.Error()})
			return
		}

		var ev model.Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			// One malformed envelope never halts reconciliation.
			c.dispatcher.fireError(WrapError(ErrorSerialization, "malformed envelope", err))
			continue
		}
		if err := c.thread.Apply(ev); err != nil {
			c.dispatcher.fireError(err)
			continue
		}
		c.dispatcher.Dispatch(ev)
	}
}

func isExpectedDisconnect(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if ctx != nil && ctx.Err() != nil {
		return true
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	default:
		return false
	}
}

func (c *Client) pageSize() int {
	if c.cfg.PageSize > 0 {
		return c.cfg.PageSize
	}
	return DefaultConfig().PageSize
}

// SendOption customizes a Send.
type SendOption func(*sendOptions)

type sendOptions struct {
	replyTo       *model.ReplyRef
	attachment    *model.Attachment
	attachmentRef string
}

// WithReply marks the send as a reply to an existing message.
func WithReply(ref model.ReplyRef) SendOption {
	return func(o *sendOptions) { o.replyTo = &ref }
}

// WithAttachment references a committed upload. The optimistic entry shows
// the attachment immediately; the write boundary validates the reference.
func WithAttachment(res UploadResult) SendOption {
	return func(o *sendOptions) {
		o.attachmentRef = res.Ref
		o.attachment = &model.Attachment{URL: res.URL, Name: res.Name, Size: res.Size, MimeType: res.Type}
	}
}
