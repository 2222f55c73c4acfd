package client

import (
	"context"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"live-leaderboard-service/internal/domain"
	"live-leaderboard-service/internal/protocol"
)

type msg interface{ isClientMsg() }

type startMsg struct {
	eval  domain.Evaluation
	reply chan error
}

func (startMsg) isClientMsg() {}

type answerMsg struct {
	questionID string
	answer     string
	reply      chan answerResult
}

func (answerMsg) isClientMsg() {}

type answerResult struct {
	answer Answer
	err    error
}

type navigateMsg struct {
	delta int
	reply chan View
}

func (navigateMsg) isClientMsg() {}

type finishMsg struct{ reply chan View }

func (finishMsg) isClientMsg() {}

type viewMsg struct{ reply chan View }

func (viewMsg) isClientMsg() {}

// View is a consistent read of the client's state.
type View struct {
	State        State         `json:"state"`
	Score        int           `json:"score"`
	Answered     int           `json:"answered"`
	Progress     int           `json:"progress"`
	Accuracy     int           `json:"accuracy"`
	CurrentIndex int           `json:"currentIndex"`
	Remaining    time.Duration `json:"remaining"`
	Elapsed      time.Duration `json:"elapsed"`
	Leaderboard  Leaderboard   `json:"leaderboard"`
}

// Dialer opens a fresh transport after the current one is lost.
type Dialer func(ctx context.Context) (Transport, error)

// Client drives a Session over a Transport. Answer submission, timer ticks and
// snapshot reconciliation all run on the Run goroutine, one at a time.
type Client struct {
	session    *Session
	transport  Transport
	logger     *zap.Logger
	now        func() time.Time
	pollEvery  time.Duration
	onUpdate   func(View)
	dial       Dialer
	retryDelay time.Duration
	retryMax   time.Duration

	inbox chan msg
	done  chan struct{}

	// Owned by the Run goroutine. transport is nil while reconnecting; owned
	// marks a transport the client dialed itself and must close.
	last     domain.Snapshot
	haveLast bool
	owned    bool
}

// ClientOption customizes a Client.
type ClientOption func(*Client)

// WithLogger sets the client logger.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// WithPollInterval sets how often the client requests a snapshot and advances
// the session timer. Zero disables polling.
func WithPollInterval(d time.Duration) ClientOption {
	return func(c *Client) { c.pollEvery = d }
}

// WithOnUpdate registers fn to receive a View after every state change.
// fn runs on the client goroutine and must not call back into the Client.
func WithOnUpdate(fn func(View)) ClientOption {
	return func(c *Client) { c.onUpdate = fn }
}

// WithClock overrides the time source for the session timer (tests).
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) { c.now = now }
}

// WithReconnect makes Run re-dial instead of returning when the transport drops.
// Attempts back off exponentially from minDelay up to maxDelay.
func WithReconnect(dial Dialer, minDelay, maxDelay time.Duration) ClientOption {
	if minDelay <= 0 {
		minDelay = 500 * time.Millisecond
	}
	return func(c *Client) {
		c.dial = dial
		c.retryDelay = minDelay
		c.retryMax = maxDelay
	}
}

// NewClient builds a client for session over transport. Call Run before any
// other method.
func NewClient(session *Session, transport Transport, opts ...ClientOption) *Client {
	c := &Client{
		session:   session,
		transport: transport,
		logger:    zap.NewNop(),
		now:       time.Now,
		pollEvery: 3 * time.Second,
		inbox:     make(chan msg, 16),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run processes events until ctx is done. When the transport disconnects it
// returns domain.ErrDisconnected, unless WithReconnect is set: then it keeps
// the session going locally, re-dials, and re-announces the participant on the
// new transport.
func (c *Client) Run(ctx context.Context) error {
	defer close(c.done)
	defer func() {
		if c.owned && c.transport != nil {
			_ = c.transport.Close()
		}
	}()

	var tick <-chan time.Time
	if c.pollEvery > 0 {
		ticker := time.NewTicker(c.pollEvery)
		defer ticker.Stop()
		tick = ticker.C
	}
	snapshots := c.transport.Snapshots()
	var redialed chan Transport

	for {
		select {
		case <-ctx.Done():
			return nil

		case snap, ok := <-snapshots:
			if !ok {
				if c.dial == nil {
					return domain.ErrDisconnected
				}
				snapshots = nil
				c.detach()
				redialed = make(chan Transport, 1)
				go c.redial(ctx, redialed)
				break
			}
			c.apply(snap)

		case tr := <-redialed:
			redialed = nil
			c.attach(ctx, tr)
			snapshots = tr.Snapshots()

		case <-tick:
			if c.session.Tick(c.now()) {
				c.logger.Info("time limit reached",
					zap.String("participant_id", c.session.ParticipantID()),
					zap.Int("score", c.session.Score()))
				c.notify()
			}
			if c.transport == nil {
				break
			}
			if err := c.transport.Send(ctx, protocol.TypeSnapshotRequest, nil); err != nil {
				c.logger.Warn("poll snapshot", zap.Error(err))
			}

		case m := <-c.inbox:
			c.handle(ctx, m)
		}
	}
}

func (c *Client) handle(ctx context.Context, m msg) {
	switch m := m.(type) {
	case startMsg:
		c.session.Start(m.eval)
		err := c.push(ctx, protocol.TypeParticipantUpsert, c.session.SelfEntry())
		c.rerender()
		m.reply <- err

	case answerMsg:
		before := c.session.Score()
		a, err := c.session.SubmitAnswer(m.questionID, m.answer)
		if err == nil {
			if c.session.Score() < before {
				// The hub only accepts rising scores through score.update.
				err = c.push(ctx, protocol.TypeParticipantUpsert, c.session.SelfEntry())
			} else {
				err = c.push(ctx, protocol.TypeScoreUpdate, protocol.ScoreUpdate{
					ParticipantID:     c.session.ParticipantID(),
					Score:             c.session.Score(),
					AnsweredQuestions: c.session.Answered(),
				})
			}
			// The local render does not wait for the server's broadcast.
			c.rerender()
		}
		m.reply <- answerResult{answer: a, err: err}

	case navigateMsg:
		switch {
		case m.delta > 0:
			c.session.NextQuestion()
		case m.delta < 0:
			c.session.PreviousQuestion()
		}
		m.reply <- c.view()

	case finishMsg:
		c.session.Finish()
		c.notify()
		m.reply <- c.view()

	case viewMsg:
		m.reply <- c.view()
	}
}

func (c *Client) push(ctx context.Context, msgType string, payload any) error {
	if c.transport == nil {
		return domain.ErrDisconnected
	}
	return c.transport.Send(ctx, msgType, payload)
}

func (c *Client) detach() {
	c.logger.Warn("transport lost, reconnecting", zap.String("participant_id", c.session.ParticipantID()))
	if c.owned {
		_ = c.transport.Close()
	}
	c.transport = nil
	c.owned = false
}

// attach switches to tr and re-announces the participant. The snapshot
// history is reset because the server may have started a new sequence.
func (c *Client) attach(ctx context.Context, tr Transport) {
	c.transport = tr
	c.owned = true
	c.haveLast = false
	c.logger.Info("transport reconnected", zap.String("participant_id", c.session.ParticipantID()))

	if c.session.State() != NotStarted {
		if err := tr.Send(ctx, protocol.TypeParticipantUpsert, c.session.SelfEntry()); err != nil {
			c.logger.Warn("re-announce participant", zap.Error(err))
		}
	}
	if err := tr.Send(ctx, protocol.TypeSnapshotRequest, nil); err != nil {
		c.logger.Warn("request snapshot after reconnect", zap.Error(err))
	}
}

func (c *Client) redial(ctx context.Context, out chan<- Transport) {
	for attempt := 0; ; attempt++ {
		tr, err := c.dial(ctx)
		if err == nil {
			if ctx.Err() != nil {
				_ = tr.Close()
				return
			}
			out <- tr
			return
		}
		delay := c.backoff(attempt)
		c.logger.Warn("reconnect failed",
			zap.Int("attempt", attempt+1),
			zap.Duration("retry_in", delay),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// backoff doubles the delay per attempt with ±25% jitter, capped at retryMax.
func (c *Client) backoff(attempt int) time.Duration {
	if attempt > 20 {
		attempt = 20
	}
	delay := c.retryDelay << uint(attempt)
	delay = delay + time.Duration(rand.Float64()*float64(delay)*0.5) - delay/4
	if c.retryMax > 0 && delay > c.retryMax {
		delay = c.retryMax
	}
	return delay
}

// apply reconciles snap unless an equal or newer snapshot was already applied.
func (c *Client) apply(snap domain.Snapshot) {
	if c.haveLast && snap.Sequence <= c.last.Sequence {
		c.logger.Debug("stale snapshot dropped",
			zap.Uint64("sequence", snap.Sequence),
			zap.Uint64("applied", c.last.Sequence))
		return
	}
	c.last = snap
	c.haveLast = true
	c.session.Reconcile(snap)
	c.notify()
}

func (c *Client) rerender() {
	if c.haveLast {
		c.session.Reconcile(c.last)
	}
	c.notify()
}

func (c *Client) notify() {
	if c.onUpdate != nil {
		c.onUpdate(c.view())
	}
}

func (c *Client) view() View {
	return View{
		State:        c.session.State(),
		Score:        c.session.Score(),
		Answered:     c.session.Answered(),
		Progress:     c.session.Progress(),
		Accuracy:     c.session.Accuracy(),
		CurrentIndex: c.session.CurrentIndex(),
		Remaining:    c.session.Remaining(c.now()),
		Elapsed:      c.session.Elapsed(c.now()),
		Leaderboard:  c.session.Leaderboard(),
	}
}

// Start begins eval and announces the participant to the hub.
func (c *Client) Start(ctx context.Context, eval domain.Evaluation) error {
	reply := make(chan error, 1)
	if err := c.send(ctx, startMsg{eval: eval, reply: reply}); err != nil {
		return err
	}
	err, waitErr := await(ctx, c.done, reply)
	if waitErr != nil {
		return waitErr
	}
	return err
}

// Answer submits an answer and pushes the new score to the hub. While the
// client is reconnecting the answer is kept locally and domain.ErrDisconnected
// is returned; the re-announce on reconnect carries it to the hub.
func (c *Client) Answer(ctx context.Context, questionID, answer string) (Answer, error) {
	reply := make(chan answerResult, 1)
	if err := c.send(ctx, answerMsg{questionID: questionID, answer: answer, reply: reply}); err != nil {
		return Answer{}, err
	}
	res, err := await(ctx, c.done, reply)
	if err != nil {
		return Answer{}, err
	}
	return res.answer, res.err
}

// Next and Previous move the question cursor, clamped to the evaluation.
func (c *Client) Next(ctx context.Context) (View, error)     { return c.navigate(ctx, 1) }
func (c *Client) Previous(ctx context.Context) (View, error) { return c.navigate(ctx, -1) }

func (c *Client) navigate(ctx context.Context, delta int) (View, error) {
	reply := make(chan View, 1)
	if err := c.send(ctx, navigateMsg{delta: delta, reply: reply}); err != nil {
		return View{}, err
	}
	return await(ctx, c.done, reply)
}

// Finish ends the evaluation locally. Scores already sent stay on the board.
func (c *Client) Finish(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	if err := c.send(ctx, finishMsg{reply: reply}); err != nil {
		return View{}, err
	}
	return await(ctx, c.done, reply)
}

// View returns the current state.
func (c *Client) View(ctx context.Context) (View, error) {
	reply := make(chan View, 1)
	if err := c.send(ctx, viewMsg{reply: reply}); err != nil {
		return View{}, err
	}
	return await(ctx, c.done, reply)
}

func (c *Client) send(ctx context.Context, m msg) error {
	select {
	case c.inbox <- m:
		return nil
	case <-c.done:
		return domain.ErrClientStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

func await[T any](ctx context.Context, done <-chan struct{}, reply <-chan T) (T, error) {
	var zero T
	select {
	case v := <-reply:
		return v, nil
	case <-done:
		// Run may have answered just before exiting.
		select {
		case v := <-reply:
			return v, nil
		default:
			return zero, domain.ErrClientStopped
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}
