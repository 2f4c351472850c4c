// Package screen is the chat screen controller. It owns the session, the
// listener and every in-flight operation, and tears them all down together
// on sign-out.
package screen

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"chatline/internal/adapter"
	"chatline/internal/backend"
	"chatline/internal/composer"
	"chatline/internal/imageload"
	"chatline/internal/listener"
	"chatline/internal/message"
	"chatline/internal/session"
)

var (
	ErrNotSignedIn     = errors.New("not signed in")
	ErrSignedOut       = errors.New("screen closed")
	ErrAlreadySignedIn = errors.New("already signed in")
)

type State int

const (
	Unauthenticated State = iota
	Idle
	Composing
	Sent
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Composing:
		return "composing"
	case Sent:
		return "sent"
	default:
		return "unauthenticated"
	}
}

// Affordance is the action button next to the input field.
type Affordance int

const (
	Attach Affordance = iota
	SendButton
)

type Op string

const (
	OpSignIn     Op = "sign-in"
	OpListen     Op = "listen"
	OpSend       Op = "send"
	OpSendImage  Op = "send-image"
	OpDelete     Op = "delete"
	OpAvatar     Op = "avatar"
	OpBackground Op = "background"
)

// Result is the outcome of one operation. Every failure the user should see
// arrives here.
type Result struct {
	Op  Op
	Err error
}

// Authenticator signs a user in against the server.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (backend.Identity, error)
}

// Connector hands out the stores for a signed-in user.
type Connector func() (session.Records, session.Blobs)

type Options struct {
	DataDir       string
	DefaultAvatar string
	Images        imageload.Options
	// OnList is called from the listener goroutine after the list changed.
	OnList  func(ops []adapter.Op, n int)
	OnState func(State)
}

type Screen struct {
	auth    Authenticator
	connect Connector
	opts    Options
	log     *slog.Logger
	results chan Result
	closed  chan struct{}

	mu        sync.Mutex
	state     State
	draft     string
	done      bool
	signingIn bool
	sess      *session.Session
	comp      *composer.Composer
	list      *adapter.Adapter
	images    *imageload.Loader
	scope     context.Context
	cancel    context.CancelFunc
	group     *errgroup.Group
}

func New(auth Authenticator, connect Connector, opts Options, log *slog.Logger) *Screen {
	return &Screen{
		auth:    auth,
		connect: connect,
		opts:    opts,
		log:     log,
		results: make(chan Result, 16),
		closed:  make(chan struct{}),
	}
}

// Results is the single place operation outcomes are reported.
func (s *Screen) Results() <-chan Result { return s.results }

func (s *Screen) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Screen) Session() *session.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess
}

// List is the message list adapter, nil before sign-in.
func (s *Screen) List() *adapter.Adapter {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.list
}

func (s *Screen) Images() *imageload.Loader {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.images
}

// SignIn authenticates, builds the session and starts listening. On failure
// the screen stays unauthenticated.
func (s *Screen) SignIn(ctx context.Context, username, password string) error {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return ErrSignedOut
	}
	if s.state != Unauthenticated || s.signingIn {
		s.mu.Unlock()
		return ErrAlreadySignedIn
	}
	s.signingIn = true
	s.mu.Unlock()

	sess, err := s.signIn(ctx, username, password)
	if err != nil {
		s.mu.Lock()
		s.signingIn = false
		s.mu.Unlock()
		s.log.Warn("sign in failed", "username", username, "error", err)
		s.report(Result{Op: OpSignIn, Err: err})
		return err
	}

	images := imageload.New(sess.Blobs, s.opts.Images, s.log)
	list := adapter.New(sess.UserID(), images)
	if s.opts.OnList != nil {
		list.Observe(s.opts.OnList)
	}

	scope, cancel := context.WithCancel(context.Background())
	g, gctx := errgroup.WithContext(scope)

	s.mu.Lock()
	s.signingIn = false
	if s.done || s.state != Unauthenticated {
		done := s.done
		s.mu.Unlock()
		cancel()
		images.Close()
		if done {
			return ErrSignedOut
		}
		return ErrAlreadySignedIn
	}
	s.sess = sess
	s.comp = composer.New(sess, s.log)
	s.list = list
	s.images = images
	s.scope, s.cancel, s.group = gctx, cancel, g
	lis := listener.New(sess.Records, listener.SinkFunc(func(l []message.Message) { list.Submit(l) }), s.log)
	g.Go(func() error {
		err := lis.Run(gctx)
		if gctx.Err() == nil {
			s.log.Error("change feed stopped", "error", err)
			s.report(Result{Op: OpListen, Err: err})
		}
		return nil
	})
	s.setStateLocked(Idle)
	s.mu.Unlock()

	s.log.Info("signed in", "user_id", sess.UserID(), "username", sess.DisplayName())
	s.report(Result{Op: OpSignIn})
	return nil
}

func (s *Screen) signIn(ctx context.Context, username, password string) (*session.Session, error) {
	id, err := s.auth.Login(ctx, username, password)
	if err != nil {
		return nil, err
	}
	records, blobs := s.connect()
	sess, err := session.New(records, blobs, id.UserID, id.Username, s.opts.DefaultAvatar)
	if err != nil {
		return nil, err
	}
	if _, err := sess.ResolveAvatar(ctx); err != nil {
		s.log.Warn("avatar lookup failed, using default", "error", err)
	}
	return sess, nil
}

// Edit records the input field's text. Non-empty text switches the button
// to Send.
func (s *Screen) Edit(text string) Affordance {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.draft = text
	switch {
	case s.state == Idle && hasText(text):
		s.setStateLocked(Composing)
	case s.state == Composing && !hasText(text):
		s.setStateLocked(Idle)
	}
	return affordance(text)
}

func (s *Screen) HasText() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return hasText(s.draft)
}

func hasText(text string) bool { return strings.TrimSpace(text) != "" }

func affordance(text string) Affordance {
	if hasText(text) {
		return SendButton
	}
	return Attach
}

// Send writes the current draft. On success the draft is cleared.
func (s *Screen) Send(ctx context.Context) error {
	s.mu.Lock()
	draft := s.draft
	s.mu.Unlock()

	return s.do(ctx, OpSend, func(ctx context.Context, sc scoped) error {
		if _, err := sc.comp.SendText(ctx, draft); err != nil {
			return err
		}
		s.sent(draft)
		return nil
	})
}

// SendImage uploads r as a new image message.
func (s *Screen) SendImage(ctx context.Context, r io.Reader) error {
	return s.do(ctx, OpSendImage, func(ctx context.Context, sc scoped) error {
		if _, err := sc.comp.SendImage(ctx, r); err != nil {
			return err
		}
		s.sent("")
		return nil
	})
}

func (s *Screen) sent(draft string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == Unauthenticated {
		return
	}
	s.setStateLocked(Sent)
	if s.draft == draft {
		s.draft = ""
	}
	s.setStateLocked(Idle)
	if hasText(s.draft) {
		s.setStateLocked(Composing)
	}
}

// Delete removes a message. For an image the blob goes first; if that fails
// the record is kept.
func (s *Screen) Delete(ctx context.Context, req message.DeleteRequest) error {
	return s.do(ctx, OpDelete, func(ctx context.Context, sc scoped) error {
		if req.HasImage() {
			if err := sc.sess.Blobs.DeleteByURL(ctx, req.ImageURL); err != nil {
				return fmt.Errorf("delete image: %w", err)
			}
			sc.images.Forget(req.ImageURL)
		}
		if err := sc.sess.Records.Remove(ctx, req.ID); err != nil {
			return fmt.Errorf("delete message: %w", err)
		}
		return nil
	})
}

// scoped is what an operation may touch, captured when it starts.
type scoped struct {
	sess   *session.Session
	comp   *composer.Composer
	images *imageload.Loader
}

// do runs f inside the screen scope and reports its outcome. f is cancelled
// when either ctx ends or the user signs out.
func (s *Screen) do(ctx context.Context, op Op, f func(ctx context.Context, sc scoped) error) error {
	s.mu.Lock()
	if s.state == Unauthenticated {
		s.mu.Unlock()
		s.report(Result{Op: op, Err: ErrNotSignedIn})
		return ErrNotSignedIn
	}
	sc := scoped{sess: s.sess, comp: s.comp, images: s.images}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(s.scope, cancel)
	defer stop()

	errc := make(chan error, 1)
	s.group.Go(func() error {
		errc <- f(ctx, sc)
		return nil
	})
	s.mu.Unlock()

	err := <-errc
	if err != nil {
		s.log.Warn("operation failed", "op", op, "error", err)
	}
	s.report(Result{Op: op, Err: err})
	return err
}

// SignOut cancels the listener and every running operation and waits for
// them. The screen cannot be used again.
func (s *Screen) SignOut() {
	s.mu.Lock()
	if s.done {
		s.mu.Unlock()
		return
	}
	s.done = true
	close(s.closed)
	g, cancel, images := s.group, s.cancel, s.images
	s.sess, s.comp = nil, nil
	s.setStateLocked(Unauthenticated)
	s.mu.Unlock()

	if cancel != nil {
		cancel()
		g.Wait()
	}
	if images != nil {
		images.Close()
	}
	s.log.Info("signed out")
}

// report never blocks. Nothing is reported once the screen is closed.
func (s *Screen) report(r Result) {
	select {
	case <-s.closed:
		return
	default:
	}
	select {
	case s.results <- r:
	default:
		s.log.Warn("result dropped, nobody is reading", "op", r.Op, "error", r.Err)
	}
}

func (s *Screen) setStateLocked(st State) {
	if s.state == st {
		return
	}
	s.state = st
	if s.opts.OnState != nil {
		s.opts.OnState(st)
	}
}
