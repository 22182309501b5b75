// Package session keeps conversations in memory and runs at most one turn per
// session at a time.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dtnitsch/llm-web-search/internal/common"
	"github.com/dtnitsch/llm-web-search/models"
	"github.com/dtnitsch/llm-web-search/pkg/gateway"
	"github.com/dtnitsch/llm-web-search/pkg/pipeline"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrTurnNotFound    = errors.New("turn not found")
	ErrClosed          = errors.New("session store is closed")
)

// Runner executes one turn, emitting partial state until it returns.
type Runner interface {
	Run(ctx context.Context, turnID, query string, emit pipeline.Emitter) error
}

// Titler names a session after its first query.
type Titler interface {
	Title(ctx context.Context, query string) string
}

// Archiver persists finished turns. Cancelled turns are never archived.
type Archiver interface {
	SaveTurn(session models.Session, turn models.AssistantTurn) error
}

type Option func(*Store)

func WithTitler(t Titler) Option { return func(s *Store) { s.titler = t } }

func WithArchiver(a Archiver) Option { return func(s *Store) { s.archiver = a } }

// WithIDGenerator replaces uuid based identifiers.
func WithIDGenerator(fn func() string) Option { return func(s *Store) { s.newID = fn } }

// Store owns every session and turn. All turn mutation goes through Apply.
type Store struct {
	runner   Runner
	titler   Titler
	archiver Archiver
	logger   *slog.Logger
	newID    func() string

	base   context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
	closed bool

	sessions map[string]*entry
	order    []string
	turns    map[string]*turnState
}

type entry struct {
	submit  sync.Mutex
	session models.Session
	active  *activeTurn
}

type activeTurn struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
}

type turnState struct {
	turn    models.AssistantTurn
	subs    map[int]chan models.AssistantTurn
	nextSub int
	done    chan struct{}
}

func New(runner Runner, logger *slog.Logger, opts ...Option) *Store {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	base, stop := context.WithCancel(context.Background())
	s := &Store{
		runner:   runner,
		logger:   logger,
		newID:    func() string { return uuid.NewString() },
		base:     base,
		stop:     stop,
		sessions: make(map[string]*entry),
		turns:    make(map[string]*turnState),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSession starts an empty conversation.
func (s *Store) CreateSession() models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess := models.Session{
		ID:        s.newID(),
		Title:     models.DefaultSessionTitle,
		CreatedAt: time.Now(),
	}
	s.sessions[sess.ID] = &entry{session: sess}
	s.order = append(s.order, sess.ID)
	return cloneSession(sess)
}

// Get returns a copy of the session.
func (s *Store) Get(sessionID string) (models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sessions[sessionID]
	if !ok {
		return models.Session{}, ErrSessionNotFound
	}
	return cloneSession(e.session), nil
}

// List returns sessions, newest first.
func (s *Store) List() []models.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Session, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		out = append(out, cloneSession(s.sessions[s.order[i]].session))
	}
	return out
}

// Turn returns a snapshot of the turn.
func (s *Store) Turn(turnID string) (models.AssistantTurn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.turns[turnID]
	if !ok {
		return models.AssistantTurn{}, ErrTurnNotFound
	}
	return ts.turn.Clone(), nil
}

// Submit starts a turn for query. Any turn still running in the session is
// cancelled, and has fully stopped, before the new one begins.
func (s *Store) Submit(sessionID, query string) (models.AssistantTurn, error) {
	query, err := common.SanitizeQuery(query)
	if err != nil {
		return models.AssistantTurn{}, err
	}

	s.mu.Lock()
	e, ok := s.sessions[sessionID]
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return models.AssistantTurn{}, ErrClosed
	}
	if !ok {
		return models.AssistantTurn{}, ErrSessionNotFound
	}

	e.submit.Lock()
	defer e.submit.Unlock()

	s.mu.Lock()
	prev := e.active
	s.mu.Unlock()
	if prev != nil {
		s.logger.Info("cancelling previous turn", "session_id", sessionID, "turn_id", prev.id)
		prev.cancel()
		<-prev.done
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return models.AssistantTurn{}, ErrClosed
	}
	turn := models.NewTurn(s.newID(), sessionID, query)
	ts := &turnState{
		turn: *turn,
		subs: make(map[int]chan models.AssistantTurn),
		done: make(chan struct{}),
	}
	s.turns[turn.ID] = ts
	first := len(e.session.TurnIDs) == 0
	e.session.TurnIDs = append(e.session.TurnIDs, turn.ID)

	ctx, cancel := context.WithCancel(s.base)
	active := &activeTurn{id: turn.ID, cancel: cancel, done: make(chan struct{})}
	e.active = active
	snapshot := ts.turn.Clone()
	name := first && s.titler != nil
	s.wg.Add(1)
	if name {
		s.wg.Add(1)
	}
	s.mu.Unlock()

	if name {
		go s.nameSession(sessionID, query)
	}
	go s.run(ctx, e, active, query)
	return snapshot, nil
}

func (s *Store) nameSession(sessionID, query string) {
	defer s.wg.Done()
	title := s.titler.Title(s.base, query)
	if title == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.sessions[sessionID]; ok {
		e.session.Title = title
	}
}

func (s *Store) run(ctx context.Context, e *entry, active *activeTurn, query string) {
	defer s.wg.Done()
	defer close(active.done)
	defer active.cancel()

	err := s.runner.Run(ctx, active.id, query, func(p models.TurnPatch) {
		s.Apply(active.id, p)
	})

	s.mu.Lock()
	ts := s.turns[active.id]
	if !ts.turn.Status.IsFinal() {
		p := models.TurnPatch{Status: models.TurnCompleted}
		switch {
		case gateway.IsCancellation(err) || errors.Is(ctx.Err(), context.Canceled):
			p.Status = models.TurnCancelled
		case err != nil:
			p.Status = models.TurnFailed
			p.Error = err.Error()
		}
		ts.turn.Merge(p)
		s.publish(ts)
	}
	sess := cloneSession(e.session)
	final := ts.turn.Clone()
	s.mu.Unlock()

	s.logger.Info("turn settled", "session_id", sess.ID, "turn_id", final.ID, "status", final.Status)
	if s.archiver != nil && final.Status != models.TurnCancelled {
		if err := s.archiver.SaveTurn(sess, final); err != nil {
			s.logger.Error("failed to archive turn", "turn_id", final.ID, "error", err)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range ts.subs {
		close(ch)
		delete(ts.subs, id)
	}
	close(ts.done)
	if e.active == active {
		e.active = nil
	}
}

// Apply merges a partial update into the turn and notifies subscribers.
func (s *Store) Apply(turnID string, p models.TurnPatch) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.turns[turnID]
	if !ok {
		return
	}
	ts.turn.Merge(p)
	s.publish(ts)
}

// publish hands the latest snapshot to every subscriber. A subscriber that has
// not read the previous snapshot gets it replaced. Callers hold s.mu.
func (s *Store) publish(ts *turnState) {
	if len(ts.subs) == 0 {
		return
	}
	snap := ts.turn.Clone()
	for _, ch := range ts.subs {
		select {
		case ch <- snap:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- snap
		}
	}
}

// Subscribe streams snapshots of the turn. The channel receives the current
// state immediately and is closed once the turn has settled. The returned
// func releases the subscription early.
func (s *Store) Subscribe(turnID string) (<-chan models.AssistantTurn, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.turns[turnID]
	if !ok {
		return nil, nil, ErrTurnNotFound
	}
	ch := make(chan models.AssistantTurn, 1)
	ch <- ts.turn.Clone()

	select {
	case <-ts.done:
		close(ch)
		return ch, func() {}, nil
	default:
	}

	id := ts.nextSub
	ts.nextSub++
	ts.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			if sub, ok := ts.subs[id]; ok {
				delete(ts.subs, id)
				close(sub)
			}
		})
	}, nil
}

// Cancel stops the running turn of the session and reports whether one was running.
func (s *Store) Cancel(sessionID string) (bool, error) {
	s.mu.Lock()
	e, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return false, ErrSessionNotFound
	}
	active := e.active
	s.mu.Unlock()
	if active == nil {
		return false, nil
	}
	active.cancel()
	return true, nil
}

// Wait blocks until the turn settles and returns its final state.
func (s *Store) Wait(ctx context.Context, turnID string) (models.AssistantTurn, error) {
	s.mu.Lock()
	ts, ok := s.turns[turnID]
	s.mu.Unlock()
	if !ok {
		return models.AssistantTurn{}, ErrTurnNotFound
	}
	select {
	case <-ts.done:
	case <-ctx.Done():
		return models.AssistantTurn{}, fmt.Errorf("waiting for turn %s: %w", turnID, ctx.Err())
	}
	return s.Turn(turnID)
}

// Close cancels every running turn and waits for them to settle.
func (s *Store) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.stop()
	s.wg.Wait()
}

func cloneSession(sess models.Session) models.Session {
	sess.TurnIDs = append([]string(nil), sess.TurnIDs...)
	return sess
}
