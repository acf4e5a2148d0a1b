package services

import (
	"context"
	"sync"

	"github.com/anonto42/nearme/backend/internal/models"
	"github.com/anonto42/nearme/backend/internal/repositories"
	"github.com/anonto42/nearme/backend/pkg/errs"
	"go.uber.org/zap"
)

type partition int

const (
	partOutgoing partition = iota
	partIncoming
	partDeclined
	partitionCount
)

func (p partition) String() string {
	switch p {
	case partOutgoing:
		return "outgoing"
	case partIncoming:
		return "incoming"
	case partDeclined:
		return "declined"
	}
	return "unknown"
}

type partitionState struct {
	items  []models.Connection
	loaded bool // has data from either a load or a live snapshot
	live   bool // has had at least one live snapshot
	stale  bool // the last delivery failed; items are from before the failure
	err    error
}

// View is a consistent picture of one user's connections.
type View struct {
	Version     uint64              `json:"version"`
	UserID      string              `json:"userId"`
	Connections []models.Connection `json:"connections"` // outgoing and incoming, newest first
	Declined    []models.Connection `json:"declined"`
	// Loading lists partitions that have never produced data.
	Loading []string `json:"loading,omitempty"`
	// Stale lists partitions whose last update failed and still show older data.
	Stale []string    `json:"stale,omitempty"`
	Error *errs.Alert `json:"error,omitempty"`
}

type listener struct {
	id int
	fn func(View)
}

// Session keeps one user's outgoing, incoming and declined connections in
// sync with the store. Each live subscription owns one partition; the merged
// list is built only when a view is read.
type Session struct {
	userID string
	svc    *ConnectionService
	log    *zap.Logger

	mu             sync.Mutex
	parts          [partitionCount]partitionState
	version        uint64
	closed         bool
	listeners      []listener
	nextListenerID int
	unsubs         []repositories.Unsubscribe
	cancel         context.CancelFunc

	emitMu      sync.Mutex
	lastEmitted uint64
}

// OpenSession subscribes to the user's three connection streams, then loads
// any partition no live snapshot has filled yet. Close the session before
// opening one for another user.
func (s *ConnectionService) OpenSession(ctx context.Context, userID string) (*Session, error) {
	if err := requireUser(userID); err != nil {
		return nil, s.fail(ctx, userID, "open session", err)
	}

	sctx, cancel := context.WithCancel(ctx)
	sess := &Session{
		userID:    userID,
		svc:       s,
		log:       s.log.With(zap.String("session", userID)),
		cancel:    cancel,
	}

	unsubs := []repositories.Unsubscribe{
		s.repo.SubscribeToUserConnections(sctx, userID, sess.liveHandler(partOutgoing)),
		s.repo.SubscribeToIncomingConnections(sctx, userID, sess.liveHandler(partIncoming)),
		s.repo.SubscribeToDeclinedConnections(sctx, userID, sess.liveHandler(partDeclined)),
	}
	sess.mu.Lock()
	sess.unsubs = unsubs
	sess.mu.Unlock()

	loads := [partitionCount]func(context.Context, string) ([]models.Connection, error){
		partOutgoing: s.repo.GetUserConnections,
		partIncoming: s.repo.GetIncomingConnections,
		partDeclined: s.repo.GetDeclinedConnections,
	}
	for p, load := range loads {
		part := partition(p)
		if sess.hasLive(part) {
			continue
		}
		conns, err := load(sctx, userID)
		sess.applyLoad(part, conns, err)
	}

	return sess, nil
}

func (s *Session) UserID() string { return s.userID }

func (s *Session) liveHandler(p partition) func(repositories.ConnectionSnapshot) {
	return func(snap repositories.ConnectionSnapshot) { s.applyLive(p, snap) }
}

func (s *Session) hasLive(p partition) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.parts[p].live
}

// applyLive replaces partition p with a live snapshot. A failed snapshot keeps
// the previous data and marks the partition stale.
func (s *Session) applyLive(p partition, snap repositories.ConnectionSnapshot) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}

	st := &s.parts[p]
	if snap.Err != nil {
		st.stale = true
		st.err = snap.Err
	} else {
		st.items = cloneConnections(snap.Connections)
		st.loaded = true
		st.live = true
		st.stale = false
		st.err = nil
	}
	view := s.nextViewLocked()
	s.mu.Unlock()

	if snap.Err != nil {
		s.log.Warn("live snapshot failed", zap.Stringer("partition", p), zap.Error(snap.Err))
	}
	s.emit(view)
}

// applyLoad fills partition p from a one-shot read unless a live snapshot got there first.
func (s *Session) applyLoad(p partition, conns []models.Connection, err error) {
	s.mu.Lock()
	if s.closed || s.parts[p].live {
		s.mu.Unlock()
		return
	}

	st := &s.parts[p]
	if err != nil {
		st.stale = true
		st.err = err
	} else {
		st.items = cloneConnections(conns)
		st.loaded = true
		st.stale = false
		st.err = nil
	}
	view := s.nextViewLocked()
	s.mu.Unlock()

	if err != nil {
		s.log.Warn("initial load failed", zap.Stringer("partition", p), zap.Error(err))
	}
	s.emit(view)
}

func (s *Session) nextViewLocked() View {
	s.version++
	return s.viewLocked()
}

func (s *Session) viewLocked() View {
	v := View{
		Version:     s.version,
		UserID:      s.userID,
		Connections: MergeConnections(s.parts[partOutgoing].items, s.parts[partIncoming].items),
		Declined:    cloneConnections(s.parts[partDeclined].items),
	}
	repositories.SortConnections(v.Declined)
	for p := partition(0); p < partitionCount; p++ {
		st := s.parts[p]
		if !st.loaded {
			v.Loading = append(v.Loading, p.String())
		}
		if st.stale {
			v.Stale = append(v.Stale, p.String())
			if v.Error == nil && st.err != nil {
				alert := errs.AlertOf(st.err)
				v.Error = &alert
			}
		}
	}
	return v
}

// View returns the current merged view.
func (s *Session) View() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewLocked()
}

// OnChange registers fn for every new view and returns a function that removes it.
// Listeners are called one at a time and never see an older version after a newer one.
func (s *Session) OnChange(fn func(View)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextListenerID
	s.nextListenerID++
	s.listeners = append(s.listeners, listener{id: id, fn: fn})
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, l := range s.listeners {
			if l.id == id {
				s.listeners = append(s.listeners[:i:i], s.listeners[i+1:]...)
				return
			}
		}
	}
}

func (s *Session) emit(v View) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if v.Version <= s.lastEmitted {
		return
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	listeners := make([]listener, len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	s.lastEmitted = v.Version
	for _, l := range listeners {
		l.fn(v)
	}
}

// Close cancels every subscription. Deliveries after Close are ignored.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	unsubs := s.unsubs
	s.unsubs = nil
	s.listeners = nil
	s.mu.Unlock()

	for _, unsub := range unsubs {
		unsub()
	}
	s.cancel()
}

func cloneConnections(in []models.Connection) []models.Connection {
	out := make([]models.Connection, len(in))
	copy(out, in)
	return out
}
