package notify

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/roach88/positions/internal/store"
)

// Notice summarizes the signals a subscription received since its last Take.
type Notice struct {
	// Token is the highest locally committed token signalled.
	Token store.Token

	// Local is set when this process committed.
	Local bool

	// Remote is set when a change by another process was detected.
	Remote bool

	// Sources names the external detectors that fired (e.g. "data_version").
	Sources []string
}

func (n *Notice) merge(other Notice) {
	n.Token = max(n.Token, other.Token)
	n.Local = n.Local || other.Local
	n.Remote = n.Remote || other.Remote
	for _, src := range other.Sources {
		if !slices.Contains(n.Sources, src) {
			n.Sources = append(n.Sources, src)
		}
	}
}

// Notifier fans commit signals out to subscriptions.
// Safe for concurrent use. Publishing never blocks.
type Notifier struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool
	logger *slog.Logger
}

// New creates a Notifier.
func New() *Notifier {
	return &Notifier{
		subs:   map[*Subscription]struct{}{},
		logger: slog.Default().With("component", "notify"),
	}
}

// Committed signals a commit made by this process.
// Implements store.CommitObserver.
func (n *Notifier) Committed(token store.Token) {
	n.publish(Notice{Token: token, Local: true})
}

// Signal reports a change detected outside this process.
func (n *Notifier) Signal(source string) {
	n.logger.Debug("external change detected", "source", source)
	n.publish(Notice{Remote: true, Sources: []string{source}})
}

func (n *Notifier) publish(notice Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	for sub := range n.subs {
		sub.offer(notice)
	}
}

// Subscribe returns a new subscription. Signals published before Subscribe
// are not delivered to it.
func (n *Notifier) Subscribe() *Subscription {
	sub := &Subscription{
		notifier: n,
		c:        make(chan struct{}, 1),
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		close(sub.c)
		return sub
	}
	n.subs[sub] = struct{}{}
	return sub
}

// Close ends every subscription. Their channels are closed.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	for sub := range n.subs {
		sub.closeChan()
	}
	clear(n.subs)
}

// Subscription receives coalesced notices.
type Subscription struct {
	notifier *Notifier

	mu      sync.Mutex
	pending Notice
	has     bool
	done    bool
	c       chan struct{}
}

// C is signalled when a notice is pending. It is closed when the
// subscription or its Notifier is closed.
func (s *Subscription) C() <-chan struct{} {
	return s.c
}

// Take returns and clears the pending notice.
func (s *Subscription) Take() (Notice, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.has {
		return Notice{}, false
	}
	n := s.pending
	s.pending = Notice{}
	s.has = false
	return n, true
}

// Close unsubscribes.
func (s *Subscription) Close() {
	s.notifier.mu.Lock()
	delete(s.notifier.subs, s)
	s.notifier.mu.Unlock()
	s.closeChan()
}

func (s *Subscription) offer(n Notice) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.pending.merge(n)
	s.has = true

	select {
	case s.c <- struct{}{}:
	default:
	}
}

func (s *Subscription) closeChan() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.done = true
	close(s.c)
}
