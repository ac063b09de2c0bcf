package checkout

import (
	"sync"

	"partsdesk/checkout/internal/xid"
)

// Registry keeps one Session per operator.
type Registry struct {
	mu       sync.Mutex
	backend  Backend
	opts     Options
	sessions map[string]*Session
}

func NewRegistry(backend Backend, opts Options) *Registry {
	return &Registry{
		backend:  backend,
		opts:     opts.withDefaults(),
		sessions: make(map[string]*Session),
	}
}

// Open returns the operator's session, creating it on first use.
func (r *Registry) Open(operator string) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sess, ok := r.sessions[operator]; ok {
		return sess
	}
	sess := NewSession(xid.New("sess"), operator, r.backend, r.opts)
	r.sessions[operator] = sess
	return sess
}

func (r *Registry) Get(operator string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sess, ok := r.sessions[operator]
	return sess, ok
}

func (r *Registry) Close(operator string) bool {
	r.mu.Lock()
	sess, ok := r.sessions[operator]
	delete(r.sessions, operator)
	r.mu.Unlock()

	if ok {
		sess.Close()
	}
	return ok
}

func (r *Registry) CloseAll() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, sess := range sessions {
		sess.Close()
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}
