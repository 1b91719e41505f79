package session

import "sync"

// Registry holds the one Device Session per uid.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Claim makes s the owner of uid and returns the previous owner, if any.
func (r *Registry) Claim(uid string, s *Session) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.sessions[uid]
	r.sessions[uid] = s
	if prev == s {
		return nil
	}
	return prev
}

// Release drops uid only while s still owns it.
func (r *Registry) Release(uid string, s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sessions[uid] != s {
		return false
	}
	delete(r.sessions, uid)
	return true
}

// Get returns the session owning uid.
func (r *Registry) Get(uid string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[uid]
	return s, ok
}

// Len returns the number of identified sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// UIDs lists the identified devices.
func (r *Registry) UIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sessions))
	for uid := range r.sessions {
		out = append(out, uid)
	}
	return out
}
