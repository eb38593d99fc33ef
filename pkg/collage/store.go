package collage

import "sync"

// Store holds active sessions keyed by user ID.
type Store struct {
	mu       sync.RWMutex
	sessions map[int64]*Session
}

// NewStore creates an empty session store.
func NewStore() *Store {
	return &Store{
		sessions: make(map[int64]*Session),
	}
}

// Put stores a session, replacing any existing session for the same user.
func (s *Store) Put(sess *Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.UserID] = sess
}

// Get returns the session for a user, if any.
func (s *Store) Get(userID int64) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[userID]
	return sess, ok
}

// Delete removes a user's session.
func (s *Store) Delete(userID int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, userID)
}

// Len returns the number of active sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// All returns the current sessions in no particular order.
func (s *Store) All() []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		all = append(all, sess)
	}
	return all
}

// Drain removes and returns all sessions.
func (s *Store) Drain() []*Session {
	s.mu.Lock()
	defer s.mu.Unlock()

	drained := make([]*Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		drained = append(drained, sess)
	}
	s.sessions = make(map[int64]*Session)
	return drained
}
