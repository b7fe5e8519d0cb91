package services

import (
	"context"
	"sync"
	"time"

	"github.com/glotta/registrar/internal/identity"
	"github.com/glotta/registrar/pkg/mail"
)

// stubIdentity is a controllable identity.Client for service tests. Users
// are keyed by lower-cased email and by ID.
type stubIdentity struct {
	mu      sync.Mutex
	byEmail map[string]*identity.User
	byID    map[string]*identity.User
	deleted []string

	lookupErr error
	deleteErr error
}

func newStubIdentity() *stubIdentity {
	return &stubIdentity{
		byEmail: make(map[string]*identity.User),
		byID:    make(map[string]*identity.User),
	}
}

func (s *stubIdentity) addUser(user identity.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u := user
	s.byEmail[u.Email] = &u
	s.byID[u.ID] = &u
}

func (s *stubIdentity) SignUp(ctx context.Context, email, password string, metadata map[string]any) (*identity.SignUpResult, error) {
	return nil, identity.ErrSessionMissing
}

func (s *stubIdentity) SignIn(ctx context.Context, email, password string) (*identity.Session, error) {
	return nil, identity.ErrInvalidCredentials
}

func (s *stubIdentity) GetSession(ctx context.Context) (*identity.Session, error) { return nil, nil }

func (s *stubIdentity) CurrentUser(ctx context.Context) (*identity.User, error) {
	return nil, identity.ErrSessionMissing
}

func (s *stubIdentity) ResendVerification(ctx context.Context, email string) error { return nil }

func (s *stubIdentity) GetUser(ctx context.Context, userID string) (*identity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lookupErr != nil {
		return nil, s.lookupErr
	}
	if u, ok := s.byID[userID]; ok {
		return u, nil
	}
	return nil, identity.ErrUserNotFound
}

func (s *stubIdentity) GetUserByEmail(ctx context.Context, email string) (*identity.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lookupErr != nil {
		return nil, s.lookupErr
	}
	if u, ok := s.byEmail[email]; ok {
		return u, nil
	}
	return nil, identity.ErrUserNotFound
}

func (s *stubIdentity) DeleteUser(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.deleted = append(s.deleted, userID)
	if u, ok := s.byID[userID]; ok {
		delete(s.byEmail, u.Email)
		delete(s.byID, userID)
	}
	return nil
}

// captureMailer records outbound messages for assertions.
type captureMailer struct {
	mu       sync.Mutex
	messages []mail.Message
	err      error
}

func (m *captureMailer) Send(ctx context.Context, message mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.messages = append(m.messages, message)
	return nil
}

func (m *captureMailer) last() (mail.Message, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.messages) == 0 {
		return mail.Message{}, false
	}
	return m.messages[len(m.messages)-1], true
}

func timePtr(t time.Time) *time.Time { return &t }
