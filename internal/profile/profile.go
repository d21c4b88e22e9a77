// Package profile holds the user identity, shipping address and terms acceptance of a device session.
package profile

import (
	"sync"
	"time"

	"github.com/abgdnv/storefront/internal/order"
)

// User identifies the customer placing orders.
type User struct {
	ID          string `koanf:"id" json:"id"`
	DisplayName string `koanf:"displayname" json:"display_name"`
	Email       string `koanf:"email" json:"email"`
}

// Session is the mutable profile state of one device session. It is safe for concurrent use.
type Session struct {
	mu            sync.RWMutex
	user          User
	address       *order.Address
	termsAccepted time.Time
	now           func() time.Time
}

func NewSession(user User) *Session {
	return &Session{user: user, now: time.Now}
}

func (s *Session) User() User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// SelectedAddress returns a copy of the selected shipping address, or nil.
func (s *Session) SelectedAddress() *order.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.address == nil {
		return nil
	}
	a := *s.address
	return &a
}

func (s *Session) SelectAddress(a order.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.address = &a
}

func (s *Session) ClearAddress() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.address = nil
}

// TermsAcceptedAt is zero until the user accepts the terms.
func (s *Session) TermsAcceptedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.termsAccepted
}

// AcceptTerms records acceptance at the current time and returns it.
func (s *Session) AcceptTerms() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.termsAccepted = s.now().UTC()
	return s.termsAccepted
}

// SetTermsAcceptedAt records acceptance at a known time.
func (s *Session) SetTermsAcceptedAt(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.termsAccepted = t
}

// Terms describes the terms document.
type Terms struct {
	LastUpdated time.Time
}

// Current reports whether an acceptance at acceptedAt covers the current terms document.
func (t Terms) Current(acceptedAt time.Time) bool {
	if acceptedAt.IsZero() {
		return false
	}
	return !acceptedAt.Before(t.LastUpdated)
}
