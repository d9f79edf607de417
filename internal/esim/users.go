package esim

import (
	"fmt"
	"sync"
)

// User is one demo account.
type User struct {
	ID         string `json:"user_id"`
	Name       string `json:"user_name"`
	Email      string `json:"email"`
	LoggedIn   bool   `json:"is_logged_in"`
	HasPayment bool   `json:"has_payment_method"`
}

// ReadyToBook reports whether the account can complete a purchase.
func (u User) ReadyToBook() bool { return u.LoggedIn && u.HasPayment }

// UserStore is the in-memory account registry for the demo.
type UserStore struct {
	mu    sync.RWMutex
	users map[string]User
}

// NewUserStore builds a store from the given accounts.
func NewUserStore(users ...User) *UserStore {
	s := &UserStore{users: map[string]User{}}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

// DefaultUsers are the demo accounts: one ready to book, one without a
// payment method, one logged out.
func DefaultUsers() []User {
	return []User{
		{ID: "u1001", Name: "Aiko Tanaka", Email: "aiko@example.com", LoggedIn: true, HasPayment: true},
		{ID: "u1002", Name: "Ben Carter", Email: "ben@example.com", LoggedIn: true, HasPayment: false},
		{ID: "u1003", Name: "Chloe Dubois", Email: "chloe@example.com", LoggedIn: false, HasPayment: false},
	}
}

// Get returns the account for id.
func (s *UserStore) Get(id string) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	return u, ok
}

// SetLoggedIn updates the login flag for id.
func (s *UserStore) SetLoggedIn(id string, loggedIn bool) error {
	return s.update(id, func(u *User) { u.LoggedIn = loggedIn })
}

// SetPaymentMethod updates the payment-method flag for id.
func (s *UserStore) SetPaymentMethod(id string, hasPayment bool) error {
	return s.update(id, func(u *User) { u.HasPayment = hasPayment })
}

func (s *UserStore) update(id string, fn func(*User)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return fmt.Errorf("unknown user %q", id)
	}
	fn(&u)
	s.users[id] = u
	return nil
}
