package app

import "github.com/transfa/atm-service/internal/domain"

// Session holds zero or one authenticated card. The zero value is the
// unauthenticated session.
type Session struct {
	card   domain.CardNumber
	active bool
}

// Authenticated returns a session bound to card.
func Authenticated(card domain.CardNumber) Session {
	return Session{card: card, active: true}
}

// Card returns the bound card and whether the session is authenticated.
func (s Session) Card() (domain.CardNumber, bool) {
	return s.card, s.active
}

func (s Session) IsAuthenticated() bool {
	return s.active
}
