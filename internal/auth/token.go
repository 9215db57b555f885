// Package auth issues and verifies the signed participant tokens the
// gateway authenticates with. Accounts carry their stable id in sub;
// guests get an ephemeral uuid and a guest mark.
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/dkeye/duet/internal/domain"
)

const TokenTTL = 7 * 24 * time.Hour

type Claims struct {
	Name  string `json:"name,omitempty"`
	Guest bool   `json:"guest,omitempty"`
	Class string `json:"class,omitempty"`
	jwt.RegisteredClaims
}

type Manager struct {
	secret []byte
	ttl    time.Duration
}

func NewManager(secret string) *Manager {
	return &Manager{secret: []byte(secret), ttl: TokenTTL}
}

// Issue signs a token for an existing account id.
func (m *Manager) Issue(id domain.ParticipantID, name, class string) (string, error) {
	return m.sign(Claims{
		Name:  name,
		Class: class,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(id),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	})
}

// IssueGuest mints a fresh ephemeral identity and signs it.
func (m *Manager) IssueGuest(name string) (string, domain.ParticipantID, error) {
	id := domain.ParticipantID(uuid.NewString())
	token, err := m.sign(Claims{
		Name:  name,
		Guest: true,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(id),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(m.ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	})
	return token, id, err
}

func (m *Manager) sign(claims Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

// Verify parses the token and returns the participant it names.
func (m *Manager) Verify(token string) (*domain.Participant, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, domain.Authentication("unexpected signing method")
		}
		return m.secret, nil
	})
	if err != nil || !parsed.Valid || claims.Subject == "" {
		return nil, domain.Authentication("invalid token")
	}
	name := claims.Name
	if name == "" {
		name = "guest"
	}
	return &domain.Participant{
		ID:    domain.ParticipantID(claims.Subject),
		Name:  name,
		Guest: claims.Guest,
		Class: claims.Class,
	}, nil
}
