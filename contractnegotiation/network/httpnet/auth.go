package httpnet

import (
	"time"

	"github.com/gbrlsnchs/jwt/v3"
	"github.com/raulk/clock"
	"golang.org/x/xerrors"

	cn "github.com/filecoin-project/go-dataspace/contractnegotiation"
)

// DefaultTokenTTL is how long a signed token is accepted
const DefaultTokenTTL = 5 * time.Minute

// Auth signs outbound and verifies inbound tokens with a secret shared by the
// participants of a dataspace
type Auth struct {
	alg   *jwt.HMACSHA
	ttl   time.Duration
	clock clock.Clock
}

// AuthOption configures Auth
type AuthOption func(*Auth)

// WithTokenTTL sets the lifetime of signed tokens
func WithTokenTTL(ttl time.Duration) AuthOption {
	return func(a *Auth) {
		a.ttl = ttl
	}
}

// WithAuthClock sets the clock used for token timestamps
func WithAuthClock(clk clock.Clock) AuthOption {
	return func(a *Auth) {
		a.clock = clk
	}
}

// NewAuth returns an Auth using HS256 with secret
func NewAuth(secret []byte, opts ...AuthOption) (*Auth, error) {
	if len(secret) == 0 {
		return nil, xerrors.New("empty token secret")
	}
	a := &Auth{
		alg:   jwt.NewHS256(secret),
		ttl:   DefaultTokenTTL,
		clock: clock.New(),
	}
	for _, o := range opts {
		o(a)
	}
	return a, nil
}

type jwtPayload struct {
	jwt.Payload
	ParticipantID string
}

// Sign returns a token identifying participantID
func (a *Auth) Sign(participantID string) (string, error) {
	now := a.clock.Now()
	p := jwtPayload{
		Payload: jwt.Payload{
			Subject:        participantID,
			IssuedAt:       jwt.NumericDate(now),
			ExpirationTime: jwt.NumericDate(now.Add(a.ttl)),
		},
		ParticipantID: participantID,
	}
	tok, err := jwt.Sign(&p, a.alg)
	if err != nil {
		return "", xerrors.Errorf("signing token: %w", err)
	}
	return string(tok), nil
}

// Verify checks token and returns the identity it carries
func (a *Auth) Verify(token string) (cn.ClaimToken, error) {
	var p jwtPayload
	validate := jwt.ValidatePayload(&p.Payload, jwt.ExpirationTimeValidator(a.clock.Now()))
	if _, err := jwt.Verify([]byte(token), a.alg, &p, validate); err != nil {
		return cn.ClaimToken{}, xerrors.Errorf("verifying token: %w", err)
	}
	if p.ParticipantID == "" {
		return cn.ClaimToken{}, xerrors.New("token without participant id")
	}
	return cn.ClaimToken{
		ParticipantID: p.ParticipantID,
		Claims:        map[string]string{"sub": p.Subject},
	}, nil
}
