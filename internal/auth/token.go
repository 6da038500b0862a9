// Package auth verifies and issues the signed login tokens clients present to
// the auth room.
package auth

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/project-spire/spire-game-server/internal/session"
)

var (
	// ErrInvalidToken is returned when a token is malformed, expired, or carries a bad signature.
	ErrInvalidToken = errors.New("invalid token")
	// ErrInvalidClaims is returned when a correctly signed token carries unusable claims.
	ErrInvalidClaims = errors.New("invalid token claims")
)

// Claims is the token payload. Ids are decimal strings.
type Claims struct {
	AccountID   string `json:"aid"`
	CharacterID string `json:"cid"`
	Privilege   string `json:"prv"`
	jwt.RegisteredClaims
}

// Verifier checks HS256 tokens against a symmetric key.
type Verifier struct {
	key    []byte
	parser *jwt.Parser
}

// NewVerifier creates a Verifier for key.
//
// Precondition: key must be non-empty.
func NewVerifier(key []byte) *Verifier {
	return &Verifier{
		key: key,
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
			jwt.WithLeeway(5*time.Second),
		),
	}
}

// Verify validates token and converts its claims into an Account.
//
// Postcondition: Returns an error wrapping ErrInvalidToken when the signature,
// algorithm, format or expiry is wrong, and ErrInvalidClaims when an id is not
// a base-10 uint64 or the privilege is unknown.
func (v *Verifier) Verify(token string) (session.Account, error) {
	var claims Claims
	_, err := v.parser.ParseWithClaims(token, &claims, func(*jwt.Token) (interface{}, error) {
		return v.key, nil
	})
	if err != nil {
		return session.Account{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims.Account()
}

// Account converts claims into an Account.
func (c Claims) Account() (session.Account, error) {
	accountID, err := strconv.ParseUint(c.AccountID, 10, 64)
	if err != nil {
		return session.Account{}, fmt.Errorf("%w: account id %q", ErrInvalidClaims, c.AccountID)
	}
	characterID, err := strconv.ParseUint(c.CharacterID, 10, 64)
	if err != nil {
		return session.Account{}, fmt.Errorf("%w: character id %q", ErrInvalidClaims, c.CharacterID)
	}
	privilege, err := session.ParsePrivilege(c.Privilege)
	if err != nil {
		return session.Account{}, fmt.Errorf("%w: %v", ErrInvalidClaims, err)
	}
	return session.Account{AccountID: accountID, CharacterID: characterID, Privilege: privilege}, nil
}

// Issuer signs tokens. The game server never issues tokens itself; the issuer
// backs the operator tooling and tests.
type Issuer struct {
	key []byte
	now func() time.Time
}

// NewIssuer creates an Issuer for key.
func NewIssuer(key []byte) *Issuer {
	return &Issuer{key: key, now: time.Now}
}

// Issue signs a token for account valid for ttl.
func (i *Issuer) Issue(account session.Account, ttl time.Duration) (string, error) {
	return i.Sign(Claims{
		AccountID:   strconv.FormatUint(account.AccountID, 10),
		CharacterID: strconv.FormatUint(account.CharacterID, 10),
		Privilege:   account.Privilege.String(),
	}, ttl)
}

// Sign signs arbitrary claims, filling issued-at and expiry.
func (i *Issuer) Sign(claims Claims, ttl time.Duration) (string, error) {
	now := i.now()
	claims.IssuedAt = jwt.NewNumericDate(now)
	claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.key)
	if err != nil {
		return "", fmt.Errorf("signing token: %w", err)
	}
	return signed, nil
}
