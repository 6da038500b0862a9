package auth_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/project-spire/spire-game-server/internal/auth"
	"github.com/project-spire/spire-game-server/internal/session"
)

var key = []byte("test-signing-key")

func TestVerify_AdminWithoutCharacter(t *testing.T) {
	token, err := auth.NewIssuer(key).Sign(auth.Claims{AccountID: "7", CharacterID: "0", Privilege: "Admin"}, time.Minute)
	require.NoError(t, err)

	got, err := auth.NewVerifier(key).Verify(token)
	require.NoError(t, err)
	assert.Equal(t, session.Account{AccountID: 7, CharacterID: 0, Privilege: session.PrivilegeAdmin}, got)
}

func TestVerify_WrongKey(t *testing.T) {
	token, err := auth.NewIssuer([]byte("other-key")).Issue(session.Account{AccountID: 1, CharacterID: 2}, time.Minute)
	require.NoError(t, err)

	_, err = auth.NewVerifier(key).Verify(token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestVerify_Garbage(t *testing.T) {
	_, err := auth.NewVerifier(key).Verify("not.a.token")
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestVerify_Expired(t *testing.T) {
	token, err := auth.NewIssuer(key).Issue(session.Account{AccountID: 1, CharacterID: 2}, -time.Hour)
	require.NoError(t, err)

	_, err = auth.NewVerifier(key).Verify(token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestVerify_MissingExpiry(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		AccountID: "1", CharacterID: "2", Privilege: "Player",
	}).SignedString(key)
	require.NoError(t, err)

	_, err = auth.NewVerifier(key).Verify(token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestVerify_RejectsOtherAlgorithms(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, auth.Claims{
		AccountID: "1", CharacterID: "2", Privilege: "Player",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute))},
	}).SignedString(key)
	require.NoError(t, err)

	_, err = auth.NewVerifier(key).Verify(token)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestVerify_BadClaims(t *testing.T) {
	cases := map[string]auth.Claims{
		"non numeric account":   {AccountID: "abc", CharacterID: "1", Privilege: "Player"},
		"negative character":    {AccountID: "1", CharacterID: "-1", Privilege: "Player"},
		"empty account":         {AccountID: "", CharacterID: "1", Privilege: "Player"},
		"unknown privilege":     {AccountID: "1", CharacterID: "1", Privilege: "Manager"},
		"lower case privilege":  {AccountID: "1", CharacterID: "1", Privilege: "admin"},
		"overflowing character": {AccountID: "1", CharacterID: "18446744073709551616", Privilege: "Player"},
	}
	issuer := auth.NewIssuer(key)
	verifier := auth.NewVerifier(key)
	for name, claims := range cases {
		t.Run(name, func(t *testing.T) {
			token, err := issuer.Sign(claims, time.Minute)
			require.NoError(t, err)
			_, err = verifier.Verify(token)
			assert.ErrorIs(t, err, auth.ErrInvalidClaims)
		})
	}
}

func TestProperty_IssueVerifyRoundTrip(t *testing.T) {
	issuer := auth.NewIssuer(key)
	verifier := auth.NewVerifier(key)
	rapid.Check(t, func(rt *rapid.T) {
		acct := session.Account{
			AccountID:   rapid.Uint64().Draw(rt, "aid"),
			CharacterID: rapid.Uint64().Draw(rt, "cid"),
			Privilege: rapid.SampledFrom([]session.Privilege{
				session.PrivilegePlayer, session.PrivilegeCheatPlayer, session.PrivilegeAdmin,
			}).Draw(rt, "prv"),
		}
		token, err := issuer.Issue(acct, time.Minute)
		require.NoError(rt, err)
		got, err := verifier.Verify(token)
		require.NoError(rt, err)
		assert.Equal(rt, acct, got)
	})
}
