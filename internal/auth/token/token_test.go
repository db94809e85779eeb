package token

import (
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIssueParse(t *testing.T) {
	issuer, err := NewIssuer("secret", time.Hour)
	require.NoError(t, err)

	tok, err := issuer.Issue(snowflake.ID(42))
	require.NoError(t, err)
	assert.NotEmpty(t, tok.Value)

	id, err := issuer.Parse(tok.Value)
	require.NoError(t, err)
	assert.Equal(t, snowflake.ID(42), id)
}

func TestParseExpired(t *testing.T) {
	issuer, err := NewIssuer("secret", time.Hour)
	require.NoError(t, err)

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	issuer.now = func() time.Time { return base }
	tok, err := issuer.Issue(snowflake.ID(7))
	require.NoError(t, err)

	issuer.now = func() time.Time { return base.Add(2 * time.Hour) }
	_, err = issuer.Parse(tok.Value)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestParseRejectsOtherSecret(t *testing.T) {
	a, err := NewIssuer("secret-a", time.Hour)
	require.NoError(t, err)
	b, err := NewIssuer("secret-b", time.Hour)
	require.NoError(t, err)

	tok, err := a.Issue(snowflake.ID(1))
	require.NoError(t, err)

	_, err = b.Parse(tok.Value)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = b.Parse("")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestNewIssuerRequiresSecret(t *testing.T) {
	_, err := NewIssuer("  ", time.Hour)
	assert.ErrorIs(t, err, ErrMissingSecret)
}
