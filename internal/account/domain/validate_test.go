package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidCPF(t *testing.T) {
	cases := map[string]bool{
		"529.982.247-25": true,
		"52998224725":    true,
		"111.444.777-35": true,
		"529.982.247-24": false,
		"111.111.111-11": false,
		"1234567890":     false,
		"":               false,
	}
	for raw, want := range cases {
		assert.Equal(t, want, ValidCPF(raw), raw)
	}
	assert.Equal(t, "52998224725", NormalizeCPF("529.982.247-25"))
}

func TestNormalizePhone(t *testing.T) {
	assert.Equal(t, "11987654321", NormalizePhone("(11) 98765-4321"))
	assert.Equal(t, "2187654321", NormalizePhone("(21) 98765-4321"))
	assert.Equal(t, "2133334444", NormalizePhone("21 3333-4444"))

	assert.True(t, ValidPhone("(11) 98765-4321"))
	assert.False(t, ValidPhone("98765"))
}

func TestValidEmailAndName(t *testing.T) {
	assert.True(t, ValidEmail(" Maria@Example.com "))
	assert.False(t, ValidEmail("not-an-email"))
	assert.False(t, ValidEmail("Maria <maria@example.com>"))
	assert.Equal(t, "maria@example.com", NormalizeEmail(" Maria@Example.com "))

	assert.True(t, ValidName("Jo"))
	assert.False(t, ValidName(" A "))
}
