package ledgertest

import (
	"testing"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
)

func TestNewNodeIDsNeverCollide(t *testing.T) {
	a, b := NewNode(t), NewNode(t)

	seen := make(map[snowflake.ID]struct{}, 2000)
	for i := 0; i < 1000; i++ {
		for _, id := range []snowflake.ID{a.Generate(), b.Generate()} {
			_, dup := seen[id]
			require.False(t, dup, "id %s generated twice", id)
			seen[id] = struct{}{}
		}
	}
}

func TestFixtureNodeSharesAccountAndEntries(t *testing.T) {
	conn := NewDB(t)
	node := NewNode(t)

	for _, cpf := range []string{"52998224725", "11144477735"} {
		acc := CreateAccount(t, conn, node, cpf, 5)
		RequireConsistent(t, conn, acc.ID)
	}
}
