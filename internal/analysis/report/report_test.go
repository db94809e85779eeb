package report

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/smallbiznis/testematch/internal/analysis/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderProducesPDF(t *testing.T) {
	score := 87.0
	reader, err := New().Render(context.Background(), Data{
		AnalysisID: "1234",
		Tier:       "complete",
		OwnerName:  "Maria",
		CreatedAt:  time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Result: domain.Result{
			MBTI:              "ENFP",
			PersonalityTraits: []string{"curiosa", "intensa"},
			Compatibility:     domain.Compatibility{PassionScore: &score, IdealColor: "vermelho"},
			Celebrities:       domain.Celebrities{Brazilian: &domain.Celebrity{Name: "Anitta"}},
		},
	})
	require.NoError(t, err)

	body, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.True(t, len(body) > 4)
	assert.Equal(t, "%PDF", string(body[:4]))
}

func TestRenderHonoursCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New().Render(ctx, Data{})
	assert.ErrorIs(t, err, context.Canceled)
}
