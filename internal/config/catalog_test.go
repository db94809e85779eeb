package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogDefaultsWhenFileMissing(t *testing.T) {
	holder, err := NewCatalogHolder(nil, t.TempDir())
	require.NoError(t, err)

	cost, ok := holder.Tariff("basic")
	require.True(t, ok)
	assert.Equal(t, int64(1), cost)

	cost, ok = holder.Tariff(" Complete ")
	require.True(t, ok)
	assert.Equal(t, int64(3), cost)

	_, ok = holder.Tariff("premium")
	assert.False(t, ok)
	assert.Len(t, holder.Get().Plans, 3)
}

func TestCatalogReadsFile(t *testing.T) {
	dir := t.TempDir()
	body := `
catalog:
  tariffs:
    basic: 2
    complete: 5
  plans:
    - name: Starter
      type: basic
      priceCents: 1000
      credits: 100
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "catalog.yml"), []byte(body), 0o600))

	holder, err := NewCatalogHolder(nil, dir)
	require.NoError(t, err)

	cost, ok := holder.Tariff("complete")
	require.True(t, ok)
	assert.Equal(t, int64(5), cost)

	plans := holder.Get().Plans
	require.Len(t, plans, 1)
	assert.Equal(t, "Starter", plans[0].Name)
	assert.Equal(t, int64(1000), plans[0].PriceCents)
	assert.Equal(t, int64(100), plans[0].Credits)
}

func TestCatalogRejectsZeroTariff(t *testing.T) {
	dir := t.TempDir()
	body := `
catalog:
  tariffs:
    basic: 0
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "catalog.yml"), []byte(body), 0o600))

	_, err := NewCatalogHolder(nil, dir)
	require.Error(t, err)
}
