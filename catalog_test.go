package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultCatalogCosts(t *testing.T) {
	c := DefaultCatalog()

	cost, ok := c.Cost("site-audit")
	require.True(t, ok)
	require.Equal(t, int64(10), cost)

	cost, ok = c.Cost("ai-writer")
	require.True(t, ok)
	require.Equal(t, int64(100), cost)

	_, ok = c.Cost("nonexistent-module")
	require.False(t, ok)
}

func TestCatalogListPreservesOrder(t *testing.T) {
	c := NewCatalog([]Module{
		{ID: "b", Name: "B", Cost: 1},
		{ID: "a", Name: "A", Cost: 2},
		{ID: "b", Name: "B again", Cost: 3}, // duplicate ignored
	})

	list := c.List()
	require.Len(t, list, 2)
	require.Equal(t, "b", list[0].ID)
	require.Equal(t, "a", list[1].ID)

	cost, ok := c.Cost("b")
	require.True(t, ok)
	require.Equal(t, int64(1), cost)
}

func TestLoadCatalogFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.json")
	data := `[
		{"id": "seo-suite", "name": "SEO Suite", "cost": 25, "baseUrl": "https://seo.example.com"},
		{"id": "ai-chat", "name": "AI Chat", "cost": 100, "baseUrl": "https://chat.example.com"}
	]`
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))

	c, err := LoadCatalog(path)
	require.NoError(t, err)

	m, ok := c.Get("seo-suite")
	require.True(t, ok)
	require.Equal(t, int64(25), m.Cost)
	require.Equal(t, "https://seo.example.com", m.BaseURL)
	require.Len(t, c.List(), 2)
}

func TestLoadCatalogRejectsBadInput(t *testing.T) {
	dir := t.TempDir()

	empty := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(empty, []byte(`[]`), 0o600))
	_, err := LoadCatalog(empty)
	require.Error(t, err)

	invalid := filepath.Join(dir, "invalid.json")
	require.NoError(t, os.WriteFile(invalid, []byte(`[{"id": "", "cost": 5}]`), 0o600))
	_, err = LoadCatalog(invalid)
	require.Error(t, err)

	_, err = LoadCatalog(filepath.Join(dir, "missing.json"))
	require.Error(t, err)
}
