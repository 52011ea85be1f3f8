package main

import (
	"encoding/json"
	"fmt"
	"os"
)

// Catalog is the single authoritative module -> cost mapping. Both the debit
// logic and the /modules listing consult it, so UI copy and enforcement can
// never disagree on a price.
type Catalog struct {
	modules map[string]Module
	order   []string
}

// DefaultCatalog returns the built-in module table used when no catalog file
// is configured. Essential modules cost 10 tokens, AI modules cost 100.
func DefaultCatalog() *Catalog {
	return NewCatalog([]Module{
		{ID: "site-audit", Name: "Site Audit", Cost: 10, BaseURL: "https://site-audit.example.com"},
		{ID: "keyword-planner", Name: "Keyword Planner", Cost: 10, BaseURL: "https://keywords.example.com"},
		{ID: "rank-tracker", Name: "Rank Tracker", Cost: 10, BaseURL: "https://ranks.example.com"},
		{ID: "ai-writer", Name: "AI Writer", Cost: 100, BaseURL: "https://ai-writer.example.com"},
		{ID: "ai-image-studio", Name: "AI Image Studio", Cost: 100, BaseURL: "https://ai-images.example.com"},
	})
}

// NewCatalog builds a catalog preserving the listing order of modules
func NewCatalog(modules []Module) *Catalog {
	c := &Catalog{modules: make(map[string]Module, len(modules))}
	for _, m := range modules {
		if _, ok := c.modules[m.ID]; ok {
			continue
		}
		c.modules[m.ID] = m
		c.order = append(c.order, m.ID)
	}
	return c
}

// LoadCatalog reads a JSON array of modules from path
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog file: %w", err)
	}
	var modules []Module
	if err := json.Unmarshal(data, &modules); err != nil {
		return nil, fmt.Errorf("parsing catalog file: %w", err)
	}
	if len(modules) == 0 {
		return nil, fmt.Errorf("catalog file %s contains no modules", path)
	}
	for _, m := range modules {
		if m.ID == "" || m.Cost < 0 {
			return nil, fmt.Errorf("invalid catalog entry %q", m.ID)
		}
	}
	return NewCatalog(modules), nil
}

// Get returns a module by ID
func (c *Catalog) Get(moduleID string) (Module, bool) {
	m, ok := c.modules[moduleID]
	return m, ok
}

// Cost returns the token cost for a module
func (c *Catalog) Cost(moduleID string) (int64, bool) {
	m, ok := c.modules[moduleID]
	return m.Cost, ok
}

// List returns all modules in listing order
func (c *Catalog) List() []Module {
	out := make([]Module, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.modules[id])
	}
	return out
}
