package service

import (
	"sync/atomic"

	"github.com/fable-hub/fable-story-hub/internal/domain/curriculum"
	"github.com/fable-hub/fable-story-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CURRICULUM PROVIDER
// ══════════════════════════════════════════════════════════════════════════════

// CurriculumProvider implements curriculum.Provider with an atomically
// swapped snapshot. Readers always get a complete, internally consistent
// tree; the refresh job swaps in a new one without blocking them.
type CurriculumProvider struct {
	current atomic.Pointer[curriculum.Tree]
}

// NewCurriculumProvider creates an empty provider. Current returns
// ErrCurriculumNotSet until the first Set.
func NewCurriculumProvider() *CurriculumProvider {
	return &CurriculumProvider{}
}

// Current returns the active curriculum tree.
func (p *CurriculumProvider) Current() (*curriculum.Tree, error) {
	tree := p.current.Load()
	if tree == nil {
		return nil, shared.ErrCurriculumNotSet
	}
	return tree, nil
}

// Set swaps in a new snapshot.
func (p *CurriculumProvider) Set(tree *curriculum.Tree) {
	p.current.Store(tree)
}

// Version returns the active snapshot's version, or "" when unset.
func (p *CurriculumProvider) Version() string {
	tree := p.current.Load()
	if tree == nil {
		return ""
	}
	return tree.Version()
}
