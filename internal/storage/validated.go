package storage

import (
	"context"

	"github.com/elga-io/corgi/internal/models"
	"github.com/elga-io/corgi/internal/validation"
)

// ValidatedStore rejects malformed links before they reach the backend.
type ValidatedStore struct {
	LinkStore
	rules validation.Rules
}

func Validated(store LinkStore, rules validation.Rules) *ValidatedStore {
	return &ValidatedStore{LinkStore: store, rules: rules}
}

func (s *ValidatedStore) Create(ctx context.Context, l *models.Link) error {
	if err := s.rules.Link(l.Domain, l.Keyword, l.URL, l.Title); err != nil {
		return err
	}
	return s.LinkStore.Create(ctx, l)
}

func (s *ValidatedStore) Update(ctx context.Context, id, ownerID string, patch models.LinkPatch) (*models.Link, error) {
	if patch.URL != nil {
		if err := validation.ValidateURL(*patch.URL, s.rules.Domains); err != nil {
			return nil, err
		}
	}
	if patch.Title != nil {
		if err := validation.ValidateTitle(*patch.Title); err != nil {
			return nil, err
		}
	}
	return s.LinkStore.Update(ctx, id, ownerID, patch)
}
