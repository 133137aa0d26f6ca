package listings

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	pkgerrors "github.com/threadline/settlement-backend/pkg/errors"
)

// Catalog is the read-only listing source consumed at order creation.
type Catalog interface {
	Snapshot(ctx context.Context, listingID uuid.UUID) (Snapshot, error)
}

type service struct {
	repo Repository
}

// NewService wires a catalog with the provided repository.
func NewService(repo Repository) (Catalog, error) {
	if repo == nil {
		return nil, fmt.Errorf("listing repository required")
	}
	return &service{repo: repo}, nil
}

func (s *service) Snapshot(ctx context.Context, listingID uuid.UUID) (Snapshot, error) {
	if listingID == uuid.Nil {
		return Snapshot{}, pkgerrors.New(pkgerrors.CodeValidation, "listing id is required")
	}
	listing, err := s.repo.FindByID(ctx, listingID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Snapshot{}, pkgerrors.New(pkgerrors.CodeNotFound, "listing not found")
		}
		return Snapshot{}, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load listing")
	}
	return SnapshotFromModel(*listing), nil
}
