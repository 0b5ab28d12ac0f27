package gig

import (
	"context"
	"errors"
	"fmt"

	"gigflow/escrow"
	"gigflow/job"
)

// Reader abstracts repository operations for the service.
type Reader interface {
	GetByID(ctx context.Context, id string) (Gig, error)
	ListByFreelancer(ctx context.Context, freelancer string, limit int) ([]Gig, error)
}

// Service exposes the read-only gig catalog and checks hire requests against it.
type Service struct {
	repo Reader
}

// NewService builds a Service using the provided repository.
func NewService(repo Reader) *Service {
	return &Service{repo: repo}
}

// GetByID returns the gig for the given identifier.
func (s *Service) GetByID(ctx context.Context, id string) (Gig, error) {
	return s.repo.GetByID(ctx, id)
}

// ListByFreelancer returns up to limit active gigs for freelancer.
func (s *Service) ListByFreelancer(ctx context.Context, freelancer string, limit int) ([]Gig, error) {
	return s.repo.ListByFreelancer(ctx, freelancer, limit)
}

// VerifyHire rejects hire requests whose terms differ from the referenced gig.
// Params arrive with a normalized price.
func (s *Service) VerifyHire(ctx context.Context, p job.OpenParams) error {
	if p.GigRef == "" {
		return fmt.Errorf("%w: gig reference required", job.ErrValidation)
	}
	g, err := s.repo.GetByID(ctx, p.GigRef)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%w: unknown gig %s", job.ErrValidation, p.GigRef)
		}
		return err
	}
	if !g.Active {
		return fmt.Errorf("%w: gig %s is not accepting hires", job.ErrValidation, g.ID)
	}
	if g.Freelancer != p.Freelancer {
		return fmt.Errorf("%w: gig %s belongs to another freelancer", job.ErrValidation, g.ID)
	}
	price, err := escrow.NormalizePrice(g.Price)
	if err != nil {
		return fmt.Errorf("gig: stored price for %s: %w", g.ID, err)
	}
	if price != p.Price {
		return fmt.Errorf("%w: price %s does not match gig price %s", job.ErrValidation, p.Price, price)
	}
	return nil
}
