package gig

import (
	"context"
	"errors"
	"testing"

	"gigflow/job"
)

type fakeReader struct {
	gigs map[string]Gig
	err  error
}

func (f *fakeReader) GetByID(ctx context.Context, id string) (Gig, error) {
	if f.err != nil {
		return Gig{}, f.err
	}
	g, ok := f.gigs[id]
	if !ok {
		return Gig{}, ErrNotFound
	}
	return g, nil
}

func (f *fakeReader) ListByFreelancer(ctx context.Context, freelancer string, limit int) ([]Gig, error) {
	var out []Gig
	for _, g := range f.gigs {
		if g.Freelancer == freelancer && g.Active {
			out = append(out, g)
		}
	}
	return out, nil
}

func TestVerifyHire(t *testing.T) {
	repo := &fakeReader{gigs: map[string]Gig{
		"logo":   {ID: "logo", Freelancer: "free", Price: "2.500000000", Active: true},
		"paused": {ID: "paused", Freelancer: "free", Price: "1", Active: false},
	}}
	svc := NewService(repo)
	ctx := context.Background()

	if err := svc.VerifyHire(ctx, job.OpenParams{GigRef: "logo", Hirer: "h", Freelancer: "free", Price: "2.5"}); err != nil {
		t.Fatalf("expected matching hire to pass, got %v", err)
	}

	rejects := []job.OpenParams{
		{GigRef: "", Freelancer: "free", Price: "2.5"},
		{GigRef: "missing", Freelancer: "free", Price: "2.5"},
		{GigRef: "paused", Freelancer: "free", Price: "1"},
		{GigRef: "logo", Freelancer: "someone-else", Price: "2.5"},
		{GigRef: "logo", Freelancer: "free", Price: "2"},
	}
	for _, p := range rejects {
		if err := svc.VerifyHire(ctx, p); !errors.Is(err, job.ErrValidation) {
			t.Fatalf("params %+v: expected validation error, got %v", p, err)
		}
	}
}

func TestVerifyHireSurfacesLookupFailure(t *testing.T) {
	svc := NewService(&fakeReader{err: errors.New("connection refused")})
	err := svc.VerifyHire(context.Background(), job.OpenParams{GigRef: "logo", Freelancer: "free", Price: "1"})
	if err == nil || errors.Is(err, job.ErrValidation) {
		t.Fatalf("expected infrastructure error, got %v", err)
	}
}
