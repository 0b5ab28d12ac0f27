package gig

import "time"

// Gig is a freelancer's published offer. Jobs reference it by ID.
type Gig struct {
	ID         string
	Freelancer string
	Title      string
	Price      string
	Active     bool
	CreatedAt  time.Time
}
