package models

import (
	"time"

	dErrors "identify/pkg/domain-errors"
)

// ContactID is assigned by the store on insert and never changes.
type ContactID int64

// LinkPrecedence marks a contact as its cluster's anchor or as linked to one.
type LinkPrecedence string

const (
	LinkPrecedencePrimary   LinkPrecedence = "primary"
	LinkPrecedenceSecondary LinkPrecedence = "secondary"
)

// Contact is one sighting of an email and/or phone number.
//
// LinkedID is set iff LinkPrecedence is secondary, and then always names the
// cluster's primary directly.
type Contact struct {
	ID             ContactID      `json:"id"`
	Email          *string        `json:"email"`
	PhoneNumber    *string        `json:"phoneNumber"`
	LinkedID       *ContactID     `json:"linkedId"`
	LinkPrecedence LinkPrecedence `json:"linkPrecedence"`
	CreatedAt      time.Time      `json:"createdAt"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// IsPrimary reports whether c anchors its own cluster.
func (c *Contact) IsPrimary() bool {
	return c.LinkPrecedence == LinkPrecedencePrimary && c.LinkedID == nil
}

// RootID is c's own id for a primary, else the primary it links to.
func (c *Contact) RootID() ContactID {
	if c.LinkedID != nil {
		return *c.LinkedID
	}
	return c.ID
}

// EmailValue returns the email or "" when absent.
func (c *Contact) EmailValue() string {
	if c.Email == nil {
		return ""
	}
	return *c.Email
}

// PhoneValue returns the phone number or "" when absent.
func (c *Contact) PhoneValue() string {
	if c.PhoneNumber == nil {
		return ""
	}
	return *c.PhoneNumber
}

// Clone returns a deep copy so stores can hand out records callers may mutate.
func (c *Contact) Clone() *Contact {
	out := *c
	out.Email = cloneString(c.Email)
	out.PhoneNumber = cloneString(c.PhoneNumber)
	if c.LinkedID != nil {
		linked := *c.LinkedID
		out.LinkedID = &linked
	}
	return &out
}

// seniorTo orders contacts by creation time, breaking ties on id.
func (c *Contact) seniorTo(other *Contact) bool {
	if !c.CreatedAt.Equal(other.CreatedAt) {
		return c.CreatedAt.Before(other.CreatedAt)
	}
	return c.ID < other.ID
}

// ContactDraft is a contact the store has not assigned an id to yet.
type ContactDraft struct {
	Email          string
	PhoneNumber    string
	LinkedID       *ContactID
	LinkPrecedence LinkPrecedence
	CreatedAt      time.Time
}

// NewPrimaryDraft starts a new cluster for f.
func NewPrimaryDraft(f Fragment, now time.Time) ContactDraft {
	return ContactDraft{
		Email:          f.Email,
		PhoneNumber:    f.PhoneNumber,
		LinkPrecedence: LinkPrecedencePrimary,
		CreatedAt:      now,
	}
}

// NewSecondaryDraft records f under an existing primary.
func NewSecondaryDraft(f Fragment, primaryID ContactID, now time.Time) ContactDraft {
	linked := primaryID
	return ContactDraft{
		Email:          f.Email,
		PhoneNumber:    f.PhoneNumber,
		LinkedID:       &linked,
		LinkPrecedence: LinkPrecedenceSecondary,
		CreatedAt:      now,
	}
}

// Validate checks the per-record invariants a store must refuse to persist.
func (d ContactDraft) Validate() error {
	if d.Email == "" && d.PhoneNumber == "" {
		return dErrors.New(dErrors.CodeConsistencyViolation, "contact needs an email or a phone number")
	}
	switch d.LinkPrecedence {
	case LinkPrecedencePrimary:
		if d.LinkedID != nil {
			return dErrors.New(dErrors.CodeConsistencyViolation, "primary contact cannot be linked")
		}
	case LinkPrecedenceSecondary:
		if d.LinkedID == nil {
			return dErrors.New(dErrors.CodeConsistencyViolation, "secondary contact must be linked")
		}
	default:
		return dErrors.New(dErrors.CodeConsistencyViolation, "unknown link precedence: "+string(d.LinkPrecedence))
	}
	return nil
}

// Materialize builds the stored record once the store has picked an id.
func (d ContactDraft) Materialize(id ContactID) *Contact {
	c := &Contact{
		ID:             id,
		Email:          optional(d.Email),
		PhoneNumber:    optional(d.PhoneNumber),
		LinkPrecedence: d.LinkPrecedence,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.CreatedAt,
	}
	if d.LinkedID != nil {
		linked := *d.LinkedID
		c.LinkedID = &linked
	}
	return c
}

// LinkUpdate is the only mutation a stored contact ever sees: demotion to
// secondary under a (possibly new) primary.
type LinkUpdate struct {
	LinkedID  ContactID
	UpdatedAt time.Time
}

// Apply rewrites c's link fields in place.
func (u LinkUpdate) Apply(c *Contact) {
	linked := u.LinkedID
	c.LinkPrecedence = LinkPrecedenceSecondary
	c.LinkedID = &linked
	c.UpdatedAt = u.UpdatedAt
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
