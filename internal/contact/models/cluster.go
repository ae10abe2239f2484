package models

import (
	"fmt"
	"sort"

	dErrors "identify/pkg/domain-errors"
	"identify/pkg/platform/strings"
)

// ConsolidatedContact is the merged view of one cluster returned to callers.
type ConsolidatedContact struct {
	PrimaryContactID    ContactID   `json:"primaryContactId"`
	Emails              []string    `json:"emails"`
	PhoneNumbers        []string    `json:"phoneNumbers"`
	SecondaryContactIDs []ContactID `json:"secondaryContactIds"`
}

// RootIDs returns the distinct cluster roots referenced by matches, ascending.
func RootIDs(matches []*Contact) []ContactID {
	seen := make(map[ContactID]struct{}, len(matches))
	roots := make([]ContactID, 0, len(matches))
	for _, c := range matches {
		root := c.RootID()
		if _, ok := seen[root]; ok {
			continue
		}
		seen[root] = struct{}{}
		roots = append(roots, root)
	}
	sort.Slice(roots, func(i, j int) bool { return roots[i] < roots[j] })
	return roots
}

// SortBySeniority orders contacts oldest first; equal timestamps fall back to id.
func SortBySeniority(contacts []*Contact) {
	sort.SliceStable(contacts, func(i, j int) bool {
		return contacts[i].seniorTo(contacts[j])
	})
}

// MergePlan names the surviving primary and the roots it absorbs.
type MergePlan struct {
	Survivor *Contact
	Demoted  []*Contact
}

// IsMerge reports whether the plan unifies more than one cluster.
func (p MergePlan) IsMerge() bool {
	return len(p.Demoted) > 0
}

// PlanMerge picks the most senior root as survivor. Every root must still be
// a primary; callers re-read roots under lock before planning.
func PlanMerge(roots []*Contact) (MergePlan, error) {
	if len(roots) == 0 {
		return MergePlan{}, dErrors.New(dErrors.CodeConsistencyViolation, "merge planned without roots")
	}
	ordered := make([]*Contact, len(roots))
	copy(ordered, roots)
	for _, r := range ordered {
		if !r.IsPrimary() {
			return MergePlan{}, dErrors.New(dErrors.CodeConsistencyViolation,
				fmt.Sprintf("cluster root %d is not a primary", r.ID))
		}
	}
	SortBySeniority(ordered)
	return MergePlan{Survivor: ordered[0], Demoted: ordered[1:]}, nil
}

// RelinkIDs lists every contact that must point at the survivor after the
// merge: each demoted root and every secondary currently under it.
func (p MergePlan) RelinkIDs(clusters map[ContactID][]*Contact) []ContactID {
	var ids []ContactID
	for _, root := range p.Demoted {
		ids = append(ids, root.ID)
		for _, member := range clusters[root.ID] {
			if member.ID != root.ID {
				ids = append(ids, member.ID)
			}
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// VerifyCluster checks that cluster has exactly one primary, primaryID, and
// that every other member links directly to it.
func VerifyCluster(primaryID ContactID, cluster []*Contact) error {
	var primaries int
	for _, c := range cluster {
		switch {
		case c.IsPrimary():
			primaries++
			if c.ID != primaryID {
				return dErrors.New(dErrors.CodeConsistencyViolation,
					fmt.Sprintf("contact %d claims primary inside cluster %d", c.ID, primaryID))
			}
		case c.LinkPrecedence != LinkPrecedenceSecondary || c.LinkedID == nil || *c.LinkedID != primaryID:
			return dErrors.New(dErrors.CodeConsistencyViolation,
				fmt.Sprintf("contact %d is not linked directly to primary %d", c.ID, primaryID))
		}
	}
	if primaries != 1 {
		return dErrors.New(dErrors.CodeConsistencyViolation,
			fmt.Sprintf("cluster %d has %d primaries", primaryID, primaries))
	}
	return nil
}

// Consolidate assembles the view of one verified cluster: the primary's
// values first, then secondaries oldest first, de-duplicated.
func Consolidate(primaryID ContactID, cluster []*Contact) (*ConsolidatedContact, error) {
	if err := VerifyCluster(primaryID, cluster); err != nil {
		return nil, err
	}

	ordered := make([]*Contact, 0, len(cluster))
	var primary *Contact
	for _, c := range cluster {
		if c.ID == primaryID {
			primary = c
			continue
		}
		ordered = append(ordered, c)
	}
	SortBySeniority(ordered)
	ordered = append([]*Contact{primary}, ordered...)

	emails := make([]string, 0, len(ordered))
	phones := make([]string, 0, len(ordered))
	secondaries := make([]ContactID, 0, len(ordered)-1)
	for _, c := range ordered {
		emails = append(emails, c.EmailValue())
		phones = append(phones, c.PhoneValue())
		if c.ID != primaryID {
			secondaries = append(secondaries, c.ID)
		}
	}

	return &ConsolidatedContact{
		PrimaryContactID:    primaryID,
		Emails:              strings.Dedupe(emails),
		PhoneNumbers:        strings.Dedupe(phones),
		SecondaryContactIDs: secondaries,
	}, nil
}
