package models

// Outcome labels what a reconciliation did to the store.
type Outcome string

const (
	OutcomeCreatedPrimary  Outcome = "created_primary"
	OutcomeLinkedSecondary Outcome = "linked_secondary"
	OutcomeMerged          Outcome = "merged"
	OutcomeUnchanged       Outcome = "unchanged"
)

// Resolution records the writes one reconciliation performed.
type Resolution struct {
	PrimaryID ContactID
	Inserted  *Contact
	Demoted   []ContactID
	Relinked  []ContactID
}

// Outcome classifies the resolution. A merge wins over a secondary insert
// made in the same call.
func (r Resolution) Outcome() Outcome {
	switch {
	case len(r.Demoted) > 0:
		return OutcomeMerged
	case r.Inserted != nil && r.Inserted.IsPrimary():
		return OutcomeCreatedPrimary
	case r.Inserted != nil:
		return OutcomeLinkedSecondary
	default:
		return OutcomeUnchanged
	}
}
