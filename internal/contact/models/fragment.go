package models

import (
	"sort"
	"strings"

	dErrors "identify/pkg/domain-errors"
)

// Fragment is the (email, phone) pair submitted with one event. An empty
// field means the caller did not supply it.
type Fragment struct {
	Email       string
	PhoneNumber string
}

// NewFragment trims both values and rejects a fragment that carries neither.
func NewFragment(email, phoneNumber string) (Fragment, error) {
	f := Fragment{
		Email:       strings.TrimSpace(email),
		PhoneNumber: strings.TrimSpace(phoneNumber),
	}
	if f.Email == "" && f.PhoneNumber == "" {
		return Fragment{}, dErrors.New(dErrors.CodeInvalidRequest, "email or phoneNumber required")
	}
	return f, nil
}

// Keys names the identity keys this fragment touches, sorted so every caller
// acquires per-key locks in the same order.
func (f Fragment) Keys() []string {
	keys := make([]string, 0, 2)
	if f.Email != "" {
		keys = append(keys, "email:"+f.Email)
	}
	if f.PhoneNumber != "" {
		keys = append(keys, "phone:"+f.PhoneNumber)
	}
	sort.Strings(keys)
	return keys
}

// HasNewInformation reports whether any supplied value is absent from cluster.
func (f Fragment) HasNewInformation(cluster []*Contact) bool {
	emailKnown := f.Email == ""
	phoneKnown := f.PhoneNumber == ""
	for _, c := range cluster {
		if !emailKnown && c.EmailValue() == f.Email {
			emailKnown = true
		}
		if !phoneKnown && c.PhoneValue() == f.PhoneNumber {
			phoneKnown = true
		}
		if emailKnown && phoneKnown {
			return false
		}
	}
	return !emailKnown || !phoneKnown
}
