package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// IdentifyRequest is the body of POST /identify. Either field may be
// omitted or null, but not both.
type IdentifyRequest struct {
	Email       string      `json:"email" validate:"max=320"`
	PhoneNumber PhoneNumber `json:"phoneNumber" validate:"max=32"`
}

// PhoneNumber accepts a JSON string or number; clients send both.
type PhoneNumber string

func (p *PhoneNumber) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*p = ""
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*p = PhoneNumber(s)
		return nil
	default:
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("phoneNumber must be a string or number")
		}
		*p = PhoneNumber(n.String())
		return nil
	}
}
