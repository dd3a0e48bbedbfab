package models

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// Recipient is a single member of a list. A recipient belongs to exactly
// one list; moving it to another list changes ownership.
type Recipient struct {
	ID        int64     `json:"id"`
	ListID    int64     `json:"list_id"`
	Email     string    `json:"email"`
	First     string    `json:"first,omitempty"`
	Last      string    `json:"last,omitempty"`
	Source    string    `json:"source,omitempty"`
	Active    bool      `json:"active"`
	Confirmed bool      `json:"confirmed"`
	Metadata  string    `json:"metadata,omitempty"` // free-form YAML document
	CreatedAt time.Time `json:"created_at"`
}

var emailPattern = regexp.MustCompile(`^[A-Za-z0-9.!#$%&'*+/=?^_` + "`" + `{|}~-]+@[A-Za-z0-9]([A-Za-z0-9-]{0,61}[A-Za-z0-9])?(\.[A-Za-z0-9]([A-Za-z0-9-]{0,61}[A-Za-z0-9])?)+$`)

// ValidateEmail checks the address against a strict syntax rule. Addresses
// are validated at write time so the selection queries can trust the column.
func ValidateEmail(email string) error {
	if !emailPattern.MatchString(email) {
		return fmt.Errorf("invalid email address %q", email)
	}
	return nil
}

// EmailDomain returns the lowercased domain part of the address, or an
// empty string when there is none.
func EmailDomain(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 || at == len(email)-1 {
		return ""
	}
	return strings.ToLower(email[at+1:])
}

// Name returns a display name for the recipient.
func (r *Recipient) Name() string {
	name := strings.TrimSpace(r.First + " " + r.Last)
	if name == "" {
		return r.Email
	}
	return name
}
