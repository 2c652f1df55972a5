// Package casefile holds the support case record that a live session fills
// in and that renderers read.
package casefile

import (
	"slices"
	"time"
)

// EmailStatus tracks the simulated delivery of the case summary.
type EmailStatus string

const (
	EmailNone    EmailStatus = "none"
	EmailSending EmailStatus = "sending"
	EmailSent    EmailStatus = "sent"
)

// Record is the evolving support case. Empty fields have not been reported
// yet.
type Record struct {
	Identity        string      `json:"identity,omitempty"`
	Municipality    string      `json:"municipality,omitempty"`
	System          string      `json:"system,omitempty"`
	Problem         string      `json:"problem,omitempty"`
	Solutions       []string    `json:"solutions,omitempty"`
	Status          string      `json:"status,omitempty"`
	TicketCode      string      `json:"ticketCode,omitempty"`
	TicketCreatedAt *time.Time  `json:"ticketCreatedAt,omitempty"`
	EmailStatus     EmailStatus `json:"emailStatus,omitempty"`
}

// Details is a partial update of the descriptive fields. Empty fields are
// left untouched by a merge.
type Details struct {
	Municipality string
	System       string
	Problem      string
}

// Empty reports whether the update carries no field.
func (d Details) Empty() bool {
	return d.Municipality == "" && d.System == "" && d.Problem == ""
}

// Email returns the e-mail status, reporting EmailNone when unset.
func (r Record) Email() EmailStatus {
	if r.EmailStatus == "" {
		return EmailNone
	}
	return r.EmailStatus
}

// HasTicket reports whether a ticket code has been issued.
func (r Record) HasTicket() bool {
	return r.TicketCode != ""
}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	out := r
	out.Solutions = slices.Clone(r.Solutions)
	if r.TicketCreatedAt != nil {
		ts := *r.TicketCreatedAt
		out.TicketCreatedAt = &ts
	}
	return out
}
