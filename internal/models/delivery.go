package models

import "time"

// Delivery is one attempt, pending or completed, to send one letter of
// one campaign to one recipient. It is also used to record manual events
// (toggle, comment, move), which carry no campaign or letter reference
// and are created already closed.
//
// A delivery is pending while Details is empty and closed once the
// transport outcome (or failure description) has been written. Bounced,
// unsubscribed and opened are orthogonal markers that may be set at any
// later time regardless of the closed state.
type Delivery struct {
	ID           int64      `json:"id"`
	RecipientID  int64      `json:"recipient_id"`
	CampaignID   *int64     `json:"campaign_id,omitempty"`
	LetterID     *int64     `json:"letter_id,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	Relax        *time.Time `json:"relax,omitempty"` // do-not-send-before marker
	Details      string     `json:"details"`
	Opened       *time.Time `json:"opened,omitempty"`
	Bounced      *time.Time `json:"bounced,omitempty"`
	Unsubscribed *time.Time `json:"unsubscribed,omitempty"`
}

// Pending reports whether the send attempt has not been resolved yet.
func (d *Delivery) Pending() bool {
	return d.Details == ""
}
