package store

import "time"

// Participant is one identity a membership can belong to, e.g. ("user", "42")
// or ("visitor", "<token>").
type Participant struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// Membership records the variant a participant was assigned in an experiment.
type Membership struct {
	ID              int64     `json:"id"`
	ParticipantType string    `json:"participant_type"`
	ParticipantID   string    `json:"participant_id"`
	Experiment      string    `json:"experiment"`
	Variant         string    `json:"variant"`
	Converted       bool      `json:"converted"`
	CreatedAt       time.Time `json:"created_at"`
}

// Participant returns the identity the membership is stored under.
func (m *Membership) Participant() Participant {
	return Participant{Type: m.ParticipantType, ID: m.ParticipantID}
}

// Event is a goal conversion recorded against a membership.
type Event struct {
	ID           int64     `json:"id"`
	MembershipID int64     `json:"membership_id"`
	Name         string    `json:"name"`
	CreatedAt    time.Time `json:"created_at"`
}

// VariantCounts are the aggregated participation numbers of one variant.
type VariantCounts struct {
	Variant      string
	Participated int
	Converted    int
}

// CountQuery selects which memberships and conversions VariantCounts counts.
// A zero From or To leaves that side of the window open.
type CountQuery struct {
	Experiment string
	Goal       string
	UseEvents  bool
	From       time.Time
	To         time.Time
}
