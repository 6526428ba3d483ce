package model

import "time"

type EventType string

const (
	EventCampaignCreated  EventType = "campaign.created"
	EventOracleSet        EventType = "campaign.oracle_set"
	EventProofSubmitted   EventType = "campaign.proof_submitted"
	EventCampaignComplete EventType = "campaign.completed"
	EventPaymentReleased  EventType = "campaign.payment_released"
	EventAccountFunded    EventType = "account.funded"
)

// Event is published after a state change commits.
type Event struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Campaign  Address        `json:"campaign_address,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// ReleaseJob asks a payout worker to run release_payment.
type ReleaseJob struct {
	CampaignAddress Address  `json:"campaign_address"`
	Shiller         Identity `json:"shiller"`
	Recipient       Identity `json:"recipient"`
	EngagementCount uint64   `json:"engagement_count"`
}
