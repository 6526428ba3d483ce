// internal/model/proof.go
package model

import "time"

// MaxReferenceIDLength bounds the external attestation reference of a proof.
const MaxReferenceIDLength = 128

// Proof is one accepted engagement attestation.
type Proof struct {
	ID                  string    `db:"id" json:"id"`
	CampaignAddress     Address   `db:"campaign_address" json:"campaign_address"`
	Oracle              Identity  `db:"oracle" json:"oracle"`
	EngagementCount     uint64    `db:"engagement_count" json:"engagement_count"`
	ReferenceID         string    `db:"reference_id" json:"reference_id,omitempty"`
	EngagementsVerified uint64    `db:"engagements_verified" json:"engagements_verified"` // total after this proof
	CreatedAt           time.Time `db:"created_at" json:"created_at"`
}
