// internal/model/campaign.go
package model

import "time"

// MaxHashtagLength is the longest hashtag a campaign may be addressed by.
const MaxHashtagLength = 60

// Address is the deterministic storage key of a campaign, derived from
// its creator and hashtag.
type Address string

type Campaign struct {
	Address             Address    `db:"address" json:"address"`
	Creator             Identity   `db:"creator" json:"creator"`
	Oracle              Identity   `db:"oracle" json:"oracle,omitempty"`
	Budget              uint64     `db:"budget" json:"budget"`
	RewardPerEngagement uint64     `db:"reward_per_engagement" json:"reward_per_engagement"`
	GoalEngagements     uint64     `db:"goal_engagements" json:"goal_engagements"`
	EngagementsVerified uint64     `db:"engagements_verified" json:"engagements_verified"`
	IsComplete          bool       `db:"is_complete" json:"is_complete"`
	Hashtag             string     `db:"hashtag" json:"hashtag"`
	CreatedAt           time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt           *time.Time `db:"updated_at" json:"updated_at,omitempty"`
}

// Clone returns a copy that shares no pointers with c.
func (c *Campaign) Clone() *Campaign {
	out := *c
	if c.UpdatedAt != nil {
		t := *c.UpdatedAt
		out.UpdatedAt = &t
	}
	return &out
}
