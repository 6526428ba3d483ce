package service

import (
	appErrors "github.com/unclebandit/engagement-escrow/internal/errors"
	"github.com/unclebandit/engagement-escrow/internal/model"
)

// Role is the campaign capability an operation requires of its caller.
type Role int

const (
	RoleNone Role = iota
	RoleCreator
	RoleOracle
)

const (
	opCreateCampaign = "create_campaign"
	opSetOracle      = "set_oracle"
	opSubmitProof    = "submit_proof"
	opReleasePayment = "release_payment"
	opFund           = "fund"
)

// Release is open to any caller once the campaign is complete.
var requiredRoles = map[string]Role{
	opCreateCampaign: RoleNone,
	opSetOracle:      RoleCreator,
	opSubmitProof:    RoleOracle,
	opReleasePayment: RoleNone,
	opFund:           RoleNone,
}

// RequiredRole reports which campaign role op demands.
func RequiredRole(op string) Role {
	return requiredRoles[op]
}

// authorize checks caller against the role op requires on c. It runs
// before any field of c is touched.
func authorize(op string, caller model.Identity, c *model.Campaign) error {
	switch requiredRoles[op] {
	case RoleCreator:
		if caller.IsZero() || caller != c.Creator {
			return appErrors.ErrUnauthorized
		}
	case RoleOracle:
		// An unset oracle matches nobody.
		if caller.IsZero() || c.Oracle.IsZero() || caller != c.Oracle {
			return appErrors.ErrUnauthorizedOracle
		}
	}
	return nil
}
