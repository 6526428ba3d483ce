package appErrors

import (
	"errors"
	"fmt"
)

// Code identifies exactly which precondition an escrow operation failed.
type Code string

const (
	CodeUnauthorized        Code = "Unauthorized"
	CodeUnauthorizedOracle  Code = "UnauthorizedOracle"
	CodeOverflow            Code = "Overflow"
	CodeCampaignNotComplete Code = "CampaignNotComplete"
	CodeInvalidShiller      Code = "InvalidShiller"
	CodeInsufficientBudget  Code = "InsufficientBudget"
	CodeInsufficientFunds   Code = "InsufficientFunds"
	CodeCampaignExists      Code = "CampaignExists"
	CodeCampaignNotFound    Code = "CampaignNotFound"
	CodeInvalidInput        Code = "InvalidInput"
)

// EscrowError is a coded failure returned by the escrow handlers.
// Two EscrowErrors match under errors.Is when their codes are equal.
type EscrowError struct {
	Code    Code
	Message string
}

func (e *EscrowError) Error() string {
	return e.Message
}

func (e *EscrowError) Is(target error) bool {
	var t *EscrowError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// ErrorCode lets CodeOf read the code without knowing the concrete type.
func (e *EscrowError) ErrorCode() Code {
	return e.Code
}

var (
	ErrUnauthorized        = &EscrowError{Code: CodeUnauthorized, Message: "unauthorized"}
	ErrUnauthorizedOracle  = &EscrowError{Code: CodeUnauthorizedOracle, Message: "unauthorized oracle"}
	ErrOverflow            = &EscrowError{Code: CodeOverflow, Message: "overflow"}
	ErrCampaignNotComplete = &EscrowError{Code: CodeCampaignNotComplete, Message: "campaign not complete"}
	ErrInvalidShiller      = &EscrowError{Code: CodeInvalidShiller, Message: "invalid shiller"}
	ErrInsufficientBudget  = &EscrowError{Code: CodeInsufficientBudget, Message: "insufficient budget"}
	ErrInsufficientFunds   = &EscrowError{Code: CodeInsufficientFunds, Message: "insufficient funds"}
	ErrCampaignExists      = &EscrowError{Code: CodeCampaignExists, Message: "campaign already exists"}
	ErrInvalidInput        = &EscrowError{Code: CodeInvalidInput, Message: "invalid input"}
)

// NewInvalidInput returns an InvalidInput error with a field-specific message.
func NewInvalidInput(format string, args ...any) error {
	return &EscrowError{
		Code:    CodeInvalidInput,
		Message: "invalid input: " + fmt.Sprintf(format, args...),
	}
}

// ErrCampaignNotFound is returned when no record exists at an address
type ErrCampaignNotFound struct {
	Address string
}

func (e *ErrCampaignNotFound) Error() string {
	return fmt.Sprintf("campaign with address %s not found", e.Address)
}

func (e *ErrCampaignNotFound) ErrorCode() Code {
	return CodeCampaignNotFound
}

// Helper constructor
func NewCampaignNotFound(address string) error {
	return &ErrCampaignNotFound{Address: address}
}

// CodeOf returns the escrow code carried by err, or "" for errors that
// did not originate from an escrow precondition.
func CodeOf(err error) Code {
	var coded interface{ ErrorCode() Code }
	if errors.As(err, &coded) {
		return coded.ErrorCode()
	}
	return ""
}
