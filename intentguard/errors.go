// (c) 2023, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package intentguard

import "errors"

// Errors returned to callers of the protocol. None of them leave partial
// state behind.
var (
	ErrInsufficientPayment = errors.New("payment does not cover value plus verification fee")
	ErrDuplicateIntent     = errors.New("intent already exists")
	ErrIntentNotFound      = errors.New("intent not found")
	ErrIntentExpired       = errors.New("intent deadline has passed")
	ErrWrongStatus         = errors.New("intent is not in the required status")
	ErrNotAuthorized       = errors.New("caller is not authorized")
	ErrAlreadySubmitted    = errors.New("simulator already submitted a verdict for this intent")
	ErrInsufficientStake   = errors.New("stake below minimum")
	ErrAlreadyRegistered   = errors.New("simulator already registered")
	ErrNoStake             = errors.New("simulator has no stake")
	ErrReputationTooLow    = errors.New("reputation below withdrawal floor")
	ErrReputationTooHigh   = errors.New("reputation above penalty threshold")
	ErrStateChanged        = errors.New("target state changed since snapshot")

	ErrInvalidRiskScore = errors.New("risk score must be between 0 and 100")
	ErrInvalidFraction  = errors.New("slash fraction must be between 1 and 100")
	ErrSimulatorUnknown = errors.New("simulator not registered")
)
