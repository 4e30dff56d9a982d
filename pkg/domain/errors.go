package domain

import "errors"

// Transition errors. Every one of them is recoverable by the caller and is
// returned before any state change becomes visible.
var (
	ErrIDSpaceExhausted    = errors.New("kitty id space exhausted")
	ErrInvalidKittyID      = errors.New("invalid kitty id")
	ErrIdenticalParents    = errors.New("parents must be distinct kitties")
	ErrNotOwner            = errors.New("caller does not own the kitty")
	ErrAlreadyOwned        = errors.New("caller already owns the kitty")
	ErrAlreadyListed       = errors.New("kitty is already listed for sale")
	ErrNotListed           = errors.New("kitty is not listed for sale")
	ErrInsufficientBalance = errors.New("insufficient free balance")
)

// Store invariant errors. The transition handlers never trigger these; they
// guard the store against misuse.
var (
	ErrDuplicateKittyID  = errors.New("kitty id already stored")
	ErrParentsAlreadySet = errors.New("parentage already recorded")
)
