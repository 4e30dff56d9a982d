package core

import "kittycore/pkg/domain"

type (
	KittyID            = domain.KittyID
	AccountID          = domain.AccountID
	Balance            = domain.Balance
	Genes              = domain.Genes
	Kitty              = domain.Kitty
	Parents            = domain.Parents
	Event              = domain.Event
	EventKind          = domain.EventKind
	EntityType         = domain.EntityType
	Severity           = domain.Severity
	Change             = domain.Change
	Action             = domain.Action
	Violation          = domain.Violation
	Result             = domain.Result
	RulesEngine        = domain.RulesEngine
	Rule               = domain.Rule
	Snapshot           = domain.Snapshot
	RuleViolationError = domain.RuleViolationError
	PersistError       = domain.PersistError
)

const (
	EntityKitty     = domain.EntityKitty
	EntityOwnership = domain.EntityOwnership
	EntityParentage = domain.EntityParentage
	EntityListing   = domain.EntityListing
)

const (
	SeverityBlock = domain.SeverityBlock
	SeverityWarn  = domain.SeverityWarn
	SeverityLog   = domain.SeverityLog
)

const (
	ActionCreate = domain.ActionCreate
	ActionUpdate = domain.ActionUpdate
	ActionDelete = domain.ActionDelete
)

const (
	EventKittyCreated     = domain.EventKittyCreated
	EventKittyBred        = domain.EventKittyBred
	EventKittyTransferred = domain.EventKittyTransferred
	EventKittyListed      = domain.EventKittyListed
	EventKittySold        = domain.EventKittySold
)
