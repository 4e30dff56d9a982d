package core

import "kittycore/pkg/domain"

// NewDefaultRulesEngine returns a rules engine pre-populated with the
// ledger's integrity rules.
func NewDefaultRulesEngine() *domain.RulesEngine {
	engine := domain.NewRulesEngine()
	engine.Register(LineageIntegrityRule())
	engine.Register(OwnershipIntegrityRule())
	return engine
}
