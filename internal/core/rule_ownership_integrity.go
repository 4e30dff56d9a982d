package core

import (
	"context"
	"fmt"

	"kittycore/pkg/domain"
)

// OwnershipIntegrityRule blocks commits that leave a touched kitty without an
// owner or an owner record pointing at no kitty, and listings of unknown
// kitties.
func OwnershipIntegrityRule() domain.Rule {
	return ownershipIntegrityRule{}
}

type ownershipIntegrityRule struct{}

func (ownershipIntegrityRule) Name() string { return "ownership_integrity" }

func (ownershipIntegrityRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	checked := make(map[domain.KittyID]struct{}, len(changes))
	for _, change := range changes {
		id := change.KittyID
		switch change.Entity {
		case domain.EntityKitty, domain.EntityOwnership:
			if _, done := checked[id]; done {
				continue
			}
			checked[id] = struct{}{}
			_, owned := view.Owner(id)
			exists := view.Exists(id)
			if exists && !owned {
				res.Violations = append(res.Violations, ownershipViolation(domain.EntityKitty, id, fmt.Sprintf("kitty %s has no owner", id)))
			}
			if owned && !exists {
				res.Violations = append(res.Violations, ownershipViolation(domain.EntityOwnership, id, fmt.Sprintf("owner recorded for unknown kitty %s", id)))
			}
		case domain.EntityListing:
			if change.Action == domain.ActionCreate && !view.Exists(id) {
				res.Violations = append(res.Violations, ownershipViolation(domain.EntityListing, id, fmt.Sprintf("listing references unknown kitty %s", id)))
			}
		}
	}
	return res, nil
}

func ownershipViolation(entity domain.EntityType, id domain.KittyID, message string) domain.Violation {
	return domain.Violation{
		Rule:     "ownership_integrity",
		Severity: domain.SeverityBlock,
		Message:  message,
		Entity:   entity,
		KittyID:  id,
	}
}
