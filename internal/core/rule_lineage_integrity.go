package core

import (
	"context"
	"fmt"

	"kittycore/pkg/domain"
)

// LineageIntegrityRule blocks parentage records that reference missing
// kitties, repeat a parent, or make a kitty its own parent.
func LineageIntegrityRule() domain.Rule {
	return lineageIntegrityRule{}
}

type lineageIntegrityRule struct{}

func (lineageIntegrityRule) Name() string { return "lineage_integrity" }

func (lineageIntegrityRule) Evaluate(_ context.Context, view domain.RuleView, changes []domain.Change) (domain.Result, error) {
	res := domain.Result{}
	for _, change := range changes {
		if change.Entity != domain.EntityParentage {
			continue
		}
		parents, ok := change.After.(domain.Parents)
		if !ok {
			continue
		}
		child := change.KittyID
		switch {
		case parents.A == parents.B:
			res.Violations = append(res.Violations, lineageViolation(child, fmt.Sprintf("kitty %s lists parent %s twice", child, parents.A)))
		case parents.A == child || parents.B == child:
			res.Violations = append(res.Violations, lineageViolation(child, fmt.Sprintf("kitty %s references itself as a parent", child)))
		}
		for _, parent := range []domain.KittyID{parents.A, parents.B} {
			if !view.Exists(parent) {
				res.Violations = append(res.Violations, lineageViolation(child, fmt.Sprintf("kitty %s references missing parent %s", child, parent)))
			}
		}
	}
	return res, nil
}

func lineageViolation(id domain.KittyID, message string) domain.Violation {
	return domain.Violation{
		Rule:     "lineage_integrity",
		Severity: domain.SeverityBlock,
		Message:  message,
		Entity:   domain.EntityParentage,
		KittyID:  id,
	}
}
