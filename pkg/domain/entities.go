// Package domain defines the kitty ledger's value types, store contracts,
// notification events and rule evaluation primitives used by kittycore.
package domain

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// EntityType identifies the type of record stored in the ledger.
type EntityType string

// Supported entity type identifiers used in Change records and persistence buckets.
const (
	// EntityKitty identifies a kitty and its genes.
	EntityKitty EntityType = "kitty"
	// EntityOwnership identifies an owner assignment.
	EntityOwnership EntityType = "ownership"
	// EntityParentage identifies a recorded (parent A, parent B) pair.
	EntityParentage EntityType = "parentage"
	// EntityListing identifies sale listing membership.
	EntityListing EntityType = "listing"
)

// Severity captures rule outcomes.
type Severity string

// Rule evaluation severities determine commit behavior and logging.
const (
	// SeverityBlock blocks transaction commit.
	SeverityBlock Severity = "block"
	// SeverityWarn logs a warning but allows commit.
	SeverityWarn Severity = "warn"
	SeverityLog  Severity = "log"
)

// KittyID identifies a kitty. Ids are assigned from a monotonic counter and
// never reused.
type KittyID uint32

// MaxKittyID is the largest representable id. The allocator refuses to move
// its counter past this value.
const MaxKittyID KittyID = math.MaxUint32

// String renders the id in decimal.
func (id KittyID) String() string { return strconv.FormatUint(uint64(id), 10) }

// ParseKittyID parses a decimal kitty id.
func ParseKittyID(s string) (KittyID, error) {
	v, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("parse kitty id %q: %w", s, err)
	}
	return KittyID(v), nil
}

// AccountID is the authenticated identity of a caller.
type AccountID string

// Balance is an amount of the reserve currency.
type Balance uint64

// GenesLen is the fixed size of a genetic code.
const GenesLen = 16

// Genes is the opaque genetic payload of a kitty. It is fixed when the kitty
// is created or bred and never changes afterwards.
type Genes [GenesLen]byte

// String renders the genes as lowercase hex.
func (g Genes) String() string { return hex.EncodeToString(g[:]) }

// MarshalJSON encodes genes as a hex string.
func (g Genes) MarshalJSON() ([]byte, error) {
	return json.Marshal(g.String())
}

// UnmarshalJSON decodes a hex string produced by MarshalJSON.
func (g *Genes) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseGenes(s)
	if err != nil {
		return err
	}
	*g = parsed
	return nil
}

// ParseGenes decodes a 32 character hex string.
func ParseGenes(s string) (Genes, error) {
	var g Genes
	raw, err := hex.DecodeString(s)
	if err != nil {
		return g, fmt.Errorf("decode genes: %w", err)
	}
	if len(raw) != GenesLen {
		return g, fmt.Errorf("decode genes: want %d bytes, got %d", GenesLen, len(raw))
	}
	copy(g[:], raw)
	return g, nil
}

// Kitty is one owned collectible.
type Kitty struct {
	ID    KittyID `json:"id"`
	Genes Genes   `json:"genes"`
}

// Parents records the ids a bred kitty was produced from, in the order they
// were passed to breed.
type Parents struct {
	A KittyID `json:"a"`
	B KittyID `json:"b"`
}

// Change describes a mutation applied within a transaction.
type Change struct {
	Entity  EntityType
	Action  Action
	KittyID KittyID
	After   any
}

// Action indicates the type of modification performed.
type Action string

// Change actions enumerate supported modifications captured in the audit trail.
const (
	// ActionCreate indicates a record was created.
	ActionCreate Action = "create"
	// ActionUpdate indicates a record was overwritten.
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// Violation reports a failed rule evaluation.
type Violation struct {
	Rule     string
	Severity Severity
	Message  string
	Entity   EntityType
	KittyID  KittyID
}

// Result aggregates violations from the rules engine.
type Result struct {
	Violations []Violation
}

// Merge appends violations from another result.
func (r *Result) Merge(other Result) {
	if len(other.Violations) == 0 {
		return
	}
	r.Violations = append(r.Violations, other.Violations...)
}

// HasBlocking returns true if the result contains blocking violations.
func (r Result) HasBlocking() bool {
	for _, v := range r.Violations {
		if v.Severity == SeverityBlock {
			return true
		}
	}
	return false
}

// RuleViolationError is returned when blocking violations are present.
type RuleViolationError struct {
	Result Result
}

func (e RuleViolationError) Error() string {
	for _, v := range e.Result.Violations {
		if v.Severity == SeverityBlock {
			return fmt.Sprintf("transaction blocked by rule %s: %s", v.Rule, v.Message)
		}
	}
	return "transaction blocked by rules"
}
