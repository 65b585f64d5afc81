package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

type RuleType string

const (
	RuleCutoff   RuleType = "cutoff"
	RuleCategory RuleType = "category"
	RuleNativity RuleType = "nativity"
	RuleIncome   RuleType = "income"
)

func (t RuleType) Valid() bool {
	switch t {
	case RuleCutoff, RuleCategory, RuleNativity, RuleIncome:
		return true
	}
	return false
}

// PolicyRule is one stored rule. Conditions stays raw at rest; it is
// decoded into a typed Conditions value at the policy store boundary.
type PolicyRule struct {
	ID         string
	Name       string
	Year       int
	RuleType   RuleType
	Conditions json.RawMessage
	Active     bool
	CreatedBy  string
	ApprovedBy *string
	ApprovedAt *time.Time
	Remarks    string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Conditions is implemented by each typed rule payload.
type Conditions interface {
	RuleType() RuleType
}

// CutoffConditions maps a category to its cutoff mark. It is stored as
// {"BC_cutoff": 185, "OC_cutoff": 190, ...}; keys are matched exactly.
type CutoffConditions struct {
	Cutoffs map[string]float64
}

func (CutoffConditions) RuleType() RuleType { return RuleCutoff }

// Cutoff returns the cutoff for category and whether one is configured.
func (c CutoffConditions) Cutoff(category string) (float64, bool) {
	v, ok := c.Cutoffs[category]
	return v, ok
}

type CategoryConditions struct {
	ApprovedCategories []string `json:"approvedCategories"`
}

func (CategoryConditions) RuleType() RuleType { return RuleCategory }

type NativityConditions struct {
	NativeStateCode string `json:"nativeStateCode"`
}

func (NativityConditions) RuleType() RuleType { return RuleNativity }

type IncomeConditions struct {
	MinIncome *float64 `json:"minIncome,omitempty"`
	MaxIncome *float64 `json:"maxIncome,omitempty"`
}

func (IncomeConditions) RuleType() RuleType { return RuleIncome }

const cutoffSuffix = "_cutoff"

// DecodeConditions decodes a raw payload for the given rule type.
func DecodeConditions(ruleType RuleType, raw json.RawMessage) (Conditions, error) {
	switch ruleType {
	case RuleCutoff:
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("cutoff conditions: %w", err)
		}
		c := CutoffConditions{Cutoffs: make(map[string]float64, len(m))}
		for k, v := range m {
			if !strings.HasSuffix(k, cutoffSuffix) {
				continue
			}
			n, ok := v.(float64)
			if !ok {
				return nil, fmt.Errorf("cutoff conditions: %s is not a number", k)
			}
			c.Cutoffs[strings.TrimSuffix(k, cutoffSuffix)] = n
		}
		return c, nil
	case RuleCategory:
		var c CategoryConditions
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("category conditions: %w", err)
		}
		return c, nil
	case RuleNativity:
		var c NativityConditions
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("nativity conditions: %w", err)
		}
		return c, nil
	case RuleIncome:
		var c IncomeConditions
		if err := json.Unmarshal(raw, &c); err != nil {
			return nil, fmt.Errorf("income conditions: %w", err)
		}
		if c.MinIncome != nil && c.MaxIncome != nil && *c.MinIncome > *c.MaxIncome {
			return nil, fmt.Errorf("income conditions: minIncome exceeds maxIncome")
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unknown rule type %q", ruleType)
	}
}

// PolicySet is the decoded set of active rules for one year. A nil field
// means no active rule of that type is configured.
type PolicySet struct {
	Year     int
	Cutoff   *CutoffConditions
	Category *CategoryConditions
	Nativity *NativityConditions
	Income   *IncomeConditions
}

// Add stores c in the matching slot of the set.
func (p *PolicySet) Add(c Conditions) {
	switch v := c.(type) {
	case CutoffConditions:
		p.Cutoff = &v
	case CategoryConditions:
		p.Category = &v
	case NativityConditions:
		p.Nativity = &v
	case IncomeConditions:
		p.Income = &v
	}
}
