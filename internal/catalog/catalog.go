// Package catalog holds the static plan and action price tables.
//
// The catalog is loaded once at process start from YAML and is read-only
// afterwards, so lookups need no locking.
package catalog

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/DukeRupert/plangate/internal/domain"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultCatalog []byte

// ErrUnknownAction is returned by Cost for actions missing from the price table.
var ErrUnknownAction = errors.New("unknown action")

// File is the on-disk catalog document.
type File struct {
	Plans   []PlanEntry   `yaml:"plans" validate:"required,min=1,dive"`
	Actions []ActionEntry `yaml:"actions" validate:"required,min=1,dive"`
}

// PlanEntry is one plan in the catalog file.
type PlanEntry struct {
	ID               string   `yaml:"id" validate:"required"`
	Name             string   `yaml:"name" validate:"required"`
	TierRank         int      `yaml:"tier_rank" validate:"gte=0"`
	PriceMonthly     int64    `yaml:"price_monthly" validate:"gte=0"`
	BudgetCeiling    int64    `yaml:"budget_ceiling" validate:"gte=0"`
	InteractionQuota int64    `yaml:"interaction_quota" validate:"gte=0"`
	Features         []string `yaml:"features" validate:"dive,required"`
}

// ActionEntry is one chargeable action in the catalog file.
type ActionEntry struct {
	Action       string `yaml:"action" validate:"required"`
	Price        int64  `yaml:"price" validate:"gte=0"`
	Feature      string `yaml:"feature" validate:"required"`
	Interactions *int64 `yaml:"interactions,omitempty" validate:"omitempty,gte=0"`
}

// Catalog resolves plans and action costs.
type Catalog struct {
	plans   map[domain.PlanID]domain.Plan
	ordered []domain.Plan
	actions map[domain.ActionType]domain.ActionCost
}

// Default returns the catalog embedded in the binary.
func Default() (*Catalog, error) {
	return Load(bytes.NewReader(defaultCatalog))
}

// LoadFile reads a catalog from a YAML file on disk.
func LoadFile(path string) (*Catalog, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Load parses and validates a YAML catalog document.
func Load(r io.Reader) (*Catalog, error) {
	var file File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, fmt.Errorf("decode catalog: %w", err)
	}
	return New(file)
}

// New builds a catalog from an already-decoded document.
func New(file File) (*Catalog, error) {
	if err := validator.New().Struct(file); err != nil {
		return nil, fmt.Errorf("invalid catalog: %w", err)
	}

	c := &Catalog{
		plans:   make(map[domain.PlanID]domain.Plan, len(file.Plans)),
		actions: make(map[domain.ActionType]domain.ActionCost, len(file.Actions)),
	}

	ranks := make(map[int]string, len(file.Plans))
	offered := make(map[domain.FeatureID]bool)
	for _, p := range file.Plans {
		id := domain.PlanID(p.ID)
		if _, dup := c.plans[id]; dup {
			return nil, fmt.Errorf("invalid catalog: duplicate plan %q", p.ID)
		}
		if other, dup := ranks[p.TierRank]; dup {
			return nil, fmt.Errorf("invalid catalog: plans %q and %q share tier rank %d", other, p.ID, p.TierRank)
		}
		ranks[p.TierRank] = p.ID

		features := make([]domain.FeatureID, 0, len(p.Features))
		for _, f := range p.Features {
			fid := domain.FeatureID(strings.TrimSpace(f))
			features = append(features, fid)
			offered[fid] = true
		}

		plan := domain.Plan{
			ID:               id,
			Name:             p.Name,
			InteractionQuota: p.InteractionQuota,
			BudgetCeiling:    p.BudgetCeiling,
			PriceMonthly:     p.PriceMonthly,
			Features:         domain.NewFeatureSet(features...),
			TierRank:         p.TierRank,
		}
		c.plans[id] = plan
		c.ordered = append(c.ordered, plan)
	}
	sort.Slice(c.ordered, func(i, j int) bool { return c.ordered[i].TierRank < c.ordered[j].TierRank })

	for _, a := range file.Actions {
		action := domain.ActionType(a.Action)
		if _, dup := c.actions[action]; dup {
			return nil, fmt.Errorf("invalid catalog: duplicate action %q", a.Action)
		}
		feature := domain.FeatureID(a.Feature)
		if !offered[feature] {
			return nil, fmt.Errorf("invalid catalog: action %q requires feature %q which no plan offers", a.Action, a.Feature)
		}
		interactions := int64(1)
		if a.Interactions != nil {
			interactions = *a.Interactions
		}
		c.actions[action] = domain.ActionCost{
			Action:       action,
			Price:        a.Price,
			Feature:      feature,
			Interactions: interactions,
		}
	}

	return c, nil
}

// Resolve returns the plan with the given id.
// A miss is an UnknownPlan error and must be treated as a hard denial.
func (c *Catalog) Resolve(id domain.PlanID) (domain.Plan, error) {
	if p, ok := c.plans[id]; ok {
		return p, nil
	}
	return domain.Plan{}, domain.UnknownPlan("catalog.resolve", id)
}

// Cost returns the price table entry for an action.
func (c *Catalog) Cost(action domain.ActionType) (domain.ActionCost, error) {
	if ac, ok := c.actions[action]; ok {
		return ac, nil
	}
	return domain.ActionCost{}, domain.Wrap(ErrUnknownAction, domain.EINVALID, "catalog.cost",
		fmt.Sprintf("unknown action %q", action))
}

// LowestPlanWithFeature returns the lowest-ranked plan that grants feature.
func (c *Catalog) LowestPlanWithFeature(feature domain.FeatureID) (domain.Plan, bool) {
	for _, p := range c.ordered {
		if p.HasFeature(feature) {
			return p, true
		}
	}
	return domain.Plan{}, false
}

// LowestUpgradeCovering returns the lowest plan ranked above current that grants
// feature and whose budget ceiling is at least needed.
func (c *Catalog) LowestUpgradeCovering(current domain.Plan, feature domain.FeatureID, needed int64) (domain.Plan, bool) {
	for _, p := range c.ordered {
		if p.TierRank <= current.TierRank {
			continue
		}
		if p.HasFeature(feature) && p.BudgetCeiling >= needed {
			return p, true
		}
	}
	return domain.Plan{}, false
}

// Plans returns all plans ordered by tier rank.
func (c *Catalog) Plans() []domain.Plan {
	out := make([]domain.Plan, len(c.ordered))
	copy(out, c.ordered)
	return out
}

// Actions returns the price table ordered by action name.
func (c *Catalog) Actions() []domain.ActionCost {
	out := make([]domain.ActionCost, 0, len(c.actions))
	for _, a := range c.actions {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Action < out[j].Action })
	return out
}
