package planner

import (
	"fmt"
	"strings"

	"splitquery-repro/internal/schema"
)

// Mode selects how a plan with includes is executed.
type Mode int

const (
	// ModeSplit runs the base query alone, then one query per include
	// filtered to the parent keys the base query returned.
	ModeSplit Mode = iota
	// ModeJoined runs a single windowed query with LEFT JOINed includes.
	ModeJoined
)

func (m Mode) String() string {
	switch m {
	case ModeSplit:
		return "split"
	case ModeJoined:
		return "joined"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

func (m Mode) valid() bool {
	return m == ModeSplit || m == ModeJoined
}

// ParseMode parses "split" or "joined".
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "split":
		return ModeSplit, nil
	case "joined", "single":
		return ModeJoined, nil
	default:
		return 0, invalidPlanf("unknown execution mode %q", s)
	}
}

// QueryPlan is an immutable, validated logical query.
type QueryPlan struct {
	registry *schema.Registry
	entity   *schema.Entity
	includes []*schema.Relation
	filter   Predicate
	order    []OrderTerm
	limit    int
	limited  bool
	offset   int
	mode     Mode
}

// Registry returns the registry the plan was validated against.
func (p *QueryPlan) Registry() *schema.Registry { return p.registry }

// Entity returns the base entity.
func (p *QueryPlan) Entity() *schema.Entity { return p.entity }

// Includes returns the eager-loaded relations in declaration order.
func (p *QueryPlan) Includes() []*schema.Relation {
	return append([]*schema.Relation(nil), p.includes...)
}

// Filter returns the filter predicate, or nil.
func (p *QueryPlan) Filter() Predicate { return p.filter }

// OrderTerms returns the requested order terms, without the primary key tie-breaker.
func (p *QueryPlan) OrderTerms() []OrderTerm {
	return append([]OrderTerm(nil), p.order...)
}

// Limit returns the parent limit and whether one is set.
func (p *QueryPlan) Limit() (int, bool) { return p.limit, p.limited }

// Offset returns the parent offset.
func (p *QueryPlan) Offset() int { return p.offset }

// Mode returns the execution mode.
func (p *QueryPlan) Mode() Mode { return p.mode }

// WithMode returns a copy of the plan with a different execution mode.
func (p *QueryPlan) WithMode(mode Mode) (*QueryPlan, error) {
	if !mode.valid() {
		return nil, invalidPlanf("unknown execution mode %s", mode)
	}
	clone := *p
	clone.includes = p.Includes()
	clone.order = p.OrderTerms()
	clone.mode = mode
	return &clone, nil
}

func (p *QueryPlan) String() string {
	includes := make([]string, len(p.includes))
	for i, rel := range p.includes {
		includes[i] = rel.Name
	}
	order := make([]string, len(p.order))
	for i, term := range p.order {
		order[i] = term.String()
	}
	limit := "none"
	if p.limited {
		limit = fmt.Sprint(p.limit)
	}
	return fmt.Sprintf("%s include=[%s] order=[%s] limit=%s offset=%d mode=%s",
		p.entity.Name, strings.Join(includes, ","), strings.Join(order, ","), limit, p.offset, p.mode)
}

// Builder assembles a QueryPlan. The first error is reported by Build.
type Builder struct {
	registry *schema.Registry
	entity   string
	includes []string
	filters  []Predicate
	order    []OrderTerm
	limit    int
	limited  bool
	offset   int
	mode     Mode
}

// NewQuery starts a plan rooted at entity.
func NewQuery(registry *schema.Registry, entity string) *Builder {
	return &Builder{registry: registry, entity: entity}
}

// Include eager-loads the named relations.
func (b *Builder) Include(relations ...string) *Builder {
	b.includes = append(b.includes, relations...)
	return b
}

// Where adds a filter; repeated calls are ANDed.
func (b *Builder) Where(pred Predicate) *Builder {
	b.filters = append(b.filters, pred)
	return b
}

// OrderBy appends order terms.
func (b *Builder) OrderBy(terms ...OrderTerm) *Builder {
	b.order = append(b.order, terms...)
	return b
}

// Limit bounds the number of parents returned.
func (b *Builder) Limit(n int) *Builder {
	b.limit = n
	b.limited = true
	return b
}

// Offset skips the first n parents.
func (b *Builder) Offset(n int) *Builder {
	b.offset = n
	return b
}

// Mode sets the execution mode.
func (b *Builder) Mode(mode Mode) *Builder {
	b.mode = mode
	return b
}

// Build validates the request and returns an immutable plan.
func (b *Builder) Build() (*QueryPlan, error) {
	if b.registry == nil {
		return nil, invalidPlanf("nil registry")
	}
	entity, err := b.registry.Entity(b.entity)
	if err != nil {
		return nil, invalidPlanf("%v", err)
	}
	if b.limited && b.limit < 0 {
		return nil, invalidPlanf("negative limit %d", b.limit)
	}
	if b.offset < 0 {
		return nil, invalidPlanf("negative offset %d", b.offset)
	}
	if !b.mode.valid() {
		return nil, invalidPlanf("unknown execution mode %s", b.mode)
	}

	includes := make([]*schema.Relation, 0, len(b.includes))
	seen := make(map[string]struct{}, len(b.includes))
	for _, name := range b.includes {
		if _, dup := seen[name]; dup {
			return nil, invalidPlanf("duplicate include %s", name)
		}
		seen[name] = struct{}{}
		rel, ok := entity.Relation(name)
		if !ok {
			return nil, invalidPlanf("unknown include %s on %s", name, entity.Name)
		}
		if _, err := b.registry.RelationTarget(rel); err != nil {
			return nil, invalidPlanf("include %s: %v", name, err)
		}
		includes = append(includes, rel)
	}

	var filter Predicate
	switch len(b.filters) {
	case 0:
	case 1:
		filter = b.filters[0]
	default:
		filter = And(b.filters...)
	}
	if filter != nil {
		if _, err := filter.compile(newCompileScope(b.registry, entity, entity.Name)); err != nil {
			return nil, err
		}
	}

	for _, term := range b.order {
		if err := validateOrderTerm(b.registry, entity, term); err != nil {
			return nil, err
		}
	}

	return &QueryPlan{
		registry: b.registry,
		entity:   entity,
		includes: includes,
		filter:   filter,
		order:    append([]OrderTerm(nil), b.order...),
		limit:    b.limit,
		limited:  b.limited,
		offset:   b.offset,
		mode:     b.mode,
	}, nil
}
