package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/telefoot/relay/internal/domain"
)

// ruleRepository implements domain.RuleRepository using in-memory storage
type ruleRepository struct {
	mu    sync.RWMutex
	rules map[string]map[string]*domain.Rule // owner -> rule ID -> rule
}

// NewRuleRepository creates a new in-memory redirection rule repository
func NewRuleRepository() domain.RuleRepository {
	return &ruleRepository{
		rules: make(map[string]map[string]*domain.Rule),
	}
}

// GetByOwner retrieves all rules for an owner, ordered by rule ID
func (r *ruleRepository) GetByOwner(ctx context.Context, owner string) ([]domain.Rule, error) {
	return r.list(owner, false), nil
}

// ListActive retrieves active rules for an owner, ordered by rule ID
func (r *ruleRepository) ListActive(ctx context.Context, owner string) ([]domain.Rule, error) {
	return r.list(owner, true), nil
}

func (r *ruleRepository) list(owner string, activeOnly bool) []domain.Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rules := make([]domain.Rule, 0, len(r.rules[owner]))
	for _, rule := range r.rules[owner] {
		if activeOnly && !rule.Active {
			continue
		}
		rules = append(rules, *rule)
	}
	sort.Slice(rules, func(i, j int) bool {
		return rules[i].ID < rules[j].ID
	})
	return rules
}

// Upsert creates or updates a rule keyed by (owner, rule ID)
func (r *ruleRepository) Upsert(ctx context.Context, rule *domain.Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.rules[rule.Owner] == nil {
		r.rules[rule.Owner] = make(map[string]*domain.Rule)
	}

	copied := *rule
	if copied.CreatedAt.IsZero() {
		if existing, exists := r.rules[rule.Owner][rule.ID]; exists {
			copied.CreatedAt = existing.CreatedAt
		} else {
			copied.CreatedAt = time.Now()
		}
	}
	r.rules[rule.Owner][rule.ID] = &copied
	return nil
}

// Remove deletes a rule
func (r *ruleRepository) Remove(ctx context.Context, owner, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rules[owner][id]; !exists {
		return domain.ErrRuleNotFound
	}

	delete(r.rules[owner], id)
	return nil
}

// SetActive toggles a rule without touching its channel lists
func (r *ruleRepository) SetActive(ctx context.Context, owner, id string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rule, exists := r.rules[owner][id]
	if !exists {
		return domain.ErrRuleNotFound
	}

	rule.Active = active
	return nil
}

// CountActive returns the number of active rules across all owners
func (r *ruleRepository) CountActive(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, owned := range r.rules {
		for _, rule := range owned {
			if rule.Active {
				count++
			}
		}
	}
	return count, nil
}
