package postgres

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/telefoot/relay/internal/domain"
)

// ruleRepository implements domain.RuleRepository
type ruleRepository struct {
	db *gorm.DB
}

// NewRuleRepository creates a new redirection rule repository
func NewRuleRepository(db *gorm.DB) domain.RuleRepository {
	return &ruleRepository{db: db}
}

// GetByOwner retrieves all rules for an owner, ordered by rule ID
func (r *ruleRepository) GetByOwner(ctx context.Context, owner string) ([]domain.Rule, error) {
	return r.list(r.db.WithContext(ctx).Where("owner_phone = ?", owner))
}

// ListActive retrieves active rules for an owner, ordered by rule ID
func (r *ruleRepository) ListActive(ctx context.Context, owner string) ([]domain.Rule, error) {
	return r.list(r.db.WithContext(ctx).Where("owner_phone = ? AND active = ?", owner, true))
}

func (r *ruleRepository) list(query *gorm.DB) ([]domain.Rule, error) {
	var models []RedirectionModel
	result := query.Order("rule_id ASC").Find(&models)
	if result.Error != nil {
		return nil, domain.ErrDatabaseOperation
	}

	rules := make([]domain.Rule, 0, len(models))
	for i := range models {
		rule, err := models[i].toDomain()
		if err != nil {
			return nil, domain.ErrDatabaseOperation
		}
		rules = append(rules, *rule)
	}
	return rules, nil
}

// Upsert creates or updates a rule keyed by (owner, rule ID)
func (r *ruleRepository) Upsert(ctx context.Context, rule *domain.Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	model, err := newRedirectionModel(rule)
	if err != nil {
		return domain.ErrDatabaseOperation
	}

	result := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "owner_phone"}, {Name: "rule_id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"sources", "destinations", "active", "updated_at",
		}),
	}).Create(model)

	if result.Error != nil {
		return domain.ErrDatabaseOperation
	}
	return nil
}

// Remove deletes a rule
func (r *ruleRepository) Remove(ctx context.Context, owner, id string) error {
	result := r.db.WithContext(ctx).
		Where("owner_phone = ? AND rule_id = ?", owner, id).
		Delete(&RedirectionModel{})

	if result.Error != nil {
		return domain.ErrDatabaseOperation
	}
	if result.RowsAffected == 0 {
		return domain.ErrRuleNotFound
	}
	return nil
}

// SetActive toggles a rule without touching its channel lists
func (r *ruleRepository) SetActive(ctx context.Context, owner, id string, active bool) error {
	result := r.db.WithContext(ctx).
		Model(&RedirectionModel{}).
		Where("owner_phone = ? AND rule_id = ?", owner, id).
		Update("active", active)

	if result.Error != nil {
		return domain.ErrDatabaseOperation
	}
	if result.RowsAffected == 0 {
		return domain.ErrRuleNotFound
	}
	return nil
}

// CountActive returns the number of active rules across all owners
func (r *ruleRepository) CountActive(ctx context.Context) (int, error) {
	var count int64
	result := r.db.WithContext(ctx).
		Model(&RedirectionModel{}).
		Where("active = ?", true).
		Count(&count)

	if result.Error != nil {
		return 0, domain.ErrDatabaseOperation
	}
	return int(count), nil
}
