// Package roster manages the agents who can be offered inspection jobs.
package roster

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/zulandar/inspectyard/internal/models"
	"gorm.io/gorm"
)

var (
	ErrNotFound      = errors.New("roster: agent not found")
	ErrDuplicate     = errors.New("roster: agent address already registered")
	ErrInvalidStatus = errors.New("roster: invalid agent status")
)

// AddOpts holds parameters for registering an agent.
type AddOpts struct {
	Address         string
	Name            string
	Email           string
	Zone            string
	Specializations []string
	ExperienceYears int
	Rating          float64
}

// Add creates a new active agent.
func Add(ctx context.Context, db *gorm.DB, opts AddOpts) (*models.Agent, error) {
	opts.Address = strings.TrimSpace(opts.Address)
	if opts.Address == "" {
		return nil, fmt.Errorf("roster: address is required")
	}

	var count int64
	if err := db.WithContext(ctx).Model(&models.Agent{}).Where("address = ?", opts.Address).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("roster: check address %s: %w", opts.Address, err)
	}
	if count > 0 {
		return nil, fmt.Errorf("%w: %s", ErrDuplicate, opts.Address)
	}

	agent := models.Agent{
		ID:              uuid.NewString(),
		Address:         opts.Address,
		Name:            opts.Name,
		Email:           opts.Email,
		Status:          models.AgentActive,
		Zone:            opts.Zone,
		Specializations: opts.Specializations,
		ExperienceYears: opts.ExperienceYears,
		Rating:          opts.Rating,
	}
	if err := db.WithContext(ctx).Create(&agent).Error; err != nil {
		return nil, fmt.Errorf("roster: add %s: %w", opts.Address, err)
	}
	return &agent, nil
}

// Get retrieves an agent by ID or by address.
func Get(ctx context.Context, db *gorm.DB, ref string) (*models.Agent, error) {
	var agent models.Agent
	if err := db.WithContext(ctx).Where("id = ? OR address = ?", ref, ref).First(&agent).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
		}
		return nil, fmt.Errorf("roster: get %s: %w", ref, err)
	}
	return &agent, nil
}

// List returns agents ordered by name. An empty status matches all.
func List(ctx context.Context, db *gorm.DB, status string) ([]models.Agent, error) {
	q := db.WithContext(ctx).Order("name ASC, address ASC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	var agents []models.Agent
	if err := q.Find(&agents).Error; err != nil {
		return nil, fmt.Errorf("roster: list: %w", err)
	}
	return agents, nil
}

// UpdateOpts carries profile changes; nil fields are left untouched.
type UpdateOpts struct {
	Name            *string
	Email           *string
	Zone            *string
	Specializations []string
	ExperienceYears *int
	Rating          *float64
}

// Update applies profile changes to an agent. The address is immutable.
func Update(ctx context.Context, db *gorm.DB, ref string, opts UpdateOpts) (*models.Agent, error) {
	agent, err := Get(ctx, db, ref)
	if err != nil {
		return nil, err
	}
	var cols []string
	if opts.Name != nil {
		agent.Name = *opts.Name
		cols = append(cols, "name")
	}
	if opts.Email != nil {
		agent.Email = *opts.Email
		cols = append(cols, "email")
	}
	if opts.Zone != nil {
		agent.Zone = *opts.Zone
		cols = append(cols, "zone")
	}
	if opts.Specializations != nil {
		agent.Specializations = opts.Specializations
		cols = append(cols, "specializations")
	}
	if opts.ExperienceYears != nil {
		agent.ExperienceYears = *opts.ExperienceYears
		cols = append(cols, "experience_years")
	}
	if opts.Rating != nil {
		agent.Rating = *opts.Rating
		cols = append(cols, "rating")
	}
	if len(cols) == 0 {
		return agent, nil
	}
	if err := db.WithContext(ctx).Model(agent).Select(cols).Updates(agent).Error; err != nil {
		return nil, fmt.Errorf("roster: update %s: %w", agent.Address, err)
	}
	return Get(ctx, db, agent.ID)
}

// SetStatus activates or deactivates an agent. Inactive agents receive no
// offers and cannot accept.
func SetStatus(ctx context.Context, db *gorm.DB, ref, status string) (*models.Agent, error) {
	if status != models.AgentActive && status != models.AgentInactive {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	agent, err := Get(ctx, db, ref)
	if err != nil {
		return nil, err
	}
	if err := db.WithContext(ctx).Model(&models.Agent{}).Where("id = ?", agent.ID).Update("status", status).Error; err != nil {
		return nil, fmt.Errorf("roster: set status of %s: %w", agent.Address, err)
	}
	agent.Status = status
	return agent, nil
}

// Remove deletes an agent. Jobs already assigned keep the agent's address.
func Remove(ctx context.Context, db *gorm.DB, ref string) error {
	agent, err := Get(ctx, db, ref)
	if err != nil {
		return err
	}
	if err := db.WithContext(ctx).Delete(&models.Agent{}, "id = ?", agent.ID).Error; err != nil {
		return fmt.Errorf("roster: remove %s: %w", agent.Address, err)
	}
	return nil
}
