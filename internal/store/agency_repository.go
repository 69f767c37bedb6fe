package store

import (
	"context"

	"github.com/tournevent/delivery/pkg/agency"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormAgencyRepository stores agency configuration rows.
type GormAgencyRepository struct {
	db *gorm.DB
}

// NewGormAgencyRepository creates a new GormAgencyRepository.
func NewGormAgencyRepository(db *gorm.DB) *GormAgencyRepository {
	return &GormAgencyRepository{db: db}
}

// LoadAgencyConfigs returns every agency row.
func (r *GormAgencyRepository) LoadAgencyConfigs(ctx context.Context) ([]agency.Config, error) {
	var rows []AgencyModel
	if err := r.db.WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}

	configs := make([]agency.Config, len(rows))
	for i := range rows {
		configs[i] = rows[i].ToDomain()
	}
	return configs, nil
}

// SaveAgencyConfig inserts or replaces the row of cfg.ID.
func (r *GormAgencyRepository) SaveAgencyConfig(ctx context.Context, cfg agency.Config) error {
	model := agencyFromDomain(cfg)
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(model).Error
}

var _ agency.ConfigStore = (*GormAgencyRepository)(nil)
