// stores/gorm.go
package stores

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"fms-api/models"
)

// GormStore keeps the simulation in a postgres table.
type GormStore struct {
	DB *gorm.DB
}

// OpenPostgres connects to dsn and migrates the simulations table.
func OpenPostgres(dsn string) (*GormStore, error) {
	if dsn == "" {
		return nil, errors.New("DATABASE_URL is required for the postgres store")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return NewGormStore(db)
}

func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&models.Simulation{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &GormStore{DB: db}, nil
}

func (s *GormStore) FindCurrent(ctx context.Context) (*models.Simulation, error) {
	var sim models.Simulation
	if err := s.DB.WithContext(ctx).Order("created_at DESC").First(&sim).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &sim, nil
}

func (s *GormStore) DeleteAll(ctx context.Context) error {
	return s.DB.WithContext(ctx).
		Session(&gorm.Session{AllowGlobalUpdate: true}).
		Delete(&models.Simulation{}).Error
}

func (s *GormStore) Create(ctx context.Context, sim *models.Simulation) (*models.Simulation, error) {
	if err := s.DB.WithContext(ctx).Create(sim).Error; err != nil {
		return nil, err
	}
	return sim.Clone(), nil
}

func (s *GormStore) Update(ctx context.Context, name string, upd models.SimulationUpdate) (*models.Simulation, error) {
	fields := map[string]interface{}{}
	if upd.State != nil {
		fields["state"] = string(*upd.State)
	}
	if upd.Matches != nil {
		fields["matches"] = models.MatchList(upd.Matches)
	}
	if upd.StartTime != nil {
		fields["start_time"] = *upd.StartTime
	}

	var sim models.Simulation
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(fields) > 0 {
			res := tx.Model(&models.Simulation{}).Where("name = ?", name).Updates(fields)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return ErrNotFound
			}
		}
		if err := tx.Where("name = ?", name).First(&sim).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &sim, nil
}
