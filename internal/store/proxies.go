package store

import (
	"context"
	"errors"
	"fmt"

	"activator/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// MaxProxyFailures is the fail_count at which a proxy is taken out of rotation.
const MaxProxyFailures = 5

// UpsertProxy inserts p, or refreshes the connection fields of the row with the
// same URL. Health counters survive a re-add.
func (s *Store) UpsertProxy(ctx context.Context, p *models.Proxy) (*models.Proxy, error) {
	if p.ProxyURL == "" {
		return nil, fmt.Errorf("%w: proxy url required", ErrValidation)
	}
	row := *p
	row.ID = 0
	row.IsActive = true
	var saved models.Proxy
	err := s.unit(ctx, "", func(tx *gorm.DB) error {
		err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "proxy_url"}},
			DoUpdates: clause.AssignmentColumns([]string{"protocol", "host", "port", "username", "password", "updated_at"}),
		}).Create(&row).Error
		if err != nil {
			return err
		}
		return tx.Where("proxy_url = ?", p.ProxyURL).First(&saved).Error
	})
	if err != nil {
		return nil, fmt.Errorf("upsert proxy: %w", err)
	}
	return &saved, nil
}

func (s *Store) DeleteProxy(ctx context.Context, id uint) error {
	return s.unit(ctx, "", func(tx *gorm.DB) error {
		res := tx.Delete(&models.Proxy{}, id)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// ListProxies returns every proxy, active and fastest first. Untested proxies
// sort ahead of tested ones.
func (s *Store) ListProxies(ctx context.Context) ([]models.Proxy, error) {
	var out []models.Proxy
	err := s.unit(ctx, "", func(tx *gorm.DB) error {
		return tx.
			Order("is_active DESC").
			Order("response_time IS NOT NULL").
			Order("response_time ASC").
			Order("success_count DESC").
			Order("id ASC").
			Find(&out).Error
	})
	if err != nil {
		return nil, fmt.Errorf("list proxies: %w", err)
	}
	return out, nil
}

func (s *Store) ProxyByURL(ctx context.Context, url string) (*models.Proxy, error) {
	var p models.Proxy
	err := s.unit(ctx, "", func(tx *gorm.DB) error {
		return tx.Where("proxy_url = ?", url).First(&p).Error
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// ActiveProxies returns up to limit active proxies, fastest first.
func (s *Store) ActiveProxies(ctx context.Context, limit int) ([]models.Proxy, error) {
	var out []models.Proxy
	err := s.unit(ctx, "", func(tx *gorm.DB) error {
		q := tx.Where("is_active = ?", true).
			Order("response_time IS NOT NULL").
			Order("response_time ASC").
			Order("success_count DESC").
			Order("id ASC")
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q.Find(&out).Error
	})
	if err != nil {
		return nil, fmt.Errorf("active proxies: %w", err)
	}
	return out, nil
}

// RecordProxySuccess counts a success, stores the latency in seconds and
// reactivates the proxy.
func (s *Store) RecordProxySuccess(ctx context.Context, id uint, responseTime float64) error {
	return s.unit(ctx, "", func(tx *gorm.DB) error {
		res := tx.Model(&models.Proxy{}).Where("id = ?", id).Updates(map[string]any{
			"success_count": gorm.Expr("success_count + 1"),
			"last_checked":  s.now(),
			"response_time": responseTime,
			"is_active":     true,
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// RecordProxyFailure counts a failure, then deactivates the proxy once it has
// reached MaxProxyFailures.
func (s *Store) RecordProxyFailure(ctx context.Context, id uint) error {
	return s.unit(ctx, "", func(tx *gorm.DB) error {
		res := tx.Model(&models.Proxy{}).Where("id = ?", id).Updates(map[string]any{
			"fail_count":   gorm.Expr("fail_count + 1"),
			"last_checked": s.now(),
		})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return tx.Model(&models.Proxy{}).
			Where("id = ? AND fail_count >= ?", id, MaxProxyFailures).
			Update("is_active", false).Error
	})
}
