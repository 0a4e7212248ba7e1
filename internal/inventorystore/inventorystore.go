// Package inventorystore provides read-only access to the
// inventory_circuits/inventory_sites tables the inventory tool queries.
package inventorystore

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Circuit is one row of inventory_circuits.
type Circuit struct {
	CircuitID string `gorm:"column:circuit_id;primaryKey" json:"circuit_id"`
	SrcSite   string `gorm:"column:src_site" json:"src_site"`
	DstSite   string `gorm:"column:dst_site" json:"dst_site"`
	Layer     string `gorm:"column:layer" json:"layer"`
	Status    string `gorm:"column:status" json:"status"`
}

func (Circuit) TableName() string { return "inventory_circuits" }

// Site is one row of inventory_sites.
type Site struct {
	SiteID string `gorm:"column:site_id;primaryKey" json:"site_id"`
	Name   string `gorm:"column:name" json:"name"`
	Region string `gorm:"column:region" json:"region"`
}

func (Site) TableName() string { return "inventory_sites" }

// Store is the narrow interface the inventory tool depends on.
type Store interface {
	CircuitsBySites(ctx context.Context, srcSite, dstSite, layer string, limit int) ([]Circuit, error)
	SitesByIDs(ctx context.Context, siteIDs []string) ([]Site, error)
}

type gormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// New builds a Store over an already-connected, read-only GORM handle.
func New(db *gorm.DB, logger *zap.Logger) Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &gormStore{db: db, logger: logger}
}

// CircuitsBySites returns circuits whose endpoints match either site,
// optionally narrowed to one layer, mirroring the original's
// get_circuits_by_sites contract.
func (s *gormStore) CircuitsBySites(ctx context.Context, srcSite, dstSite, layer string, limit int) ([]Circuit, error) {
	q := s.db.WithContext(ctx).
		Where("(src_site = ? AND dst_site = ?) OR (src_site = ? AND dst_site = ?)", srcSite, dstSite, dstSite, srcSite)
	if layer != "" {
		q = q.Where("layer = ?", layer)
	}
	var circuits []Circuit
	if err := q.Limit(limit).Find(&circuits).Error; err != nil {
		return nil, fmt.Errorf("inventorystore: circuits by sites: %w", err)
	}
	return circuits, nil
}

// SitesByIDs returns the site rows for the given ids, mirroring the
// original's get_sites_by_ids contract.
func (s *gormStore) SitesByIDs(ctx context.Context, siteIDs []string) ([]Site, error) {
	var sites []Site
	if err := s.db.WithContext(ctx).Where("site_id IN ?", siteIDs).Find(&sites).Error; err != nil {
		return nil, fmt.Errorf("inventorystore: sites by ids: %w", err)
	}
	return sites, nil
}
