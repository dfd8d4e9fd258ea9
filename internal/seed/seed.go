// Package seed bootstraps the default organization for self-hosted mode.
package seed

import (
	"context"
	"errors"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"

	"github.com/gstflow/gstflow/internal/config"
	organizationdomain "github.com/gstflow/gstflow/internal/organization/domain"
)

const defaultOrgSlug = "main"

// EnsureDefaultOrg creates the default organization when missing so a fresh
// install is usable without an onboarding flow. An explicit DefaultOrgID in
// the configuration pins the ID, which keeps multi-instance deployments in
// agreement.
func EnsureDefaultOrg(db *gorm.DB, cfg config.Config) error {
	if db == nil {
		return errors.New("seed database handle is required")
	}

	node, err := snowflake.NewNode(1)
	if err != nil {
		return err
	}

	ctx := context.Background()
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing organizationdomain.Organization
		err := tx.Where("slug = ?", defaultOrgSlug).First(&existing).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		id := node.Generate()
		if cfg.DefaultOrgID != 0 {
			id = snowflake.ID(cfg.DefaultOrgID)
		}

		return tx.Create(&organizationdomain.Organization{
			ID:           id,
			Name:         cfg.DefaultOrgName,
			Slug:         defaultOrgSlug,
			IsDefault:    true,
			CountryCode:  "IN",
			TimezoneName: "Asia/Kolkata",
		}).Error
	})
}
