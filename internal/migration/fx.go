package migration

import (
	"strings"

	"go.uber.org/fx"
	"gorm.io/gorm"

	auditdomain "github.com/gstflow/gstflow/internal/audit/domain"
	"github.com/gstflow/gstflow/internal/config"
	customerdomain "github.com/gstflow/gstflow/internal/customer/domain"
	invoicedomain "github.com/gstflow/gstflow/internal/invoice/domain"
	organizationdomain "github.com/gstflow/gstflow/internal/organization/domain"
	paymentdomain "github.com/gstflow/gstflow/internal/payment/domain"
	"github.com/gstflow/gstflow/internal/scheduler"
	"github.com/gstflow/gstflow/internal/seed"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config) error {
		if strings.EqualFold(cfg.DBType, "postgres") {
			sqlDB, err := conn.DB()
			if err != nil {
				return err
			}
			if err := RunMigrations(sqlDB); err != nil {
				return err
			}
		} else {
			// MySQL and SQLite installs are development targets; the model
			// definitions carry the same schema.
			if err := conn.AutoMigrate(
				&organizationdomain.Organization{},
				&customerdomain.Customer{},
				&invoicedomain.Invoice{},
				&invoicedomain.InvoiceItem{},
				&paymentdomain.Payment{},
				&auditdomain.AuditLog{},
				&scheduler.TaskLease{},
			); err != nil {
				return err
			}
		}

		return seed.EnsureDefaultOrg(conn, cfg)
	}),
)
