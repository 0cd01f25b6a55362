package migrations

import (
	"github.com/go-gormigrate/gormigrate/v2"
	"github.com/scm-platform/notification-service/internal/repository"
	"gorm.io/gorm"
)

func Migrate(db *gorm.DB) error {
	m := gormigrate.New(db, gormigrate.DefaultOptions, []*gormigrate.Migration{
		{
			ID: "000001_create_notifications",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.NotificationModel{}); err != nil {
					return err
				}
				indexes := []string{
					// Serves the reconciler's stale scan.
					`CREATE INDEX IF NOT EXISTS idx_notifications_status_updated ON notifications (status, updated_at)`,
					`CREATE INDEX IF NOT EXISTS idx_notifications_channel_created ON notifications (channel, created_at)`,
				}
				for _, sql := range indexes {
					if err := tx.Exec(sql).Error; err != nil {
						return err
					}
				}
				return nil
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.NotificationModel{})
			},
		},
		{
			ID: "000002_create_notification_audit_logs",
			Migrate: func(tx *gorm.DB) error {
				if err := tx.AutoMigrate(&repository.AuditLogModel{}); err != nil {
					return err
				}
				return tx.Exec(`CREATE INDEX IF NOT EXISTS idx_audit_logs_notification_id ON notification_audit_logs (notification_id, timestamp)`).Error
			},
			Rollback: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(&repository.AuditLogModel{})
			},
		},
	})

	return m.Migrate()
}
