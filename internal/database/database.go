package database

import (
	"fmt"
	"log/slog"

	"github.com/ahmetk3436/autoremedy/internal/config"
	"github.com/ahmetk3436/autoremedy/internal/models"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func Connect(cfg *config.Config) (*gorm.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DBHost, cfg.DBPort, cfg.DBUser, cfg.DBPassword, cfg.DBName, cfg.DBSSLMode)

	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("Database connected", "host", cfg.DBHost, "db", cfg.DBName)
	return db, nil
}

// partialIndexes back the deduplication rules that AutoMigrate cannot
// express: one active alert per (server, metric) and one open action per
// (server, alert), with proactive actions keyed by action type instead.
var partialIndexes = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_alerts_active_server_metric
		ON alerts (server_id, metric_type) WHERE status = 'active'`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_actions_open_server_alert
		ON remediation_actions (server_id, alert_id)
		WHERE alert_id IS NOT NULL AND status IN ('pending', 'approved', 'executing')`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_actions_open_proactive
		ON remediation_actions (server_id, action_type)
		WHERE alert_id IS NULL AND status IN ('pending', 'approved', 'executing')`,
}

func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Server{},
		&models.Metric{},
		&models.Anomaly{},
		&models.Alert{},
		&models.RemediationAction{},
		&models.ApprovalWorkflow{},
		&models.WorkflowStep{},
		&models.ApprovalHistory{},
		&models.AuditLog{},
		&models.ServerConnection{},
		&models.Agent{},
	); err != nil {
		return err
	}
	for _, stmt := range partialIndexes {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}
