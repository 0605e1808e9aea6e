package database

import (
	"context"
	"fmt"
	"time"

	"github.com/mautops/docflow-gin/internal/config"
	"github.com/mautops/docflow-gin/internal/model"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// 数据库驱动
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// PoolConfig 连接池配置
type PoolConfig struct {
	MaxIdleConns    int
	MaxOpenConns    int
	ConnMaxLifetime int // 秒
	ConnMaxIdleTime int // 秒
}

// BuildDSN 构建 PostgreSQL DSN
func BuildDSN(cfg config.DatabaseConfig) string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s TimeZone=UTC",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)
}

// GetPoolConfig 获取连接池配置，未配置的项使用默认值
func GetPoolConfig(cfg config.DatabaseConfig) *PoolConfig {
	pool := &PoolConfig{
		MaxIdleConns:    cfg.MaxIdleConns,
		MaxOpenConns:    cfg.MaxOpenConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}
	if pool.MaxIdleConns == 0 {
		pool.MaxIdleConns = 10
	}
	if pool.MaxOpenConns == 0 {
		pool.MaxOpenConns = 100
	}
	if pool.ConnMaxLifetime == 0 {
		pool.ConnMaxLifetime = 3600
	}
	if pool.ConnMaxIdleTime == 0 {
		pool.ConnMaxIdleTime = 600
	}
	return pool
}

// Open 根据驱动打开连接
func Open(cfg config.DatabaseConfig) (*gorm.DB, error) {
	gormCfg := &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	switch cfg.Driver {
	case DriverSQLite:
		path := cfg.Path
		if path == "" {
			path = "docflow.db"
		}
		return gorm.Open(sqlite.Open(path), gormCfg)
	case "", DriverPostgres:
		return gorm.Open(postgres.Open(BuildDSN(cfg)), gormCfg)
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
}

// Connect 连接数据库
func Connect(cfg config.DatabaseConfig) (*gorm.DB, error) {
	db, err := Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get sql.DB: %w", err)
	}

	// SQLite 只允许单写连接
	if IsSQLite(db) {
		sqlDB.SetMaxOpenConns(1)
		return db, nil
	}

	pool := GetPoolConfig(cfg)
	sqlDB.SetMaxIdleConns(pool.MaxIdleConns)
	sqlDB.SetMaxOpenConns(pool.MaxOpenConns)
	sqlDB.SetConnMaxLifetime(time.Duration(pool.ConnMaxLifetime) * time.Second)
	sqlDB.SetConnMaxIdleTime(time.Duration(pool.ConnMaxIdleTime) * time.Second)

	return db, nil
}

// ConnectWithRetry 带重试的数据库连接
func ConnectWithRetry(cfg config.DatabaseConfig, maxRetries int, retryInterval time.Duration) (*gorm.DB, error) {
	var db *gorm.DB
	var err error

	for i := 0; i < maxRetries; i++ {
		db, err = Connect(cfg)
		if err == nil && CheckHealth(db) {
			return db, nil
		}
		if err == nil {
			err = fmt.Errorf("database ping failed")
		}

		if i < maxRetries-1 {
			time.Sleep(retryInterval)
			retryInterval *= 2 // 指数退避
		}
	}

	return nil, fmt.Errorf("failed to connect database after %d retries: %w", maxRetries, err)
}

// IsSQLite 是否为 SQLite
func IsSQLite(db *gorm.DB) bool {
	name := db.Dialector.Name()
	return name == "sqlite" || name == "sqlite3"
}

// IsPostgres 是否为 PostgreSQL
func IsPostgres(db *gorm.DB) bool {
	return db.Dialector.Name() == "postgres"
}

// Models 需要迁移的全部模型
func Models() []interface{} {
	return []interface{}{
		&model.DocumentModel{},
		&model.DocumentVersionModel{},
		&model.WorkflowModel{},
		&model.WorkflowStepModel{},
		&model.WorkflowInstanceModel{},
		&model.StepActionModel{},
		&model.StateHistoryModel{},
		&model.SignatureModel{},
		&model.SignerCredentialModel{},
		&model.AuditLogModel{},
		&model.NotificationModel{},
	}
}

// Migrate 执行数据库迁移
func Migrate(db *gorm.DB) error {
	if err := db.AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("failed to auto migrate: %w", err)
	}

	if err := CreateIndexes(db); err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}

	if IsPostgres(db) {
		if err := createImmutabilityTriggers(db); err != nil {
			return fmt.Errorf("failed to create immutability triggers: %w", err)
		}
	}

	return nil
}

// CreateIndexes 创建组合索引
func CreateIndexes(db *gorm.DB) error {
	statements := []struct {
		name string
		sql  string
	}{
		{"idx_instances_document_status", "CREATE INDEX IF NOT EXISTS idx_instances_document_status ON workflow_instances(document_id, status)"},
		{"idx_actions_instance_time", "CREATE INDEX IF NOT EXISTS idx_actions_instance_time ON workflow_step_actions(instance_id, action_at)"},
		{"idx_signatures_document_time", "CREATE INDEX IF NOT EXISTS idx_signatures_document_time ON electronic_signatures(document_id, signed_at)"},
		{"idx_audit_document_time", "CREATE INDEX IF NOT EXISTS idx_audit_document_time ON audit_logs(document_id, occurred_at)"},
		{"idx_notifications_user_read", "CREATE INDEX IF NOT EXISTS idx_notifications_user_read ON notifications(user_id, read_at)"},
	}

	for _, stmt := range statements {
		if err := db.Exec(stmt.sql).Error; err != nil {
			return fmt.Errorf("failed to create %s: %w", stmt.name, err)
		}
	}

	if IsPostgres(db) {
		if err := db.Exec("CREATE INDEX IF NOT EXISTS idx_audit_metadata_gin ON audit_logs USING GIN ((metadata::jsonb))").Error; err != nil {
			return fmt.Errorf("failed to create idx_audit_metadata_gin: %w", err)
		}
	}

	return nil
}

// createImmutabilityTriggers 拒绝对审计表的 UPDATE/DELETE
func createImmutabilityTriggers(db *gorm.DB) error {
	if err := db.Exec(`
		CREATE OR REPLACE FUNCTION reject_audit_mutation() RETURNS trigger AS $$
		BEGIN
			RAISE EXCEPTION 'audit_logs is append-only';
		END;
		$$ LANGUAGE plpgsql
	`).Error; err != nil {
		return err
	}
	if err := db.Exec("DROP TRIGGER IF EXISTS trg_audit_logs_immutable ON audit_logs").Error; err != nil {
		return err
	}
	return db.Exec(`
		CREATE TRIGGER trg_audit_logs_immutable
		BEFORE UPDATE OR DELETE ON audit_logs
		FOR EACH ROW EXECUTE FUNCTION reject_audit_mutation()
	`).Error
}

// CheckHealth 检查数据库连接健康状态
func CheckHealth(db *gorm.DB) bool {
	if db == nil {
		return false
	}

	sqlDB, err := db.DB()
	if err != nil {
		return false
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	return sqlDB.PingContext(ctx) == nil
}

// Close 关闭连接
func Close(db *gorm.DB) {
	if db == nil {
		return
	}
	if sqlDB, err := db.DB(); err == nil {
		sqlDB.Close()
	}
}
