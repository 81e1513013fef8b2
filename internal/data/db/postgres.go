package db

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/docmindhq/docmind-backend/internal/domain"
	"github.com/docmindhq/docmind-backend/internal/platform/envutil"
	"github.com/docmindhq/docmind-backend/internal/platform/logger"
)

type PostgresService struct {
	db  *gorm.DB
	log *logger.Logger
}

func NewPostgresService(log *logger.Logger) (*PostgresService, error) {
	serviceLog := log.With("service", "PostgresService")

	host := envutil.GetEnv("POSTGRES_HOST", "localhost")
	port := envutil.GetEnv("POSTGRES_PORT", "5432")
	user := envutil.GetEnv("POSTGRES_USER", "postgres")
	password := envutil.GetEnv("POSTGRES_PASSWORD", "")
	name := envutil.GetEnv("POSTGRES_NAME", "docmind")
	sslMode := envutil.GetEnv("POSTGRES_SSLMODE", "disable")

	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", user, password, host, port, name, sslMode)

	serviceLog.Info("Connecting to Postgres...", "host", host, "db", name)
	gdb, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		DisableForeignKeyConstraintWhenMigrating: true,
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := gdb.Exec(`CREATE EXTENSION IF NOT EXISTS "uuid-ossp";`).Error; err != nil {
		return nil, fmt.Errorf("enable uuid-ossp extension: %w", err)
	}

	return &PostgresService{db: gdb, log: serviceLog}, nil
}

func (s *PostgresService) DB() *gorm.DB { return s.db }

func (s *PostgresService) AutoMigrateAll() error {
	s.log.Info("Auto migrating postgres tables...")
	if err := s.db.AutoMigrate(domain.AllModels()...); err != nil {
		return err
	}
	return applyConstraints(s.db)
}

// applyConstraints adds the invariants AutoMigrate cannot express: exactly
// one job owner, and a lexical search index over chunk text.
func applyConstraints(db *gorm.DB) error {
	stmts := []string{
		`ALTER TABLE job DROP CONSTRAINT IF EXISTS chk_job_single_owner;`,
		`ALTER TABLE job ADD CONSTRAINT chk_job_single_owner CHECK (
			(CASE WHEN extraction_id IS NOT NULL THEN 1 ELSE 0 END +
			 CASE WHEN document_id IS NOT NULL THEN 1 ELSE 0 END +
			 CASE WHEN workflow_run_id IS NOT NULL THEN 1 ELSE 0 END +
			 CASE WHEN template_fill_run_id IS NOT NULL THEN 1 ELSE 0 END) = 1
		);`,
		`CREATE INDEX IF NOT EXISTS idx_chunk_text_tsv ON chunk USING gin (to_tsvector('english', text));`,
	}
	for _, stmt := range stmts {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("apply constraint: %w", err)
		}
	}
	return nil
}
