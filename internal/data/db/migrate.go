package db

import (
	"fmt"

	"gorm.io/gorm"

	types "github.com/yungbote/recall-backend/internal/domain"
)

func AutoMigrateAll(db *gorm.DB) error {
	return db.AutoMigrate(types.AllModels()...)
}

// EnsureMemoryIndexes adds what AutoMigrate cannot express. Vector columns are
// 3072-d, wider than pgvector's 2000-d ANN index limit, so probes scan per user.
func EnsureMemoryIndexes(db *gorm.DB) error {
	stmts := []struct {
		name string
		sql  string
	}{
		{"chk_messages_role", `
			DO $$ BEGIN
				ALTER TABLE messages ADD CONSTRAINT chk_messages_role
				CHECK (role IN ('user','assistant','system','introspection'));
			EXCEPTION WHEN duplicate_object THEN NULL;
			END $$;`},
		{"idx_messages_user_memory", `
			CREATE INDEX IF NOT EXISTS idx_messages_user_memory
			ON messages (user_id, thread_id)
			WHERE embed_ready AND priority IS NOT NULL AND content IS NOT NULL;`},
		{"idx_messages_pending_embed", `
			CREATE INDEX IF NOT EXISTS idx_messages_pending_embed
			ON messages (msg_id)
			WHERE embed_ready = false AND content IS NOT NULL;`},
		{"idx_kg_edges_user_object", `
			CREATE INDEX IF NOT EXISTS idx_kg_edges_user_object
			ON kg_edges (user_id, object_id);`},
		{"idx_job_run_runnable", `
			CREATE INDEX IF NOT EXISTS idx_job_run_runnable
			ON job_run (status, run_after, created_at);`},
	}
	for _, s := range stmts {
		if err := db.Exec(s.sql).Error; err != nil {
			return fmt.Errorf("create %s: %w", s.name, err)
		}
	}
	return nil
}

func (s *PostgresService) AutoMigrateAll() error {
	s.log.Info("Auto migrating postgres tables...")
	if err := AutoMigrateAll(s.db); err != nil {
		s.log.Error("Auto migration failed", "error", err)
		return err
	}
	if err := EnsureMemoryIndexes(s.db); err != nil {
		s.log.Error("Memory index migration failed", "error", err)
		return err
	}
	return nil
}
