// watched_run.go — run 终态归档。
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mdwoicke/dentix-ortho-sub001/internal/runstate"
	apperrors "github.com/mdwoicke/dentix-ortho-sub001/pkg/errors"
)

// WatchedRun watched_runs 表行。Results 以 JSONB 存原始结果集。
type WatchedRun struct {
	RunID      string    `db:"run_id" json:"runId"`
	Status     string    `db:"status" json:"status"`
	TotalTests int       `db:"total_tests" json:"totalTests"`
	Passed     int       `db:"passed" json:"passed"`
	Failed     int       `db:"failed" json:"failed"`
	Results    []byte    `db:"results" json:"results"`
	StartedAt  time.Time `db:"started_at" json:"startedAt"`
	ArchivedAt time.Time `db:"archived_at" json:"archivedAt"`
}

// WatchedRunStore run 归档 store。
type WatchedRunStore struct{ BaseStore }

// NewWatchedRunStore 创建 store。
func NewWatchedRunStore(pool *pgxpool.Pool) *WatchedRunStore {
	return &WatchedRunStore{NewBaseStore(pool)}
}

// Upsert 写入或更新 run 终态 (同一 run 重复结束事件幂等)。
func (s *WatchedRunStore) Upsert(ctx context.Context, run runstate.TestRun) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO watched_runs (run_id, status, total_tests, passed, failed, results, started_at, archived_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (run_id) DO UPDATE SET
			status = EXCLUDED.status,
			total_tests = EXCLUDED.total_tests,
			passed = EXCLUDED.passed,
			failed = EXCLUDED.failed,
			results = EXCLUDED.results,
			archived_at = NOW()
	`, run.RunID, run.Status, run.TotalTests, run.Passed, run.Failed,
		mustMarshalJSON(run.Results), run.StartedAt)
	if err != nil {
		return apperrors.Wrapf(err, "WatchedRunStore.Upsert", "run %s", run.RunID)
	}
	return nil
}

// Get 按 runId 取归档行, 不存在返回 nil。
func (s *WatchedRunStore) Get(ctx context.Context, runID string) (*WatchedRun, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT run_id, status, total_tests, passed, failed, results, started_at, archived_at
		FROM watched_runs WHERE run_id = $1
	`, runID)
	if err != nil {
		return nil, apperrors.Wrapf(err, "WatchedRunStore.Get", "run %s", runID)
	}
	defer rows.Close()
	return collectOne[WatchedRun](rows)
}

// List 按状态/关键词过滤归档 run, 新归档在前。
func (s *WatchedRunStore) List(ctx context.Context, status, keyword string, limit int) ([]WatchedRun, error) {
	qb := NewQueryBuilder().
		Eq("status", status).
		KeywordLike(keyword, "run_id")
	sql, params := qb.Build(`
		SELECT run_id, status, total_tests, passed, failed, results, started_at, archived_at
		FROM watched_runs
	`, "archived_at DESC", limit)

	rows, err := s.pool.Query(ctx, sql, params...)
	if err != nil {
		return nil, apperrors.Wrap(err, "WatchedRunStore.List", "query")
	}
	defer rows.Close()
	return collectRows[WatchedRun](rows)
}
