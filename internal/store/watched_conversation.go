// watched_conversation.go — 实时会话终格归档。
package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mdwoicke/dentix-ortho-sub001/internal/runstate"
	apperrors "github.com/mdwoicke/dentix-ortho-sub001/pkg/errors"
)

// WatchedConversation watched_conversations 表行。
// 转录与 API 调用以 JSONB 存终格数据。
type WatchedConversation struct {
	RunID      string    `db:"run_id" json:"runId"`
	TestID     string    `db:"test_id" json:"testId"`
	Transcript []byte    `db:"transcript" json:"transcript"`
	APICalls   []byte    `db:"api_calls" json:"apiCalls"`
	TurnCount  int       `db:"turn_count" json:"turnCount"`
	CallCount  int       `db:"call_count" json:"callCount"`
	ArchivedAt time.Time `db:"archived_at" json:"archivedAt"`
}

// WatchedConversationStore 会话归档 store。
type WatchedConversationStore struct{ BaseStore }

// NewWatchedConversationStore 创建 store。
func NewWatchedConversationStore(pool *pgxpool.Pool) *WatchedConversationStore {
	return &WatchedConversationStore{NewBaseStore(pool)}
}

// Upsert 写入会话终格, (run_id, test_id) 冲突时覆盖为最新。
func (s *WatchedConversationStore) Upsert(ctx context.Context, runID string, entry runstate.ConversationEntry) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO watched_conversations (run_id, test_id, transcript, api_calls, turn_count, call_count, archived_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (run_id, test_id) DO UPDATE SET
			transcript = EXCLUDED.transcript,
			api_calls = EXCLUDED.api_calls,
			turn_count = EXCLUDED.turn_count,
			call_count = EXCLUDED.call_count,
			archived_at = NOW()
	`, runID, entry.TestID,
		mustMarshalJSON(entry.Transcript), mustMarshalJSON(entry.APICalls),
		len(entry.Transcript), len(entry.APICalls))
	if err != nil {
		return apperrors.Wrapf(err, "WatchedConversationStore.Upsert", "run %s test %s", runID, entry.TestID)
	}
	return nil
}

// ListByRun 取某 run 下的全部归档会话。
func (s *WatchedConversationStore) ListByRun(ctx context.Context, runID string, limit int) ([]WatchedConversation, error) {
	qb := NewQueryBuilder().Eq("run_id", runID)
	sql, params := qb.Build(`
		SELECT run_id, test_id, transcript, api_calls, turn_count, call_count, archived_at
		FROM watched_conversations
	`, "archived_at DESC", limit)

	rows, err := s.pool.Query(ctx, sql, params...)
	if err != nil {
		return nil, apperrors.Wrapf(err, "WatchedConversationStore.ListByRun", "run %s", runID)
	}
	defer rows.Close()
	return collectRows[WatchedConversation](rows)
}
