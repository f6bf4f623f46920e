// archive.go — 监督器落库钩子的 pgx 实现。
package store

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mdwoicke/dentix-ortho-sub001/internal/runstate"
)

// Archive 聚合两个归档 store, 实现 watch.Archiver。
type Archive struct {
	Runs          *WatchedRunStore
	Conversations *WatchedConversationStore
}

// NewArchive 创建归档器。
func NewArchive(pool *pgxpool.Pool) *Archive {
	return &Archive{
		Runs:          NewWatchedRunStore(pool),
		Conversations: NewWatchedConversationStore(pool),
	}
}

// ArchiveRun 归档 run 终态。
func (a *Archive) ArchiveRun(ctx context.Context, run runstate.TestRun) error {
	return a.Runs.Upsert(ctx, run)
}

// ArchiveConversation 归档单个测试的会话终格。
func (a *Archive) ArchiveConversation(ctx context.Context, runID string, entry runstate.ConversationEntry) error {
	return a.Conversations.Upsert(ctx, runID, entry)
}

// ========================================
// dashboard 离线查询入口
// ========================================

// GetRun 取单个归档 run, 不存在返回 nil。
func (a *Archive) GetRun(ctx context.Context, runID string) (*WatchedRun, error) {
	return a.Runs.Get(ctx, runID)
}

// ListRuns 按状态/关键词过滤归档 run。
func (a *Archive) ListRuns(ctx context.Context, status, keyword string, limit int) ([]WatchedRun, error) {
	return a.Runs.List(ctx, status, keyword, limit)
}

// ListConversations 取某 run 下的全部归档会话。
func (a *Archive) ListConversations(ctx context.Context, runID string, limit int) ([]WatchedConversation, error) {
	return a.Conversations.ListByRun(ctx, runID, limit)
}
