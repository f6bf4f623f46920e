// Package watch 监督器: 把选中态生命周期、流订阅、快照轮询与
// 一次性补拉编排到一起。
//
// 职责边界: 本包只做编排与事件解码, 状态合并规则全部在 runstate。
// 流事件到达顺序不保证 (跨通道), 因此这里每个分发路径都只调用
// 幂等的 reducer。
package watch

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/mdwoicke/dentix-ortho-sub001/internal/backend"
	"github.com/mdwoicke/dentix-ortho-sub001/internal/poller"
	"github.com/mdwoicke/dentix-ortho-sub001/internal/runstate"
	"github.com/mdwoicke/dentix-ortho-sub001/internal/stream"
	pkgerr "github.com/mdwoicke/dentix-ortho-sub001/pkg/errors"
	"github.com/mdwoicke/dentix-ortho-sub001/pkg/logger"
	"github.com/mdwoicke/dentix-ortho-sub001/pkg/util"
)

// Archiver 可选的落库钩子。execution 结束时收到最终状态。
type Archiver interface {
	ArchiveRun(ctx context.Context, run runstate.TestRun) error
	ArchiveConversation(ctx context.Context, runID string, entry runstate.ConversationEntry) error
}

// Supervisor 监督器。
type Supervisor struct {
	base    context.Context // 流订阅的生命周期上界 (进程级, 非请求级)
	mgr     *runstate.Manager
	streams *stream.Manager
	client  *backend.Client
	poll    *poller.Poller
	archive Archiver // nil = 落库关闭

	mu         sync.Mutex
	backfilled map[string]struct{} // "testId|runId" → 已补拉
}

// New 创建监督器。base 约束流订阅的存活期 — 订阅要跨请求存活,
// 必须挂在进程级 context 上, 绝不能挂在触发选择的 HTTP 请求上。
// archive 可为 nil。
func New(base context.Context, mgr *runstate.Manager, streams *stream.Manager, client *backend.Client, poll *poller.Poller, archive Archiver) *Supervisor {
	if base == nil {
		base = context.Background()
	}
	return &Supervisor{
		base:       base,
		mgr:        mgr,
		streams:    streams,
		client:     client,
		poll:       poll,
		archive:    archive,
		backfilled: make(map[string]struct{}),
	}
}

// Close 关闭全部流订阅。
func (s *Supervisor) Close() {
	s.streams.CloseAll()
}

// ========================================
// 选中态生命周期
// ========================================

// SelectRun 切换选中 run: 更新状态、重建两条流订阅、拉取详情。
// runID 为空表示取消选择 (订阅全关)。
//
// ctx 只约束这里的同步 REST 拉取; 两条流订阅派生自 s.base,
// 在 ctx (通常是 HTTP 请求) 结束后继续存活。
func (s *Supervisor) SelectRun(ctx context.Context, runID string) error {
	runID = strings.TrimSpace(runID)
	s.mgr.SelectRun(runID)
	if runID == "" {
		s.streams.CloseAll()
		return nil
	}

	// 先拿一份详情快照, 流事件只增量修补
	if run, err := s.client.GetRun(ctx, runID); err == nil {
		s.mgr.ApplyRunUpdate(run, runstate.SourcePoll)
	} else if !pkgerr.Is(err, pkgerr.ErrNotFound) {
		logger.Warn("watch: initial run fetch failed",
			logger.FieldRunID, runID,
			logger.FieldError, err.Error())
	}

	if _, err := s.streams.SubscribeRun(s.base, runID, "", s.handleRunEvent, s.onStreamError); err != nil {
		s.mgr.SetStreamStatus(false, err.Error())
		return err
	}
	if _, err := s.streams.SubscribeExecution(s.base, runID, func(ev stream.Event) {
		s.handleExecutionEvent(s.base, runID, ev)
	}, s.onStreamError); err != nil {
		s.mgr.SetStreamStatus(false, err.Error())
		return err
	}
	s.mgr.SetStreamStatus(true, "")
	return nil
}

// SelectTest 切换选中测试: 拉取持久化回退数据, 必要时补拉实时会话。
func (s *Supervisor) SelectTest(ctx context.Context, testID string) error {
	testID = strings.TrimSpace(testID)
	s.mgr.SelectTest(testID)
	if testID == "" {
		return nil
	}
	runID, _ := s.mgr.Selected()

	// 持久化转录/调用是回退展示源 — 取不到 (404) 不是错误
	if turns, err := s.client.GetTranscript(ctx, testID, runID); err == nil {
		s.mgr.SetPersistedTranscript(testID, turns)
	} else if !pkgerr.Is(err, pkgerr.ErrNotFound) {
		logger.Warn("watch: transcript fetch failed",
			logger.FieldTestID, testID,
			logger.FieldError, err.Error())
	}
	if calls, err := s.client.GetAPICalls(ctx, testID, runID); err == nil {
		s.mgr.SetPersistedAPICalls(testID, calls)
	} else if !pkgerr.Is(err, pkgerr.ErrNotFound) {
		logger.Warn("watch: api calls fetch failed",
			logger.FieldTestID, testID,
			logger.FieldError, err.Error())
	}

	s.maybeBackfill(ctx, testID, runID)
	return nil
}

// maybeBackfill 对运行中但实时存储为空的测试执行一次性 catch-up。
// 同一 (testId, runId) 只尝试一次 — 之后到达的增量流事件负责其余。
func (s *Supervisor) maybeBackfill(ctx context.Context, testID, runID string) {
	if !s.mgr.NeedsBackfill(testID, runID) {
		return
	}
	key := testID + "|" + runID
	s.mu.Lock()
	if _, done := s.backfilled[key]; done {
		s.mu.Unlock()
		return
	}
	s.backfilled[key] = struct{}{}
	s.mu.Unlock()

	lc, err := s.client.GetLiveConversation(ctx, testID, runID)
	if err != nil {
		logger.Warn("watch: live conversation backfill failed",
			logger.FieldTestID, testID,
			logger.FieldRunID, runID,
			logger.FieldError, err.Error())
		return
	}
	s.mgr.InitializeConversation(testID, lc.Transcript, lc.APICalls)
	logger.Info("watch: live conversation backfilled",
		logger.FieldTestID, testID,
		logger.FieldTurns, len(lc.Transcript),
		logger.FieldCalls, len(lc.APICalls))
}

// onStreamError 流断开 → 只设健康度标志, 已收数据保留。
func (s *Supervisor) onStreamError(err error) {
	s.mgr.SetStreamStatus(false, err.Error())
}

// ========================================
// run 范围事件分发
// ========================================

func (s *Supervisor) handleRunEvent(ev stream.Event) {
	switch ev.Type {
	case stream.EventRunUpdate:
		var run runstate.TestRun
		if !decode(ev, &run) {
			return
		}
		s.mgr.ApplyRunUpdate(run, runstate.SourceStream)

	case stream.EventResultsUpdate:
		var p stream.ResultsUpdatePayload
		if !decode(ev, &p) {
			return
		}
		s.mgr.ApplyResultsUpdate(p.RunID, p.Results, runstate.SourceStream)

	case stream.EventFindingsUpdate:
		// findings 由持久化结果行承载 — 触发一轮立即轮询取回
		s.poll.ForceRefresh()

	case stream.EventTranscriptUpdate:
		var p stream.TranscriptUpdatePayload
		if !decode(ev, &p) {
			return
		}
		s.mgr.SetPersistedTranscript(p.TestID, p.Transcript)

	case stream.EventAPICallsUpdate:
		var p stream.APICallsUpdatePayload
		if !decode(ev, &p) {
			return
		}
		s.mgr.SetPersistedAPICalls(p.TestID, p.APICalls)

	case stream.EventComplete:
		// run 终态 — 强制重取权威结果
		runID, _ := s.mgr.Selected()
		if runID != "" {
			util.SafeGo(func() {
				if err := s.poll.RefreshRunForced(context.Background(), runID); err != nil {
					logger.Warn("watch: final refetch failed",
						logger.FieldRunID, runID,
						logger.FieldError, err.Error())
				}
			})
		}

	case stream.EventError:
		var p stream.ErrorPayload
		if !decode(ev, &p) {
			return
		}
		// 服务端业务错误: 连接仍在, 只记录消息
		s.mgr.SetStreamStatus(true, p.Message)
	}
}

// ========================================
// execution 范围事件分发
// ========================================

func (s *Supervisor) handleExecutionEvent(ctx context.Context, runID string, ev stream.Event) {
	switch ev.Type {
	case stream.EventWorkersUpdate:
		var p stream.WorkersUpdatePayload
		if !decode(ev, &p) {
			return
		}
		for _, w := range p.Workers {
			s.applyWorker(ctx, runID, w)
		}

	case stream.EventWorkerStatus:
		var p stream.WorkerStatusPayload
		if !decode(ev, &p) {
			return
		}
		s.applyWorker(ctx, runID, p)

	case stream.EventConversationUpdate:
		var p stream.ConversationUpdatePayload
		if !decode(ev, &p) {
			return
		}
		s.mgr.AppendTurn(p.TestID, p.Turn, util.FirstNonEmpty(p.RunID, runID))

	case stream.EventAPICallUpdate:
		var p stream.APICallUpdatePayload
		if !decode(ev, &p) {
			return
		}
		s.mgr.AppendAPICall(p.TestID, p.Call, util.FirstNonEmpty(p.RunID, runID))

	case stream.EventExecutionCompleted, stream.EventExecutionStopped:
		var p stream.ExecutionEndedPayload
		_ = decode(ev, &p) // 载荷缺失也要收尾
		ended := util.FirstNonEmpty(p.RunID, runID)
		s.finishExecution(ended)
	}
}

// applyWorker worker 快照/状态事件 → 运行中注册表。
func (s *Supervisor) applyWorker(ctx context.Context, runID string, w stream.WorkerStatusPayload) {
	testID := util.FirstNonEmpty(w.CurrentTestID, w.TestID)
	if strings.TrimSpace(testID) == "" {
		// 空闲 worker
		return
	}
	rid := util.FirstNonEmpty(w.RunID, runID)
	s.mgr.AddRunningTest(testID, w.TestName, rid)

	// 选中的就是这个测试且实时存储为空 → 立即补拉
	_, selectedTest := s.mgr.Selected()
	if selectedTest == testID {
		s.maybeBackfill(ctx, testID, rid)
	}
}

// finishExecution execution 终止收尾: 实时条目定格、注册表清空、
// 强制重取持久化终态, 最后触发落库钩子。
func (s *Supervisor) finishExecution(runID string) {
	// 落库要抓终格前的实时数据 → 先快照再 ApplyExecutionEnded
	var archived []runstate.ConversationEntry
	if s.archive != nil {
		for _, e := range s.mgr.Registry().Entries() {
			if entry, ok := s.mgr.Conversations().Get(e.TestID); ok {
				archived = append(archived, entry)
			}
		}
	}

	s.mgr.ApplyExecutionEnded(runID)

	util.SafeGo(func() {
		ctx := context.Background()
		if err := s.poll.RefreshRunForced(ctx, runID); err != nil {
			logger.Warn("watch: post-execution refetch failed",
				logger.FieldRunID, runID,
				logger.FieldError, err.Error())
		}
		if s.archive == nil {
			return
		}
		if run := s.mgr.Run(runID); run != nil {
			if err := s.archive.ArchiveRun(ctx, *run); err != nil {
				logger.Warn("watch: run archive failed",
					logger.FieldRunID, runID,
					logger.FieldError, err.Error())
			}
		}
		for _, entry := range archived {
			if err := s.archive.ArchiveConversation(ctx, runID, entry); err != nil {
				logger.Warn("watch: conversation archive failed",
					logger.FieldTestID, entry.TestID,
					logger.FieldError, err.Error())
			}
		}
	})
}

// decode 解码事件载荷; 失败记日志并丢弃 (绝不 best-effort 使用半解码数据)。
func decode(ev stream.Event, out any) bool {
	if err := json.Unmarshal(ev.Data, out); err != nil {
		logger.Warn("watch: malformed event payload dropped",
			logger.FieldChannel, string(ev.Channel),
			logger.FieldEventType, ev.Type,
			logger.FieldError, fmt.Sprintf("%v", err))
		return false
	}
	return true
}
