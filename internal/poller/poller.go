// Package poller 周期性 REST 快照轮询。
//
// 轮询是咨询性来源: 结果交给 runstate.Manager 按新鲜度合并,
// 本包不判断谁更新。间隔自适应 — 有 run 在执行时用 active 间隔,
// 全部空闲时退到 idle 间隔。拉取失败只记日志, 已有状态保留。
package poller

import (
	"context"
	"time"

	"github.com/mdwoicke/dentix-ortho-sub001/internal/backend"
	"github.com/mdwoicke/dentix-ortho-sub001/internal/runstate"
	pkgerr "github.com/mdwoicke/dentix-ortho-sub001/pkg/errors"
	"github.com/mdwoicke/dentix-ortho-sub001/pkg/logger"
)

// Poller 自适应快照轮询器。
type Poller struct {
	client *backend.Client
	mgr    *runstate.Manager

	activeInterval time.Duration
	idleInterval   time.Duration

	force chan struct{}
}

// New 创建轮询器。active/idle 分别为执行中与空闲时的轮询间隔。
func New(client *backend.Client, mgr *runstate.Manager, active, idle time.Duration) *Poller {
	return &Poller{
		client:         client,
		mgr:            mgr,
		activeInterval: active,
		idleInterval:   idle,
		force:          make(chan struct{}, 1),
	}
}

// ForceRefresh 请求立即执行一轮轮询 (非阻塞, 已有待处理请求时合并)。
func (p *Poller) ForceRefresh() {
	select {
	case p.force <- struct{}{}:
	default:
	}
}

// Run 阻塞运行轮询循环直到 ctx 取消。启动时先拉一轮。
func (p *Poller) Run(ctx context.Context) {
	logger.Info("poller started",
		"active_interval", p.activeInterval.String(),
		"idle_interval", p.idleInterval.String())

	p.poll(ctx)
	timer := time.NewTimer(p.interval())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("poller stopped")
			return
		case <-p.force:
			p.poll(ctx)
		case <-timer.C:
			p.poll(ctx)
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(p.interval())
	}
}

// interval 按执行状态选择下一次轮询间隔。
func (p *Poller) interval() time.Duration {
	if p.mgr.AnyRunRunning() {
		return p.activeInterval
	}
	return p.idleInterval
}

// poll 拉取 run 列表 + 选中 run 的详情并交给 Manager 合并。
func (p *Poller) poll(ctx context.Context) {
	runs, err := p.client.ListRuns(ctx)
	if err != nil {
		// 瞬时失败不清状态, 下一轮重试
		logger.Warn("poll run list failed", logger.FieldError, err.Error())
	} else {
		p.mgr.ApplyRunList(runs, runstate.SourcePoll)
	}

	runID, _ := p.mgr.Selected()
	if runID == "" {
		return
	}
	if err := p.refreshRun(ctx, runID, runstate.SourcePoll); err != nil {
		logger.Warn("poll run detail failed",
			logger.FieldRunID, runID,
			logger.FieldError, err.Error())
	}
}

// RefreshRunForced 无条件重取 run 详情并以权威来源应用。
// execution 结束后调用, 终态必须采纳即使轮询标记判为不更新鲜。
func (p *Poller) RefreshRunForced(ctx context.Context, runID string) error {
	return p.refreshRun(ctx, runID, runstate.SourceForced)
}

func (p *Poller) refreshRun(ctx context.Context, runID string, src runstate.Source) error {
	run, err := p.client.GetRun(ctx, runID)
	if err != nil {
		if pkgerr.Is(err, pkgerr.ErrNotFound) {
			// run 尚未落库 (刚启动的执行) — 静默跳过
			return nil
		}
		return err
	}
	p.mgr.ApplyRunUpdate(run, src)
	return nil
}
