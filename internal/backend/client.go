// Package backend 测试执行后端的 REST 客户端。
//
// 职责仅限取数: run 列表 / run 详情 / 持久化转录与 API 调用 /
// 实时会话补拉。所有响应原样解码为 runstate 类型, 不在此层做
// 合并或新鲜度判断 (那是 runstate 的事)。
package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mdwoicke/dentix-ortho-sub001/internal/runstate"
	pkgerr "github.com/mdwoicke/dentix-ortho-sub001/pkg/errors"
)

// Client 后端 REST 客户端。
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient 创建客户端。timeout 为单请求总超时。
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// LiveConversation 实时会话补拉响应。
type LiveConversation struct {
	TestID     string             `json:"testId"`
	Transcript []runstate.Turn    `json:"transcript"`
	APICalls   []runstate.APICall `json:"apiCalls"`
}

// ListRuns 拉取 run 列表 (通常不含逐条结果)。
func (c *Client) ListRuns(ctx context.Context) ([]runstate.TestRun, error) {
	var payload struct {
		Runs []runstate.TestRun `json:"runs"`
	}
	if err := c.getJSON(ctx, "Backend.ListRuns", "/api/runs", &payload); err != nil {
		return nil, err
	}
	return payload.Runs, nil
}

// GetRun 拉取单个 run 详情 (含结果集)。
func (c *Client) GetRun(ctx context.Context, runID string) (runstate.TestRun, error) {
	runID = strings.TrimSpace(runID)
	if runID == "" {
		return runstate.TestRun{}, pkgerr.Wrap(pkgerr.ErrInvalidInput, "Backend.GetRun", "empty runId")
	}
	var run runstate.TestRun
	path := "/api/runs/" + url.PathEscape(runID)
	if err := c.getJSON(ctx, "Backend.GetRun", path, &run); err != nil {
		return runstate.TestRun{}, err
	}
	return run, nil
}

// GetTranscript 拉取测试的持久化转录。
func (c *Client) GetTranscript(ctx context.Context, testID, runID string) ([]runstate.Turn, error) {
	testID = strings.TrimSpace(testID)
	if testID == "" {
		return nil, pkgerr.Wrap(pkgerr.ErrInvalidInput, "Backend.GetTranscript", "empty testId")
	}
	var payload struct {
		Transcript []runstate.Turn `json:"transcript"`
	}
	path := "/api/tests/" + url.PathEscape(testID) + "/transcript" + runQuery(runID)
	if err := c.getJSON(ctx, "Backend.GetTranscript", path, &payload); err != nil {
		return nil, err
	}
	return payload.Transcript, nil
}

// GetAPICalls 拉取测试的持久化 API 调用记录。
func (c *Client) GetAPICalls(ctx context.Context, testID, runID string) ([]runstate.APICall, error) {
	testID = strings.TrimSpace(testID)
	if testID == "" {
		return nil, pkgerr.Wrap(pkgerr.ErrInvalidInput, "Backend.GetAPICalls", "empty testId")
	}
	var payload struct {
		APICalls []runstate.APICall `json:"apiCalls"`
	}
	path := "/api/tests/" + url.PathEscape(testID) + "/api-calls" + runQuery(runID)
	if err := c.getJSON(ctx, "Backend.GetAPICalls", path, &payload); err != nil {
		return nil, err
	}
	return payload.APICalls, nil
}

// GetLiveConversation 拉取进行中测试的当前会话 (订阅前错过的轮次)。
func (c *Client) GetLiveConversation(ctx context.Context, testID, runID string) (LiveConversation, error) {
	testID = strings.TrimSpace(testID)
	if testID == "" {
		return LiveConversation{}, pkgerr.Wrap(pkgerr.ErrInvalidInput, "Backend.GetLiveConversation", "empty testId")
	}
	var payload LiveConversation
	path := "/api/live/" + url.PathEscape(testID) + runQuery(runID)
	if err := c.getJSON(ctx, "Backend.GetLiveConversation", path, &payload); err != nil {
		return LiveConversation{}, err
	}
	return payload, nil
}

func runQuery(runID string) string {
	if runID = strings.TrimSpace(runID); runID == "" {
		return ""
	}
	return "?runId=" + url.QueryEscape(runID)
}

// getJSON 执行 GET 并解码 JSON 响应。
// 404 → ErrNotFound; 连接失败 → ErrUnavailable; 其余非 2xx → AppError。
func (c *Client) getJSON(ctx context.Context, op, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return pkgerr.Wrap(err, op, "build request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return pkgerr.Wrapf(pkgerr.ErrUnavailable, op, "request %s: %v", path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return pkgerr.Wrapf(pkgerr.ErrNotFound, op, "%s", path)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &pkgerr.AppError{
			Op:      op,
			Code:    fmt.Sprintf("HTTP_%d", resp.StatusCode),
			Message: strings.TrimSpace(string(body)),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return pkgerr.Wrap(err, op, "decode response")
	}
	return nil
}
