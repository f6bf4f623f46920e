// conversation.go — Live Conversation Store: 每测试实时转录 + API 调用。
package runstate

import (
	"strings"
	"sync"
)

// ConversationStore testId → ConversationEntry 映射。
//
// 只有两种写入形态: 追加 (保持到达顺序) 和一次性 Initialize
// (补拉 catch-up 的整体初始化)。首次追加自动创建 isLive=true 的条目。
type ConversationStore struct {
	mu      sync.RWMutex
	entries map[string]*ConversationEntry
}

// NewConversationStore 创建空存储。
func NewConversationStore() *ConversationStore {
	return &ConversationStore{entries: make(map[string]*ConversationEntry)}
}

// ensureLocked 取出或创建条目。调用方必须持有写锁。
func (s *ConversationStore) ensureLocked(testID string) *ConversationEntry {
	e, ok := s.entries[testID]
	if !ok {
		e = &ConversationEntry{
			TestID:     testID,
			Transcript: []Turn{},
			APICalls:   []APICall{},
			IsLive:     true,
		}
		s.entries[testID] = e
	}
	return e
}

// Initialize 用补拉数据整体初始化条目 (viewer 中途订阅 / 页面重载)。
//
// 唯一允许整体重写的路径; 之后的数据只能追加。
func (s *ConversationStore) Initialize(testID string, transcript []Turn, apiCalls []APICall) {
	id := strings.TrimSpace(testID)
	if id == "" {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e := s.ensureLocked(id)
	e.Transcript = append([]Turn{}, transcript...)
	e.APICalls = append([]APICall{}, apiCalls...)
	e.IsLive = true
	e.IsComplete = false
}

// AppendTurn 追加一轮发言, 保持到达顺序。
func (s *ConversationStore) AppendTurn(testID string, turn Turn) {
	id := strings.TrimSpace(testID)
	if id == "" {
		return
	}
	s.mu.Lock()
	e := s.ensureLocked(id)
	e.Transcript = append(e.Transcript, turn)
	s.mu.Unlock()
}

// AppendAPICall 追加一次外部调用。
func (s *ConversationStore) AppendAPICall(testID string, call APICall) {
	id := strings.TrimSpace(testID)
	if id == "" {
		return
	}
	s.mu.Lock()
	e := s.ensureLocked(id)
	e.APICalls = append(e.APICalls, call)
	s.mu.Unlock()
}

// MarkComplete 标记单个条目结束: isLive=false, 数据保留。
func (s *ConversationStore) MarkComplete(testID string) {
	id := strings.TrimSpace(testID)
	if id == "" {
		return
	}
	s.mu.Lock()
	if e, ok := s.entries[id]; ok {
		e.IsLive = false
		e.IsComplete = true
	}
	s.mu.Unlock()
}

// MarkAllComplete 标记所有条目结束, 不触碰 transcript/apiCalls 内容 —
// 这是操作员还能回看已结束会话的前提。
func (s *ConversationStore) MarkAllComplete() {
	s.mu.Lock()
	for _, e := range s.entries {
		e.IsLive = false
		e.IsComplete = true
	}
	s.mu.Unlock()
}

// ClearAll 整体清空。仅绑定到"离开所有运行中 execution"的显式动作。
func (s *ConversationStore) ClearAll() {
	s.mu.Lock()
	s.entries = make(map[string]*ConversationEntry)
	s.mu.Unlock()
}

// Get 返回条目的深拷贝。
func (s *ConversationStore) Get(testID string) (ConversationEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[strings.TrimSpace(testID)]
	if !ok {
		return ConversationEntry{}, false
	}
	return cloneConversationEntry(e), true
}

// IsLive 返回条目是否仍在直播。
func (s *ConversationStore) IsLive(testID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[strings.TrimSpace(testID)]
	return ok && e.IsLive
}

// HasContent 返回条目是否已有任何数据。
func (s *ConversationStore) HasContent(testID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[strings.TrimSpace(testID)]
	return ok && e.HasContent()
}

// LiveCount 返回 isLive=true 的条目数。
func (s *ConversationStore) LiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, e := range s.entries {
		if e.IsLive {
			n++
		}
	}
	return n
}
