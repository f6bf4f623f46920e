// clone.go — 快照深拷贝工具函数。
package runstate

func cloneTurns(src []Turn) []Turn {
	if len(src) == 0 {
		return []Turn{}
	}
	out := make([]Turn, len(src))
	copy(out, src)
	return out
}

func cloneCalls(src []APICall) []APICall {
	if len(src) == 0 {
		return []APICall{}
	}
	out := make([]APICall, len(src))
	copy(out, src)
	return out
}

func cloneResults(src []TestResult) []TestResult {
	if len(src) == 0 {
		return []TestResult{}
	}
	out := make([]TestResult, len(src))
	copy(out, src)
	for i := range out {
		if out[i].CompletedAt != nil {
			v := *out[i].CompletedAt
			out[i].CompletedAt = &v
		}
	}
	return out
}

func cloneRun(src *TestRun) *TestRun {
	if src == nil {
		return nil
	}
	out := *src
	out.Results = cloneResults(src.Results)
	return &out
}

func cloneRunList(src []TestRun) []TestRun {
	out := make([]TestRun, 0, len(src))
	for i := range src {
		out = append(out, *cloneRun(&src[i]))
	}
	return out
}

func cloneConversationEntry(src *ConversationEntry) ConversationEntry {
	return ConversationEntry{
		TestID:     src.TestID,
		Transcript: cloneTurns(src.Transcript),
		APICalls:   cloneCalls(src.APICalls),
		IsLive:     src.IsLive,
		IsComplete: src.IsComplete,
	}
}
