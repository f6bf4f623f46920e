package stream

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

// maxFrameSize 单帧 data 上限, 防止畸形流耗尽内存。
const maxFrameSize = 4 << 20

// frameSink 每解析出一个完整帧调用一次。
type frameSink func(name string, data []byte)

// readFrames 按 text/event-stream 协议解析 r, 逐帧上报。
// 支持 event: / data: 字段与多行 data (换行拼接);
// id: / retry: / 注释行 (": ...") 跳过。空行分发当前帧。
// r 关闭或出错时返回 (io.EOF 归一化为 nil 之外的调用方语义由上层处理)。
func readFrames(r io.Reader, sink frameSink) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxFrameSize)

	eventName := ""
	var data bytes.Buffer

	dispatch := func() {
		if data.Len() == 0 && eventName == "" {
			return
		}
		name := eventName
		if name == "" {
			// SSE 默认事件名
			name = "message"
		}
		sink(name, append([]byte(nil), data.Bytes()...))
		eventName = ""
		data.Reset()
	}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			dispatch()
			continue
		}
		if strings.HasPrefix(line, ":") {
			// 注释 / keepalive
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			eventName = value
		case "data":
			if data.Len() > 0 {
				data.WriteByte('\n')
			}
			data.WriteString(value)
		case "id", "retry":
			// 不消费 — 重连由上层驱动
		}
	}
	// 流断开时残留的未分发帧视为不完整, 丢弃
	return scanner.Err()
}
