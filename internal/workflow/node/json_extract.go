package node

import (
	"encoding/json"
	"strings"
)

// ExtractJSONObject 从模型输出中截取第一个完整的 JSON 对象/数组。
// 模型可能在 JSON 前后夹杂说明文字或 ``` 代码块标记；找不到合法 JSON 时返回去空白后的原文。
func ExtractJSONObject(s string) string {
	raw := strings.TrimSpace(s)
	if raw == "" {
		return raw
	}

	for start := 0; start < len(raw); {
		idx := strings.IndexAny(raw[start:], "{[")
		if idx < 0 {
			break
		}
		pos := start + idx

		dec := json.NewDecoder(strings.NewReader(raw[pos:]))
		dec.UseNumber()
		var v json.RawMessage
		if err := dec.Decode(&v); err == nil {
			return string(v)
		}
		start = pos + 1
	}
	return raw
}
