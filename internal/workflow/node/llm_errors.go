package node

import "strings"

// responseFormatMarkers 提供商拒绝结构化输出参数时错误信息中出现的片段
var responseFormatMarkers = []string{"response_format", "response_schema", "json_schema"}

// IsResponseFormatUnsupportedError 判断失败是否源于提供商不支持结构化输出；
// 命中时生成链改为仅靠提示词约束 JSON 重发一次
func IsResponseFormatUnsupportedError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range responseFormatMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return strings.Contains(msg, "unknown parameter") && strings.Contains(msg, "response")
}
