package node

import (
	"fmt"
	"strings"
)

// BulletBlock 将非空行渲染为列表块；全部为空时返回 fallback
func BulletBlock(lines []string, fallback string) string {
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		l = strings.TrimSpace(l)
		if l == "" {
			continue
		}
		out = append(out, "- "+l)
	}
	if len(out) == 0 {
		return fallback
	}
	return strings.Join(out, "\n")
}

// NumberedIssues 渲染修复请求中的错误列表
func NumberedIssues(issues []string) string {
	var b strings.Builder
	for i, issue := range issues {
		fmt.Fprintf(&b, "%d. %s\n", i+1, strings.TrimSpace(issue))
	}
	return strings.TrimRight(b.String(), "\n")
}
