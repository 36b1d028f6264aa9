package stage

import (
	"errors"
	"fmt"
	"strings"
)

// ValidationError 结构化产物未通过校验
type ValidationError struct {
	Artifact string
	Issues   []string
}

func (e *ValidationError) Error() string {
	if e == nil {
		return ""
	}
	if len(e.Issues) == 0 {
		return fmt.Sprintf("%s validation failed", e.Artifact)
	}
	return fmt.Sprintf("%s validation failed: %s", e.Artifact, strings.Join(e.Issues, "; "))
}

// StageFatalError 阶段在一次修复后仍失败（或生成能力本身失败），终止流水线
type StageFatalError struct {
	Stage  string
	Issues []string
	Err    error
}

func (e *StageFatalError) Error() string {
	if e == nil {
		return ""
	}
	if len(e.Issues) > 0 {
		msg := fmt.Sprintf("stage %s failed: %s", e.Stage, strings.Join(e.Issues, "; "))
		var verr *ValidationError
		if e.Err != nil && !errors.As(e.Err, &verr) {
			msg += " (repair call failed: " + e.Err.Error() + ")"
		}
		return msg
	}
	if e.Err != nil {
		return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("stage %s failed", e.Stage)
}

func (e *StageFatalError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// AsStageFatal 从错误链中取出 StageFatalError
func AsStageFatal(err error) (*StageFatalError, bool) {
	var fatal *StageFatalError
	if errors.As(err, &fatal) {
		return fatal, true
	}
	return nil, false
}

// Issues 校验问题收集器
type Issues []string

// Addf 追加一条问题
func (is *Issues) Addf(format string, args ...any) {
	*is = append(*is, fmt.Sprintf(format, args...))
}

// RequireText 检查去空白后至少 2 个字符
func (is *Issues) RequireText(field, value string) {
	if len([]rune(strings.TrimSpace(value))) < MinTextRunes {
		is.Addf("%s must be a non-empty string of at least %d characters", field, MinTextRunes)
	}
}

// MinTextRunes 文本字段的最小长度
const MinTextRunes = 2
