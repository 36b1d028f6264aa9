// Package run 管理流水线运行的提交、排队与执行
package run

import (
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"z-novel-pipeline/internal/domain/entity"
	apperrors "z-novel-pipeline/pkg/errors"
)

// Submission 一次运行的全部输入（上游规范化请求、蓝图、角色表、场景指令与已起草章节）
type Submission struct {
	Request        entity.NormalizedRequest `json:"request"`
	Blueprint      entity.Blueprint         `json:"blueprint"`
	Cast           entity.CastSet           `json:"cast" validate:"min=1,unique=Name,dive"`
	Directives     []entity.SceneDirective  `json:"directives,omitempty"`
	Draft          entity.StoryDraft        `json:"draft"`
	IdempotencyKey string                   `json:"idempotencyKey,omitempty" validate:"omitempty,max=128"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate 结构校验 + 跨字段一致性校验
func (s *Submission) Validate() error {
	if err := validatorInstance().Struct(s); err != nil {
		return apperrors.ErrValidationFailed.WithDetail(describe(err)).WithError(err)
	}

	var issues []string
	n := s.Blueprint.ChapterCount
	if s.Request.ChapterCount != n {
		issues = append(issues, fmt.Sprintf("request.chapterCount must equal blueprint.chapterCount (%d != %d)", s.Request.ChapterCount, n))
	}
	if len(s.Draft.Chapters) != n {
		issues = append(issues, fmt.Sprintf("draft must contain exactly %d chapters (got %d)", n, len(s.Draft.Chapters)))
	}
	for i, ch := range s.Draft.Chapters {
		if strings.TrimSpace(ch.Text) == "" {
			issues = append(issues, fmt.Sprintf("draft.chapters[%d].text is empty", i))
		}
	}

	castIDs := make(map[string]bool, len(s.Cast))
	for _, m := range s.Cast {
		castIDs[m.ID] = true
	}
	for _, id := range s.Request.CastIDs {
		if !castIDs[id] {
			issues = append(issues, fmt.Sprintf("request.castIds references unknown cast member %s", id))
		}
	}

	seen := make(map[int]bool, len(s.Directives))
	for _, d := range s.Directives {
		if d.Chapter < 1 || d.Chapter > n {
			issues = append(issues, fmt.Sprintf("directive chapter must be within 1..%d (got %d)", n, d.Chapter))
		}
		if seen[d.Chapter] {
			issues = append(issues, fmt.Sprintf("duplicate directive for chapter %d", d.Chapter))
		}
		seen[d.Chapter] = true
	}

	if len(issues) > 0 {
		return apperrors.ErrValidationFailed.WithDetail(strings.Join(issues, "; "))
	}
	return nil
}

func describe(err error) string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed on %s", fe.Namespace(), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
