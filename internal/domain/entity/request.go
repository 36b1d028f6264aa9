// Package entity 定义领域实体
package entity

import "strings"

// RoleCameo 客串角色，不受“前两章必须登场”约束
const RoleCameo = "cameo"

// AgeRange 目标读者年龄区间
type AgeRange struct {
	Min int `json:"min" validate:"gte=0,lte=18"`
	Max int `json:"max" validate:"gtefield=Min,lte=18"`
}

// NormalizedRequest 上游产出的规范化请求，进入流水线后只读
type NormalizedRequest struct {
	StoryID      string   `json:"storyId" validate:"required"`
	Language     string   `json:"language" validate:"required"`
	AgeRange     AgeRange `json:"ageRange"`
	ChapterCount int      `json:"chapterCount" validate:"gte=1,lte=30"`
	CastIDs      []string `json:"castIds" validate:"required,min=1,dive,required"`
	Seed         *int64   `json:"seed,omitempty"`
	ModelID      string   `json:"modelId,omitempty"`
}

// Blueprint 上游蓝图：章节数与主题
type Blueprint struct {
	ChapterCount int    `json:"chapterCount" validate:"gte=1,lte=30"`
	Theme        string `json:"theme" validate:"required"`
	HumorLevel   string `json:"humorLevel,omitempty"`
}

// CastMember 可登场角色
type CastMember struct {
	ID   string `json:"id" validate:"required"`
	Name string `json:"name" validate:"required"`
	Role string `json:"role"`
}

// IsCameo 是否为客串角色
func (m CastMember) IsCameo() bool {
	return strings.EqualFold(strings.TrimSpace(m.Role), RoleCameo)
}

// CastSet 权威角色表（顺序即展示顺序）
type CastSet []CastMember

// Names 返回全部角色名
func (c CastSet) Names() []string {
	out := make([]string, 0, len(c))
	for _, m := range c {
		out = append(out, m.Name)
	}
	return out
}

// ByName 按名字查找角色
func (c CastSet) ByName(name string) (CastMember, bool) {
	for _, m := range c {
		if m.Name == name {
			return m, true
		}
	}
	return CastMember{}, false
}
