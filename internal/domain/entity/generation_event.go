package entity

import (
	"encoding/json"
	"time"
)

// GenerationEvent 生成调用的镜像记录（请求、响应或错误、元数据）
type GenerationEvent struct {
	ID           string          `json:"id" gorm:"type:uuid;primaryKey"`
	Source       string          `json:"source" gorm:"type:varchar(64);index;not null"`
	RunID        string          `json:"run_id,omitempty" gorm:"type:varchar(64);index"`
	Stage        string          `json:"stage,omitempty" gorm:"type:varchar(32)"`
	Chapter      int             `json:"chapter,omitempty"`
	Model        string          `json:"model,omitempty" gorm:"type:varchar(64)"`
	Request      json.RawMessage `json:"request" gorm:"type:jsonb"`
	Response     json.RawMessage `json:"response,omitempty" gorm:"type:jsonb"`
	ErrorMessage string          `json:"error,omitempty" gorm:"type:text"`
	Metadata     json.RawMessage `json:"metadata,omitempty" gorm:"type:jsonb"`
	DurationMs   int             `json:"duration_ms"`
	Timestamp    time.Time       `json:"timestamp" gorm:"index;not null"`
}

// TableName 表名
func (GenerationEvent) TableName() string {
	return "generation_events"
}
