package entity

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/lib/pq"
)

// WorldStateSnapshot 持久化的逐章连续性快照
type WorldStateSnapshot struct {
	ID            uint            `json:"id" gorm:"primaryKey;autoIncrement"`
	RunID         string          `json:"run_id" gorm:"type:uuid;uniqueIndex:idx_snapshot_run_chapter;not null"`
	Chapter       int             `json:"chapter" gorm:"uniqueIndex:idx_snapshot_run_chapter;not null"`
	Location      string          `json:"location" gorm:"type:varchar(255)"`
	OnStage       pq.StringArray  `json:"on_stage" gorm:"type:text[]"`
	OpenLoops     pq.StringArray  `json:"open_loops" gorm:"type:text[]"`
	ResolvedLoops pq.StringArray  `json:"resolved_loops" gorm:"type:text[]"`
	State         json.RawMessage `json:"state" gorm:"type:jsonb"`
	CreatedAt     time.Time       `json:"created_at" gorm:"autoCreateTime"`
}

// TableName 表名
func (WorldStateSnapshot) TableName() string {
	return "world_state_snapshots"
}

// NewWorldStateSnapshot 将快照展开为可索引的列
func NewWorldStateSnapshot(runID string, ws *WorldState) (*WorldStateSnapshot, error) {
	raw, err := json.Marshal(ws)
	if err != nil {
		return nil, err
	}
	onStage := ws.OnStageNames()
	sort.Strings(onStage)
	return &WorldStateSnapshot{
		RunID:         runID,
		Chapter:       ws.Chapter,
		Location:      ws.Location,
		OnStage:       pq.StringArray(onStage),
		OpenLoops:     pq.StringArray(append([]string(nil), ws.OpenLoops...)),
		ResolvedLoops: pq.StringArray(append([]string(nil), ws.ResolvedLoops...)),
		State:         raw,
	}, nil
}
