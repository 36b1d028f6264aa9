package surgery

import (
	"encoding/json"
	"fmt"

	jsonpatch "github.com/evanphx/json-patch"

	"z-novel-pipeline/internal/domain/entity"
)

type patchOp struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value string `json:"value"`
}

// replaceChapterText 以 RFC 6902 replace /text 补丁改写 chapters[idx]，其余章节原样保留
func replaceChapterText(draft *entity.StoryDraft, idx int, text string) (*entity.StoryDraft, error) {
	if idx < 0 || idx >= len(draft.Chapters) {
		return nil, fmt.Errorf("chapter index %d out of range", idx)
	}

	rawPatch, err := json.Marshal([]patchOp{{Op: "replace", Path: "/text", Value: text}})
	if err != nil {
		return nil, err
	}
	patch, err := jsonpatch.DecodePatch(rawPatch)
	if err != nil {
		return nil, fmt.Errorf("invalid json patch: %w", err)
	}
	// 只序列化目标章节
	doc, err := json.Marshal(draft.Chapters[idx])
	if err != nil {
		return nil, err
	}
	patched, err := patch.Apply(doc)
	if err != nil {
		return nil, fmt.Errorf("apply json patch: %w", err)
	}

	var ch entity.DraftChapter
	if err := json.Unmarshal(patched, &ch); err != nil {
		return nil, fmt.Errorf("decode patched chapter: %w", err)
	}
	if ch.Chapter != draft.Chapters[idx].Chapter {
		return nil, fmt.Errorf("patched chapter number changed from %d to %d", draft.Chapters[idx].Chapter, ch.Chapter)
	}

	out := draft.Clone()
	out.Chapters[idx].Text = ch.Text
	return out, nil
}
