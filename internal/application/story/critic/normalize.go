package critic

import (
	"encoding/json"
	"errors"
	"math"
	"sort"
	"strconv"
	"strings"

	"z-novel-pipeline/internal/domain/entity"
	wfnode "z-novel-pipeline/internal/workflow/node"
)

// rawReport 宽松解码：数字字段可能以字符串形式出现
type rawReport struct {
	OverallScore    any            `json:"overallScore"`
	DimensionScores map[string]any `json:"dimensionScores"`
	ReleaseReady    any            `json:"releaseReady"`
	Summary         string         `json:"summary"`
	Issues          []rawIssue     `json:"issues"`
	PatchTasks      []rawTask      `json:"patchTasks"`
}

type rawIssue struct {
	Chapter          any    `json:"chapter"`
	Code             string `json:"code"`
	Severity         string `json:"severity"`
	Message          string `json:"message"`
	PatchInstruction string `json:"patchInstruction"`
}

type rawTask struct {
	Chapter     any    `json:"chapter"`
	Priority    any    `json:"priority"`
	Objective   string `json:"objective"`
	Instruction string `json:"instruction"`
}

var errMalformed = errors.New("malformed critic report")

// Normalize 解码并规范化模型返回的评审报告
func Normalize(content string, chapterCount int, targetMinScore float64) (*entity.SemanticCriticReport, error) {
	raw := wfnode.ExtractJSONObject(content)
	if raw == "" {
		return nil, errMalformed
	}
	var rr rawReport
	if err := json.Unmarshal([]byte(raw), &rr); err != nil {
		return nil, errors.Join(errMalformed, err)
	}

	overall, hasOverall := parseNumber(rr.OverallScore)
	dims, complete := parseDimensions(rr.DimensionScores)
	switch {
	case hasOverall:
		overall = clampScore(overall)
	case complete:
		overall = dims.Weighted()
	default:
		return nil, errors.Join(errMalformed, errors.New("neither overallScore nor complete dimensionScores present"))
	}
	overall = round2(overall)

	claimed, _ := parseBool(rr.ReleaseReady)
	return &entity.SemanticCriticReport{
		OverallScore:    overall,
		DimensionScores: dims,
		ReleaseReady:    claimed && overall >= targetMinScore,
		Summary:         strings.TrimSpace(rr.Summary),
		Issues:          normalizeIssues(rr.Issues, chapterCount),
		PatchTasks:      NormalizeTasks(toTasks(rr.PatchTasks, chapterCount)),
	}, nil
}

func parseDimensions(m map[string]any) (entity.DimensionScores, bool) {
	var d entity.DimensionScores
	complete := true
	read := func(key string) float64 {
		v, ok := parseNumber(m[key])
		if !ok {
			complete = false
			return 0
		}
		return clampScore(v)
	}
	d.Craft = read("craft")
	d.Narrative = read("narrative")
	d.ChildFit = read("childFit")
	d.Humor = read("humor")
	d.Warmth = read("warmth")
	return d, complete
}

func normalizeIssues(in []rawIssue, n int) []entity.CriticIssue {
	out := make([]entity.CriticIssue, 0, len(in))
	for _, r := range in {
		msg := strings.TrimSpace(r.Message)
		if msg == "" {
			continue
		}
		chapter, ok := parseChapter(r.Chapter)
		if !ok || chapter < 1 || chapter > n {
			chapter = 0
		}
		code := strings.TrimSpace(r.Code)
		if code == "" {
			code = "general"
		}
		out = append(out, entity.CriticIssue{
			Chapter:          chapter,
			Code:             code,
			Severity:         normalizeSeverity(r.Severity),
			Message:          msg,
			PatchInstruction: strings.TrimSpace(r.PatchInstruction),
		})
	}
	return out
}

func toTasks(in []rawTask, n int) []entity.PatchTask {
	out := make([]entity.PatchTask, 0, len(in))
	for _, r := range in {
		chapter, ok := parseChapter(r.Chapter)
		if !ok || chapter < 1 || chapter > n {
			continue
		}
		objective := strings.TrimSpace(r.Objective)
		instruction := strings.TrimSpace(r.Instruction)
		if objective == "" || instruction == "" {
			continue
		}
		priority := 2
		if p, ok := parseNumber(r.Priority); ok {
			// 先在浮点域收敛，避免超大值转换溢出
			priority = int(math.Round(math.Min(math.Max(p, 1), 3)))
		}
		out = append(out, entity.PatchTask{Chapter: chapter, Priority: priority, Objective: objective, Instruction: instruction})
	}
	return out
}

// NormalizeTasks 优先级收敛到 1..3，按 (chapter, 小写 objective) 去重（保留更紧急的优先级），
// 按优先级稳定升序排序并截断到 MaxPatchTasks
func NormalizeTasks(tasks []entity.PatchTask) []entity.PatchTask {
	type key struct {
		chapter   int
		objective string
	}
	seen := make(map[key]int, len(tasks))
	out := make([]entity.PatchTask, 0, len(tasks))
	for _, t := range tasks {
		t.Priority = min(max(t.Priority, 1), 3)
		k := key{t.Chapter, strings.ToLower(strings.TrimSpace(t.Objective))}
		if idx, dup := seen[k]; dup {
			if t.Priority < out[idx].Priority {
				out[idx].Priority = t.Priority
			}
			continue
		}
		seen[k] = len(out)
		out = append(out, t)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	if len(out) > entity.MaxPatchTasks {
		out = out[:entity.MaxPatchTasks]
	}
	return out
}

func normalizeSeverity(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low", "minor":
		return "low"
	case "high", "major", "critical":
		return "high"
	default:
		return "medium"
	}
}

func parseNumber(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return 0, false
		}
		return x, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func parseChapter(v any) (int, bool) {
	f, ok := parseNumber(v)
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}

func parseBool(v any) (bool, bool) {
	switch x := v.(type) {
	case bool:
		return x, true
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(x))
		return b, err == nil
	default:
		return false, false
	}
}

func clampScore(v float64) float64 {
	return math.Min(10, math.Max(0, v))
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
