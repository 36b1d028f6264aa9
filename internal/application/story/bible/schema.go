package bible

// jsonSchema response_format 使用的最小 schema
func jsonSchema() map[string]any {
	str := map[string]any{"type": "string"}
	integer := map[string]any{"type": "integer"}
	contract := map[string]any{
		"type":     "object",
		"required": []any{"chapter", "reason"},
		"properties": map[string]any{
			"chapter":     integer,
			"reason":      str,
			"allowReturn": map[string]any{"type": "boolean"},
		},
	}
	return map[string]any{
		"type":     "object",
		"required": []any{"coreGoal", "coreProblem", "stakes", "promise", "chapterArcs", "characterMotivations", "entryContracts", "artifactArc"},
		"properties": map[string]any{
			"coreGoal":          str,
			"coreProblem":       str,
			"stakes":            str,
			"promise":           str,
			"mysteryOrQuestion": str,
			"chapterArcs": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type":     "object",
					"required": []any{"chapter", "subgoal", "reversal", "progressDelta", "newInformation", "costOrTradeoff", "carryOverHook"},
					"properties": map[string]any{
						"chapter":        integer,
						"subgoal":        str,
						"reversal":       str,
						"progressDelta":  str,
						"newInformation": str,
						"costOrTradeoff": str,
						"carryOverHook":  str,
					},
				},
			},
			"characterMotivations": map[string]any{
				"type":                 "object",
				"additionalProperties": str,
			},
			"entryContracts": map[string]any{
				"type":                 "object",
				"additionalProperties": contract,
			},
			"exitContracts": map[string]any{
				"type":                 "object",
				"additionalProperties": contract,
			},
			"artifactArc": map[string]any{
				"type":     "object",
				"required": []any{"introduceChapter", "attemptChapter", "decisiveChapter"},
				"properties": map[string]any{
					"name":             str,
					"introduceChapter": integer,
					"attemptChapter":   integer,
					"decisiveChapter":  integer,
				},
			},
		},
	}
}
