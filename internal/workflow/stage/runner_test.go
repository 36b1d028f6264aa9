package stage

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	wfmodel "z-novel-pipeline/internal/workflow/model"
	"z-novel-pipeline/internal/workflow/port/porttest"
)

type widget struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func widgetSpec() Spec[*widget] {
	return Spec[*widget]{
		Stage:    "widget",
		Artifact: "Widget",
		Build: func(context.Context) (*wfmodel.GenerationRequest, error) {
			req := wfmodel.NewUserRequest("system", "make a widget")
			req.StructuredOutput = true
			req.ModelID = "test-model"
			return req, nil
		},
		Validate: func(w *widget) []string {
			var is Issues
			if w == nil {
				is.Addf("document is empty")
				return is
			}
			is.RequireText("name", w.Name)
			if w.Count < 1 {
				is.Addf("count must be >= 1")
			}
			return is
		},
	}
}

func TestRun_ValidFirstTry(t *testing.T) {
	gen := porttest.NewScripted(porttest.Reply(`{"name":"gear","count":2}`))

	res, err := Run(context.Background(), gen, widgetSpec())
	require.NoError(t, err)
	assert.Equal(t, "gear", res.Artifact.Name)
	assert.False(t, res.Repaired)
	assert.Equal(t, 1, gen.Calls())
	assert.Equal(t, 1, res.Usage.Calls)
	assert.Equal(t, "widget", gen.Request(0).Correlation.Stage)
	assert.Equal(t, AttemptInitial, gen.Request(0).Correlation.Attempt)
}

func TestRun_DecodeFailureRepaired(t *testing.T) {
	gen := porttest.NewScripted(
		porttest.Reply(`sorry, I cannot produce JSON`),
		porttest.Reply("```json\n{\"name\":\"gear\",\"count\":1}\n```"),
	)

	res, err := Run(context.Background(), gen, widgetSpec())
	require.NoError(t, err)
	assert.True(t, res.Repaired)
	assert.Equal(t, 2, gen.Calls())
	assert.Equal(t, 2, res.Usage.Calls)

	repair := gen.Request(1)
	assert.Equal(t, AttemptRepair, repair.Correlation.Attempt)
	assert.Equal(t, "test-model", repair.ModelID)
	assert.True(t, repair.StructuredOutput)
	require.Len(t, repair.Messages, 1)
	assert.Contains(t, repair.Messages[0].Content, "sorry, I cannot produce JSON")
	assert.Contains(t, repair.Messages[0].Content, "invalid JSON document")
}

func TestRun_StillInvalidAfterRepairIsFatal(t *testing.T) {
	gen := porttest.NewScripted(
		porttest.Reply(`{"name":"x","count":0}`),
		porttest.Reply(`{"name":"","count":0}`),
		porttest.Reply(`{"name":"never","count":9}`),
	)

	_, err := Run(context.Background(), gen, widgetSpec())
	require.Error(t, err)
	assert.Equal(t, 2, gen.Calls(), "exactly one repair attempt")

	fatal, ok := AsStageFatal(err)
	require.True(t, ok)
	assert.Equal(t, "widget", fatal.Stage)
	assert.Len(t, fatal.Issues, 2)
	assert.Equal(t, "stage widget failed: "+strings.Join(fatal.Issues, "; "), err.Error())

	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))

	// 修复请求中逐字包含首次的错误列表
	assert.Contains(t, gen.Request(1).Messages[0].Content, "name must be a non-empty string")
	assert.Contains(t, gen.Request(1).Messages[0].Content, "count must be >= 1")
}

func TestRun_CapabilityErrorIsFatalWithoutRepair(t *testing.T) {
	boom := errors.New("provider unavailable")
	gen := porttest.NewScripted(porttest.Fail(boom))

	_, err := Run(context.Background(), gen, widgetSpec())
	require.Error(t, err)
	assert.Equal(t, 1, gen.Calls())
	assert.ErrorIs(t, err, boom)

	fatal, ok := AsStageFatal(err)
	require.True(t, ok)
	assert.Empty(t, fatal.Issues)
}

func TestRun_RepairCallFailureKeepsIssues(t *testing.T) {
	boom := errors.New("connection reset")
	gen := porttest.NewScripted(
		porttest.Reply(`{"name":"x","count":0}`),
		porttest.Fail(boom),
	)

	_, err := Run(context.Background(), gen, widgetSpec())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "count must be >= 1")
	assert.Contains(t, err.Error(), "repair call failed")
}

func TestRun_CustomRepair(t *testing.T) {
	gen := porttest.NewScripted(
		porttest.Reply(`{"name":"x","count":0}`),
		porttest.Reply(`{"name":"fixed","count":3}`),
	)
	spec := widgetSpec()
	var seen []string
	spec.Repair = func(_ context.Context, original string, issues []string) (*wfmodel.GenerationRequest, error) {
		seen = issues
		return wfmodel.NewUserRequest("fix", original), nil
	}

	res, err := Run(context.Background(), gen, spec)
	require.NoError(t, err)
	assert.Equal(t, "fixed", res.Artifact.Name)
	assert.Equal(t, []string{"name must be a non-empty string of at least 2 characters", "count must be >= 1"}, seen)
}
