package handler

import (
	"context"

	"github.com/gin-gonic/gin"

	apprun "z-novel-pipeline/internal/application/run"
	"z-novel-pipeline/internal/domain/entity"
	"z-novel-pipeline/internal/domain/repository"
	"z-novel-pipeline/internal/infrastructure/persistence/redis"
	"z-novel-pipeline/internal/interfaces/http/dto"
	"z-novel-pipeline/internal/interfaces/http/middleware"
	"z-novel-pipeline/pkg/errors"
)

// RunService 运行提交与查询
type RunService interface {
	Submit(ctx context.Context, sub *apprun.Submission) (*entity.PipelineRun, bool, error)
	Get(ctx context.Context, id string) (*entity.PipelineRun, error)
	List(ctx context.Context, filter *repository.PipelineRunFilter, pagination repository.Pagination) (*repository.PagedResult[*entity.PipelineRun], error)
}

// CheckpointReader 运行检查点读取
type CheckpointReader interface {
	Load(ctx context.Context, runID string) (*redis.Checkpoint, error)
}

// PipelineRunHandler 流水线运行处理器
type PipelineRunHandler struct {
	runs        RunService
	worldStates repository.WorldStateRepository
	events      repository.GenerationEventRepository
	checkpoints CheckpointReader
}

// NewPipelineRunHandler 创建流水线运行处理器
func NewPipelineRunHandler(
	runs RunService,
	worldStates repository.WorldStateRepository,
	events repository.GenerationEventRepository,
	checkpoints CheckpointReader,
) *PipelineRunHandler {
	return &PipelineRunHandler{
		runs:        runs,
		worldStates: worldStates,
		events:      events,
		checkpoints: checkpoints,
	}
}

// SubmitRun 提交运行
// @Summary 提交流水线运行
// @Description 校验输入并排队；携带已存在的 Idempotency-Key 时返回原运行
// @Tags PipelineRuns
// @Accept json
// @Produce json
// @Param Idempotency-Key header string false "幂等键"
// @Param body body dto.SubmitRunRequest true "运行输入"
// @Success 202 {object} dto.Response[dto.RunResponse]
// @Success 200 {object} dto.Response[dto.RunResponse] "幂等命中"
// @Failure 400 {object} dto.ErrorResponse
// @Router /v1/pipeline-runs [post]
func (h *PipelineRunHandler) SubmitRun(c *gin.Context) {
	var req dto.SubmitRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		dto.BadRequest(c, "invalid request body: "+err.Error())
		return
	}

	run, created, err := h.runs.Submit(c.Request.Context(), req.ToSubmission(c.GetHeader(middleware.IdempotencyKeyHeader)))
	if err != nil {
		dto.FromError(c, err)
		return
	}
	if !created {
		dto.Success(c, dto.ToRunResponse(run, true))
		return
	}
	dto.Accepted(c, dto.ToRunResponse(run, false))
}

// GetRun 获取运行
// @Summary 获取流水线运行
// @Tags PipelineRuns
// @Produce json
// @Param rid path string true "运行 ID"
// @Success 200 {object} dto.Response[dto.RunResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Router /v1/pipeline-runs/{rid} [get]
func (h *PipelineRunHandler) GetRun(c *gin.Context) {
	run, err := h.runs.Get(c.Request.Context(), c.Param("rid"))
	if err != nil {
		dto.FromError(c, err)
		return
	}
	dto.Success(c, dto.ToRunResponse(run, true))
}

// ListRuns 分页查询运行
// @Summary 流水线运行列表
// @Tags PipelineRuns
// @Produce json
// @Param story_id query string false "故事 ID"
// @Param status query string false "状态"
// @Param page query int false "页码"
// @Param page_size query int false "每页数量"
// @Success 200 {object} dto.Response[dto.RunListResponse]
// @Router /v1/pipeline-runs [get]
func (h *PipelineRunHandler) ListRuns(c *gin.Context) {
	var q dto.ListRunsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		dto.BadRequest(c, "invalid query: "+err.Error())
		return
	}

	pagination := repository.NewPagination(q.Page, q.PageSize)
	result, err := h.runs.List(c.Request.Context(), &repository.PipelineRunFilter{
		StoryID: q.StoryID,
		Status:  entity.RunStatus(q.Status),
	}, pagination)
	if err != nil {
		dto.FromError(c, err)
		return
	}

	resp := &dto.RunListResponse{Runs: make([]*dto.RunResponse, 0, len(result.Items))}
	for _, r := range result.Items {
		resp.Runs = append(resp.Runs, dto.ToRunResponse(r, false))
	}
	dto.SuccessWithPage(c, resp, dto.NewPageMeta(result.Page, result.PageSize, result.Total, result.TotalPages))
}

// GetWorldStates 获取运行的逐章连续性快照
// @Summary 运行连续性快照
// @Tags PipelineRuns
// @Produce json
// @Param rid path string true "运行 ID"
// @Success 200 {object} dto.Response[[]dto.WorldStateResponse]
// @Failure 409 {object} dto.ErrorResponse "运行未结束"
// @Router /v1/pipeline-runs/{rid}/world-states [get]
func (h *PipelineRunHandler) GetWorldStates(c *gin.Context) {
	ctx := c.Request.Context()
	run, err := h.runs.Get(ctx, c.Param("rid"))
	if err != nil {
		dto.FromError(c, err)
		return
	}
	if !run.Finished() {
		dto.FromError(c, errors.ErrRunNotFinished)
		return
	}

	snapshots, err := h.worldStates.ListByRun(ctx, run.ID)
	if err != nil {
		dto.FromError(c, errors.Wrap(err, errors.CodeDatabaseError, "failed to list world states"))
		return
	}
	dto.Success(c, dto.ToWorldStateResponses(snapshots))
}

// GetEvents 获取运行的生成调用镜像
// @Summary 运行生成调用记录
// @Tags PipelineRuns
// @Produce json
// @Param rid path string true "运行 ID"
// @Success 200 {object} dto.Response[[]dto.GenerationEventResponse]
// @Router /v1/pipeline-runs/{rid}/events [get]
func (h *PipelineRunHandler) GetEvents(c *gin.Context) {
	ctx := c.Request.Context()
	run, err := h.runs.Get(ctx, c.Param("rid"))
	if err != nil {
		dto.FromError(c, err)
		return
	}

	events, err := h.events.ListByRun(ctx, run.ID)
	if err != nil {
		dto.FromError(c, errors.Wrap(err, errors.CodeDatabaseError, "failed to list generation events"))
		return
	}
	dto.Success(c, dto.ToGenerationEventResponses(events))
}

// GetCheckpoint 获取运行的最新检查点
// @Summary 运行检查点
// @Tags PipelineRuns
// @Produce json
// @Param rid path string true "运行 ID"
// @Success 200 {object} dto.Response[dto.CheckpointResponse]
// @Failure 404 {object} dto.ErrorResponse
// @Failure 409 {object} dto.ErrorResponse "运行失败，产物已丢弃"
// @Router /v1/pipeline-runs/{rid}/checkpoint [get]
func (h *PipelineRunHandler) GetCheckpoint(c *gin.Context) {
	if h.checkpoints == nil {
		dto.NotFound(c, "checkpoints disabled")
		return
	}

	ctx := c.Request.Context()
	run, err := h.runs.Get(ctx, c.Param("rid"))
	if err != nil {
		dto.FromError(c, err)
		return
	}
	if run.Status == entity.RunStatusFailed {
		dto.FromError(c, errors.ErrRunFailed)
		return
	}

	cp, err := h.checkpoints.Load(ctx, run.ID)
	if err != nil {
		dto.FromError(c, errors.Wrap(err, errors.CodeCacheError, "failed to load checkpoint"))
		return
	}
	if cp == nil {
		dto.NotFound(c, "checkpoint not found")
		return
	}
	dto.Success(c, &dto.CheckpointResponse{Latest: cp.Latest, Artifacts: cp.Artifacts})
}
