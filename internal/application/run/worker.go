package run

import (
	"context"
	"encoding/json"
	"fmt"

	"z-novel-pipeline/internal/application/story/pipeline"
	"z-novel-pipeline/internal/domain/entity"
	"z-novel-pipeline/internal/domain/repository"
	"z-novel-pipeline/internal/infrastructure/messaging"
	"z-novel-pipeline/pkg/logger"
)

// CheckpointSaver 状态转换检查点存储；运行失败时整体删除，不留中间产物
type CheckpointSaver interface {
	Save(ctx context.Context, runID, state string, artifact any) error
	Delete(ctx context.Context, runID string) error
}

// Worker 消费运行任务并驱动流水线
type Worker struct {
	runs        repository.PipelineRunRepository
	worldStates repository.WorldStateRepository
	tx          repository.Transactor
	checkpoints CheckpointSaver
	stages      pipeline.Stages
	cfg         pipeline.Config
}

// NewWorker 创建运行执行器；checkpoints 可为 nil
func NewWorker(
	runs repository.PipelineRunRepository,
	worldStates repository.WorldStateRepository,
	tx repository.Transactor,
	checkpoints CheckpointSaver,
	stages pipeline.Stages,
	cfg pipeline.Config,
) *Worker {
	return &Worker{
		runs:        runs,
		worldStates: worldStates,
		tx:          tx,
		checkpoints: checkpoints,
		stages:      stages,
		cfg:         cfg,
	}
}

// HandleMessage 处理 pipeline_run 消息。
// 返回错误时消息保持未确认并按退避重投；流水线自身失败属于正常结束。
func (w *Worker) HandleMessage(ctx context.Context, msg *messaging.Message) error {
	var job messaging.PipelineJobMessage
	if err := msg.UnmarshalPayload(&job); err != nil {
		logger.Warn(ctx, "invalid pipeline job payload", "message_id", msg.ID, "error", err.Error())
		return nil
	}
	return w.Execute(ctx, job.RunID)
}

// Execute 执行一次运行并持久化终态
func (w *Worker) Execute(ctx context.Context, runID string) error {
	run, err := w.runs.GetByID(ctx, runID)
	if err != nil {
		return fmt.Errorf("load run %s: %w", runID, err)
	}
	if run == nil {
		logger.Warn(ctx, "pipeline run not found, skipping", "run_id", runID)
		return nil
	}
	ctx = logger.WithRunContext(ctx, run.ID, run.StoryID)
	if run.Finished() {
		logger.Info(ctx, "pipeline run already finished, skipping", "status", string(run.Status))
		return nil
	}

	var sub Submission
	if err := json.Unmarshal(run.InputParams, &sub); err != nil {
		run.Fail(fmt.Sprintf("invalid input params: %v", err))
		return w.runs.Update(ctx, run)
	}

	run.Start()
	if err := w.runs.Update(ctx, run); err != nil {
		return fmt.Errorf("mark run started: %w", err)
	}

	ctrl := pipeline.NewController(w.stages, w.cfg, &runObserver{runs: w.runs, checkpoints: w.checkpoints})
	res, runErr := ctrl.Run(ctx, pipeline.Input{
		RunID:      run.ID,
		Request:    &sub.Request,
		Blueprint:  sub.Blueprint,
		Cast:       sub.Cast,
		Directives: sub.Directives,
		Drafter:    pipeline.SuppliedDrafter{Story: &sub.Draft},
	})
	if ctx.Err() != nil {
		// 中断的运行保持 running，由重投接续
		return ctx.Err()
	}

	return w.tx.WithTransaction(ctx, func(ctx context.Context) error {
		if runErr != nil || res == nil || res.State != pipeline.StateDone {
			w.persistFailure(run, res, runErr)
			return w.runs.Update(ctx, run)
		}

		raw, err := json.Marshal(res)
		if err != nil {
			return fmt.Errorf("encode run result: %w", err)
		}
		run.Complete(raw, res.Report.OverallScore, res.Cycles)
		run.SetUsage(res.Usage)
		if err := w.worldStates.SaveChain(ctx, run.ID, res.WorldStates); err != nil {
			return err
		}
		return w.runs.Update(ctx, run)
	})
}

func (w *Worker) persistFailure(run *entity.PipelineRun, res *pipeline.Result, runErr error) {
	msg := "pipeline failed"
	switch {
	case res != nil && res.Error != "":
		msg = res.Error
		if res.FailedStage != "" {
			msg = fmt.Sprintf("%s: %s", res.FailedStage, res.Error)
		}
	case runErr != nil:
		msg = runErr.Error()
	}
	run.Fail(msg)
	if res != nil {
		run.QualityCycles = res.Cycles
		run.SetUsage(res.Usage)
	}
}

// runObserver 同步状态机当前状态，并在每次转换后落检查点
type runObserver struct {
	runs        repository.PipelineRunRepository
	checkpoints CheckpointSaver
}

func (o *runObserver) OnTransition(ctx context.Context, ev pipeline.Event) {
	if !ev.To.Terminal() {
		if err := o.runs.UpdateState(ctx, ev.RunID, string(ev.To)); err != nil {
			logger.Warn(ctx, "failed to update run state", "to", string(ev.To), "error", err.Error())
		}
	}
	if o.checkpoints == nil {
		return
	}
	if ev.To == pipeline.StateFailed {
		if err := o.checkpoints.Delete(ctx, ev.RunID); err != nil {
			logger.Warn(ctx, "failed to discard checkpoints of failed run", "error", err.Error())
		}
		return
	}
	if ev.Artifact == nil {
		return
	}
	if err := o.checkpoints.Save(ctx, ev.RunID, string(ev.From), ev.Artifact); err != nil {
		logger.Warn(ctx, "failed to save checkpoint", "state", string(ev.From), "error", err.Error())
	}
}
