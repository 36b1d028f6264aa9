package router

import (
	"github.com/gin-gonic/gin"

	"z-novel-pipeline/internal/interfaces/http/handler"
)

// RegisterV1Routes 注册 v1 版本路由；submitLimit 仅作用于提交接口
func RegisterV1Routes(v1 *gin.RouterGroup, runHandler *handler.PipelineRunHandler, submitLimit gin.HandlerFunc) {
	runs := v1.Group("/pipeline-runs")
	{
		runs.POST("", submitLimit, runHandler.SubmitRun)
		runs.GET("", runHandler.ListRuns)
		runs.GET("/:rid", runHandler.GetRun)
		runs.GET("/:rid/world-states", runHandler.GetWorldStates)
		runs.GET("/:rid/events", runHandler.GetEvents)
		runs.GET("/:rid/checkpoint", runHandler.GetCheckpoint)
	}
}
