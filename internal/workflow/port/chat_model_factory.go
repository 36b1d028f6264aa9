package port

import (
	"context"

	"github.com/cloudwego/eino/components/model"
)

// ChatModelFactory 按提供商名称返回 Eino ChatModel；name 为空时使用默认提供商。
// 生成链每次调用都会取一次，实现方负责缓存已构建的模型。
type ChatModelFactory interface {
	Get(ctx context.Context, name string) (model.BaseChatModel, error)
}
