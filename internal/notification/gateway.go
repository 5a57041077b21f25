package notification

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Gateway 通知网关（Redis Streams + 可选 Webhook 双通道）
//
// 下游（邮件/短信分发）由独立服务消费流消息，本服务只负责发布
type Gateway struct {
	client     *redis.Client
	stream     string
	webhook    *resty.Client
	webhookURL string
	logger     *zap.Logger
}

func NewGateway(client *redis.Client, stream string, webhookURL string, logger *zap.Logger) *Gateway {
	g := &Gateway{
		client:     client,
		stream:     stream,
		webhookURL: webhookURL,
		logger:     logger,
	}
	if webhookURL != "" {
		g.webhook = resty.New().
			SetTimeout(5 * time.Second).
			SetRetryCount(0) // 尽力送达，不重试
	}
	return g
}

// Notify 发布事件（尽力送达，失败只记日志）
func (g *Gateway) Notify(ctx context.Context, event Event) {
	jsonData, err := json.Marshal(event)
	if err != nil {
		g.logger.Error("Failed to marshal notification event",
			zap.String("kind", string(event.Kind)),
			zap.Error(err),
		)
		return
	}

	// 1. 发布到 Redis Streams（XADD）
	if g.client != nil {
		err := g.client.XAdd(ctx, &redis.XAddArgs{
			Stream: g.stream,
			Values: map[string]interface{}{
				"kind":      string(event.Kind),
				"data":      string(jsonData),
				"timestamp": time.Now().Unix(),
			},
		}).Err()
		if err != nil {
			g.logger.Error("Failed to publish notification to stream",
				zap.String("stream", g.stream),
				zap.String("kind", string(event.Kind)),
				zap.Error(err),
			)
		}
	}

	// 2. 可选 Webhook 推送
	if g.webhook != nil {
		resp, err := g.webhook.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(jsonData).
			Post(g.webhookURL)
		if err != nil {
			g.logger.Error("Failed to post notification webhook",
				zap.String("kind", string(event.Kind)),
				zap.Error(err),
			)
			return
		}
		if resp.IsError() {
			g.logger.Warn("Notification webhook returned error status",
				zap.String("kind", string(event.Kind)),
				zap.Int("status", resp.StatusCode()),
			)
		}
	}

	g.logger.Debug("Notification published",
		zap.String("kind", string(event.Kind)),
		zap.String("facility_id", event.FacilityID),
	)
}
