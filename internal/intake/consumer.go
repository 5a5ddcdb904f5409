package intake

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	redisx "github.com/pwava/databaseattendacetracker/internal/redis"
)

// Submitter 提交处理方（由考勤服务实现）
type Submitter interface {
	SubmitSubmission(ctx context.Context, sub Submission) error
}

// Consumer 表单提交事件消费者
// 外部表单 webhook 将提交发布到 Redis Stream，这里按消费者组批量读取
type Consumer struct {
	redisClient  *goredis.Client
	submitter    Submitter
	logger       *zap.Logger
	stream       string
	groupName    string
	consumerName string
	batchSize    int64
}

// NewConsumer 创建提交事件消费者
func NewConsumer(
	redisClient *goredis.Client,
	submitter Submitter,
	logger *zap.Logger,
	stream string,
	groupName string,
	consumerName string,
	batchSize int64,
) *Consumer {
	return &Consumer{
		redisClient:  redisClient,
		submitter:    submitter,
		logger:       logger,
		stream:       stream,
		groupName:    groupName,
		consumerName: consumerName,
		batchSize:    batchSize,
	}
}

// Start 启动消费循环（带指数退避）
func (c *Consumer) Start(ctx context.Context) error {
	if err := redisx.CreateConsumerGroup(ctx, c.redisClient, c.stream, c.groupName); err != nil {
		return fmt.Errorf("failed to create consumer group: %w", err)
	}

	c.logger.Info("Submission consumer started",
		zap.String("stream", c.stream),
		zap.String("consumer_group", c.groupName),
		zap.String("consumer_name", c.consumerName),
	)

	backoffDuration := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
			if err := c.consumeBatch(ctx); err != nil {
				c.logger.Error("Failed to consume submissions",
					zap.Error(err),
					zap.Duration("backoff", backoffDuration),
				)
				select {
				case <-ctx.Done():
					return nil
				case <-time.After(backoffDuration):
					backoffDuration *= 2
					if backoffDuration > maxBackoff {
						backoffDuration = maxBackoff
					}
				}
			} else {
				backoffDuration = time.Second
			}
		}
	}
}

// consumeBatch 读取并处理一批提交消息
// 单条消息解析/提交失败只记录并确认（跳过），不中断整个消费循环
func (c *Consumer) consumeBatch(ctx context.Context) error {
	messages, err := redisx.ReadFromStream(
		ctx,
		c.redisClient,
		c.stream,
		c.groupName,
		c.consumerName,
		c.batchSize,
	)
	if err != nil {
		return fmt.Errorf("failed to read from stream: %w", err)
	}

	for _, msg := range messages {
		if err := c.handleMessage(ctx, msg); err != nil {
			c.logger.Warn("Skipping unprocessable submission message",
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
		}
		if err := redisx.AckMessage(ctx, c.redisClient, c.stream, c.groupName, msg.ID); err != nil {
			c.logger.Error("Failed to ack message",
				zap.String("message_id", msg.ID),
				zap.Error(err),
			)
		}
	}

	return nil
}

// handleMessage 解析单条流消息并交给提交处理方
func (c *Consumer) handleMessage(ctx context.Context, msg redisx.StreamMessage) error {
	raw, ok := msg.Values["data"].(string)
	if !ok {
		return fmt.Errorf("message %s has no data field", msg.ID)
	}

	var sub Submission
	if err := json.Unmarshal([]byte(raw), &sub); err != nil {
		return fmt.Errorf("failed to decode submission: %w", err)
	}

	return c.submitter.SubmitSubmission(ctx, sub)
}
