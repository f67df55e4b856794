package task

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "Mother-Agent/internal/errors"
	"Mother-Agent/pkg/logger"
)

// DefaultRedisQueue 是未配置队列名时使用的 list key。
const DefaultRedisQueue = "mother:jobs"

// RedisQueueConfig 描述 Redis 队列的连接参数。
type RedisQueueConfig struct {
	Address   string
	Password  string
	DB        int
	Queue     string
	BlockWait time.Duration
}

// RedisQueue 把消息以 JSON 存进 Redis list，LPUSH 入队，BRPOP 出队。
// 处理失败的消息放回队尾；无法解析的消息记录后丢弃。
type RedisQueue struct {
	client *redis.Client
	key    string
	wait   time.Duration
	log    *slog.Logger
}

// NewRedisQueue 连接 Redis 并检查连通性。
func NewRedisQueue(ctx context.Context, cfg RedisQueueConfig) (*RedisQueue, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "连接 Redis 失败")
	}
	return newRedisQueue(client, cfg), nil
}

func newRedisQueue(client *redis.Client, cfg RedisQueueConfig) *RedisQueue {
	q := &RedisQueue{client: client, key: cfg.Queue, wait: cfg.BlockWait, log: logger.Named("task.redis")}
	if q.key == "" {
		q.key = DefaultRedisQueue
	}
	if q.wait <= 0 {
		q.wait = 5 * time.Second
	}
	return q
}

// Name 返回队列使用的 list key。
func (q *RedisQueue) Name() string { return q.key }

// Publish 投递消息。
func (q *RedisQueue) Publish(ctx context.Context, msg Message) error {
	payload, err := msg.encode()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码队列消息失败")
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "Redis 发布任务失败")
	}
	return nil
}

// Consume 启动 workerCount 个 BRPOP 循环，返回第一个致命错误或 ctx 的取消原因。
func (q *RedisQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	errCh := make(chan error, workerCount)
	for range workerCount {
		go func() { errCh <- q.work(ctx, handler) }()
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (q *RedisQueue) work(ctx context.Context, handler Handler) error {
	for ctx.Err() == nil {
		values, err := q.client.BRPop(ctx, q.wait, q.key).Result()
		switch {
		case errors.Is(err, redis.Nil):
			continue
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return xerrors.Wrap(xerrors.CodeQueueFailure, err, "Redis 取任务失败")
		case len(values) != 2:
			continue
		}

		raw := values[1]
		msg, err := decodeMessage([]byte(raw))
		if err != nil {
			q.log.Warn("丢弃无法解析的队列消息", slog.String("payload", raw), slog.Any("error", err))
			continue
		}
		if err := handler(ctx, msg); err != nil {
			// 放回队尾，下一轮 BRPOP 重新领取。
			if pushErr := q.client.RPush(ctx, q.key, raw).Err(); pushErr != nil {
				q.log.Error("消息放回队列失败", slog.String("job_id", msg.JobID), slog.Any("error", pushErr))
			}
		}
	}
	return ctx.Err()
}

// Close 关闭 Redis 连接。
func (q *RedisQueue) Close() error {
	if q == nil || q.client == nil {
		return nil
	}
	return q.client.Close()
}
