package task

import (
	"context"
	"log/slog"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	xerrors "Mother-Agent/internal/errors"
	"Mother-Agent/pkg/logger"
)

// DefaultRabbitMQQueue 是未配置队列名时声明的队列。
const DefaultRabbitMQQueue = "mother.jobs"

// RabbitMQConfig 描述 RabbitMQ 队列的连接参数。
type RabbitMQConfig struct {
	URL        string
	Queue      string
	Prefetch   int
	Durable    bool
	AutoDelete bool
}

// RabbitMQQueue 通过 RabbitMQ 传递消息。消息体为 JSON，
// MessageId、CorrelationId 与 Type 分别对应任务、会话与任务类型。
type RabbitMQQueue struct {
	conn       *amqp.Connection
	ch         *amqp.Channel
	name       string
	persistent bool
	publishMu  sync.Mutex
	log        *slog.Logger
}

// NewRabbitMQQueue 建立连接并声明队列。
func NewRabbitMQQueue(cfg RabbitMQConfig) (*RabbitMQQueue, error) {
	if cfg.URL == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "RabbitMQ URL 不能为空")
	}
	name := cfg.Queue
	if name == "" {
		name = DefaultRabbitMQQueue
	}
	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "连接 RabbitMQ 失败")
	}
	q := &RabbitMQQueue{conn: conn, name: name, persistent: cfg.Durable, log: logger.Named("task.rabbitmq")}
	if err := q.setup(cfg); err != nil {
		_ = q.Close()
		return nil, err
	}
	return q, nil
}

func (q *RabbitMQQueue) setup(cfg RabbitMQConfig) error {
	ch, err := q.conn.Channel()
	if err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "创建 RabbitMQ channel 失败")
	}
	q.ch = ch
	if cfg.Prefetch > 0 {
		if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
			return xerrors.Wrap(xerrors.CodeQueueFailure, err, "设置 RabbitMQ QOS 失败")
		}
	}
	if _, err := ch.QueueDeclare(q.name, cfg.Durable, cfg.AutoDelete, false, false, nil); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "声明 RabbitMQ 队列失败")
	}
	return nil
}

// publishing 把消息转换为 AMQP 消息。持久队列使用持久化投递。
func (q *RabbitMQQueue) publishing(msg Message) (amqp.Publishing, error) {
	body, err := msg.encode()
	if err != nil {
		return amqp.Publishing{}, err
	}
	pub := amqp.Publishing{
		ContentType:   "application/json",
		MessageId:     msg.JobID,
		CorrelationId: msg.SessionID,
		Type:          string(msg.Kind),
		Body:          body,
	}
	if q.persistent {
		pub.DeliveryMode = amqp.Persistent
	}
	return pub, nil
}

// Publish 投递消息。amqp.Channel 不支持并发发布，这里串行化。
func (q *RabbitMQQueue) Publish(ctx context.Context, msg Message) error {
	if q == nil || q.ch == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "RabbitMQ 队列未初始化")
	}
	pub, err := q.publishing(msg)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码队列消息失败")
	}
	q.publishMu.Lock()
	defer q.publishMu.Unlock()
	if err := q.ch.PublishWithContext(ctx, "", q.name, false, false, pub); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "RabbitMQ 发布任务失败")
	}
	return nil
}

// Consume 以手动确认模式消费。处理失败的消息重新入队，无法解析的消息直接拒绝。
func (q *RabbitMQQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if q == nil || q.ch == nil {
		return xerrors.New(xerrors.CodeInitializationFailure, "RabbitMQ 队列未初始化")
	}
	if workerCount <= 0 {
		workerCount = 1
	}
	deliveries, err := q.ch.Consume(q.name, "", false, false, false, false, nil)
	if err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "订阅 RabbitMQ 队列失败")
	}

	var wg sync.WaitGroup
	wg.Add(workerCount)
	for range workerCount {
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case d, ok := <-deliveries:
					if !ok {
						return
					}
					q.deliver(ctx, d, handler)
				}
			}
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (q *RabbitMQQueue) deliver(ctx context.Context, d amqp.Delivery, handler Handler) {
	msg, err := decodeMessage(d.Body)
	if err != nil {
		q.log.Warn("拒绝无法解析的队列消息", slog.String("message_id", d.MessageId), slog.Any("error", err))
		_ = d.Reject(false)
		return
	}
	if err := handler(ctx, msg); err != nil {
		_ = d.Nack(false, true)
		return
	}
	_ = d.Ack(false)
}

// Close 关闭 channel 与连接。
func (q *RabbitMQQueue) Close() error {
	if q == nil {
		return nil
	}
	if q.ch != nil {
		_ = q.ch.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
