package task

import (
	"context"
	"sync"

	xerrors "Mother-Agent/internal/errors"
)

// MemoryQueue 在进程内传递消息，只适用于单进程部署与测试。
type MemoryQueue struct {
	messages chan Message
	closed   chan struct{}
	once     sync.Once
}

// NewMemoryQueue 创建容量为 size 的内存队列。满队列上的 Publish 会阻塞到 ctx 结束。
func NewMemoryQueue(size int) *MemoryQueue {
	if size <= 0 {
		size = 64
	}
	return &MemoryQueue{messages: make(chan Message, size), closed: make(chan struct{})}
}

var errMemoryQueueClosed = xerrors.New(xerrors.CodeQueueFailure, "内存队列已关闭")

// Publish 投递消息。
func (q *MemoryQueue) Publish(ctx context.Context, msg Message) error {
	if q.isClosed() {
		return errMemoryQueueClosed
	}
	select {
	case q.messages <- msg:
		return nil
	case <-q.closed:
		return errMemoryQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Len 返回尚未被领取的消息数。
func (q *MemoryQueue) Len() int { return len(q.messages) }

// Consume 启动 workerCount 个协程处理消息，阻塞到 ctx 结束或队列关闭。
// 处理失败的消息放回队列。
func (q *MemoryQueue) Consume(ctx context.Context, workerCount int, handler Handler) error {
	if workerCount <= 0 {
		workerCount = 1
	}
	var wg sync.WaitGroup
	wg.Add(workerCount)
	for range workerCount {
		go func() {
			defer wg.Done()
			q.work(ctx, handler)
		}()
	}
	wg.Wait()
	return ctx.Err()
}

func (q *MemoryQueue) work(ctx context.Context, handler Handler) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-q.closed:
			return
		case msg := <-q.messages:
			if err := handler(ctx, msg); err != nil && ctx.Err() == nil {
				_ = q.Publish(ctx, msg)
			}
		}
	}
}

func (q *MemoryQueue) isClosed() bool {
	select {
	case <-q.closed:
		return true
	default:
		return false
	}
}

// Close 关闭队列，正在运行的 Consume 随之返回。可重复调用。
func (q *MemoryQueue) Close() error {
	q.once.Do(func() { close(q.closed) })
	return nil
}
