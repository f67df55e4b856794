package task

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
)

// Message 是队列中传递的任务引用。会话与类型随消息携带，
// 消费端在领取任务之前就能带着上下文记录日志。
type Message struct {
	JobID     string `json:"job_id"`
	SessionID string `json:"session_id,omitempty"`
	Kind      Kind   `json:"kind,omitempty"`
	// Attempt 是本次投递对应的第几次执行，从 1 开始。
	Attempt int `json:"attempt,omitempty"`
}

// messageFor 为任务的下一次执行构造消息。
func messageFor(job *Job) Message {
	return Message{JobID: job.ID, SessionID: job.SessionID, Kind: job.Kind, Attempt: job.Attempts + 1}
}

func (m Message) encode() ([]byte, error) {
	return json.Marshal(m)
}

var errEmptyMessage = errors.New("队列消息为空")

// decodeMessage 解析队列消息。非 JSON 的纯文本按任务 ID 处理。
func decodeMessage(raw []byte) (Message, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Message{}, errEmptyMessage
	}
	if trimmed[0] != '{' {
		return Message{JobID: string(trimmed)}, nil
	}
	var msg Message
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return Message{}, err
	}
	if msg.JobID == "" {
		return Message{}, errors.New("队列消息缺少 job_id")
	}
	return msg, nil
}

// Handler 处理一条队列消息。返回错误表示消息应重新投递。
type Handler func(ctx context.Context, msg Message) error

// Producer 负责向队列投递任务。
type Producer interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Consumer 负责从队列中消费任务。Consume 阻塞到 ctx 结束或队列关闭。
type Consumer interface {
	Consume(ctx context.Context, workerCount int, handler Handler) error
	Close() error
}

// Queue 同时具备生产者与消费者能力。
type Queue interface {
	Producer
	Consumer
}
