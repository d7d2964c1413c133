package notify

import (
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Level 告警级别
type Level string

const (
	LevelInfo     Level = "info"
	LevelWarning  Level = "warning"
	LevelCritical Level = "critical"
)

// Notifier 外部告警投递，调用方不等待结果
type Notifier interface {
	Notify(level Level, title, message string)
}

// LogNotifier 只把告警写入日志，未配置推送地址时使用
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a notifier that writes alerts to the log.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify 写一条告警日志
func (n *LogNotifier) Notify(level Level, title, message string) {
	fields := []zap.Field{zap.String("level", string(level)), zap.String("title", title), zap.String("message", message)}
	if level == LevelCritical {
		n.logger.Error("告警", fields...)
		return
	}
	n.logger.Warn("告警", fields...)
}

type webhookPayload struct {
	Strategy string    `json:"strategy"`
	Level    Level     `json:"level"`
	Title    string    `json:"title"`
	Message  string    `json:"message"`
	Time     time.Time `json:"time"`
}

// WebhookNotifier 以 JSON POST 推送告警
type WebhookNotifier struct {
	client   *resty.Client
	url      string
	strategy string
	logger   *zap.Logger
}

// NewWebhookNotifier creates a notifier posting to url.
func NewWebhookNotifier(url, strategy string, logger *zap.Logger) *WebhookNotifier {
	client := resty.New().
		SetTimeout(10 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(1 * time.Second)
	return &WebhookNotifier{client: client, url: url, strategy: strategy, logger: logger}
}

// Notify 在后台 goroutine 中推送，失败只记录日志
func (n *WebhookNotifier) Notify(level Level, title, message string) {
	payload := webhookPayload{Strategy: n.strategy, Level: level, Title: title, Message: message, Time: time.Now()}
	go n.send(payload)
}

func (n *WebhookNotifier) send(payload webhookPayload) {
	resp, err := n.client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(n.url)
	if err != nil {
		n.logger.Error("推送告警失败", zap.String("title", payload.Title), zap.Error(err))
		return
	}
	if resp.IsError() {
		n.logger.Error("推送告警被拒绝", zap.String("title", payload.Title), zap.Int("status", resp.StatusCode()))
	}
}

// New 根据地址选择实现
func New(url, strategy string, logger *zap.Logger) Notifier {
	if url == "" {
		return NewLogNotifier(logger)
	}
	return NewWebhookNotifier(url, strategy, logger)
}
