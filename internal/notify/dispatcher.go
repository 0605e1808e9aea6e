package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mautops/docflow-gin/internal/config"
	"github.com/mautops/docflow-gin/internal/model"
	"github.com/mautops/docflow-gin/internal/repository"
	"github.com/mautops/docflow-gin/internal/types"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Pusher 在线推送通道
type Pusher interface {
	PushToUser(userID string, message []byte) int
}

// payload Webhook 与在线推送共用的消息体
type payload struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Type        string    `json:"type"`
	Title       string    `json:"title"`
	Message     string    `json:"message"`
	Priority    string    `json:"priority"`
	SubjectType string    `json:"subject_type"`
	SubjectID   string    `json:"subject_id"`
	CreatedAt   time.Time `json:"created_at"`
}

func toPayload(n *model.NotificationModel) payload {
	return payload{
		ID:          n.ID,
		UserID:      n.UserID,
		Type:        n.Type,
		Title:       n.Title,
		Message:     n.Message,
		Priority:    n.Priority,
		SubjectType: n.SubjectType,
		SubjectID:   n.SubjectID,
		CreatedAt:   n.CreatedAt,
	}
}

// Dispatcher 通知分发器
// 先持久化为站内通知，再推送给在线连接，配置了 Webhook 时异步投递
type Dispatcher struct {
	repo       repository.NotificationRepository
	pusher     Pusher
	webhookURL string
	maxRetries int
	backoff    time.Duration
	httpClient *http.Client
	logger     *logrus.Logger
	queue      chan *model.NotificationModel
	stop       chan struct{}
	wg         sync.WaitGroup
	stopOnce   sync.Once
}

// NewDispatcher 创建通知分发器
func NewDispatcher(db *gorm.DB, cfg config.NotifyConfig, logger *logrus.Logger) *Dispatcher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	timeout := time.Duration(cfg.Timeout) * time.Second
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	d := &Dispatcher{
		repo:       repository.NewNotificationRepository(db),
		webhookURL: cfg.WebhookURL,
		maxRetries: maxRetries,
		backoff:    time.Second,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		queue:      make(chan *model.NotificationModel, 1000),
		stop:       make(chan struct{}),
	}

	if d.webhookURL != "" {
		workers := cfg.Workers
		if workers <= 0 {
			workers = 1
		}
		for i := 0; i < workers; i++ {
			d.wg.Add(1)
			go d.worker()
		}
	}
	return d
}

// Notify 保存通知并排队推送
func (d *Dispatcher) Notify(ctx context.Context, n types.Notification) error {
	notification := &model.NotificationModel{
		ID:          uuid.New().String(),
		UserID:      n.UserID,
		Type:        n.Type,
		Title:       n.Title,
		Message:     n.Message,
		Priority:    n.Priority,
		SubjectType: n.SubjectType,
		SubjectID:   n.SubjectID,
		Delivery:    model.DeliveryStored,
	}
	if err := d.repo.Create(ctx, notification); err != nil {
		return fmt.Errorf("failed to save notification: %w", err)
	}
	d.push(notification)

	if d.webhookURL == "" {
		return nil
	}
	select {
	case d.queue <- notification:
	default:
		// 队列满时不阻塞业务操作
		d.logger.WithFields(logrus.Fields{
			"notification_id": notification.ID,
			"type":            notification.Type,
		}).Warn("notification queue full, webhook delivery skipped")
	}
	return nil
}

// SetPusher 设置在线推送通道，需在开始分发前调用
func (d *Dispatcher) SetPusher(p Pusher) {
	d.pusher = p
}

// push 推送给用户的在线连接，用户不在线时只保留站内通知
func (d *Dispatcher) push(n *model.NotificationModel) {
	if d.pusher == nil {
		return
	}
	body, err := json.Marshal(toPayload(n))
	if err != nil {
		d.logger.WithError(err).WithField("notification_id", n.ID).Error("failed to encode notification")
		return
	}
	if sent := d.pusher.PushToUser(n.UserID, body); sent > 0 {
		d.logger.WithFields(logrus.Fields{
			"notification_id": n.ID,
			"connections":     sent,
		}).Debug("notification pushed")
	}
}

// worker 推送 worker
func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case n := <-d.queue:
			d.deliver(n)
		case <-d.stop:
			return
		}
	}
}

// deliver 推送到 Webhook，失败时指数退避重试
func (d *Dispatcher) deliver(n *model.NotificationModel) {
	ctx := context.Background()
	backoff := d.backoff

	for i := 0; i < d.maxRetries; i++ {
		err := d.send(ctx, n)
		if err == nil {
			if err := d.repo.UpdateDelivery(ctx, n.ID, model.DeliveryDelivered, i); err != nil {
				d.logger.WithError(err).WithField("notification_id", n.ID).Error("failed to update delivery status")
			}
			return
		}
		d.logger.WithError(err).WithFields(logrus.Fields{
			"notification_id": n.ID,
			"attempt":         i + 1,
		}).Warn("webhook delivery failed")

		if i < d.maxRetries-1 {
			select {
			case <-time.After(backoff):
			case <-d.stop:
				return
			}
			backoff *= 2
		}
	}

	if err := d.repo.UpdateDelivery(ctx, n.ID, model.DeliveryFailed, d.maxRetries); err != nil {
		d.logger.WithError(err).WithField("notification_id", n.ID).Error("failed to update delivery status")
	}
}

// send 发送 Webhook 请求
func (d *Dispatcher) send(ctx context.Context, n *model.NotificationModel) error {
	body, err := json.Marshal(toPayload(n))
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status code: %d", resp.StatusCode)
	}
	return nil
}

// ForUser 获取用户通知
func (d *Dispatcher) ForUser(ctx context.Context, userID string, unreadOnly bool) ([]*model.NotificationModel, error) {
	return d.repo.FindByUser(ctx, userID, unreadOnly)
}

// MarkRead 标记通知已读
func (d *Dispatcher) MarkRead(ctx context.Context, id string, userID string) error {
	ok, err := d.repo.MarkRead(ctx, id, userID, types.NormalizeTime(time.Now()))
	if err != nil {
		return err
	}
	if !ok {
		return types.ErrNotFound.Withf("unread notification %s not found", id)
	}
	return nil
}

// Stop 停止推送 worker
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.stop)
	})
	d.wg.Wait()
}
