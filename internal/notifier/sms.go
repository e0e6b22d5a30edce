package notifier

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/stemlab-dev/idonat/common/config"
)

const smsSendPath = "/version1/messaging"

// smsRecipient Africa's Talking 单个收件人的发送结果
type smsRecipient struct {
	StatusCode int    `json:"statusCode"`
	Number     string `json:"number"`
	Status     string `json:"status"`
	Cost       string `json:"cost"`
	MessageID  string `json:"messageId"`
}

// smsResponse Africa's Talking 发送短信响应
type smsResponse struct {
	SMSMessageData struct {
		Message    string         `json:"Message"`
		Recipients []smsRecipient `json:"Recipients"`
	} `json:"SMSMessageData"`
}

// SMSNotifier Africa's Talking 短信网关客户端
type SMSNotifier struct {
	httpClient *resty.Client
	username   string
	senderID   string
	logger     *zap.Logger
}

// NewSMSNotifier 创建短信通知器
func NewSMSNotifier(cfg *config.SMSConfig, logger *zap.Logger) *SMSNotifier {
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(15*time.Second).
		SetHeader("apiKey", cfg.APIKey).
		SetHeader("Accept", "application/json")

	return &SMSNotifier{
		httpClient: client,
		username:   cfg.Username,
		senderID:   cfg.SenderID,
		logger:     logger,
	}
}

// Send 发送一条短信
// statusCode 100/101/102（Processed/Sent/Queued）视为成功
func (n *SMSNotifier) Send(ctx context.Context, destination, message string) error {
	form := map[string]string{
		"username": n.username,
		"to":       destination,
		"message":  message,
	}
	if n.senderID != "" {
		form["from"] = n.senderID
	}

	var response smsResponse
	resp, err := n.httpClient.R().
		SetContext(ctx).
		SetFormData(form).
		SetResult(&response).
		Post(smsSendPath)
	if err != nil {
		n.logger.Warn("SMS gateway call failed",
			zap.String("destination", destination),
			zap.Error(err),
		)
		return fmt.Errorf("failed to call SMS gateway: %w", err)
	}

	if resp.IsError() {
		n.logger.Warn("SMS gateway returned error",
			zap.String("destination", destination),
			zap.Int("status_code", resp.StatusCode()),
			zap.String("body", resp.String()),
		)
		return fmt.Errorf("SMS gateway error: status %d", resp.StatusCode())
	}

	if len(response.SMSMessageData.Recipients) == 0 {
		return fmt.Errorf("SMS gateway rejected message: %s", response.SMSMessageData.Message)
	}
	for _, r := range response.SMSMessageData.Recipients {
		if r.StatusCode < 100 || r.StatusCode > 102 {
			return fmt.Errorf("SMS to %s failed: %s (status: %d)", r.Number, r.Status, r.StatusCode)
		}
	}

	n.logger.Debug("SMS sent",
		zap.String("destination", destination),
		zap.String("message_id", response.SMSMessageData.Recipients[0].MessageID),
	)
	return nil
}
