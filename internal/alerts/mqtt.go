package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/stemlab-dev/idonat/internal/models"
)

// Publisher MQTT 发布接口（common/mqtt.Client 实现）
type Publisher interface {
	Publish(topic string, retained bool, payload []byte, timeout time.Duration) error
}

// MQTTSink 将告警发布到 <prefix>/<hospital_id>/shortage（retained，医院看板订阅）
type MQTTSink struct {
	publisher   Publisher
	topicPrefix string
	timeout     time.Duration
	logger      *zap.Logger
}

// NewMQTTSink 创建 MQTT 告警下游
func NewMQTTSink(publisher Publisher, topicPrefix string, logger *zap.Logger) *MQTTSink {
	return &MQTTSink{
		publisher:   publisher,
		topicPrefix: strings.TrimSuffix(topicPrefix, "/"),
		timeout:     5 * time.Second,
		logger:      logger,
	}
}

// Topic 医院告警主题
func (s *MQTTSink) Topic(hospitalID string) string {
	return fmt.Sprintf("%s/%s/shortage", s.topicPrefix, hospitalID)
}

// Publish 发布一条告警
func (s *MQTTSink) Publish(ctx context.Context, alert models.ShortageAlert) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	timeout := s.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}

	topic := s.Topic(alert.HospitalID)
	if err := s.publisher.Publish(topic, true, payload, timeout); err != nil {
		return err
	}

	s.logger.Debug("Published shortage alert to MQTT",
		zap.String("topic", topic),
		zap.String("alert_id", alert.AlertID),
	)
	return nil
}
