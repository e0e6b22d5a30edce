package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stemlab-dev/idonat/internal/models"
)

func setupMiniRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func sampleAlert() models.ShortageAlert {
	return models.ShortageAlert{
		AlertID:           "alert-1",
		HospitalID:        "hosp-1",
		HospitalName:      "Kenyatta National",
		BloodType:         models.BloodTypeONeg,
		Severity:          models.SeverityCritical,
		Confidence:        0.95,
		DaysUntilShortage: 0,
		TopAction:         "emergency_request",
		Notified:          true,
		CreatedAt:         time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestRedisStreamSink_Publish(t *testing.T) {
	_, client := setupMiniRedis(t)
	sink := NewRedisStreamSink(client, "idonat:shortage:alerts", 0, zap.NewNop())

	require.NoError(t, sink.Publish(context.Background(), sampleAlert()))

	msgs, err := client.XRange(context.Background(), "idonat:shortage:alerts", "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)

	var got models.ShortageAlert
	require.NoError(t, json.Unmarshal([]byte(msgs[0].Values["data"].(string)), &got))
	assert.Equal(t, "alert-1", got.AlertID)
	assert.Equal(t, models.SeverityCritical, got.Severity)
	assert.NotEmpty(t, msgs[0].Values["timestamp"])
}

func TestLatestStore_RoundTripWithRedis(t *testing.T) {
	mr, client := setupMiniRedis(t)
	store := NewLatestStore(NewRedisKVStore(client), "idonat:shortage:latest", time.Hour, zap.NewNop())

	sweep, err := store.Latest(context.Background())
	require.NoError(t, err)
	assert.Nil(t, sweep, "no sweep yet")

	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.SaveSweep(context.Background(), []models.ShortageAlert{sampleAlert()}, at))

	sweep, err = store.Latest(context.Background())
	require.NoError(t, err)
	require.NotNil(t, sweep)
	assert.True(t, sweep.CompletedAt.Equal(at))
	require.Len(t, sweep.Alerts, 1)
	assert.Equal(t, "hosp-1", sweep.Alerts[0].HospitalID)

	assert.Equal(t, time.Hour, mr.TTL("idonat:shortage:latest"))

	mr.FastForward(2 * time.Hour)
	sweep, err = store.Latest(context.Background())
	require.NoError(t, err)
	assert.Nil(t, sweep)
}

func TestLatestStore_EmptySweepIsStoredAsEmptyList(t *testing.T) {
	_, client := setupMiniRedis(t)
	store := NewLatestStore(NewRedisKVStore(client), "k", 0, zap.NewNop())

	require.NoError(t, store.SaveSweep(context.Background(), nil, time.Now()))

	raw, err := client.Get(context.Background(), "k").Result()
	require.NoError(t, err)
	assert.Contains(t, raw, `"alerts":[]`)
}

type fakePublisher struct {
	topic    string
	retained bool
	payload  []byte
	timeout  time.Duration
	err      error
}

func (p *fakePublisher) Publish(topic string, retained bool, payload []byte, timeout time.Duration) error {
	p.topic = topic
	p.retained = retained
	p.payload = payload
	p.timeout = timeout
	return p.err
}

func TestMQTTSink_Publish(t *testing.T) {
	pub := &fakePublisher{}
	sink := NewMQTTSink(pub, "idonat/hospitals/", zap.NewNop())

	require.NoError(t, sink.Publish(context.Background(), sampleAlert()))

	assert.Equal(t, "idonat/hospitals/hosp-1/shortage", pub.topic)
	assert.True(t, pub.retained)
	assert.Equal(t, 5*time.Second, pub.timeout)

	var got map[string]interface{}
	require.NoError(t, json.Unmarshal(pub.payload, &got))
	assert.Equal(t, "critical", got["severity"])
	assert.Equal(t, "O-", got["blood_type"])
}

func TestMQTTSink_PublishErrors(t *testing.T) {
	pub := &fakePublisher{err: errors.New("not connected")}
	sink := NewMQTTSink(pub, "idonat/hospitals", zap.NewNop())

	assert.Error(t, sink.Publish(context.Background(), sampleAlert()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pub.err = nil
	assert.ErrorIs(t, sink.Publish(ctx, sampleAlert()), context.Canceled)
}
