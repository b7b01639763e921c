package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/therealutkarshpriyadarshi/transcode/pkg/models"
)

type mockRepository struct {
	webhooks   []*models.Webhook
	deliveries []*models.WebhookDelivery
}

func (m *mockRepository) GetWebhooksByEvent(ctx context.Context, event string) ([]*models.Webhook, error) {
	return m.webhooks, nil
}

func (m *mockRepository) CreateDelivery(ctx context.Context, delivery *models.WebhookDelivery) error {
	m.deliveries = append(m.deliveries, delivery)
	return nil
}

func (m *mockRepository) UpdateDelivery(ctx context.Context, delivery *models.WebhookDelivery) error {
	for i, d := range m.deliveries {
		if d.ID == delivery.ID {
			m.deliveries[i] = delivery
			return nil
		}
	}
	return nil
}

func (m *mockRepository) GetPendingDeliveries(ctx context.Context, limit int) ([]*models.WebhookDelivery, error) {
	return m.deliveries, nil
}

func TestService_NotifyPlatformStatus(t *testing.T) {
	received := make(chan string, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := make([]byte, r.ContentLength)
		r.Body.Read(body)
		received <- string(body)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	repo := &mockRepository{
		webhooks: []*models.Webhook{
			{
				ID:       "webhook-1",
				UserID:   "user-1",
				URL:      server.URL,
				Events:   models.WebhookEvents{PlatformStreaming: true},
				IsActive: true,
			},
		},
	}

	service := NewService(repo)
	service.NotifyPlatformStatus(context.Background(), "room-1", "youtube", "streaming", "")

	assert.Eventually(t, func() bool { return len(repo.deliveries) == 1 }, time.Second, 10*time.Millisecond)

	select {
	case payload := <-received:
		assert.Contains(t, payload, "platform.streaming")
		assert.Contains(t, payload, "room-1")
	case <-time.After(time.Second):
		t.Fatal("webhook was not delivered")
	}
}

func TestService_NotifyStreamStopped(t *testing.T) {
	repo := &mockRepository{
		webhooks: []*models.Webhook{
			{ID: "webhook-1", URL: "http://127.0.0.1:0", Events: models.WebhookEvents{StreamStopped: true}, IsActive: true},
		},
	}

	service := NewService(repo)
	service.NotifyStreamStopped(context.Background(), "room-1", "twitch")

	assert.Eventually(t, func() bool { return len(repo.deliveries) == 1 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, models.WebhookEventStreamStopped, repo.deliveries[0].Event)
}

func TestService_NotifySkipsInactiveWebhooks(t *testing.T) {
	repo := &mockRepository{
		webhooks: []*models.Webhook{
			{ID: "webhook-1", URL: "http://example.invalid", Events: models.WebhookEvents{PlatformError: true}, IsActive: false},
		},
	}

	service := NewService(repo)
	err := service.Notify(context.Background(), models.WebhookEventPlatformError, map[string]string{"roomId": "room-1"})
	assert.NoError(t, err)
	assert.Empty(t, repo.deliveries)
}

func TestWebhookSignature(t *testing.T) {
	service := NewService(&mockRepository{})

	payload := []byte(`{"event":"test"}`)
	secret := "test-secret"

	signature := service.generateSignature(payload, secret)
	assert.NotEmpty(t, signature)
	assert.Contains(t, signature, "sha256=")
}

func TestWebhookEventMarshaling(t *testing.T) {
	event := models.WebhookEvent{
		Event:     models.WebhookEventPlatformStreaming,
		Timestamp: time.Now(),
		Data: map[string]string{
			"roomId": "room-1",
		},
	}

	data, err := json.Marshal(event)
	assert.NoError(t, err)
	assert.NotEmpty(t, data)

	var unmarshaled models.WebhookEvent
	err = json.Unmarshal(data, &unmarshaled)
	assert.NoError(t, err)
	assert.Equal(t, event.Event, unmarshaled.Event)
}
