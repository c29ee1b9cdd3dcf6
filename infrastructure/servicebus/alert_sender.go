package servicebus

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"

	"social-publisher/infrastructure/logger"
)

// FailureAlert is sent to the operations queue when a post exhausts its
// retry budget and goes FAILED.
type FailureAlert struct {
	PostID     int64     `json:"post_id"`
	UserID     string    `json:"user_id"`
	Platform   string    `json:"platform"`
	Reason     string    `json:"reason"`
	Attempts   int       `json:"attempts"`
	OccurredAt time.Time `json:"occurred_at"`
}

type IAlertSender interface {
	SendFailureAlert(ctx context.Context, alert FailureAlert)
}

// AlertSender ships failure alerts through Azure Service Bus. A nil client
// turns every send into a no-op so alerting stays optional.
type AlertSender struct {
	client *azservicebus.Client
	queue  string
}

// NewServiceBus builds the Azure Service Bus client from a connection string.
func NewServiceBus(ctx context.Context, connectionString string) (*azservicebus.Client, error) {
	if !strings.Contains(connectionString, "Endpoint=") {
		return nil, errors.New("service bus connection string not configured")
	}
	return azservicebus.NewClientFromConnectionString(connectionString, nil)
}

func NewAlertSender(client *azservicebus.Client, queue string) IAlertSender {
	return &AlertSender{client: client, queue: queue}
}

func (a *AlertSender) SendFailureAlert(ctx context.Context, alert FailureAlert) {
	if a.client == nil || a.queue == "" {
		return
	}
	if alert.OccurredAt.IsZero() {
		alert.OccurredAt = time.Now().UTC()
	}
	payload, err := json.Marshal(alert)
	if err != nil {
		logger.GetLogger().WithField("error", err).Error("Error while marshalling failure alert")
		return
	}

	sender, err := a.client.NewSender(a.queue, nil)
	if err != nil {
		logger.GetLogger().
			WithField("error", err).
			Error("Error while making new sender service bus.")
		return
	}
	defer func(sender *azservicebus.Sender, ctx context.Context) {
		if err := sender.Close(ctx); err != nil {
			logger.GetLogger().
				WithField("error", err).
				Error("Error while closing sender.")
		}
	}(sender, context.Background())

	if err := sender.SendMessage(ctx, &azservicebus.Message{Body: payload}, nil); err != nil {
		logger.GetLogger().WithField("error", err).Error("Error while sending failure alert.")
		return
	}
	logger.GetLogger().WithField("postId", alert.PostID).Info("Failure alert sent")
}
