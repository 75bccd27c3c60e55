package scheduler

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const TaskMessageReceived = "automation.message_received"

const (
	maxRetry  = 5
	retention = 24 * time.Hour
)

// MessageReceivedPayload is what the automation engine needs to pick up an
// inbound message without reading the webhook.
type MessageReceivedPayload struct {
	MessageID      string    `json:"messageId"`
	TenantID       string    `json:"tenantId"`
	LeadID         string    `json:"leadId"`
	ConversationID string    `json:"conversationId"`
	InstanceID     string    `json:"instanceId"`
	Provider       string    `json:"provider"`
	Type           string    `json:"type"`
	Content        string    `json:"content"`
	HasMedia       bool      `json:"hasMedia"`
	SentAt         time.Time `json:"sentAt"`
}

func NewMessageReceivedTask(payload MessageReceivedPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskMessageReceived, data), nil
}

func ParseMessageReceivedPayload(task *asynq.Task) (MessageReceivedPayload, error) {
	var payload MessageReceivedPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return MessageReceivedPayload{}, err
	}
	return payload, nil
}
