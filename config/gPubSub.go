package config

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"os"
	"sync"
	"time"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// CountingEvent is published for counting-session lifecycle changes
// (currently: finalized) so downstream systems can react without polling.
type CountingEvent struct {
	Type              string    `json:"type"`
	BusinessId        string    `json:"business_id"`
	CountingSessionId int       `json:"counting_session_id"`
	ReferenceNumber   string    `json:"reference_number"`
	ItemCount         int       `json:"item_count"`
	ActorId           int       `json:"actor_id"`
	OccurredAt        time.Time `json:"occurred_at"`
	CorrelationId     string    `json:"correlation_id"`
}

const CountingEventSessionFinalized = "counting.session.finalized"

var (
	pubsubClient   *pubsub.Client
	pubsubClientMu sync.Mutex
)

func getPubSubProjectID() string {
	// Prefer explicit override.
	if v := os.Getenv("PUBSUB_PROJECT_ID"); v != "" {
		return v
	}
	// Cloud Run sets this.
	return os.Getenv("GOOGLE_CLOUD_PROJECT")
}

// getPubSubClient creates the shared client once. Unlike the DB/redis
// connectors it does not retry: publishing is best-effort.
func getPubSubClient(ctx context.Context) (*pubsub.Client, error) {
	pubsubClientMu.Lock()
	defer pubsubClientMu.Unlock()
	if pubsubClient != nil {
		return pubsubClient, nil
	}

	projectID := getPubSubProjectID()
	if projectID == "" {
		return nil, errors.New("PUBSUB_PROJECT_ID/GOOGLE_CLOUD_PROJECT not set")
	}

	var (
		c   *pubsub.Client
		err error
	)
	if credJSON := os.Getenv("PUBSUB_CREDENTIALS_JSON"); credJSON != "" {
		c, err = pubsub.NewClient(ctx, projectID, option.WithCredentialsJSON([]byte(credJSON)))
	} else {
		// Application Default Credentials (service account or GOOGLE_APPLICATION_CREDENTIALS).
		c, err = pubsub.NewClient(ctx, projectID)
	}
	if err != nil {
		return nil, err
	}
	pubsubClient = c
	log.Printf("pubsub client ready (project_id=%s)", projectID)
	return pubsubClient, nil
}

// PublishCountingEvent publishes evt to COUNTING_PUBSUB_TOPIC and returns the
// server-assigned message id. When the topic is not configured it is a no-op.
func PublishCountingEvent(ctx context.Context, evt CountingEvent) (string, error) {
	topicName := CountingEventsTopic()
	if topicName == "" {
		return "", nil
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	client, err := getPubSubClient(ctx)
	if err != nil {
		return "", err
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return "", err
	}
	result := client.Topic(topicName).Publish(ctx, &pubsub.Message{
		Data: data,
		Attributes: map[string]string{
			"type":        evt.Type,
			"business_id": evt.BusinessId,
		},
	})
	return result.Get(ctx)
}
