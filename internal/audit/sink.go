package audit

import (
	"context"
	"encoding/json"
	"fmt"
)

// Sink receives audit events.
type Sink interface {
	Name() string
	Publish(ctx context.Context, ev Event) error
}

// Indexer is satisfied by database.ElasticsearchClient.
type Indexer interface {
	IndexDocument(ctx context.Context, index, id string, body []byte) error
}

// ElasticsearchSink indexes each event under its request id.
type ElasticsearchSink struct {
	indexer Indexer
	index   string
}

func NewElasticsearchSink(indexer Indexer, index string) *ElasticsearchSink {
	return &ElasticsearchSink{indexer: indexer, index: index}
}

func (s *ElasticsearchSink) Name() string { return "elasticsearch" }

func (s *ElasticsearchSink) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode audit event: %w", err)
	}
	return s.indexer.IndexDocument(ctx, s.index, ev.RequestID, body)
}

// JSONPublisher is satisfied by aws.SNSClient.
type JSONPublisher interface {
	PublishJSON(ctx context.Context, topicARN, subject string, payload interface{}, attrs map[string]string) (string, error)
}

// SNSSink publishes each event to a topic with outcome and intent attributes
// for subscription filtering.
type SNSSink struct {
	publisher JSONPublisher
	topicARN  string
}

func NewSNSSink(publisher JSONPublisher, topicARN string) *SNSSink {
	return &SNSSink{publisher: publisher, topicARN: topicARN}
}

func (s *SNSSink) Name() string { return "sns" }

func (s *SNSSink) Publish(ctx context.Context, ev Event) error {
	_, err := s.publisher.PublishJSON(ctx, s.topicARN, "intent."+ev.Outcome, ev, map[string]string{
		"outcome":  ev.Outcome,
		"intentId": ev.IntentID,
	})
	return err
}
