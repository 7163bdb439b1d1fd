package logging

import (
	"context"
	"fmt"

	cloudlogging "cloud.google.com/go/logging"
	"google.golang.org/api/option"
)

// DefaultLogID is the Cloud Logging log name used by agentcast.
const DefaultLogID = "agentcast"

// CloudSink forwards entries to Google Cloud Logging.
type CloudSink struct {
	client *cloudlogging.Client
	logger *cloudlogging.Logger
}

// NewCloudSink opens a Cloud Logging client for the project.
func NewCloudSink(ctx context.Context, projectID, logID string, opts ...option.ClientOption) (*CloudSink, error) {
	if projectID == "" {
		return nil, fmt.Errorf("cloud logging requires a project ID")
	}
	if logID == "" {
		logID = DefaultLogID
	}
	client, err := cloudlogging.NewClient(ctx, projectID, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create cloud logging client: %w", err)
	}
	return &CloudSink{
		client: client,
		logger: client.Logger(logID),
	}, nil
}

// Write buffers an entry; the client batches uploads in the background.
func (s *CloudSink) Write(entry Entry) error {
	payload := map[string]any{
		"message": entry.Message,
	}
	if entry.Agent != "" {
		payload["agent"] = entry.Agent
	}
	if len(entry.Fields) > 0 {
		payload["fields"] = entry.Fields
	}
	s.logger.Log(cloudlogging.Entry{
		Timestamp: entry.Timestamp,
		Severity:  cloudlogging.ParseSeverity(string(entry.Severity)),
		Labels:    entry.Labels,
		Payload:   payload,
	})
	return nil
}

// Flush blocks until buffered entries are sent.
func (s *CloudSink) Flush() error {
	return s.logger.Flush()
}

// Close flushes and releases the client.
func (s *CloudSink) Close() error {
	return s.client.Close()
}
