package replication

import "time"

// EventType is the Kafka header value of replication events.
const EventType = "replication.completed"

// ReplicationEvent is emitted when an object was replicated or found to be
// present at the destination already.
type ReplicationEvent struct {
	ID             string    `json:"id"`
	SourceBucket   string    `json:"s3_bucket"`
	SourceKey      string    `json:"s3_key"`
	SourceURI      string    `json:"s3_path"`
	DestinationURI string    `json:"gcs_path"`
	Status         Status    `json:"status"`
	SizeBytes      uint64    `json:"size_bytes"`
	BytesWritten   uint64    `json:"bytes_transferred"`
	CompletedAt    time.Time `json:"completed_at"`
}

// NewEvent builds the event announcing res.
func NewEvent(id string, res Result) ReplicationEvent {
	return ReplicationEvent{
		ID:             id,
		SourceBucket:   res.Request.SourceContainer,
		SourceKey:      res.Request.ObjectKey,
		SourceURI:      res.SourceURI,
		DestinationURI: res.DestinationURI,
		Status:         res.Status,
		SizeBytes:      res.Size,
		BytesWritten:   res.BytesTransferred,
		CompletedAt:    res.CompletedAt,
	}
}
