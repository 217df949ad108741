package model

// Message is one queued message handed to the transform stage.
type Message struct {
	ID   string `json:"messageId"`
	Body string `json:"body"`
}

// BatchItemFailure names a message that must be redelivered.
type BatchItemFailure struct {
	ItemIdentifier string `json:"itemIdentifier"`
}

// PartitionKey identifies an output partition.
type PartitionKey struct {
	Kind Kind   `json:"record_type"`
	Date string `json:"dt"`
}

// TransformResult is the outcome of one transform invocation.
type TransformResult struct {
	Failures     []BatchItemFailure   `json:"batchItemFailures"`
	FilesWritten int                  `json:"-"`
	Partitions   map[PartitionKey]int `json:"-"`
}

// FailedIDs returns the message ids in Failures.
func (r TransformResult) FailedIDs() []string {
	ids := make([]string, len(r.Failures))
	for i, f := range r.Failures {
		ids[i] = f.ItemIdentifier
	}
	return ids
}
