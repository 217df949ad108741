package queue

import (
	"context"

	"github.com/wyang10/AWS-Serverless-ELT-Pipeline-Enterprise/model"
)

// BatchFunc processes one batch of messages and reports which of them must be
// redelivered. An error means the whole batch is redelivered.
type BatchFunc func(ctx context.Context, messages []model.Message) (model.TransformResult, error)

func failedSet(res model.TransformResult) map[string]struct{} {
	set := make(map[string]struct{}, len(res.Failures))
	for _, f := range res.Failures {
		set[f.ItemIdentifier] = struct{}{}
	}
	return set
}
