package model

import "fmt"

// RawUnit is one observed version of a raw object.
type RawUnit struct {
	Identity string `json:"identity"`
	Bucket   string `json:"bucket"`
	Key      string `json:"key"`
	ETag     string `json:"etag"`
}

// NewRawUnit builds a unit whose identity is the object location plus its ETag.
func NewRawUnit(bucket, key, etag string) RawUnit {
	return RawUnit{
		Identity: UnitIdentity(bucket, key, etag),
		Bucket:   bucket,
		Key:      key,
		ETag:     etag,
	}
}

// UnitIdentity formats s3://<bucket>/<key>#<etag>.
func UnitIdentity(bucket, key, etag string) string {
	return fmt.Sprintf("s3://%s/%s#%s", bucket, key, etag)
}

// IngestSummary is the aggregate result of one ingest invocation.
type IngestSummary struct {
	Objects  int    `json:"objects"`
	Records  int    `json:"records"`
	Enqueued int    `json:"enqueued"`
	Dropped  int    `json:"dropped"`
	Skipped  int    `json:"skipped"`
	Request  string `json:"request_id,omitempty"`
}

// UnitResult is stored on the ledger entry of a completed unit.
type UnitResult struct {
	RecordsParsed   int `json:"records_parsed"`
	RecordsEnqueued int `json:"records_enqueued"`
	RecordsDropped  int `json:"records_dropped"`
}
