package model

import "time"

// BucketInfo is a read-only projection of a bucket as reported by the store.
type BucketInfo struct {
	Name      string
	CreatedAt time.Time
}

// ObjectInfo is a read-only projection of remote object state. It is sourced
// fresh from the store on every call and never persisted locally.
type ObjectInfo struct {
	Bucket       string
	Key          string
	SizeBytes    int64
	LastModified time.Time
	ContentType  string
	ETag         string
}

type TaskState string

const (
	TaskPending   TaskState = "PENDING"
	TaskRunning   TaskState = "IN_PROGRESS"
	TaskCompleted TaskState = "COMPLETED"
	TaskFailed    TaskState = "FAILED"
)

// TransferTask tracks one download for the duration of the invocation that
// created it. It is owned exclusively by the transfer engine and reclaimed
// once the result has been delivered.
type TransferTask struct {
	ID               string
	Bucket           string
	Key              string
	Destination      string
	State            TaskState
	BytesTransferred int64
	TotalBytes       int64
	Object           ObjectInfo
	Err              error
	StartedAt        time.Time
	FinishedAt       time.Time
}
