package storage

import (
	"context"
	"errors"
	"net/http"

	"github.com/minio/minio-go/v7"

	"s3mcp/internal/model"
)

// classify maps a raw minio error onto the typed taxonomy. Context
// cancellation and deadlines are checked first because minio wraps them
// inside transport errors.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}
	if typed, ok := model.AsError(err); ok {
		return typed
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return model.NewTimeoutError(op+" timed out", err)
	}
	if errors.Is(err, context.Canceled) {
		return model.NewCancelledError(op+" cancelled", err)
	}

	resp := minio.ToErrorResponse(err)
	switch resp.Code {
	case "NoSuchBucket", "NoSuchKey", "NotFound":
		return model.NewNotFoundError(op+": "+resp.Message, err)
	case "InvalidRange":
		return model.NewRangeNotSatisfiableError(op+": "+resp.Message, err)
	}
	switch resp.StatusCode {
	case http.StatusNotFound:
		return model.NewNotFoundError(op+" not found", err)
	case http.StatusRequestedRangeNotSatisfiable:
		return model.NewRangeNotSatisfiableError(op+": range not satisfiable", err)
	}
	return model.NewConnectivityError(op+" failed", err)
}

func rangeError(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "InvalidRange" || resp.StatusCode == http.StatusRequestedRangeNotSatisfiable
}
