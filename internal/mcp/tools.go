package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"s3mcp/internal/model"
	"s3mcp/internal/protocol"
)

const (
	defaultListLimit = 1000
	maxListLimit     = 5000

	// read_object returns inline content to the chat client, so it is capped
	// well below what download_object can materialize on disk.
	defaultReadLimit = 1 << 20
	maxReadLimit     = 8 << 20

	defaultPresignExpiry = 3600
	maxPresignExpiry     = 7 * 24 * 3600

	// maximum decoded upload size accepted through the inline base64 path.
	maxUploadBytes = 32 << 20
)

var toolOrder = []string{
	protocol.ToolNameListBuckets,
	protocol.ToolNameListObjects,
	protocol.ToolNameGetObjectMetadata,
	protocol.ToolNameDownloadObject,
	protocol.ToolNameReadObject,
	protocol.ToolNamePresignObject,
	protocol.ToolNameCreateBucket,
	protocol.ToolNameUploadObject,
	protocol.ToolNameStats,
}

type toolHandler func(context.Context, map[string]interface{}) (toolCallResult, *toolError)

type toolDefinition struct {
	Name         string                 `json:"name"`
	Description  string                 `json:"description"`
	InputSchema  map[string]interface{} `json:"inputSchema"`
	OutputSchema map[string]interface{} `json:"outputSchema,omitempty"`
	handler      toolHandler            `json:"-"`
}

type toolsCallParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

type toolCallResult struct {
	Content           []toolContentItem `json:"content"`
	StructuredContent interface{}       `json:"structuredContent,omitempty"`
	IsError           bool              `json:"isError,omitempty"`
}

type toolContentItem struct {
	Type     string `json:"type"`
	Text     string `json:"text,omitempty"`
	Data     string `json:"data,omitempty"`
	MIMEType string `json:"mimeType,omitempty"`
}

// toolError is the structured failure carried back to the caller. Kind is one
// of the protocol.ErrorKind* constants, mapped verbatim so the agent can
// branch without parsing text.
type toolError struct {
	Kind      string
	Message   string
	Retryable bool
}

type validationError struct {
	message string
}

func (e validationError) Error() string { return e.message }

func (s *Server) buildToolRegistry() map[string]toolDefinition {
	return map[string]toolDefinition{
		protocol.ToolNameListBuckets: {
			Name:        protocol.ToolNameListBuckets,
			Description: "List all buckets owned by the configured account.",
			InputSchema: emptyInputSchema(),
			OutputSchema: objectSchema(map[string]interface{}{
				"status": map[string]interface{}{"type": "string"},
				"buckets": map[string]interface{}{
					"type": "array",
					"items": objectSchema(map[string]interface{}{
						"name":       map[string]interface{}{"type": "string"},
						"created_at": map[string]interface{}{"type": "string"},
					}),
				},
				"count": map[string]interface{}{"type": "integer"},
			}),
			handler: s.handleListBucketsTool,
		},
		protocol.ToolNameListObjects: {
			Name:        protocol.ToolNameListObjects,
			Description: "List objects in a bucket, optionally filtered by prefix; paginated via continuation_token.",
			InputSchema: func() map[string]interface{} {
				schema := objectSchema(map[string]interface{}{
					"bucket":             map[string]interface{}{"type": "string", "minLength": 1},
					"prefix":             map[string]interface{}{"type": "string"},
					"continuation_token": map[string]interface{}{"type": "string"},
					"limit":              map[string]interface{}{"type": "integer", "minimum": 1, "maximum": maxListLimit},
				})
				schema["required"] = []string{"bucket"}
				return schema
			}(),
			OutputSchema: objectSchema(map[string]interface{}{
				"status":     map[string]interface{}{"type": "string"},
				"bucket":     map[string]interface{}{"type": "string"},
				"objects":    map[string]interface{}{"type": "array"},
				"count":      map[string]interface{}{"type": "integer"},
				"next_token": map[string]interface{}{"type": "string"},
			}),
			handler: s.handleListObjectsTool,
		},
		protocol.ToolNameGetObjectMetadata: {
			Name:        protocol.ToolNameGetObjectMetadata,
			Description: "Fetch size, timestamps, content type and checksum for one object.",
			InputSchema: bucketKeyInputSchema(nil),
			OutputSchema: objectSchema(map[string]interface{}{
				"status": map[string]interface{}{"type": "string"},
				"object": map[string]interface{}{"type": "object"},
			}),
			handler: s.handleGetObjectMetadataTool,
		},
		protocol.ToolNameDownloadObject: {
			Name:        protocol.ToolNameDownloadObject,
			Description: "Download an object to the local download directory with integrity verification.",
			InputSchema: bucketKeyInputSchema(nil),
			OutputSchema: objectSchema(map[string]interface{}{
				"status":            map[string]interface{}{"type": "string"},
				"destination":       map[string]interface{}{"type": "string"},
				"object":            map[string]interface{}{"type": "object"},
				"sha256":            map[string]interface{}{"type": "string"},
				"bytes_transferred": map[string]interface{}{"type": "integer"},
				"task_id":           map[string]interface{}{"type": "string"},
				"state":             map[string]interface{}{"type": "string"},
			}),
			handler: s.handleDownloadObjectTool,
		},
		protocol.ToolNameReadObject: {
			Name:        protocol.ToolNameReadObject,
			Description: "Read an object's content inline: UTF-8 text when possible, base64 otherwise.",
			InputSchema: bucketKeyInputSchema(map[string]interface{}{
				"max_bytes": map[string]interface{}{"type": "integer", "minimum": 1, "maximum": maxReadLimit},
			}),
			handler: s.handleReadObjectTool,
		},
		protocol.ToolNamePresignObject: {
			Name:        protocol.ToolNamePresignObject,
			Description: "Generate a time-limited download URL for an object.",
			InputSchema: bucketKeyInputSchema(map[string]interface{}{
				"expiry_seconds": map[string]interface{}{"type": "integer", "minimum": 1, "maximum": maxPresignExpiry},
			}),
			handler: s.handlePresignObjectTool,
		},
		protocol.ToolNameCreateBucket: {
			Name:        protocol.ToolNameCreateBucket,
			Description: "Create a bucket; succeeds if the bucket already exists.",
			InputSchema: func() map[string]interface{} {
				schema := objectSchema(map[string]interface{}{
					"bucket": map[string]interface{}{"type": "string", "minLength": 1},
					"region": map[string]interface{}{"type": "string"},
				})
				schema["required"] = []string{"bucket"}
				return schema
			}(),
			handler: s.handleCreateBucketTool,
		},
		protocol.ToolNameUploadObject: {
			Name:        protocol.ToolNameUploadObject,
			Description: "Upload base64-encoded content to a bucket key.",
			InputSchema: func() map[string]interface{} {
				schema := objectSchema(map[string]interface{}{
					"bucket":         map[string]interface{}{"type": "string", "minLength": 1},
					"key":            map[string]interface{}{"type": "string", "minLength": 1},
					"content_base64": map[string]interface{}{"type": "string"},
					"content_type":   map[string]interface{}{"type": "string"},
				})
				schema["required"] = []string{"bucket", "key", "content_base64"}
				return schema
			}(),
			handler: s.handleUploadObjectTool,
		},
		protocol.ToolNameStats: {
			Name:        protocol.ToolNameStats,
			Description: "Server configuration and transfer counters.",
			InputSchema: emptyInputSchema(),
			handler:     s.handleStatsTool,
		},
	}
}

func (s *Server) handleToolsList(w http.ResponseWriter, id interface{}) {
	tools := make([]toolDefinition, 0, len(s.tools))
	for _, name := range toolOrder {
		if tool, ok := s.tools[name]; ok {
			tools = append(tools, tool)
		}
	}
	if len(tools) == 0 {
		names := make([]string, 0, len(s.tools))
		for name := range s.tools {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			tools = append(tools, s.tools[name])
		}
	}
	writeResult(w, http.StatusOK, id, map[string]interface{}{
		"tools": tools,
	})
}

func (s *Server) handleToolsCall(ctx context.Context, w http.ResponseWriter, rawParams json.RawMessage, id interface{}) {
	result, statusCode, rpcErr := s.processToolsCall(ctx, rawParams)
	if rpcErr != nil {
		writeResponse(w, statusCode, rpcResponse{
			JSONRPC: "2.0",
			ID:      id,
			Error:   rpcErr,
		})
		return
	}
	writeResult(w, statusCode, id, result)
}

func (s *Server) processToolsCall(ctx context.Context, rawParams json.RawMessage) (toolCallResult, int, *rpcError) {
	params, err := parseToolsCallParams(rawParams)
	if err != nil {
		return toolCallResult{}, http.StatusBadRequest, &rpcError{
			Code:    -32600,
			Message: err.Error(),
			Data: &rpcErrorData{
				Kind:      protocol.ErrorKindSchemaValidation,
				Retryable: false,
			},
		}
	}

	tool, ok := s.tools[params.Name]
	if !ok {
		return newToolErrorResult(toolError{
			Kind:      protocol.ErrorKindSchemaValidation,
			Message:   fmt.Sprintf("unknown tool: %s", params.Name),
			Retryable: false,
		}), http.StatusOK, nil
	}

	// Admission control: bounded concurrent executions, reject rather than
	// queue unboundedly.
	if !s.admitSem.TryAcquire(1) {
		return newToolErrorResult(toolError{
			Kind:      protocol.ErrorKindOverload,
			Message:   fmt.Sprintf("server at capacity (%d concurrent invocations)", s.cfg.MaxConcurrentCalls),
			Retryable: true,
		}), http.StatusOK, nil
	}
	defer s.admitSem.Release(1)

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()

	started := time.Now()
	result, toolErr := tool.handler(callCtx, params.Arguments)
	if toolErr != nil {
		// Dispatcher-level deadline trumps whatever the handler surfaced of
		// the cancellation it observed.
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && toolErr.Kind == protocol.ErrorKindCancelled {
			toolErr.Kind = protocol.ErrorKindTimeout
			toolErr.Message = fmt.Sprintf("invocation exceeded %s timeout", s.cfg.CallTimeout)
		}
		s.log.Warn().Str("tool", params.Name).Str("kind", toolErr.Kind).
			Dur("elapsed", time.Since(started)).Msg(toolErr.Message)
		return newToolErrorResult(*toolErr), http.StatusOK, nil
	}

	s.log.Info().Str("tool", params.Name).Dur("elapsed", time.Since(started)).Msg("tool call completed")
	return result, http.StatusOK, nil
}

func parseToolsCallParams(raw json.RawMessage) (toolsCallParams, error) {
	if len(raw) == 0 {
		return toolsCallParams{}, validationError{message: "params is required"}
	}
	var params toolsCallParams
	if err := json.Unmarshal(raw, &params); err != nil {
		return toolsCallParams{}, validationError{message: "invalid tools/call params"}
	}
	params.Name = strings.TrimSpace(params.Name)
	if params.Name == "" {
		return toolsCallParams{}, validationError{message: "tools/call params.name is required"}
	}
	if params.Arguments == nil {
		params.Arguments = map[string]interface{}{}
	}
	return params, nil
}

func newToolErrorResult(toolErr toolError) toolCallResult {
	text := fmt.Sprintf("ERROR: %s: %s", toolErr.Kind, toolErr.Message)
	return toolCallResult{
		IsError: true,
		Content: []toolContentItem{
			{Type: "text", Text: text},
		},
		StructuredContent: map[string]interface{}{
			"status": "error",
			"error": map[string]interface{}{
				"kind":      toolErr.Kind,
				"message":   toolErr.Message,
				"retryable": toolErr.Retryable,
			},
		},
	}
}

// toolErrorFrom maps adapter/engine failures onto the wire taxonomy without
// collapsing distinct kinds.
func toolErrorFrom(err error) *toolError {
	if typed, ok := model.AsError(err); ok {
		return &toolError{Kind: typed.Kind, Message: typed.Message, Retryable: typed.Retryable}
	}
	return &toolError{
		Kind:      model.KindOf(err),
		Message:   err.Error(),
		Retryable: model.IsRetryable(err),
	}
}

func invalidArg(err error) *toolError {
	return &toolError{
		Kind:      protocol.ErrorKindSchemaValidation,
		Message:   err.Error(),
		Retryable: false,
	}
}

// ---- tool handlers ----

func (s *Server) handleListBucketsTool(ctx context.Context, args map[string]interface{}) (toolCallResult, *toolError) {
	if err := assertNoUnknownArguments(args, map[string]struct{}{}); err != nil {
		return toolCallResult{}, invalidArg(err)
	}

	buckets, err := s.store.ListBuckets(ctx)
	if err != nil {
		return toolCallResult{}, toolErrorFrom(err)
	}

	entries := make([]map[string]interface{}, 0, len(buckets))
	for _, b := range buckets {
		entries = append(entries, map[string]interface{}{
			"name":       b.Name,
			"created_at": b.CreatedAt.UTC().Format(time.RFC3339),
		})
	}
	return successResult(
		fmt.Sprintf("%d bucket(s)", len(entries)),
		map[string]interface{}{
			"buckets": entries,
			"count":   len(entries),
		},
	), nil
}

func (s *Server) handleListObjectsTool(ctx context.Context, args map[string]interface{}) (toolCallResult, *toolError) {
	if err := assertNoUnknownArguments(args, map[string]struct{}{
		"bucket":             {},
		"prefix":             {},
		"continuation_token": {},
		"limit":              {},
	}); err != nil {
		return toolCallResult{}, invalidArg(err)
	}

	bucket, err := parseRequiredString(args, "bucket")
	if err != nil {
		return toolCallResult{}, invalidArg(err)
	}
	prefix, err := parseOptionalString(args, "prefix")
	if err != nil {
		return toolCallResult{}, invalidArg(err)
	}
	token, err := parseOptionalString(args, "continuation_token")
	if err != nil {
		return toolCallResult{}, invalidArg(err)
	}

	limit := defaultListLimit
	if rawLimit, ok := args["limit"]; ok {
		limit, err = parseInteger(rawLimit, "limit")
		if err != nil {
			return toolCallResult{}, invalidArg(err)
		}
		if limit < 1 || limit > maxListLimit {
			return toolCallResult{}, invalidArg(fmt.Errorf("limit must be between 1 and %d", maxListLimit))
		}
	}

	page, nextToken, err := s.store.ListObjects(ctx, bucket, prefix, token, limit)
	if err != nil {
		return toolCallResult{}, toolErrorFrom(err)
	}

	objects := make([]map[string]interface{}, 0, len(page))
	for _, obj := range page {
		objects = append(objects, objectPayload(obj))
	}
	structured := map[string]interface{}{
		"bucket":  bucket,
		"objects": objects,
		"count":   len(objects),
	}
	if nextToken != "" {
		structured["next_token"] = nextToken
	}
	return successResult(
		fmt.Sprintf("%d object(s) in %s", len(objects), bucket),
		structured,
	), nil
}

func (s *Server) handleGetObjectMetadataTool(ctx context.Context, args map[string]interface{}) (toolCallResult, *toolError) {
	bucket, key, toolErr := parseBucketKey(args, nil)
	if toolErr != nil {
		return toolCallResult{}, toolErr
	}

	info, err := s.store.StatObject(ctx, bucket, key)
	if err != nil {
		return toolCallResult{}, toolErrorFrom(err)
	}
	return successResult(
		fmt.Sprintf("%s/%s: %d bytes", bucket, key, info.SizeBytes),
		map[string]interface{}{
			"object": objectPayload(info),
		},
	), nil
}

func (s *Server) handleDownloadObjectTool(ctx context.Context, args map[string]interface{}) (toolCallResult, *toolError) {
	bucket, key, toolErr := parseBucketKey(args, nil)
	if toolErr != nil {
		return toolCallResult{}, toolErr
	}

	res, err := s.engine.Download(ctx, bucket, key)
	if err != nil {
		return toolCallResult{}, toolErrorFrom(err)
	}
	task := res.Task
	return successResult(
		fmt.Sprintf("downloaded %s/%s (%d bytes) to %s", bucket, key, task.BytesTransferred, task.Destination),
		map[string]interface{}{
			"destination":       task.Destination,
			"object":            objectPayload(task.Object),
			"sha256":            res.SHA256,
			"bytes_transferred": task.BytesTransferred,
			"task_id":           task.ID,
			"state":             string(task.State),
		},
	), nil
}

func (s *Server) handleReadObjectTool(ctx context.Context, args map[string]interface{}) (toolCallResult, *toolError) {
	bucket, key, toolErr := parseBucketKey(args, map[string]struct{}{"max_bytes": {}})
	if toolErr != nil {
		return toolCallResult{}, toolErr
	}

	limit := int64(defaultReadLimit)
	if rawLimit, ok := args["max_bytes"]; ok {
		parsed, err := parseInteger(rawLimit, "max_bytes")
		if err != nil {
			return toolCallResult{}, invalidArg(err)
		}
		if parsed < 1 || parsed > maxReadLimit {
			return toolCallResult{}, invalidArg(fmt.Errorf("max_bytes must be between 1 and %d", maxReadLimit))
		}
		limit = int64(parsed)
	}

	info, err := s.store.StatObject(ctx, bucket, key)
	if err != nil {
		return toolCallResult{}, toolErrorFrom(err)
	}

	readLen := info.SizeBytes
	truncated := false
	if readLen > limit {
		readLen = limit
		truncated = true
	}
	data, err := s.store.GetObjectRange(ctx, bucket, key, 0, readLen)
	if err != nil {
		return toolCallResult{}, toolErrorFrom(err)
	}

	structured := map[string]interface{}{
		"object":    objectPayload(info),
		"truncated": truncated,
	}
	var content []toolContentItem
	if utf8.Valid(data) {
		text := string(data)
		structured["encoding"] = "utf-8"
		structured["content"] = text
		content = []toolContentItem{{Type: "text", Text: text}}
	} else {
		encoded := base64.StdEncoding.EncodeToString(data)
		structured["encoding"] = "base64"
		structured["content"] = encoded
		content = []toolContentItem{{
			Type:     "blob",
			Data:     encoded,
			MIMEType: info.ContentType,
		}}
	}
	structured["status"] = "success"
	return toolCallResult{
		Content:           content,
		StructuredContent: structured,
	}, nil
}

func (s *Server) handlePresignObjectTool(ctx context.Context, args map[string]interface{}) (toolCallResult, *toolError) {
	bucket, key, toolErr := parseBucketKey(args, map[string]struct{}{"expiry_seconds": {}})
	if toolErr != nil {
		return toolCallResult{}, toolErr
	}

	expiry := defaultPresignExpiry
	if rawExpiry, ok := args["expiry_seconds"]; ok {
		parsed, err := parseInteger(rawExpiry, "expiry_seconds")
		if err != nil {
			return toolCallResult{}, invalidArg(err)
		}
		if parsed < 1 || parsed > maxPresignExpiry {
			return toolCallResult{}, invalidArg(fmt.Errorf("expiry_seconds must be between 1 and %d", maxPresignExpiry))
		}
		expiry = parsed
	}

	url, err := s.store.PresignGet(ctx, bucket, key, time.Duration(expiry)*time.Second)
	if err != nil {
		return toolCallResult{}, toolErrorFrom(err)
	}
	return successResult(
		fmt.Sprintf("presigned URL for %s/%s valid %ds", bucket, key, expiry),
		map[string]interface{}{
			"download_url": url,
			"expires_in":   expiry,
			"bucket":       bucket,
			"key":          key,
		},
	), nil
}

func (s *Server) handleCreateBucketTool(ctx context.Context, args map[string]interface{}) (toolCallResult, *toolError) {
	if err := assertNoUnknownArguments(args, map[string]struct{}{
		"bucket": {},
		"region": {},
	}); err != nil {
		return toolCallResult{}, invalidArg(err)
	}
	bucket, err := parseRequiredString(args, "bucket")
	if err != nil {
		return toolCallResult{}, invalidArg(err)
	}
	region, err := parseOptionalString(args, "region")
	if err != nil {
		return toolCallResult{}, invalidArg(err)
	}
	if region == "" {
		region = s.cfg.Region
	}

	if err := s.store.MakeBucket(ctx, bucket, region); err != nil {
		return toolCallResult{}, toolErrorFrom(err)
	}
	return successResult(
		fmt.Sprintf("bucket %q ready", bucket),
		map[string]interface{}{
			"bucket": bucket,
			"region": region,
		},
	), nil
}

func (s *Server) handleUploadObjectTool(ctx context.Context, args map[string]interface{}) (toolCallResult, *toolError) {
	if err := assertNoUnknownArguments(args, map[string]struct{}{
		"bucket":         {},
		"key":            {},
		"content_base64": {},
		"content_type":   {},
	}); err != nil {
		return toolCallResult{}, invalidArg(err)
	}
	bucket, err := parseRequiredString(args, "bucket")
	if err != nil {
		return toolCallResult{}, invalidArg(err)
	}
	key, err := parseRequiredString(args, "key")
	if err != nil {
		return toolCallResult{}, invalidArg(err)
	}
	encoded, err := parseRequiredString(args, "content_base64")
	if err != nil {
		return toolCallResult{}, invalidArg(err)
	}
	contentType, err := parseOptionalString(args, "content_type")
	if err != nil {
		return toolCallResult{}, invalidArg(err)
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return toolCallResult{}, invalidArg(fmt.Errorf("content_base64 is not valid base64: %w", err))
	}
	if len(data) > maxUploadBytes {
		return toolCallResult{}, invalidArg(fmt.Errorf("decoded content exceeds %d bytes", maxUploadBytes))
	}

	info, err := s.store.PutObject(ctx, bucket, key, data, contentType)
	if err != nil {
		return toolCallResult{}, toolErrorFrom(err)
	}
	return successResult(
		fmt.Sprintf("uploaded %d bytes to %s/%s", len(data), bucket, key),
		map[string]interface{}{
			"object": objectPayload(info),
		},
	), nil
}

func (s *Server) handleStatsTool(_ context.Context, args map[string]interface{}) (toolCallResult, *toolError) {
	if err := assertNoUnknownArguments(args, map[string]struct{}{}); err != nil {
		return toolCallResult{}, invalidArg(err)
	}

	counters := s.engine.Snapshot()
	s.mu.Lock()
	sessionCount := len(s.sessions)
	s.mu.Unlock()

	structured := map[string]interface{}{
		"endpoint":         s.cfg.Endpoint,
		"region":           s.cfg.Region,
		"protocol_version": s.cfg.ProtocolVersion,
		"uptime_seconds":   int64(time.Since(s.startedAt).Seconds()),
		"sessions":         sessionCount,
		"transfer": map[string]interface{}{
			"completed":         counters.Completed,
			"failed":            counters.Failed,
			"bytes_transferred": counters.BytesTransferred,
			"chunk_size_bytes":  s.cfg.ChunkSizeBytes,
			"window":            s.cfg.WindowSize,
		},
		"limits": map[string]interface{}{
			"max_concurrent_calls": s.cfg.MaxConcurrentCalls,
			"call_timeout_seconds": int64(s.cfg.CallTimeout.Seconds()),
		},
	}
	return successResult(
		fmt.Sprintf("transfers completed=%d failed=%d", counters.Completed, counters.Failed),
		structured,
	), nil
}

// ---- shared helpers ----

func successResult(text string, structured map[string]interface{}) toolCallResult {
	structured["status"] = "success"
	return toolCallResult{
		Content: []toolContentItem{
			{Type: "text", Text: text},
		},
		StructuredContent: structured,
	}
}

func objectPayload(obj model.ObjectInfo) map[string]interface{} {
	payload := map[string]interface{}{
		"bucket":     obj.Bucket,
		"key":        obj.Key,
		"size_bytes": obj.SizeBytes,
	}
	if !obj.LastModified.IsZero() {
		payload["last_modified"] = obj.LastModified.UTC().Format(time.RFC3339)
	}
	if obj.ContentType != "" {
		payload["content_type"] = obj.ContentType
	}
	if obj.ETag != "" {
		payload["etag"] = obj.ETag
	}
	return payload
}

func parseBucketKey(args map[string]interface{}, extraAllowed map[string]struct{}) (string, string, *toolError) {
	allowed := map[string]struct{}{
		"bucket": {},
		"key":    {},
	}
	for name := range extraAllowed {
		allowed[name] = struct{}{}
	}
	if err := assertNoUnknownArguments(args, allowed); err != nil {
		return "", "", invalidArg(err)
	}
	bucket, err := parseRequiredString(args, "bucket")
	if err != nil {
		return "", "", invalidArg(err)
	}
	key, err := parseRequiredString(args, "key")
	if err != nil {
		return "", "", invalidArg(err)
	}
	return bucket, key, nil
}

func assertNoUnknownArguments(args map[string]interface{}, allowed map[string]struct{}) error {
	var unknown []string
	for name := range args {
		if _, ok := allowed[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return fmt.Errorf("unknown argument(s): %s", strings.Join(unknown, ", "))
}

func parseRequiredString(args map[string]interface{}, key string) (string, error) {
	raw, ok := args[key]
	if !ok {
		return "", fmt.Errorf("%s is required", key)
	}
	value, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string", key)
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", fmt.Errorf("%s must not be empty", key)
	}
	return value, nil
}

func parseOptionalString(args map[string]interface{}, key string) (string, error) {
	raw, ok := args[key]
	if !ok {
		return "", nil
	}
	value, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%s must be a string", key)
	}
	return strings.TrimSpace(value), nil
}

func parseInteger(value interface{}, field string) (int, error) {
	switch v := value.(type) {
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("%s must be an integer", field)
		}
		return int(v), nil
	case json.Number:
		parsed, err := v.Int64()
		if err != nil {
			return 0, fmt.Errorf("%s must be an integer", field)
		}
		return int(parsed), nil
	default:
		return 0, fmt.Errorf("%s must be an integer", field)
	}
}

func emptyInputSchema() map[string]interface{} {
	return map[string]interface{}{
		"type":                 "object",
		"properties":           map[string]interface{}{},
		"additionalProperties": false,
	}
}

func objectSchema(properties map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	}
}

func bucketKeyInputSchema(extra map[string]interface{}) map[string]interface{} {
	properties := map[string]interface{}{
		"bucket": map[string]interface{}{"type": "string", "minLength": 1},
		"key":    map[string]interface{}{"type": "string", "minLength": 1},
	}
	for name, schema := range extra {
		properties[name] = schema
	}
	schema := objectSchema(properties)
	schema["required"] = []string{"bucket", "key"}
	return schema
}
