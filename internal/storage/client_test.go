package storage

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"s3mcp/internal/config"
	"s3mcp/internal/model"
	"s3mcp/internal/protocol"
)

const reportBody = "quarterly numbers\n"

// fakeS3 answers just enough of the S3 REST dialect for the client under
// test: one bucket "docs" holding one object "report.txt".
func fakeS3(t *testing.T) *httptest.Server {
	t.Helper()
	modified := time.Date(2025, 2, 1, 12, 0, 0, 0, time.UTC)

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/":
			w.Header().Set("Content-Type", "application/xml")
			fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?>
<ListAllMyBucketsResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">
  <Owner><ID>test</ID></Owner>
  <Buckets>
    <Bucket><Name>docs</Name><CreationDate>2025-01-15T08:00:00.000Z</CreationDate></Bucket>
    <Bucket><Name>media</Name><CreationDate>2025-01-20T08:00:00.000Z</CreationDate></Bucket>
  </Buckets>
</ListAllMyBucketsResult>`)

		case r.Method == http.MethodHead && (r.URL.Path == "/docs" || r.URL.Path == "/docs/"):
			w.WriteHeader(http.StatusOK)

		case r.Method == http.MethodHead && strings.HasPrefix(r.URL.Path, "/docs/"):
			if r.URL.Path != "/docs/report.txt" {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.Header().Set("Content-Length", fmt.Sprint(len(reportBody)))
			w.Header().Set("Content-Type", "text/plain")
			w.Header().Set("ETag", `"11fd09e27ad31bccb8d40f7a62b98d2d"`)
			w.Header().Set("Last-Modified", modified.Format(http.TimeFormat))
			w.WriteHeader(http.StatusOK)

		case r.Method == http.MethodHead:
			// any other bucket does not exist
			w.WriteHeader(http.StatusNotFound)

		case r.Method == http.MethodGet && (r.URL.Path == "/docs" || r.URL.Path == "/docs/"):
			// Lexicographic key order, filtered by start-after like the real
			// store.
			keys := []struct {
				key  string
				size int
			}{
				{"archive/2024.tar", 4096},
				{"report.txt", len(reportBody)},
				{"reports/2025/q1.csv", 512},
			}
			startAfter := r.URL.Query().Get("start-after")
			w.Header().Set("Content-Type", "application/xml")
			fmt.Fprint(w, `<?xml version="1.0" encoding="UTF-8"?>
<ListBucketResult xmlns="http://s3.amazonaws.com/doc/2006-03-01/">
  <Name>docs</Name>
  <IsTruncated>false</IsTruncated>
`)
			for _, obj := range keys {
				if startAfter != "" && obj.key <= startAfter {
					continue
				}
				fmt.Fprintf(w, `  <Contents>
    <Key>%s</Key>
    <Size>%d</Size>
    <LastModified>2025-02-01T12:00:00.000Z</LastModified>
    <ETag>&quot;11fd09e27ad31bccb8d40f7a62b98d2d&quot;</ETag>
  </Contents>
`, obj.key, obj.size)
			}
			fmt.Fprint(w, "</ListBucketResult>")

		case r.Method == http.MethodGet && r.URL.Path == "/docs/report.txt":
			start, end := int64(0), int64(len(reportBody)-1)
			if rng := r.Header.Get("Range"); rng != "" {
				fmt.Sscanf(rng, "bytes=%d-%d", &start, &end)
			}
			if start >= int64(len(reportBody)) {
				w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
				return
			}
			if end >= int64(len(reportBody)) {
				end = int64(len(reportBody) - 1)
			}
			body := reportBody[start : end+1]
			w.Header().Set("Content-Length", fmt.Sprint(len(body)))
			w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(reportBody)))
			w.Header().Set("Content-Type", "text/plain")
			w.Header().Set("ETag", `"11fd09e27ad31bccb8d40f7a62b98d2d"`)
			w.Header().Set("Last-Modified", modified.Format(http.TimeFormat))
			w.WriteHeader(http.StatusPartialContent)
			fmt.Fprint(w, body)

		case r.Method == http.MethodPut && r.URL.Path == "/docs/upload.txt":
			w.Header().Set("ETag", `"0123456789abcdef0123456789abcdef"`)
			w.WriteHeader(http.StatusOK)

		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func testClient(t *testing.T) *Client {
	t.Helper()
	srv := fakeS3(t)
	cfg := config.Default()
	cfg.Endpoint = strings.TrimPrefix(srv.URL, "http://")
	cfg.UseSSL = false
	cfg.Region = "us-east-1"
	cfg.AccessKey = "test"
	cfg.SecretKey = "test"

	client, err := New(cfg, zerolog.Nop())
	require.NoError(t, err)
	return client
}

func TestClientListBuckets(t *testing.T) {
	client := testClient(t)

	buckets, err := client.ListBuckets(context.Background())
	require.NoError(t, err)
	require.Len(t, buckets, 2)
	assert.Equal(t, "docs", buckets[0].Name)
	assert.Equal(t, "media", buckets[1].Name)
	assert.False(t, buckets[0].CreatedAt.IsZero())
}

func TestClientStatObject(t *testing.T) {
	client := testClient(t)

	info, err := client.StatObject(context.Background(), "docs", "report.txt")
	require.NoError(t, err)
	assert.Equal(t, int64(len(reportBody)), info.SizeBytes)
	assert.Equal(t, "11fd09e27ad31bccb8d40f7a62b98d2d", info.ETag, "quotes are stripped")
	assert.Equal(t, "text/plain", info.ContentType)
}

func TestClientStatObjectNotFound(t *testing.T) {
	client := testClient(t)

	_, err := client.StatObject(context.Background(), "docs", "absent.txt")
	require.Error(t, err)
	assert.Equal(t, protocol.ErrorKindNotFound, model.KindOf(err))
}

func TestClientListObjects(t *testing.T) {
	client := testClient(t)

	page, nextToken, err := client.ListObjects(context.Background(), "docs", "", "", 100)
	require.NoError(t, err)
	require.Len(t, page, 3)
	assert.Equal(t, "archive/2024.tar", page[0].Key)
	assert.Equal(t, "docs", page[0].Bucket)
	assert.Empty(t, nextToken, "non-truncated listing has no continuation token")
}

func TestClientListObjectsPaginationLaw(t *testing.T) {
	client := testClient(t)

	full, _, err := client.ListObjects(context.Background(), "docs", "", "", 100)
	require.NoError(t, err)

	var paged []string
	token := ""
	for {
		page, nextToken, err := client.ListObjects(context.Background(), "docs", "", token, 1)
		require.NoError(t, err)
		for _, obj := range page {
			paged = append(paged, obj.Key)
		}
		if nextToken == "" {
			break
		}
		token = nextToken
	}

	fullKeys := make([]string, 0, len(full))
	for _, obj := range full {
		fullKeys = append(fullKeys, obj.Key)
	}
	assert.Equal(t, fullKeys, paged, "page concatenation must equal the unpaginated listing, no duplicates or omissions")
}

func TestClientListObjectsTruncation(t *testing.T) {
	client := testClient(t)

	page, nextToken, err := client.ListObjects(context.Background(), "docs", "", "", 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, page[0].Key, nextToken, "limit hit: token is the last key returned")
}

func TestClientListObjectsMissingBucket(t *testing.T) {
	client := testClient(t)

	_, _, err := client.ListObjects(context.Background(), "nonexistent", "", "", 10)
	require.Error(t, err)
	assert.Equal(t, protocol.ErrorKindNotFound, model.KindOf(err))
}

func TestClientGetObjectRange(t *testing.T) {
	client := testClient(t)

	data, err := client.GetObjectRange(context.Background(), "docs", "report.txt", 0, 9)
	require.NoError(t, err)
	assert.Equal(t, reportBody[:9], string(data))

	data, err = client.GetObjectRange(context.Background(), "docs", "report.txt", 10, 8)
	require.NoError(t, err)
	assert.Equal(t, reportBody[10:], string(data))
}

func TestClientGetObjectRangeOffsetEqualsSize(t *testing.T) {
	client := testClient(t)

	data, err := client.GetObjectRange(context.Background(), "docs", "report.txt", int64(len(reportBody)), 4)
	require.NoError(t, err, "a range starting exactly at EOF is empty bytes, not an error")
	assert.Empty(t, data)
}

func TestClientGetObjectRangeOffsetBeyondSize(t *testing.T) {
	client := testClient(t)

	_, err := client.GetObjectRange(context.Background(), "docs", "report.txt", int64(len(reportBody))+1, 4)
	require.Error(t, err)
	assert.Equal(t, protocol.ErrorKindRangeNotSatisfiable, model.KindOf(err))
}

func TestClientGetObjectRangeZeroLength(t *testing.T) {
	client := testClient(t)

	data, err := client.GetObjectRange(context.Background(), "docs", "report.txt", 0, 0)
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestClientGetObjectRangeNegative(t *testing.T) {
	client := testClient(t)

	_, err := client.GetObjectRange(context.Background(), "docs", "report.txt", -1, 10)
	require.Error(t, err)
	assert.Equal(t, protocol.ErrorKindRangeNotSatisfiable, model.KindOf(err))
}

func TestClientPutObject(t *testing.T) {
	client := testClient(t)

	info, err := client.PutObject(context.Background(), "docs", "upload.txt", []byte("hello"), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "upload.txt", info.Key)
	assert.Equal(t, "text/plain", info.ContentType)
}
