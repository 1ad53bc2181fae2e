package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedSubResponse is what the fake batch server returns for one id.
type scriptedSubResponse struct {
	status int
	body   string
}

// batchServer decodes an incoming batch body and replies with a
// multipart/mixed response built from the script, echoing Content-IDs with
// the upstream "response-" prefix. Response part order follows echoOrder
// when set, otherwise submission order.
func batchServer(t *testing.T, script map[string]scriptedSubResponse, echoOrder []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mediaType, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
		require.NoError(t, err)
		require.Equal(t, "multipart/mixed", mediaType)

		ids := echoOrder
		if ids == nil {
			mr := multipart.NewReader(r.Body, params["boundary"])
			for {
				part, err := mr.NextPart()
				if err == io.EOF {
					break
				}
				require.NoError(t, err)
				cid := part.Header.Get("Content-ID")
				ids = append(ids, strings.Trim(cid, "<>"))
				part.Close()
			}
		}

		var buf bytes.Buffer
		mw := multipart.NewWriter(&buf)
		for _, id := range ids {
			sub, ok := script[id]
			require.True(t, ok, "no scripted response for id %q", id)

			header := textproto.MIMEHeader{}
			header.Set("Content-Type", "application/http")
			header.Set("Content-ID", "<response-"+id+">")
			pw, err := mw.CreatePart(header)
			require.NoError(t, err)

			fmt.Fprintf(pw, "HTTP/1.1 %d %s\r\n", sub.status, http.StatusText(sub.status))
			fmt.Fprintf(pw, "Content-Type: application/json\r\n")
			fmt.Fprintf(pw, "Content-Length: %d\r\n\r\n", len(sub.body))
			fmt.Fprint(pw, sub.body)
		}
		require.NoError(t, mw.Close())

		w.Header().Set("Content-Type", "multipart/mixed; boundary="+mw.Boundary())
		w.Write(buf.Bytes())
	}))
}

func TestExecuteBatchAllSuccess(t *testing.T) {
	srv := batchServer(t, map[string]scriptedSubResponse{
		"a": {200, `{"id":"msg-a"}`},
		"b": {200, `{"id":"msg-b"}`},
	}, nil)
	defer srv.Close()

	c := newTestClient(t, srv, &fakeTokens{tokens: []string{"tok"}})
	c.service.BatchURL = srv.URL

	outcome, err := c.ExecuteBatch(context.Background(), []BatchRequest{
		{ID: "a", Method: "GET", Path: "/gmail/v1/users/me/messages/a"},
		{ID: "b", Method: "GET", Path: "/gmail/v1/users/me/messages/b"},
	})
	require.NoError(t, err)

	assert.Equal(t, BatchStatusSuccess, outcome.Status)
	require.Len(t, outcome.Results, 2)
	assert.Empty(t, outcome.Errors)
	assert.Equal(t, "a", outcome.Results[0].ID)
	assert.JSONEq(t, `{"id":"msg-a"}`, string(outcome.Results[0].Body))
	assert.Equal(t, "b", outcome.Results[1].ID)
}

func TestExecuteBatchPartial(t *testing.T) {
	srv := batchServer(t, map[string]scriptedSubResponse{
		"ok-1":    {200, `{"id":"1"}`},
		"missing": {404, `{"error":{"code":404,"message":"Requested entity was not found.","errors":[{"reason":"notFound"}]}}`},
		"ok-2":    {200, `{"id":"2"}`},
	}, nil)
	defer srv.Close()

	c := newTestClient(t, srv, &fakeTokens{tokens: []string{"tok"}})
	c.service.BatchURL = srv.URL

	outcome, err := c.ExecuteBatch(context.Background(), []BatchRequest{
		{ID: "ok-1", Method: "GET", Path: "/a"},
		{ID: "missing", Method: "GET", Path: "/b"},
		{ID: "ok-2", Method: "GET", Path: "/c"},
	})
	require.NoError(t, err)

	assert.Equal(t, BatchStatusPartial, outcome.Status)
	assert.Len(t, outcome.Results, 2)
	require.Len(t, outcome.Errors, 1)
	assert.Equal(t, "missing", outcome.Errors[0].ID)
	assert.Equal(t, 404, outcome.Errors[0].Status)
	assert.Equal(t, "Requested entity was not found.", outcome.Errors[0].Message)
}

func TestExecuteBatchOutcomeSerializesEmptySlices(t *testing.T) {
	srv := batchServer(t, map[string]scriptedSubResponse{
		"only": {500, `{"error":{"code":500,"message":"Backend Error"}}`},
	}, nil)
	defer srv.Close()

	c := newTestClient(t, srv, &fakeTokens{tokens: []string{"tok"}})
	c.service.BatchURL = srv.URL

	outcome, err := c.ExecuteBatch(context.Background(), []BatchRequest{
		{ID: "only", Method: "GET", Path: "/a"},
	})
	require.NoError(t, err)
	assert.Equal(t, BatchStatusError, outcome.Status)

	// An all-failed batch must still emit "results":[], not null.
	raw, err := json.Marshal(outcome)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"results":[]`)

	empty, err := c.ExecuteBatch(context.Background(), nil)
	require.NoError(t, err)
	raw, err = json.Marshal(empty)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"results":[]`)
	assert.Contains(t, string(raw), `"errors":[]`)
}

func TestExecuteBatchOutOfOrderCorrelation(t *testing.T) {
	// The server echoes parts in reverse; results still line up by id in
	// submission order.
	srv := batchServer(t, map[string]scriptedSubResponse{
		"first":  {200, `{"n":1}`},
		"second": {200, `{"n":2}`},
		"third":  {200, `{"n":3}`},
	}, []string{"third", "first", "second"})
	defer srv.Close()

	c := newTestClient(t, srv, &fakeTokens{tokens: []string{"tok"}})
	c.service.BatchURL = srv.URL

	outcome, err := c.ExecuteBatch(context.Background(), []BatchRequest{
		{ID: "first", Method: "GET", Path: "/1"},
		{ID: "second", Method: "GET", Path: "/2"},
		{ID: "third", Method: "GET", Path: "/3"},
	})
	require.NoError(t, err)

	require.Len(t, outcome.Results, 3)
	for i, want := range []string{"first", "second", "third"} {
		assert.Equal(t, want, outcome.Results[i].ID)
		assert.JSONEq(t, fmt.Sprintf(`{"n":%d}`, i+1), string(outcome.Results[i].Body))
	}
}

func TestExecuteBatchMissingSubResponse(t *testing.T) {
	// Server only answers one of two ids.
	srv := batchServer(t, map[string]scriptedSubResponse{
		"answered": {200, `{}`},
	}, []string{"answered"})
	defer srv.Close()

	c := newTestClient(t, srv, &fakeTokens{tokens: []string{"tok"}})
	c.service.BatchURL = srv.URL

	outcome, err := c.ExecuteBatch(context.Background(), []BatchRequest{
		{ID: "answered", Method: "GET", Path: "/a"},
		{ID: "dropped", Method: "GET", Path: "/b"},
	})
	require.NoError(t, err)

	assert.Equal(t, BatchStatusPartial, outcome.Status)
	require.Len(t, outcome.Errors, 1)
	assert.Equal(t, "dropped", outcome.Errors[0].ID)
	assert.Contains(t, outcome.Errors[0].Message, "no response received")
}

func TestExecuteBatchSizeLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("an oversized batch must be rejected before any HTTP call")
	}))
	defer srv.Close()

	c := newTestClient(t, srv, &fakeTokens{tokens: []string{"tok"}})
	c.service.BatchURL = srv.URL

	reqs := make([]BatchRequest, MaxBatchSize+1)
	for i := range reqs {
		reqs[i] = BatchRequest{ID: fmt.Sprintf("r%d", i), Method: "GET", Path: "/x"}
	}

	_, err := c.ExecuteBatch(context.Background(), reqs)
	require.Error(t, err)
	assert.Equal(t, CodeInvalidRequest, ErrorCode(err))
}

func TestExecuteBatchValidation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("nothing should reach the wire")
	}))
	defer srv.Close()

	c := newTestClient(t, srv, &fakeTokens{tokens: []string{"tok"}})
	c.service.BatchURL = srv.URL

	// Empty id fails the whole batch.
	_, err := c.ExecuteBatch(context.Background(), []BatchRequest{
		{ID: "", Method: "GET", Path: "/x"},
	})
	require.Error(t, err)
	assert.Equal(t, CodeInvalidRequest, ErrorCode(err))

	// A bad method becomes a per-id error; with no valid requests the batch
	// reports error status without touching the network.
	outcome, err := c.ExecuteBatch(context.Background(), []BatchRequest{
		{ID: "bad", Method: "TRACE", Path: "/x"},
	})
	require.NoError(t, err)
	assert.Equal(t, BatchStatusError, outcome.Status)
	require.Len(t, outcome.Errors, 1)
	assert.Equal(t, "bad", outcome.Errors[0].ID)
	assert.Equal(t, http.StatusBadRequest, outcome.Errors[0].Status)

	// Empty batch short-circuits to success.
	outcome, err = c.ExecuteBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, BatchStatusSuccess, outcome.Status)
}

func TestExecuteBatchNoBatchEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	c := newTestClient(t, srv, &fakeTokens{tokens: []string{"tok"}})
	c.service.BatchURL = ""

	_, err := c.ExecuteBatch(context.Background(), []BatchRequest{
		{ID: "a", Method: "GET", Path: "/x"},
	})
	require.Error(t, err)
	assert.Equal(t, CodeInvalidRequest, ErrorCode(err))
}

func TestExecuteBatchOuterFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, &fakeTokens{tokens: []string{"tok"}})
	c.service.BatchURL = srv.URL

	_, err := c.ExecuteBatch(context.Background(), []BatchRequest{
		{ID: "a", Method: "GET", Path: "/x"},
	})
	require.Error(t, err)
	assert.Equal(t, CodeServerError, ErrorCode(err))
}

func TestEncodeBatchWireFormat(t *testing.T) {
	payload, contentType, err := encodeBatch([]BatchRequest{
		{ID: "get-1", Method: "get", Path: "/gmail/v1/users/me/messages/x"},
		{ID: "post-1", Method: "POST", Path: "/gmail/v1/users/me/messages/send", Body: []byte(`{"raw":"abc"}`)},
	})
	require.NoError(t, err)

	mediaType, params, err := mime.ParseMediaType(contentType)
	require.NoError(t, err)
	assert.Equal(t, "multipart/mixed", mediaType)
	assert.True(t, strings.HasPrefix(params["boundary"], "batch_"))

	mr := multipart.NewReader(bytes.NewReader(payload), params["boundary"])

	part, err := mr.NextPart()
	require.NoError(t, err)
	assert.Equal(t, "application/http", part.Header.Get("Content-Type"))
	assert.Equal(t, "<get-1>", part.Header.Get("Content-ID"))
	line, err := bufio.NewReader(part).ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "GET /gmail/v1/users/me/messages/x HTTP/1.1\r\n", line)

	part, err = mr.NextPart()
	require.NoError(t, err)
	assert.Equal(t, "<post-1>", part.Header.Get("Content-ID"))
	raw, err := io.ReadAll(part)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "POST /gmail/v1/users/me/messages/send HTTP/1.1")
	assert.Contains(t, string(raw), "Content-Type: application/json")
	assert.Contains(t, string(raw), `{"raw":"abc"}`)
}

func TestNormalizeContentID(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"<response-item-1>", "item-1"},
		{"<item-1>", "item-1"},
		{"response-item-1", "item-1"},
		{" <response-a> ", "a"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, normalizeContentID(tt.in), "input %q", tt.in)
	}
}
