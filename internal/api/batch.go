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
	"net/textproto"
	"strings"

	"github.com/google/uuid"

	"github.com/workspacekit/workspace-cli/internal/logging"
)

// MaxBatchSize is the upstream limit on sub-requests per batch call.
const MaxBatchSize = 100

// Batch outcome statuses.
const (
	BatchStatusSuccess = "success"
	BatchStatusPartial = "partial"
	BatchStatusError   = "error"
)

// BatchRequest is one logical sub-request. ID uniqueness within a batch is
// the caller's responsibility; duplicates are not silently dropped, the last
// sub-response under a duplicated id wins.
type BatchRequest struct {
	ID     string          `json:"id"`
	Method string          `json:"method"`
	Path   string          `json:"path"`
	Body   json.RawMessage `json:"body,omitempty"`
}

// BatchResult is a successful (2xx) sub-response.
type BatchResult struct {
	ID     string          `json:"id"`
	Status int             `json:"status"`
	Body   json.RawMessage `json:"body"`
}

// BatchError is a failed sub-response.
type BatchError struct {
	ID      string `json:"id"`
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// BatchOutcome aggregates per-sub-request outcomes of one batch call.
type BatchOutcome struct {
	Status  string        `json:"status"`
	Results []BatchResult `json:"results"`
	Errors  []BatchError  `json:"errors"`
}

var allowedBatchMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// ExecuteBatch collapses up to MaxBatchSize sub-requests into one
// multipart/mixed exchange through this client's authenticated transport.
// The outer call shares the service's rate budget and retry policy; an
// individual sub-request failure is captured per id and never retried.
func (c *Client) ExecuteBatch(ctx context.Context, reqs []BatchRequest) (*BatchOutcome, error) {
	if len(reqs) > MaxBatchSize {
		return nil, NewError(CodeInvalidRequest,
			"batch of %d sub-requests exceeds the maximum of %d", len(reqs), MaxBatchSize)
	}
	if c.service.BatchURL == "" {
		return nil, NewError(CodeInvalidRequest,
			"service %q has no batch endpoint", c.service.Name)
	}
	if len(reqs) == 0 {
		return &BatchOutcome{
			Status:  BatchStatusSuccess,
			Results: []BatchResult{},
			Errors:  []BatchError{},
		}, nil
	}

	// Malformed sub-requests become per-id errors rather than failing the
	// whole batch; only well-formed ones go on the wire.
	var wire []BatchRequest
	var parseErrors []BatchError
	for _, r := range reqs {
		switch {
		case r.ID == "":
			return nil, NewError(CodeInvalidRequest, "batch sub-request with empty id")
		case !allowedBatchMethods[strings.ToUpper(r.Method)]:
			parseErrors = append(parseErrors, BatchError{
				ID:      r.ID,
				Status:  http.StatusBadRequest,
				Message: fmt.Sprintf("unsupported method: %s", r.Method),
			})
		default:
			wire = append(wire, r)
		}
	}

	c.metrics.RecordBatchSize(ctx, c.service.Name, len(reqs))

	// Empty slices, not nil: an all-failed batch must serialize its results
	// as [] rather than null.
	outcome := &BatchOutcome{Results: []BatchResult{}, Errors: []BatchError{}}
	if len(wire) > 0 {
		payload, contentType, err := encodeBatch(wire)
		if err != nil {
			return nil, err
		}

		resp, err := c.do(ctx, http.MethodPost, c.service.BatchURL, contentType, payload)
		if err != nil {
			// The outer call never reached a usable response: fatal for the
			// whole batch.
			return nil, err
		}

		byID, err := decodeBatch(resp)
		if err != nil {
			return nil, err
		}

		for _, r := range wire {
			part, ok := byID[r.ID]
			if !ok {
				outcome.Errors = append(outcome.Errors, BatchError{
					ID:      r.ID,
					Message: "no response received for this sub-request",
				})
				continue
			}
			if part.status >= 200 && part.status < 300 {
				outcome.Results = append(outcome.Results, BatchResult{
					ID:     r.ID,
					Status: part.status,
					Body:   part.body,
				})
			} else {
				message, _ := parseGoogleError(part.status, nil, part.body)
				outcome.Errors = append(outcome.Errors, BatchError{
					ID:      r.ID,
					Status:  part.status,
					Message: message,
				})
			}
		}
	}

	outcome.Errors = append(outcome.Errors, parseErrors...)

	switch {
	case len(outcome.Errors) == 0:
		outcome.Status = BatchStatusSuccess
	case len(outcome.Results) == 0:
		outcome.Status = BatchStatusError
	default:
		outcome.Status = BatchStatusPartial
	}

	c.logger.Debug("batch completed",
		logging.Service(c.service.Name), logging.Operation("api.batch"),
		"size", len(reqs), "ok", len(outcome.Results), "failed", len(outcome.Errors))

	return outcome, nil
}

// encodeBatch packs sub-requests into a multipart/mixed body where each part
// is a self-contained application/http request tagged with a Content-ID.
func encodeBatch(reqs []BatchRequest) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := w.SetBoundary("batch_" + uuid.NewString()); err != nil {
		return nil, "", fmt.Errorf("set batch boundary: %w", err)
	}

	for _, r := range reqs {
		header := textproto.MIMEHeader{}
		header.Set("Content-Type", "application/http")
		header.Set("Content-ID", "<"+r.ID+">")

		part, err := w.CreatePart(header)
		if err != nil {
			return nil, "", fmt.Errorf("create batch part: %w", err)
		}

		fmt.Fprintf(part, "%s %s HTTP/1.1\r\n", strings.ToUpper(r.Method), r.Path)
		if len(r.Body) > 0 {
			fmt.Fprintf(part, "Content-Type: application/json\r\n")
			fmt.Fprintf(part, "Content-Length: %d\r\n", len(r.Body))
			fmt.Fprintf(part, "\r\n")
			part.Write(r.Body)
		} else {
			fmt.Fprintf(part, "\r\n")
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("finalize batch body: %w", err)
	}
	return buf.Bytes(), "multipart/mixed; boundary=" + w.Boundary(), nil
}

type batchPart struct {
	status int
	body   []byte
}

// decodeBatch splits the multipart/mixed response and extracts each embedded
// HTTP status and body, keyed by the echoed Content-ID. The server does not
// guarantee echo ordering, so correlation is strictly by id.
func decodeBatch(resp *Response) (map[string]batchPart, error) {
	mediaType, params, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !strings.HasPrefix(mediaType, "multipart/") {
		return nil, NewError(CodeServerError,
			"batch response has unexpected content type %q", resp.Header.Get("Content-Type"))
	}
	boundary := params["boundary"]
	if boundary == "" {
		return nil, NewError(CodeServerError, "batch response missing multipart boundary")
	}

	byID := make(map[string]batchPart)
	mr := multipart.NewReader(bytes.NewReader(resp.Body), boundary)
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, NewError(CodeServerError, "parse batch response part: %v", err)
		}

		id := normalizeContentID(part.Header.Get("Content-ID"))
		subResp, err := http.ReadResponse(bufio.NewReader(part), nil)
		if err != nil {
			part.Close()
			return nil, NewError(CodeServerError, "parse embedded response for %q: %v", id, err)
		}
		subBody, err := io.ReadAll(subResp.Body)
		subResp.Body.Close()
		part.Close()
		if err != nil {
			return nil, NewError(CodeServerError, "read embedded response for %q: %v", id, err)
		}
		if id == "" {
			continue
		}
		// Duplicate ids: last one wins, matching upstream behavior.
		byID[id] = batchPart{status: subResp.StatusCode, body: subBody}
	}
	return byID, nil
}

// normalizeContentID strips the angle brackets and the "response-" prefix
// the server adds when echoing a Content-ID.
func normalizeContentID(cid string) string {
	cid = strings.TrimSpace(cid)
	cid = strings.TrimPrefix(cid, "<")
	cid = strings.TrimSuffix(cid, ">")
	cid = strings.TrimPrefix(cid, "response-")
	return cid
}
