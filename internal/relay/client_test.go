package relay

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"docrelay/internal/models"
)

type capturedRequest struct {
	fileName    string
	fileType    string
	fileBody    string
	prompt      string
	hasPrompt   bool
	contentType string
}

func newUpstream(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, got capturedRequest)) (*httptest.Server, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		var got capturedRequest
		got.contentType = r.Header.Get("Content-Type")
		if err := r.ParseMultipartForm(1 << 20); err == nil {
			if fh := r.MultipartForm.File["file"]; len(fh) == 1 {
				got.fileName = fh[0].Filename
				got.fileType = fh[0].Header.Get("Content-Type")
				f, _ := fh[0].Open()
				data, _ := io.ReadAll(f)
				f.Close()
				got.fileBody = string(data)
			}
			if vals, ok := r.MultipartForm.Value["prompt"]; ok {
				got.hasPrompt = true
				got.prompt = vals[0]
			}
		}
		handler(w, r, got)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func newJob(name, mimeType, body, prompt string) *models.UploadJob {
	return &models.UploadJob{
		File:   models.FileInfo{Name: name, Size: int64(len(body)), MimeType: mimeType},
		Prompt: prompt,
		Body:   strings.NewReader(body),
	}
}

func newTestClient(t *testing.T, endpoint string, timeout time.Duration) *Client {
	t.Helper()
	c, err := NewClient(Options{Endpoint: endpoint, Timeout: timeout})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestForwardSendsFileAndPrompt(t *testing.T) {
	var seen capturedRequest
	srv, calls := newUpstream(t, func(w http.ResponseWriter, r *http.Request, got capturedRequest) {
		seen = got
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"b":2,"a":1}`)
	})
	c := newTestClient(t, srv.URL, time.Minute)

	result, err := c.Forward(context.Background(), newJob("datasheet.pdf", "application/pdf", "%PDF-1.4 body", "extract it"))
	if err != nil {
		t.Fatalf("Forward error: %v", err)
	}
	if atomic.LoadInt32(calls) != 1 {
		t.Fatalf("expected one upstream call, got %d", *calls)
	}
	if seen.fileName != "datasheet.pdf" || seen.fileType != "application/pdf" || seen.fileBody != "%PDF-1.4 body" {
		t.Fatalf("unexpected file part: %+v", seen)
	}
	if !seen.hasPrompt || seen.prompt != "extract it" {
		t.Fatalf("unexpected prompt field: %+v", seen)
	}
	if result.Kind != models.ResultText || !result.ParsedAsJSON {
		t.Fatalf("expected parsed text result, got %+v", result)
	}
	if result.Content != "{\n  \"b\": 2,\n  \"a\": 1\n}" {
		t.Fatalf("unexpected content %q", result.Content)
	}
}

func TestForwardOmitsEmptyPrompt(t *testing.T) {
	var seen capturedRequest
	srv, _ := newUpstream(t, func(w http.ResponseWriter, r *http.Request, got capturedRequest) {
		seen = got
		io.WriteString(w, "ok")
	})
	c := newTestClient(t, srv.URL, time.Minute)
	if _, err := c.Forward(context.Background(), newJob("notes.txt", "text/plain", "hello", "")); err != nil {
		t.Fatalf("Forward error: %v", err)
	}
	if seen.hasPrompt {
		t.Fatalf("empty prompt should not be sent")
	}
}

func TestForwardEscapesQuotedFilename(t *testing.T) {
	var seen capturedRequest
	srv, _ := newUpstream(t, func(w http.ResponseWriter, r *http.Request, got capturedRequest) {
		seen = got
		io.WriteString(w, "ok")
	})
	c := newTestClient(t, srv.URL, time.Minute)
	name := `rev "B" final.pdf`
	if _, err := c.Forward(context.Background(), newJob(name, "application/pdf", "%PDF", "p")); err != nil {
		t.Fatalf("Forward error: %v", err)
	}
	if seen.fileName != name || seen.fileBody != "%PDF" {
		t.Fatalf("file part = %+v, want filename %q", seen, name)
	}
}

func TestForwardInfersTypeFromExtension(t *testing.T) {
	var seen capturedRequest
	srv, _ := newUpstream(t, func(w http.ResponseWriter, r *http.Request, got capturedRequest) {
		seen = got
		io.WriteString(w, "ok")
	})
	c := newTestClient(t, srv.URL, time.Minute)
	if _, err := c.Forward(context.Background(), newJob("report.docx", "application/octet-stream", "PK", "p")); err != nil {
		t.Fatalf("Forward error: %v", err)
	}
	if seen.fileType != docxType {
		t.Fatalf("file part type = %q, want docx", seen.fileType)
	}
}

func TestForwardBinaryResponse(t *testing.T) {
	cases := []struct {
		name        string
		contentType string
		want        string
	}{
		{"datasheet.pdf", "application/pdf", "datasheet_processed.pdf"},
		{"DATASHEET.PDF", "application/pdf", "DATASHEET_processed.pdf"},
		{"notes.txt", "application/octet-stream", "notes.txt"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv, _ := newUpstream(t, func(w http.ResponseWriter, r *http.Request, got capturedRequest) {
				w.Header().Set("Content-Type", tc.contentType)
				w.Write([]byte{0x25, 0x50, 0x44, 0x46, 0x00, 0xff})
			})
			c := newTestClient(t, srv.URL, time.Minute)
			mimeType := "application/pdf"
			if strings.HasSuffix(tc.name, ".txt") {
				mimeType = "text/plain"
			}
			result, err := c.Forward(context.Background(), newJob(tc.name, mimeType, "data", ""))
			if err != nil {
				t.Fatalf("Forward error: %v", err)
			}
			if result.Kind != models.ResultBinary {
				t.Fatalf("expected binary result, got %s", result.Kind)
			}
			if result.SuggestedFilename != tc.want {
				t.Fatalf("suggested filename = %q, want %q", result.SuggestedFilename, tc.want)
			}
			if len(result.Bytes) != 6 {
				t.Fatalf("expected 6 bytes, got %d", len(result.Bytes))
			}
		})
	}
}

func TestForwardNonJSONTextIsVerbatim(t *testing.T) {
	srv, _ := newUpstream(t, func(w http.ResponseWriter, r *http.Request, got capturedRequest) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, "not json")
	})
	c := newTestClient(t, srv.URL, time.Minute)
	result, err := c.Forward(context.Background(), newJob("a.pdf", "application/pdf", "x", ""))
	if err != nil {
		t.Fatalf("Forward error: %v", err)
	}
	if result.Content != "not json" || result.ParsedAsJSON {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestForwardUpstreamErrorStatus(t *testing.T) {
	srv, _ := newUpstream(t, func(w http.ResponseWriter, r *http.Request, got capturedRequest) {
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, "workflow inactive")
	})
	c := newTestClient(t, srv.URL, time.Minute)
	result := c.Submit(context.Background(), newJob("a.pdf", "application/pdf", "x", "p"))
	if result.Kind != models.ResultFailure {
		t.Fatalf("expected failure, got %s", result.Kind)
	}
	if result.Message != "Upstream error: 503 - workflow inactive" {
		t.Fatalf("unexpected message %q", result.Message)
	}
	if HTTPStatus(result.Err) != http.StatusServiceUnavailable {
		t.Fatalf("status mapping = %d", HTTPStatus(result.Err))
	}
}

func TestForwardTimeout(t *testing.T) {
	release := make(chan struct{})
	srv, _ := newUpstream(t, func(w http.ResponseWriter, r *http.Request, got capturedRequest) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)
	c := newTestClient(t, srv.URL, 50*time.Millisecond)

	_, err := c.Forward(context.Background(), newJob("a.pdf", "application/pdf", "x", ""))
	if KindOf(err) != KindTimeout {
		t.Fatalf("expected timeout, got %v", err)
	}
	if !strings.HasPrefix(Describe(err), "Request timed out.") {
		t.Fatalf("unexpected message %q", Describe(err))
	}
	if HTTPStatus(err) != http.StatusGatewayTimeout {
		t.Fatalf("status = %d", HTTPStatus(err))
	}
}

func TestForwardNetworkError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	c := newTestClient(t, "http://"+addr+"/webhook", time.Minute)
	_, err = c.Forward(context.Background(), newJob("a.pdf", "application/pdf", "x", ""))
	if KindOf(err) != KindNetwork {
		t.Fatalf("expected network error, got %v", err)
	}
	if Describe(err) != networkMessage {
		t.Fatalf("unexpected message %q", Describe(err))
	}
	if HTTPStatus(err) != http.StatusBadGateway {
		t.Fatalf("status = %d", HTTPStatus(err))
	}
}

func TestForwardRejectsBeforeNetworkCall(t *testing.T) {
	srv, calls := newUpstream(t, func(w http.ResponseWriter, r *http.Request, got capturedRequest) {
		io.WriteString(w, "ok")
	})
	c, err := NewClient(Options{Endpoint: srv.URL, MaxBytes: 10})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	_, err = c.Forward(context.Background(), newJob("big.pdf", "application/pdf", strings.Repeat("x", 11), ""))
	if KindOf(err) != KindOversize {
		t.Fatalf("expected oversize, got %v", err)
	}
	_, err = c.Forward(context.Background(), newJob("image.png", "image/png", "x", ""))
	var re *Error
	if !errors.As(err, &re) || re.Kind != KindValidation || HTTPStatus(err) != http.StatusUnsupportedMediaType {
		t.Fatalf("expected unsupported type validation, got %v", err)
	}
	if _, err := c.Forward(context.Background(), &models.UploadJob{}); KindOf(err) != KindValidation {
		t.Fatalf("expected validation error for missing file, got %v", err)
	}
	if atomic.LoadInt32(calls) != 0 {
		t.Fatalf("no upstream call expected, got %d", *calls)
	}
}

func TestSetEndpointSwitchesTarget(t *testing.T) {
	first, firstCalls := newUpstream(t, func(w http.ResponseWriter, r *http.Request, got capturedRequest) {
		io.WriteString(w, "first")
	})
	second, secondCalls := newUpstream(t, func(w http.ResponseWriter, r *http.Request, got capturedRequest) {
		io.WriteString(w, "second")
	})
	c := newTestClient(t, first.URL, time.Minute)
	if err := c.SetEndpoint("ftp://nope"); err == nil {
		t.Fatalf("expected invalid endpoint error")
	}
	if err := c.SetEndpoint(second.URL); err != nil {
		t.Fatalf("SetEndpoint: %v", err)
	}
	result := c.Submit(context.Background(), newJob("a.txt", "text/plain", "x", ""))
	if result.Content != "second" {
		t.Fatalf("expected second upstream, got %q", result.Content)
	}
	if atomic.LoadInt32(firstCalls) != 0 || atomic.LoadInt32(secondCalls) != 1 {
		t.Fatalf("unexpected call counts first=%d second=%d", *firstCalls, *secondCalls)
	}
}
