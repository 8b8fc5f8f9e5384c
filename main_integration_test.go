package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/example/age-gate/internal/auth"
	"github.com/example/age-gate/internal/handlers"
	"github.com/example/age-gate/internal/usecase"
)

type blockingVerifier struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingVerifier) VerifyAge(ctx context.Context, subjectID string, raw []byte) (*usecase.Outcome, error) {
	select {
	case <-b.started:
	default:
		close(b.started)
	}
	<-b.release
	return &usecase.Outcome{
		RequestID: "req-1",
		SubjectID: usecase.AnonymousSubject,
		Status:    usecase.StatusAdult,
		Message:   "You are above 18. You can proceed.",
		Severity:  "success",
		Age:       "25",
	}, nil
}

func (b *blockingVerifier) GetResult(ctx context.Context, subjectID, requestID string) (*usecase.Outcome, error) {
	return nil, nil
}

func (b *blockingVerifier) GetDuplicateReport(ctx context.Context, subjectID, requestID string) (*usecase.DuplicateReport, error) {
	return nil, nil
}

func (b *blockingVerifier) GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error) {
	return &usecase.MetricsSummary{}, nil
}

func TestServerDrainsInFlightVerificationOnShutdown(t *testing.T) {
	logger := zap.NewNop()
	gin.SetMode(gin.TestMode)

	verifier := &blockingVerifier{started: make(chan struct{}), release: make(chan struct{})}
	defer func() {
		select {
		case <-verifier.release:
		default:
			close(verifier.release)
		}
	}()

	router := gin.New()
	router.MaxMultipartMemory = handlers.MaxUploadSize
	handlers.RegisterRoutes(router, verifier,
		auth.JWTMiddleware("test-secret", ""),
		auth.OptionalJWTMiddleware("test-secret", ""),
	)

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to create listener: %v", err)
	}
	server := &http.Server{Handler: router}

	signalCh := make(chan os.Signal, 1)
	done := make(chan error, 1)
	go func() {
		done <- serveHTTPServerWithOptions(server, 2*time.Second, logger, listener, signalCh)
	}()

	addr := listener.Addr().String()
	waitForServer(t, addr)

	body, contentType := captureBody(t)
	client := &http.Client{Timeout: 2 * time.Second}
	respCh := make(chan *http.Response, 1)
	errCh := make(chan error, 1)
	go func() {
		resp, err := client.Post("http://"+addr+"/verify", contentType, body)
		if err != nil {
			errCh <- err
			return
		}
		respCh <- resp
	}()

	select {
	case <-verifier.started:
	case <-time.After(2 * time.Second):
		t.Fatal("verification did not start in time")
	}

	signalCh <- syscall.SIGTERM

	time.Sleep(50 * time.Millisecond)
	close(verifier.release)

	select {
	case resp := <-respCh:
		t.Cleanup(func() { resp.Body.Close() })
		payload, _ := io.ReadAll(resp.Body)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("unexpected status: %d body: %s", resp.StatusCode, string(payload))
		}
		var outcome usecase.Outcome
		if err := json.Unmarshal(payload, &outcome); err != nil {
			t.Fatalf("invalid outcome json: %v", err)
		}
		if outcome.Status != usecase.StatusAdult {
			t.Fatalf("unexpected status in outcome: %s", outcome.Status)
		}
	case err := <-errCh:
		t.Fatalf("request failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("request did not complete")
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("server did not shutdown cleanly: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server did not exit after shutdown")
	}
}

func captureBody(t *testing.T) (*bytes.Buffer, string) {
	t.Helper()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="image"; filename="capture.jpg"`)
	header.Set("Content-Type", "image/jpeg")

	part, err := writer.CreatePart(header)
	if err != nil {
		t.Fatalf("failed to create multipart part: %v", err)
	}
	if _, err := part.Write([]byte{0xff, 0xd8, 0xff, 0xe0}); err != nil {
		t.Fatalf("failed to write payload: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("failed to close writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

func waitForServer(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("server %s did not become ready", addr)
}

type failingCloser struct {
	calls int
}

func (f *failingCloser) Close() error {
	f.calls++
	return errors.New("broker unreachable")
}

func TestClosePublisherLogsFlushError(t *testing.T) {
	core, logs := observer.New(zap.ErrorLevel)
	closer := &failingCloser{}

	closePublisher(closer, zap.New(core))

	if closer.calls != 1 {
		t.Fatalf("expected one close call, got %d", closer.calls)
	}
	entries := logs.FilterMessage("failed to flush verdict events").All()
	if len(entries) != 1 {
		t.Fatalf("expected flush error to be logged, got %d entries", len(entries))
	}
}
