package ota

import (
	"bytes"
	"context"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

// readAll polls the client the way the tick does until the stream is gone.
func readAll(t *testing.T, c *HTTPClient, bufSize int) []byte {
	t.Helper()
	var out []byte
	buf := make([]byte, bufSize)
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		s := c.Stream()
		if s == nil {
			return out
		}
		if !s.Available() {
			time.Sleep(time.Millisecond)
			continue
		}
		n, err := s.Read(buf)
		if err != nil {
			t.Fatal(err)
		}
		if n > len(buf) {
			t.Fatalf("read %d bytes into a %d byte buffer", n, len(buf))
		}
		out = append(out, buf[:n]...)
	}
	t.Fatal("stream did not end")
	return nil
}

func TestHTTPClientStreamsBody(t *testing.T) {
	body := bytes.Repeat([]byte("firmware"), 2000)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	c := NewHTTPClient(time.Second, 4096)
	if err := c.Open(context.Background(), srv.URL+"/fw.bin", ""); err != nil {
		t.Fatal(err)
	}
	code, err := c.Get(context.Background())
	if err != nil || code != http.StatusOK {
		t.Fatalf("Get() = %d, %v", code, err)
	}

	got := readAll(t, c, 4096)
	if !bytes.Equal(got, body) {
		t.Errorf("received %d bytes, want %d", len(got), len(body))
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if c.Stream() != nil {
		t.Error("Stream() not nil after Close")
	}
}

func TestHTTPClientReportsStatus(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	c := NewHTTPClient(time.Second, 0)
	if err := c.Open(context.Background(), srv.URL, ""); err != nil {
		t.Fatal(err)
	}
	code, err := c.Get(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if code != http.StatusNotFound {
		t.Errorf("code = %d, want 404", code)
	}
	if c.Stream() != nil {
		t.Error("stream available for non-200 response")
	}
	_ = c.Close()
}

func TestHTTPClientTLS(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("secure"))
	}))
	defer srv.Close()

	bundle := string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: srv.Certificate().Raw}))

	c := NewHTTPClient(time.Second, 16)
	if err := c.Open(context.Background(), srv.URL, bundle); err != nil {
		t.Fatal(err)
	}
	code, err := c.Get(context.Background())
	if err != nil || code != http.StatusOK {
		t.Fatalf("Get() = %d, %v", code, err)
	}
	if got := readAll(t, c, 16); string(got) != "secure" {
		t.Errorf("body = %q", got)
	}
	_ = c.Close()
}

func TestHTTPClientRejectsMissingCertificates(t *testing.T) {
	c := NewHTTPClient(time.Second, 0)
	if err := c.Open(context.Background(), "https://example.invalid/fw", ""); err == nil {
		t.Error("expected error for https without certificates")
	}
	if err := c.Open(context.Background(), "https://example.invalid/fw", "garbage"); err == nil {
		t.Error("expected error for unparsable bundle")
	}
	if err := c.Open(context.Background(), "ftp://example.invalid/fw", ""); err == nil {
		t.Error("expected error for unsupported scheme")
	}
}

func TestHTTPClientGetWithoutOpen(t *testing.T) {
	c := NewHTTPClient(time.Second, 0)
	if _, err := c.Get(context.Background()); err == nil {
		t.Error("expected error")
	}
}

func TestHTTPClientStreamOutlivesCallerContext(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.(http.Flusher).Flush()
		<-release
		_, _ = w.Write([]byte("late"))
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithCancel(context.Background())
	c := NewHTTPClient(time.Second, 0)
	if err := c.Open(ctx, srv.URL, ""); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Get(ctx); err != nil {
		t.Fatal(err)
	}
	cancel()

	if c.Stream() == nil {
		t.Fatal("stream gone after the command context ended")
	}
	if c.Stream().Available() {
		t.Error("data available before the server sent any")
	}
	_ = c.Close()
}

func TestHTTPStreamSplitsChunksOnConsumerSide(t *testing.T) {
	body := bytes.Repeat([]byte("0123456789"), 5)
	s := newHTTPStream(bytes.NewReader(body), 16)
	defer s.stop()

	var out []byte
	buf := make([]byte, 7)
	deadline := time.Now().Add(5 * time.Second)
	for !s.gone() {
		if time.Now().After(deadline) {
			t.Fatal("stream did not end")
		}
		if !s.Available() {
			time.Sleep(time.Millisecond)
			continue
		}
		n, _ := s.Read(buf)
		if n > len(buf) {
			t.Fatalf("read %d bytes into a %d byte buffer", n, len(buf))
		}
		out = append(out, buf[:n]...)
	}
	if !bytes.Equal(out, body) {
		t.Errorf("got %q, want %q", out, body)
	}
	if len(s.pending) != 0 || !s.closed {
		t.Errorf("pending=%d closed=%v after the body ended", len(s.pending), s.closed)
	}
}
