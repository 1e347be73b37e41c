package ota

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// queued chunks between the network reader and the tick
const streamBacklog = 4

var (
	errNotOpened   = errors.New("connection not opened")
	errNoRootCerts = errors.New("no usable root certificates")
)

// HTTPClient downloads an image over HTTP(S). Network reads happen on a
// background goroutine so Stream never blocks its caller.
type HTTPClient struct {
	timeout   time.Duration
	chunkSize int

	target *url.URL
	client *http.Client
	resp   *http.Response
	stream *httpStream
	cancel context.CancelFunc
}

var _ Client = (*HTTPClient)(nil)

// NewHTTPClient returns a client that gives up when the server does not
// answer within timeout. Body reads are not bounded.
func NewHTTPClient(timeout time.Duration, chunkSize int) *HTTPClient {
	if chunkSize <= 0 {
		chunkSize = 4096
	}
	return &HTTPClient{timeout: timeout, chunkSize: chunkSize}
}

func (c *HTTPClient) Open(ctx context.Context, rawURL, rootCAs string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("url %q has no host", rawURL)
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: c.timeout}).DialContext,
		TLSHandshakeTimeout:   c.timeout,
		ResponseHeaderTimeout: c.timeout,
	}

	if u.Scheme == "https" {
		pool := x509.NewCertPool()
		if rootCAs == "" || !pool.AppendCertsFromPEM([]byte(rootCAs)) {
			return errNoRootCerts
		}
		transport.TLSClientConfig = &tls.Config{
			RootCAs:    pool,
			MinVersion: tls.VersionTLS12,
		}
	}

	c.target = u
	c.client = &http.Client{Transport: transport}
	return nil
}

func (c *HTTPClient) Get(ctx context.Context) (int, error) {
	if c.client == nil {
		return 0, errNotOpened
	}

	// the body outlives the caller's context
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	req, err := http.NewRequestWithContext(streamCtx, http.MethodGet, c.target.String(), nil)
	if err != nil {
		cancel()
		return 0, err
	}

	resp, err := c.client.Do(req)
	if err != nil {
		cancel()
		return 0, err
	}

	c.resp = resp
	c.cancel = cancel
	if resp.StatusCode == http.StatusOK {
		c.stream = newHTTPStream(resp.Body, c.chunkSize)
	}
	return resp.StatusCode, nil
}

func (c *HTTPClient) Stream() Stream {
	if c.stream == nil || c.stream.gone() {
		return nil
	}
	return c.stream
}

func (c *HTTPClient) Close() error {
	var err error
	if c.stream != nil {
		c.stream.stop()
		c.stream = nil
	}
	if c.resp != nil {
		err = c.resp.Body.Close()
		c.resp = nil
	}
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.client != nil {
		c.client.CloseIdleConnections()
		c.client = nil
	}
	return err
}

type httpStream struct {
	chunks   chan []byte
	quit     chan struct{}
	quitOnce sync.Once

	// consumer side only; the pump goroutine touches nothing but chunks
	pending []byte
	closed  bool
}

func newHTTPStream(body io.Reader, chunkSize int) *httpStream {
	s := &httpStream{
		chunks: make(chan []byte, streamBacklog),
		quit:   make(chan struct{}),
	}
	go s.pump(body, chunkSize)
	return s
}

func (s *httpStream) pump(body io.Reader, chunkSize int) {
	defer close(s.chunks)
	for {
		buf := make([]byte, chunkSize)
		n, err := body.Read(buf)
		if n > 0 {
			select {
			case s.chunks <- buf[:n]:
			case <-s.quit:
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *httpStream) stop() {
	s.quitOnce.Do(func() { close(s.quit) })
}

// poll moves the next chunk into pending without blocking.
func (s *httpStream) poll() {
	if len(s.pending) > 0 || s.closed {
		return
	}
	select {
	case b, ok := <-s.chunks:
		if !ok {
			s.closed = true
			return
		}
		s.pending = b
	default:
	}
}

// gone reports that the body ended and everything received was read.
func (s *httpStream) gone() bool {
	s.poll()
	return s.closed && len(s.pending) == 0
}

func (s *httpStream) Available() bool {
	s.poll()
	return len(s.pending) > 0
}

func (s *httpStream) Read(p []byte) (int, error) {
	s.poll()
	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}
