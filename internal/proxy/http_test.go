package proxy

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

// fakeBackend listens on a loopback port and writes a canned raw
// HTTP/1.1 response to every accepted connection.
func fakeBackend(t *testing.T, response string) (addr string, closeFn func()) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				buf := make([]byte, 4096)
				_, _ = conn.Read(buf)
				_, _ = conn.Write([]byte(response))
			}()
		}
	}()
	return ln.Addr().String(), func() { ln.Close() }
}

func TestForwardRequestContentLengthFraming(t *testing.T) {
	body := "hello world"
	response := fmt.Sprintf("HTTP/1.1 200 OK\r\nContent-Length: %d\r\n\r\n%s", len(body), body)
	addr, closeFn := fakeBackend(t, response)
	defer closeFn()

	req := httptest.NewRequest(http.MethodGet, "http://example.com/foo", nil)
	out, err := ForwardRequest(context.Background(), addr, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasSuffix(string(out), body) {
		t.Fatalf("expected response to end with body, got: %q", out)
	}
	if !strings.Contains(string(out), "200 OK") {
		t.Fatalf("expected status line to survive, got: %q", out)
	}
}

func TestForwardRequestChunkedFraming(t *testing.T) {
	response := "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n5\r\nhello\r\n0\r\n\r\n"
	addr, closeFn := fakeBackend(t, response)
	defer closeFn()

	req := httptest.NewRequest(http.MethodGet, "http://example.com/foo", nil)
	out, err := ForwardRequest(context.Background(), addr, req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(string(out), "hello") {
		t.Fatalf("expected chunked body to be relayed, got: %q", out)
	}
	if !strings.HasSuffix(string(out), "0\r\n\r\n") {
		t.Fatalf("expected terminal chunk to be preserved, got: %q", out)
	}
}

func TestForwardRequestReadUntilClose(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		buf := make([]byte, 4096)
		_, _ = conn.Read(buf)
		_, _ = conn.Write([]byte("HTTP/1.1 200 OK\r\n\r\nno-length-body"))
		conn.Close()
	}()

	req := httptest.NewRequest(http.MethodGet, "http://example.com/foo", nil)
	out, err := ForwardRequest(context.Background(), ln.Addr().String(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasSuffix(string(out), "no-length-body") {
		t.Fatalf("expected body read until close, got: %q", out)
	}
}

func TestForwardRequestConnectFailure(t *testing.T) {
	// 127.0.0.1:1 is very unlikely to accept, so the dial is refused
	// straight away instead of waiting out the 5s connect timeout; the
	// test only checks that an error comes back.
	req := httptest.NewRequest(http.MethodGet, "http://example.com/foo", nil)
	_, err := ForwardRequest(context.Background(), "127.0.0.1:1", req)
	if err == nil {
		t.Fatal("expected an error connecting to a closed port")
	}
}

func TestForwardRequestForwardsHostVerbatim(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()

	received := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		var buf bytes.Buffer
		tmp := make([]byte, 4096)
		n, _ := conn.Read(tmp)
		buf.Write(tmp[:n])
		received <- buf.String()
		_, _ = conn.Write([]byte("HTTP/1.1 200 OK\r\nContent-Length: 0\r\n\r\n"))
	}()

	req := httptest.NewRequest(http.MethodGet, "http://example.com/foo", nil)
	req.Host = "custom-app.internal"

	if _, err := ForwardRequest(context.Background(), ln.Addr().String(), req); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	raw := <-received
	if !strings.Contains(raw, "Host: custom-app.internal") {
		t.Fatalf("expected original Host header forwarded verbatim, got request: %q", raw)
	}
}
