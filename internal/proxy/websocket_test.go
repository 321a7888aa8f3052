package proxy

import (
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestCopyWithIdleTimeoutStopsOnEOF(t *testing.T) {
	src, srcWrite := net.Pipe()
	dst, dstRead := net.Pipe()
	defer src.Close()
	defer dst.Close()
	defer srcWrite.Close()
	defer dstRead.Close()

	done := make(chan int64, 1)
	go func() {
		done <- copyWithIdleTimeout(dst, src, zerolog.Nop(), "test")
	}()

	go func() {
		_, _ = srcWrite.Write([]byte("hello"))
		srcWrite.Close()
	}()

	buf := make([]byte, 16)
	n, _ := dstRead.Read(buf)
	if string(buf[:n]) != "hello" {
		t.Fatalf("expected to read through bridge, got %q", buf[:n])
	}

	select {
	case total := <-done:
		if total != 5 {
			t.Fatalf("expected 5 bytes copied, got %d", total)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("copyWithIdleTimeout did not return after source closed")
	}
}

func TestCopyWithIdleTimeoutRespectsDeadline(t *testing.T) {
	src, _ := net.Pipe()
	dst, dstRead := net.Pipe()
	defer src.Close()
	defer dst.Close()
	defer dstRead.Close()

	done := make(chan int64, 1)
	go func() {
		done <- copyWithIdleTimeoutUsing(dst, src, zerolog.Nop(), "test", 50*time.Millisecond)
	}()

	select {
	case total := <-done:
		if total != 0 {
			t.Fatalf("expected no bytes copied before idle timeout, got %d", total)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected idle timeout to end the copy loop")
	}
}
