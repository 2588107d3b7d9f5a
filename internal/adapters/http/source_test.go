package http

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
)

func rangeStart(r *http.Request) int {
	rng := r.Header.Get("Range")
	if rng == "" {
		return 0
	}
	var start int
	fmt.Sscanf(rng, "bytes=%d-", &start)
	return start
}

func TestSourceRangeGetAndFileSize(t *testing.T) {
	data := []byte("0123456789abcdef")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := data[rangeStart(r):]
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.Write(body)
	}))
	defer srv.Close()

	src := NewFactory(nil, nil)()
	if err := src.Open(context.Background(), srv.URL, 4); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Close()

	if got, want := src.FileSize(), int64(len(data)); got != want {
		t.Fatalf("FileSize() = %d, want %d", got, want)
	}

	buf := make([]byte, 4)
	n, err := src.Read(buf)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if string(buf[:n]) != "4567" {
		t.Fatalf("Read() = %q, want %q", buf[:n], "4567")
	}
}

func TestSourceSeekReopensAtNewOffset(t *testing.T) {
	data := []byte("0123456789abcdef")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := data[rangeStart(r):]
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.Write(body)
	}))
	defer srv.Close()

	src := NewFactory(nil, nil)()
	if err := src.Open(context.Background(), srv.URL, 0); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Close()

	if err := src.Seek(10); err != nil {
		t.Fatalf("Seek: %v", err)
	}
	buf := make([]byte, 4)
	n, err := src.Read(buf)
	if err != nil {
		t.Fatalf("Read after seek: %v", err)
	}
	if string(buf[:n]) != "abcd" {
		t.Fatalf("Read() after seek = %q, want %q", buf[:n], "abcd")
	}
}

func TestSourceRetriesTransientFailure(t *testing.T) {
	data := []byte("hello world")
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			hj, ok := w.(http.Hijacker)
			if !ok {
				t.Fatal("ResponseWriter does not support hijacking")
			}
			conn, _, err := hj.Hijack()
			if err != nil {
				t.Fatalf("hijack: %v", err)
			}
			conn.Close()
			return
		}
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Write(data)
	}))
	defer srv.Close()

	orig := retryInterval
	retryInterval = 0
	defer func() { retryInterval = orig }()

	src := NewFactory(nil, nil)()
	if err := src.Open(context.Background(), srv.URL, 0); err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Close()

	if got := src.FileSize(); got != int64(len(data)) {
		t.Fatalf("FileSize() = %d, want %d", got, len(data))
	}
}
