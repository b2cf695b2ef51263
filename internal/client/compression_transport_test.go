package client

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

func gzipBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	_, _ = w.Write(data)
	if err := w.Close(); err != nil {
		t.Fatalf("gzip: %v", err)
	}
	return buf.Bytes()
}

func brotliBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := brotli.NewWriter(&buf)
	_, _ = w.Write(data)
	if err := w.Close(); err != nil {
		t.Fatalf("brotli: %v", err)
	}
	return buf.Bytes()
}

func zstdBytes(t *testing.T, data []byte) []byte {
	t.Helper()
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		t.Fatalf("zstd: %v", err)
	}
	defer enc.Close()
	return enc.EncodeAll(data, nil)
}

func TestCompressionTransport_Decodes(t *testing.T) {
	payload := []byte(`{"capPercent":25,"hardCapPercentage":90,"softCapPercentage":75}`)

	tests := []struct {
		name     string
		encoding string
		body     func(*testing.T, []byte) []byte
	}{
		{"gzip", "gzip", gzipBytes},
		{"brotli", "br", brotliBytes},
		{"zstd", "zstd", zstdBytes},
		{"comma list", "identity, gzip", gzipBytes},
		{"whitespace", " gzip ", gzipBytes},
		{"identity", "", func(_ *testing.T, b []byte) []byte { return b }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := tt.body(t, payload)
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get("Accept-Encoding") != acceptEncoding {
					t.Errorf("Expected Accept-Encoding %q, got %q", acceptEncoding, r.Header.Get("Accept-Encoding"))
				}
				if tt.encoding != "" {
					w.Header().Set("Content-Encoding", tt.encoding)
				}
				_, _ = w.Write(encoded)
			}))
			defer server.Close()

			client := &http.Client{Transport: newCompressionTransport(nil)}
			resp, err := client.Get(server.URL)
			if err != nil {
				t.Fatalf("Failed to make request: %v", err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				t.Fatalf("Failed to read response body: %v", err)
			}
			if !bytes.Equal(body, payload) {
				t.Errorf("Expected body %q, got %q", payload, body)
			}
			if resp.Header.Get("Content-Encoding") != "" {
				t.Errorf("Expected Content-Encoding to be removed, got %q", resp.Header.Get("Content-Encoding"))
			}
		})
	}
}

func TestCompressionTransport_PreservesCallerAcceptEncoding(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept-Encoding") != "identity" {
			t.Errorf("Expected Accept-Encoding to be 'identity', got %q", r.Header.Get("Accept-Encoding"))
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer server.Close()

	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Accept-Encoding", "identity")

	resp, err := (&http.Client{Transport: newCompressionTransport(nil)}).Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	_ = resp.Body.Close()
}

func TestCompressionTransport_DoesNotMutateRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	resp, err := newCompressionTransport(nil).RoundTrip(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	_ = resp.Body.Close()

	if req.Header.Get("Accept-Encoding") != "" {
		t.Errorf("Expected caller request to stay untouched, got %q", req.Header.Get("Accept-Encoding"))
	}
}

func TestCompressionTransport_UnknownEncoding(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "unknown-encoding")
		_, _ = w.Write([]byte("raw"))
	}))
	defer server.Close()

	resp, err := (&http.Client{Transport: newCompressionTransport(nil)}).Get(server.URL)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if string(body) != "raw" {
		t.Errorf("Expected raw body, got %q", body)
	}
	if resp.Header.Get("Content-Encoding") != "unknown-encoding" {
		t.Errorf("Expected Content-Encoding to be kept, got %q", resp.Header.Get("Content-Encoding"))
	}
}

func TestCompressionTransport_NoBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	resp, err := (&http.Client{Transport: newCompressionTransport(nil)}).Post(server.URL, "", nil)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		t.Errorf("Expected status 204, got %d", resp.StatusCode)
	}
}

func TestParseContentEncoding(t *testing.T) {
	tests := []struct {
		header   string
		expected string
	}{
		{"", ""},
		{"   ", ""},
		{"gzip", "gzip"},
		{" zstd ", "zstd"},
		{"identity, gzip", "gzip"},
		{"gzip, br", "br"},
		{"identity , gzip", "gzip"},
		{"GzIp", "gzip"},
	}

	for _, tt := range tests {
		if got := parseContentEncoding(tt.header); got != tt.expected {
			t.Errorf("parseContentEncoding(%q) = %q, expected %q", tt.header, got, tt.expected)
		}
	}
}
