package proxy

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// acceptEncoding lists every content coding decodeBody understands.
const acceptEncoding = "gzip, deflate, br, zstd"

// decodeBody reverses the content codings listed in contentEncoding.
// Codings are applied in the listed order, so they are removed last-first.
func decodeBody(contentEncoding string, body []byte) ([]byte, error) {
	codings := parseCodings(contentEncoding)
	for i := len(codings) - 1; i >= 0; i-- {
		decoded, err := decodeOne(codings[i], body)
		if err != nil {
			return nil, fmt.Errorf("failed to decode %s body: %w", codings[i], err)
		}
		body = decoded
	}
	return body, nil
}

func parseCodings(header string) []string {
	var codings []string
	for _, part := range strings.Split(header, ",") {
		coding := strings.ToLower(strings.TrimSpace(part))
		if coding == "" || coding == "identity" {
			continue
		}
		codings = append(codings, coding)
	}
	return codings
}

func decodeOne(coding string, body []byte) ([]byte, error) {
	switch coding {
	case "gzip", "x-gzip":
		r, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer r.Close()
		return io.ReadAll(r)
	case "deflate":
		return inflate(body)
	case "br":
		return io.ReadAll(brotli.NewReader(bytes.NewReader(body)))
	case "zstd":
		d, err := zstd.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer d.Close()
		return io.ReadAll(d)
	default:
		return nil, fmt.Errorf("unsupported content encoding %q", coding)
	}
}

// inflate decodes "deflate" bodies. The coding is defined as zlib-wrapped,
// but some servers send raw DEFLATE, so that is tried as a fallback.
func inflate(body []byte) ([]byte, error) {
	if r, err := zlib.NewReader(bytes.NewReader(body)); err == nil {
		decoded, readErr := io.ReadAll(r)
		r.Close()
		if readErr == nil {
			return decoded, nil
		}
	}

	r := flate.NewReader(bytes.NewReader(body))
	defer r.Close()
	return io.ReadAll(r)
}
