package loader

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
)

// Source supplies the raw bytes of a scene.
type Source interface {
	// Name identifies the source in logs and results.
	Name() string
	// Fetch reads the whole scene. Network sources use client.
	Fetch(ctx context.Context, client *http.Client) ([]byte, error)
}

// File returns a Source reading a local file.
func File(path string) Source { return fileSource(path) }

// URL returns a Source fetching a scene over HTTP with the loader's client.
func URL(url string) Source { return urlSource(url) }

// Bytes returns a Source over an in-memory scene. The loader takes
// ownership of data.
func Bytes(name string, data []byte) Source { return bytesSource{name: name, data: data} }

// Parse maps a command-line style location to a Source: http(s) URLs are
// fetched, anything else is a file path.
func Parse(loc string) Source {
	if strings.HasPrefix(loc, "http://") || strings.HasPrefix(loc, "https://") {
		return URL(loc)
	}
	return File(loc)
}

type fileSource string

func (f fileSource) Name() string { return string(f) }

func (f fileSource) Fetch(ctx context.Context, _ *http.Client) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(string(f))
	if err != nil {
		return nil, fmt.Errorf("read scene: %w", err)
	}
	return data, nil
}

type urlSource string

func (u urlSource) Name() string { return string(u) }

func (u urlSource) Fetch(ctx context.Context, client *http.Client) ([]byte, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, string(u), nil)
	if err != nil {
		return nil, fmt.Errorf("fetch scene: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch scene: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("fetch scene %s: %s", string(u), resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("fetch scene: %w", err)
	}
	return data, nil
}

type bytesSource struct {
	name string
	data []byte
}

func (b bytesSource) Name() string { return b.name }

func (b bytesSource) Fetch(ctx context.Context, _ *http.Client) ([]byte, error) {
	return b.data, ctx.Err()
}
