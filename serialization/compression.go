package serialization

import (
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// Compression names accepted in configuration
const (
	CompressionNone = "none"
	CompressionGzip = "gzip"
	CompressionZstd = "zstd"
)

// Compressor encodes message bodies before publishing. Implementations must
// be safe for concurrent use.
type Compressor interface {
	// Name returns the configuration name
	Name() string

	// Encoding returns the AMQP content-encoding, empty for identity
	Encoding() string

	// Compress returns the encoded form of body
	Compress(body []byte) ([]byte, error)

	// Decompress reverses Compress
	Decompress(data []byte) ([]byte, error)
}

// CompressorRegistry maps configuration names to compressors
type CompressorRegistry struct {
	compressors map[string]Compressor
	mu          sync.RWMutex
}

// NewCompressorRegistry creates a registry holding none, gzip and zstd
func NewCompressorRegistry() *CompressorRegistry {
	r := &CompressorRegistry{
		compressors: make(map[string]Compressor),
	}
	_ = r.Register(Identity())
	_ = r.Register(NewGzip(gzip.DefaultCompression))
	_ = r.Register(NewZstd())
	return r
}

// Register adds a compressor under its name
func (r *CompressorRegistry) Register(c Compressor) error {
	if c == nil {
		return fmt.Errorf("compressor cannot be nil")
	}
	name := strings.ToLower(c.Name())
	if name == "" {
		return fmt.Errorf("compressor name cannot be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.compressors[name]; exists {
		return fmt.Errorf("compressor %s already registered", name)
	}
	r.compressors[name] = c
	return nil
}

// Get returns the compressor registered under name. An empty name selects
// the identity compressor.
func (r *CompressorRegistry) Get(name string) (Compressor, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = CompressionNone
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	c, exists := r.compressors[name]
	if !exists {
		return nil, fmt.Errorf("compression %s not registered", name)
	}
	return c, nil
}

// Names returns the registered names in sorted order
func (r *CompressorRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.compressors))
	for name := range r.compressors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var defaultRegistry = NewCompressorRegistry()

// Lookup resolves name against the built-in compressors
func Lookup(name string) (Compressor, error) {
	return defaultRegistry.Get(name)
}

type identity struct{}

// Identity returns the compressor that leaves bodies untouched
func Identity() Compressor {
	return identity{}
}

func (identity) Name() string                           { return CompressionNone }
func (identity) Encoding() string                       { return "" }
func (identity) Compress(body []byte) ([]byte, error)   { return body, nil }
func (identity) Decompress(data []byte) ([]byte, error) { return data, nil }

type gzipCompressor struct {
	level   int
	writers sync.Pool
}

// NewGzip returns a gzip compressor at the given level
func NewGzip(level int) Compressor {
	return &gzipCompressor{level: level}
}

func (g *gzipCompressor) Name() string     { return CompressionGzip }
func (g *gzipCompressor) Encoding() string { return "gzip" }

func (g *gzipCompressor) Compress(body []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, ok := g.writers.Get().(*gzip.Writer)
	if ok {
		w.Reset(&buf)
	} else {
		var err error
		if w, err = gzip.NewWriterLevel(&buf, g.level); err != nil {
			return nil, fmt.Errorf("failed to create gzip writer: %w", err)
		}
	}
	defer g.writers.Put(w)

	if _, err := w.Write(body); err != nil {
		return nil, fmt.Errorf("failed to gzip body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to gzip body: %w", err)
	}
	return buf.Bytes(), nil
}

func (g *gzipCompressor) Decompress(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to read gzip body: %w", err)
	}
	defer r.Close()
	return io.ReadAll(r)
}

type zstdCompressor struct {
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// NewZstd returns a zstd compressor. EncodeAll and DecodeAll are safe for
// concurrent use, so one encoder and decoder pair is shared.
func NewZstd() Compressor {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		panic(fmt.Sprintf("zstd: %v", err))
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		panic(fmt.Sprintf("zstd: %v", err))
	}
	return &zstdCompressor{encoder: enc, decoder: dec}
}

func (z *zstdCompressor) Name() string     { return CompressionZstd }
func (z *zstdCompressor) Encoding() string { return "zstd" }

func (z *zstdCompressor) Compress(body []byte) ([]byte, error) {
	return z.encoder.EncodeAll(body, make([]byte, 0, len(body))), nil
}

func (z *zstdCompressor) Decompress(data []byte) ([]byte, error) {
	out, err := z.decoder.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read zstd body: %w", err)
	}
	return out, nil
}
