package pump

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
)

// Process exit codes for pump failures
const (
	ExitReadFailure  = 34
	ExitSpawnFailure = 35
)

// DefaultMaxLineSize bounds a single record
const DefaultMaxLineSize = 1 << 20

// Writer ships one record. *messaging.Transport satisfies it.
type Writer interface {
	Write(ctx context.Context, record []byte) error
}

// ReadError means the input stream failed. The shipper exits with
// ExitReadFailure.
type ReadError struct {
	Err error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("pump: read failed: %v", e.Err)
}

func (e *ReadError) Unwrap() error {
	return e.Err
}

// Stats counts records handled by a pump run
type Stats struct {
	Lines   int64
	Written int64
	Failed  int64
}

// Pump feeds newline-delimited records to a Writer, one at a time
type Pump struct {
	writer      Writer
	echo        io.Writer
	logger      *slog.Logger
	maxLineSize int
}

// Option configures a Pump
type Option func(*Pump)

// WithEcho copies every record to w. A nil writer disables echoing.
func WithEcho(w io.Writer) Option {
	return func(p *Pump) {
		p.echo = w
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(p *Pump) {
		p.logger = logger
	}
}

// WithMaxLineSize sets the longest accepted record
func WithMaxLineSize(n int) Option {
	return func(p *Pump) {
		if n > 0 {
			p.maxLineSize = n
		}
	}
}

// New creates a pump writing to w
func New(w Writer, opts ...Option) *Pump {
	p := &Pump{
		writer:      w,
		logger:      slog.Default(),
		maxLineSize: DefaultMaxLineSize,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run pumps r until it ends or ctx is done. A write in progress when ctx is
// done still completes. Write failures are logged and counted; only a read
// failure is returned.
func (p *Pump) Run(ctx context.Context, r io.Reader) (Stats, error) {
	lines := make(chan []byte)
	readErr := make(chan error, 1)

	go func() {
		defer close(lines)
		readErr <- p.scan(ctx, r, lines)
	}()

	stats := p.consume(ctx, lines)

	select {
	case err := <-readErr:
		return stats, err
	default:
		// ctx ended while the reader is still blocked
		return stats, nil
	}
}

// scan sends each non-empty line of r to lines
func (p *Pump) scan(ctx context.Context, r io.Reader, lines chan<- []byte) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, min(64*1024, p.maxLineSize)), p.maxLineSize)

	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		line := append([]byte(nil), scanner.Bytes()...)
		select {
		case lines <- line:
		case <-ctx.Done():
			return nil
		}
	}

	if err := scanner.Err(); err != nil {
		return &ReadError{Err: err}
	}
	return nil
}

func (p *Pump) consume(ctx context.Context, lines <-chan []byte) Stats {
	var stats Stats
	writeCtx := context.WithoutCancel(ctx)

	for {
		select {
		case <-ctx.Done():
			return stats
		case line, ok := <-lines:
			if !ok {
				return stats
			}
			stats.Lines++
			p.handle(writeCtx, line, &stats)
		}
	}
}

func (p *Pump) handle(ctx context.Context, line []byte, stats *Stats) {
	if p.echo != nil {
		if _, err := p.echo.Write(append(line, '\n')); err != nil && !errors.Is(err, io.ErrClosedPipe) {
			p.logger.Warn("failed to echo record", "error", err)
		}
	}

	if err := p.writer.Write(ctx, line); err != nil {
		stats.Failed++
		p.logger.Error("failed to ship record", "error", err)
		return
	}
	stats.Written++
}
