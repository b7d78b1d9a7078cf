package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	stdoutmq "github.com/glimte/stdout-mq"
	"github.com/glimte/stdout-mq/config"
	"github.com/glimte/stdout-mq/internal/pump"
	"github.com/glimte/stdout-mq/transports/rabbitmq"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sink struct {
	mu     sync.Mutex
	dials  int
	bodies map[string][]string
}

func (s *sink) Dial(ctx context.Context, url string) (rabbitmq.Connection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dials++
	return sinkConnection{s}, nil
}

func (s *sink) Bodies(queue string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.bodies[queue]...)
}

type sinkConnection struct{ s *sink }

func (c sinkConnection) Channel() (rabbitmq.Channel, error)              { return sinkChannel(c), nil }
func (c sinkConnection) NotifyClose(r chan *amqp.Error) chan *amqp.Error { return r }
func (c sinkConnection) Close() error                                    { return nil }

type sinkChannel struct{ s *sink }

func (c sinkChannel) Confirm(noWait bool) error { return nil }
func (c sinkChannel) Pending() int              { return 0 }
func (c sinkChannel) Close() error              { return nil }

func (c sinkChannel) Publish(ctx context.Context, exchange, routingKey string, msg amqp.Publishing) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if c.s.bodies == nil {
		c.s.bodies = make(map[string][]string)
	}
	c.s.bodies[routingKey] = append(c.s.bodies[routingKey], string(msg.Body))
	return nil
}

func withSink(s *sink) stdoutmq.ClientOption {
	return stdoutmq.WithConnectionOptions(rabbitmq.WithDialer(s))
}

func TestGenerateConfig(t *testing.T) {
	for _, name := range []string{"stdout-mq.json", "stdout-mq.yaml"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)
			var stdout, stderr bytes.Buffer

			code := execute(context.Background(), []string{"generate-config", path}, strings.NewReader(""), &stdout, &stderr)

			require.Equal(t, 0, code, stderr.String())
			assert.Contains(t, stdout.String(), "created")

			cfg, err := config.Load(config.New(), path)
			require.NoError(t, err)
			assert.Equal(t, "pino-mq", cfg.Queue)
			assert.Equal(t, config.TypeRabbitMQ, cfg.Type)
		})
	}
}

func TestExecute(t *testing.T) {
	t.Run("invalid configuration exits 1", func(t *testing.T) {
		var stdout, stderr bytes.Buffer

		code := execute(context.Background(), []string{"--uri", "amqp://localhost/"}, strings.NewReader(""), &stdout, &stderr)

		assert.Equal(t, 1, code)
		assert.Contains(t, stderr.String(), "you must provide queue, queuePattern or queueMap")
	})

	t.Run("prints the version", func(t *testing.T) {
		var stdout, stderr bytes.Buffer

		code := execute(context.Background(), []string{"--version"}, strings.NewReader(""), &stdout, &stderr)

		assert.Equal(t, 0, code)
		assert.Contains(t, stdout.String(), version)
	})

	t.Run("ships stdin with flag configuration", func(t *testing.T) {
		s := &sink{}
		var stdout, stderr bytes.Buffer
		input := "{\"level\":30,\"msg\":\"hi\",\"pid\":7}\nplain\n"

		code := execute(context.Background(),
			[]string{"-u", "amqp://localhost/", "--queueMap", "30=info,default=other", "-f", "level,msg"},
			strings.NewReader(input), &stdout, &stderr, withSink(s))

		require.Equal(t, 0, code, stderr.String())
		assert.Equal(t, input, stdout.String())
		assert.Equal(t, []string{`{"level":30,"msg":"hi"}`}, s.Bodies("info"))
		assert.Equal(t, []string{`{"msg":"plain"}`}, s.Bodies("other"))
	})

	t.Run("quiet disables echo", func(t *testing.T) {
		s := &sink{}
		var stdout, stderr bytes.Buffer

		code := execute(context.Background(),
			[]string{"-u", "amqp://localhost/", "-q", "logs", "--quiet"},
			strings.NewReader("one\n"), &stdout, &stderr, withSink(s))

		require.Equal(t, 0, code, stderr.String())
		assert.Empty(t, stdout.String())
		assert.Len(t, s.Bodies("logs"), 1)
	})

	t.Run("oversized records exit with the read failure code", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		input := strings.Repeat("x", pump.DefaultMaxLineSize+1) + "\n"

		code := execute(context.Background(),
			[]string{"-u", "amqp://localhost/", "-q", "logs", "--quiet"},
			strings.NewReader(input), &stdout, &stderr, withSink(&sink{}))

		assert.Equal(t, pump.ExitReadFailure, code)
	})
}

func TestExecuteSpawn(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("requires /bin/sh")
	}

	t.Run("exits with the child's code", func(t *testing.T) {
		script := filepath.Join(t.TempDir(), "child.sh")
		require.NoError(t, os.WriteFile(script, []byte("echo from-child\nexit 4\n"), 0o644))
		s := &sink{}
		var stdout, stderr bytes.Buffer

		code := execute(context.Background(),
			[]string{"-u", "amqp://localhost/", "-q", "logs", "--spawnProcess", "/bin/sh " + script},
			strings.NewReader(""), &stdout, &stderr, withSink(s))

		assert.Equal(t, 4, code)
		assert.Equal(t, []string{`{"msg":"from-child"}`}, s.Bodies("logs"))
		assert.Equal(t, "from-child\n", stdout.String())
	})

	t.Run("start failure exits with the spawn failure code", func(t *testing.T) {
		var stdout, stderr bytes.Buffer

		code := execute(context.Background(),
			[]string{"-u", "amqp://localhost/", "-q", "logs", "--spawnProcess", "/definitely/not/a/command"},
			strings.NewReader(""), &stdout, &stderr, withSink(&sink{}))

		assert.Equal(t, pump.ExitSpawnFailure, code)
	})
}
