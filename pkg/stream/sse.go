package stream

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/r3labs/sse/v2"
	"golang.org/x/sync/errgroup"
	"gopkg.in/cenkalti/backoff.v1"

	"poolwatch/pkg/config"
	"poolwatch/pkg/events"
	"poolwatch/pkg/logger"
)

// maxSSEMessage bounds a single server-sent-events message
const maxSSEMessage = 1 << 20

// ErrStreamClosed is reported when the server ends an event stream
var ErrStreamClosed = errors.New("event stream closed by server")

// SSESource follows one server-sent-events endpoint per stream and
// reconnects after RetryInterval when a connection drops. Only events of
// type "message" (or untyped) carry stream payloads.
type SSESource struct {
	BaseURL       string
	Paths         map[events.StreamKind]string
	RetryInterval time.Duration
	Client        *http.Client
}

// NewSSESource builds a source from configuration
func NewSSESource(cfg config.SSEConfig) *SSESource {
	paths := make(map[events.StreamKind]string, len(cfg.Paths))
	for name, path := range cfg.Paths {
		st, err := events.ParseStreamKind(name)
		if err != nil {
			logger.Warnf("sse: ignoring path for %v", err)
			continue
		}
		paths[st] = path
	}
	return &SSESource{
		BaseURL:       cfg.BaseURL,
		Paths:         paths,
		RetryInterval: cfg.RetryInterval,
		Client:        &http.Client{},
	}
}

func (s *SSESource) Name() string { return config.TransportSSE }

// URL returns the endpoint of stream
func (s *SSESource) URL(st events.StreamKind) string {
	path, ok := s.Paths[st]
	if !ok {
		path = "/" + string(st)
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return strings.TrimRight(s.BaseURL, "/") + path
}

// Run follows every stream until ctx is done
func (s *SSESource) Run(ctx context.Context, hub *Hub) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, st := range events.Streams {
		g.Go(func() error {
			return s.follow(ctx, hub, st)
		})
	}
	return g.Wait()
}

func (s *SSESource) follow(ctx context.Context, hub *Hub, st events.StreamKind) error {
	url := s.URL(st)
	retry := s.RetryInterval
	if retry <= 0 {
		retry = config.DefaultSSERetry
	}

	// one client per stream so reconnects resume from the last event id
	client := s.newClient(url)
	client.OnConnect(func(*sse.Client) {
		logger.Infof("sse: following %s stream at %s", st, url)
	})

	for {
		err := client.SubscribeRawWithContext(ctx, func(msg *sse.Event) {
			if ev := string(msg.Event); ev != "" && ev != "message" {
				return
			}
			if len(msg.Data) == 0 {
				return
			}
			hub.Publish(st, bytes.Clone(msg.Data))
		})
		if ctx.Err() != nil {
			return nil
		}
		if err == nil {
			err = ErrStreamClosed
		}
		logger.Warnf("sse: %s stream at %s failed, retrying in %s: %v", st, url, retry, err)
		hub.PublishError(st, err)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(retry):
		}
	}
}

func (s *SSESource) newClient(url string) *sse.Client {
	client := sse.NewClient(url, sse.ClientMaxBufferSize(maxSSEMessage))
	if s.Client != nil {
		client.Connection = s.Client
	}
	// follow owns the retry loop so every failure reaches the hub
	client.ReconnectStrategy = &backoff.StopBackOff{}
	client.ResponseValidator = func(_ *sse.Client, resp *http.Response) error {
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
		}
		return nil
	}
	return client
}
