package signal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultFetchTimeout bounds one signal fetch
const DefaultFetchTimeout = 10 * time.Second

// Source yields at most one raw signal per call. ok is false when nothing is pending.
type Source interface {
	Fetch(ctx context.Context) (raw string, ok bool, err error)
}

// envelope is the JSON body served by the signal endpoint
type envelope struct {
	Event string `json:"event"`
}

// HTTPSource polls a signal endpoint that answers {"event": "..."}
type HTTPSource struct {
	url    string
	client *http.Client
}

// NewHTTPSource creates a poller. A zero timeout uses DefaultFetchTimeout.
func NewHTTPSource(url string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	return &HTTPSource{
		url:    url,
		client: &http.Client{Timeout: timeout},
	}
}

// Fetch performs one GET. Non-200 answers and empty bodies mean no signal.
func (s *HTTPSource) Fetch(ctx context.Context) (string, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return "", false, fmt.Errorf("build signal request: %w", err)
	}
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := s.client.Do(req)
	if err != nil {
		return "", false, fmt.Errorf("fetch signal: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, resp.Body)
		return "", false, nil
	}

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if errors.Is(err, io.EOF) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("decode signal: %w", err)
	}
	if env.Event == "" {
		return "", false, nil
	}
	return env.Event, true, nil
}

// ErrQueueFull is returned when a pushed signal cannot be buffered
var ErrQueueFull = errors.New("signal queue full")

// QueueSource buffers signals pushed through the API webhook
type QueueSource struct {
	mu    sync.Mutex
	items []string
	max   int
}

// NewQueueSource creates a queue holding at most max signals
func NewQueueSource(max int) *QueueSource {
	if max <= 0 {
		max = 100
	}
	return &QueueSource{max: max}
}

// Push enqueues a raw signal
func (q *QueueSource) Push(raw string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.max {
		return ErrQueueFull
	}
	q.items = append(q.items, raw)
	return nil
}

// Len returns the number of queued signals
func (q *QueueSource) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Fetch pops the oldest queued signal
func (q *QueueSource) Fetch(_ context.Context) (string, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return "", false, nil
	}
	raw := q.items[0]
	q.items = q.items[1:]
	return raw, true, nil
}

// MultiSource asks each source in turn and returns the first signal found
type MultiSource []Source

// Fetch implements Source
func (m MultiSource) Fetch(ctx context.Context) (string, bool, error) {
	var firstErr error
	for _, s := range m {
		if s == nil {
			continue
		}
		raw, ok, err := s.Fetch(ctx)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if ok {
			return raw, true, nil
		}
	}
	return "", false, firstErr
}
