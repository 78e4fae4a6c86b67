package database

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"trade-engine/internal/events"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

// Execer is the part of pgxpool.Pool the journal writes through
type Execer interface {
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Journal appends engine events to the engine_journal table. Events are
// buffered and written in batches off the publishing goroutine.
type Journal struct {
	db     Execer
	logger zerolog.Logger

	ch         chan events.Event
	flushEvery time.Duration
	batchSize  int
	wg         sync.WaitGroup
	mu         sync.Mutex
	dropped    int
	closed     bool
}

// NewJournal creates a journal writer around a pool (or any Execer)
func NewJournal(db Execer, logger zerolog.Logger) *Journal {
	return &Journal{
		db:         db,
		logger:     logger.With().Str("component", "Journal").Logger(),
		ch:         make(chan events.Event, 1024),
		flushEvery: 2 * time.Second,
		batchSize:  100,
	}
}

// Subscribe registers the journal on every event type
func (j *Journal) Subscribe(bus *events.EventBus) {
	bus.SubscribeAll(j.Record)
}

// Record enqueues an event. When the buffer is full the event is dropped and counted.
func (j *Journal) Record(e events.Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return
	}
	select {
	case j.ch <- e:
	default:
		j.dropped++
	}
}

// Dropped returns how many events were lost to a full buffer
func (j *Journal) Dropped() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.dropped
}

// Start runs the writer until Close is called
func (j *Journal) Start(ctx context.Context) {
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		ticker := time.NewTicker(j.flushEvery)
		defer ticker.Stop()

		batch := make([]events.Event, 0, j.batchSize)
		for {
			select {
			case e, ok := <-j.ch:
				if !ok {
					j.write(context.Background(), batch)
					return
				}
				batch = append(batch, e)
				if len(batch) >= j.batchSize {
					j.write(ctx, batch)
					batch = batch[:0]
				}
			case <-ticker.C:
				j.write(ctx, batch)
				batch = batch[:0]
			}
		}
	}()
}

// Close flushes buffered events and stops the writer
func (j *Journal) Close() {
	j.mu.Lock()
	if j.closed {
		j.mu.Unlock()
		return
	}
	j.closed = true
	close(j.ch)
	j.mu.Unlock()
	j.wg.Wait()
}

func (j *Journal) write(ctx context.Context, batch []events.Event) {
	if len(batch) == 0 {
		return
	}
	b := &pgx.Batch{}
	for _, e := range batch {
		payload, err := json.Marshal(e.Data)
		if err != nil {
			j.logger.Warn().Err(err).Str("type", string(e.Type)).Msg("Skipping unserializable event")
			continue
		}
		symbol, ticket := eventKeys(e)
		b.Queue(
			`INSERT INTO engine_journal (event_type, symbol, ticket, payload, occurred_at) VALUES ($1, $2, $3, $4, $5)`,
			string(e.Type), symbol, ticket, payload, e.Timestamp,
		)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := j.db.SendBatch(ctx, b).Close(); err != nil {
		j.logger.Error().Err(err).Int("events", len(batch)).Msg("Failed to write journal batch")
		return
	}
	j.logger.Debug().Int("events", len(batch)).Msg("Journal batch written")
}

// eventKeys pulls the optional symbol and ticket columns out of the payload
func eventKeys(e events.Event) (*string, *int64) {
	var symbol *string
	var ticket *int64
	if s, ok := e.Data["symbol"].(string); ok && s != "" {
		symbol = &s
	}
	switch v := e.Data["ticket"].(type) {
	case int64:
		if v != 0 {
			ticket = &v
		}
	case int:
		t := int64(v)
		ticket = &t
	}
	return symbol, ticket
}
