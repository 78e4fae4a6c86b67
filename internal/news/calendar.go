// Package news holds the economic calendar and the daily quiet-hours session
// the engine uses to stand aside around market-moving events.
package news

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// DefaultWindow is how long before and after an event trading stands aside
const DefaultWindow = 15 * time.Minute

const dateTimeLayout = "2006-01-02 15:04:05"

// Event is one calendar entry
type Event struct {
	Time     time.Time `json:"time"`
	Currency string    `json:"currency"`
	Impact   string    `json:"impact"`
	Title    string    `json:"title,omitempty"`
}

// fileEvent is the on-disk form: separate date and time columns
type fileEvent struct {
	Date     string `yaml:"date"`
	Time     string `yaml:"time"`
	Currency string `yaml:"currency"`
	Impact   string `yaml:"impact"`
	Title    string `yaml:"title"`
}

type calendarFile struct {
	Events []fileEvent `yaml:"events"`
}

// Filter selects which events count
type Filter struct {
	Currencies []string // empty matches every currency
	Impact     string   // empty matches every impact
}

// DefaultFilter keeps USD high-impact events
func DefaultFilter() Filter {
	return Filter{Currencies: []string{"USD"}, Impact: "High"}
}

func (f Filter) match(e Event) bool {
	if f.Impact != "" && !strings.EqualFold(f.Impact, e.Impact) {
		return false
	}
	if len(f.Currencies) == 0 {
		return true
	}
	for _, c := range f.Currencies {
		if strings.EqualFold(c, e.Currency) {
			return true
		}
	}
	return false
}

// Status describes the calendar relative to a point in time
type Status struct {
	InWindow bool          `json:"in_window"`
	Event    *Event        `json:"event,omitempty"`     // the active event, or the next upcoming one
	Until    time.Duration `json:"until,omitempty"`     // time to the upcoming event
	Remains  time.Duration `json:"remaining,omitempty"` // time left in the active window
}

// Calendar is the in-memory list of relevant events
type Calendar struct {
	mu     sync.RWMutex
	events []Event
	filter Filter
	window time.Duration
	loc    *time.Location
	path   string
	logger zerolog.Logger
}

// NewCalendar creates an empty calendar. A nil location means time.Local.
func NewCalendar(filter Filter, window time.Duration, loc *time.Location, logger zerolog.Logger) *Calendar {
	if window <= 0 {
		window = DefaultWindow
	}
	if loc == nil {
		loc = time.Local
	}
	return &Calendar{
		filter: filter,
		window: window,
		loc:    loc,
		logger: logger.With().Str("component", "NewsCalendar").Logger(),
	}
}

// Set replaces the events, keeping only those that pass the filter
func (c *Calendar) Set(events []Event) int {
	kept := make([]Event, 0, len(events))
	for _, e := range events {
		if c.filter.match(e) {
			kept = append(kept, e)
		}
	}
	sort.Slice(kept, func(i, j int) bool { return kept[i].Time.Before(kept[j].Time) })

	c.mu.Lock()
	c.events = kept
	c.mu.Unlock()
	return len(kept)
}

// Events returns a copy of the loaded events
func (c *Calendar) Events() []Event {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// LoadFile reads a YAML calendar file and replaces the events
func (c *Calendar) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read calendar: %w", err)
	}
	var f calendarFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse calendar: %w", err)
	}

	events := make([]Event, 0, len(f.Events))
	for i, fe := range f.Events {
		ts := strings.TrimSpace(fe.Date) + " " + strings.TrimSpace(fe.Time)
		if strings.Count(fe.Time, ":") == 1 {
			ts += ":00"
		}
		t, err := time.ParseInLocation(dateTimeLayout, ts, c.loc)
		if err != nil {
			return fmt.Errorf("calendar entry %d: %w", i, err)
		}
		events = append(events, Event{Time: t, Currency: fe.Currency, Impact: fe.Impact, Title: fe.Title})
	}

	n := c.Set(events)
	c.mu.Lock()
	c.path = path
	c.mu.Unlock()
	c.logger.Info().Str("path", path).Int("entries", len(events)).Int("relevant", n).Msg("Calendar loaded")
	return nil
}

// Reload re-reads the last loaded file
func (c *Calendar) Reload() error {
	c.mu.RLock()
	path := c.path
	c.mu.RUnlock()
	if path == "" {
		return errors.New("no calendar file loaded")
	}
	return c.LoadFile(path)
}

// Watch reloads the calendar whenever its file is written or replaced. It
// watches the parent directory so editors that rename over the file are seen.
// Blocks until ctx is done.
func (c *Calendar) Watch(ctx context.Context, path string) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}
	target := filepath.Clean(path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != target || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			if err := c.LoadFile(path); err != nil {
				c.logger.Warn().Err(err).Msg("Calendar reload failed, keeping previous events")
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			c.logger.Warn().Err(err).Msg("Calendar watcher error")
		}
	}
}

// At reports whether now falls within the window of any event, or else which
// event comes next
func (c *Calendar) At(now time.Time) Status {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for i := range c.events {
		e := c.events[i]
		start, end := e.Time.Add(-c.window), e.Time.Add(c.window)
		if !now.Before(start) && !now.After(end) {
			return Status{InWindow: true, Event: &e, Remains: end.Sub(now)}
		}
		if e.Time.After(now) {
			return Status{Event: &e, Until: e.Time.Sub(now)}
		}
	}
	return Status{}
}
