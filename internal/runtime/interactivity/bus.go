// Package interactivity implements the publish/subscribe bus cooperating views
// use to share selections and filters, keyed by interactivity id.
package interactivity

import (
	"slices"
	"sort"
	"sync"

	loggingpkg "github.com/drblury/viewbridge/internal/runtime/logging"
)

// Update is delivered to subscribers on every publication.
type Update struct {
	InteractivityID string
	Data            any
	// FilterID is set when the publication was scoped to one filter.
	FilterID string
}

// Callback receives updates for one interactivity id.
type Callback func(Update)

// Subscription is the handle returned by Subscribe and passed to
// Unsubscribe.
type Subscription struct {
	callback   Callback
	filterIDs  []string
	translator bool
}

// FilterIDs returns the filter ids the subscription was registered with.
func (s *Subscription) FilterIDs() []string { return slices.Clone(s.filterIDs) }

// Translator reports whether the subscription receives every publication.
func (s *Subscription) Translator() bool { return s.translator }

func (s *Subscription) accepts(filterID string) bool {
	if filterID == "" || s.translator || len(s.filterIDs) == 0 {
		return true
	}
	return slices.Contains(s.filterIDs, filterID)
}

// SubscribeOption customizes a subscription.
type SubscribeOption func(*Subscription)

// WithFilterIDs restricts filtered publications to the given filter ids.
func WithFilterIDs(ids ...string) SubscribeOption {
	return func(s *Subscription) { s.filterIDs = append(s.filterIDs, ids...) }
}

// AsTranslator makes the subscription receive every publication regardless
// of filter ids.
func AsTranslator() SubscribeOption {
	return func(s *Subscription) { s.translator = true }
}

type publishOptions struct {
	filterID string
	from     *Subscription
}

// PublishOption customizes a publication.
type PublishOption func(*publishOptions)

// WithFilterID scopes a publication to subscribers of filterID.
func WithFilterID(filterID string) PublishOption {
	return func(o *publishOptions) { o.filterID = filterID }
}

// FromSubscriber skips delivery back to the publishing subscription.
func FromSubscriber(sub *Subscription) PublishOption {
	return func(o *publishOptions) { o.from = sub }
}

type entry struct {
	subscribers []*Subscription
	data        any
	hasData     bool
}

// Bus holds one entry per interactivity id. An entry exists while it has a
// subscriber or published data.
type Bus struct {
	mu      sync.Mutex
	entries map[string]*entry
	logger  loggingpkg.ServiceLogger

	// OnPublish, when set, is called after every publication.
	OnPublish func(id string)
}

// NewBus returns an empty bus. A nil logger discards output.
func NewBus(logger loggingpkg.ServiceLogger) *Bus {
	if logger == nil {
		logger = loggingpkg.NewNopLogger()
	}
	return &Bus{entries: make(map[string]*entry), logger: logger}
}

// Subscribe appends a subscriber to id. Previously published data is not
// replayed; call GetPublishedData to catch up.
func (b *Bus) Subscribe(id string, callback Callback, opts ...SubscribeOption) *Subscription {
	sub := &Subscription{callback: callback}
	for _, opt := range opts {
		opt(sub)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[id]
	if !ok {
		e = &entry{}
		b.entries[id] = e
	}
	e.subscribers = append(e.subscribers, sub)
	return sub
}

// Unsubscribe removes sub from id. The entry is dropped once it has neither
// subscribers nor data.
func (b *Bus) Unsubscribe(id string, sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[id]
	if !ok {
		return
	}
	if i := slices.Index(e.subscribers, sub); i >= 0 {
		e.subscribers = slices.Delete(e.subscribers, i, i+1)
	}
	if len(e.subscribers) == 0 && !e.hasData {
		delete(b.entries, id)
	}
}

// Publish replaces the data of id and delivers it to the current
// subscribers. Callbacks run synchronously, outside the bus lock.
func (b *Bus) Publish(id string, data any, opts ...PublishOption) {
	var o publishOptions
	for _, opt := range opts {
		opt(&o)
	}

	b.mu.Lock()
	e, ok := b.entries[id]
	if !ok {
		e = &entry{}
		b.entries[id] = e
	}
	e.data = data
	e.hasData = true
	recipients := make([]*Subscription, 0, len(e.subscribers))
	for _, sub := range e.subscribers {
		if sub == o.from || !sub.accepts(o.filterID) {
			continue
		}
		recipients = append(recipients, sub)
	}
	b.mu.Unlock()

	update := Update{InteractivityID: id, Data: data, FilterID: o.filterID}
	for _, sub := range recipients {
		b.deliver(sub, update)
	}
	if b.OnPublish != nil {
		b.OnPublish(id)
	}
}

func (b *Bus) deliver(sub *Subscription, update Update) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Debug("Interactivity subscriber panicked", loggingpkg.LogFields{"interactivity_id": update.InteractivityID, "panic": r})
		}
	}()
	if sub.callback != nil {
		sub.callback(update)
	}
}

// GetPublishedData returns the last data published to id.
func (b *Bus) GetPublishedData(id string) (any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.entries[id]
	if !ok || !e.hasData {
		return nil, false
	}
	return e.data, true
}

// Clear removes every entry.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries = make(map[string]*entry)
}

// TopicInfo describes one entry for inspection.
type TopicInfo struct {
	InteractivityID string `json:"interactivity_id"`
	Subscribers     int    `json:"subscribers"`
	HasData         bool   `json:"has_data"`
	Data            any    `json:"data,omitempty"`
}

// Topics lists the current entries sorted by id.
func (b *Bus) Topics() []TopicInfo {
	b.mu.Lock()
	defer b.mu.Unlock()

	topics := make([]TopicInfo, 0, len(b.entries))
	for id, e := range b.entries {
		topics = append(topics, TopicInfo{
			InteractivityID: id,
			Subscribers:     len(e.subscribers),
			HasData:         e.hasData,
			Data:            e.data,
		})
	}
	sort.Slice(topics, func(i, j int) bool { return topics[i].InteractivityID < topics[j].InteractivityID })
	return topics
}

// Len returns the number of entries.
func (b *Bus) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.entries)
}
