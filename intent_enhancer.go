package shopassist

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sync"

	"github.com/shaharia-lab/shopassist/observability"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"
)

const (
	// DefaultEnhancerMaxScan is the number of prior human turns inspected per enhancement.
	DefaultEnhancerMaxScan = 5
	// DefaultEnhancerCacheSize bounds the per-message intent cache.
	DefaultEnhancerCacheSize = 1024
)

// IntentParser extracts an intent from message text and/or an image.
// *IntentExtractor is the production implementation.
type IntentParser interface {
	ExtractIntent(ctx context.Context, text string, image *ImagePart) (Intent, error)
}

// IntentEnhancer fills a product query's missing category from earlier human turns.
type IntentEnhancer struct {
	parser  IntentParser
	maxScan int
	cache   *intentCache
	group   singleflight.Group
	metrics *observability.Metrics
	log     Logger
}

// EnhancerOption configures an IntentEnhancer.
type EnhancerOption func(*IntentEnhancer)

// WithMaxScan caps how many prior human turns are re-extracted. Values below 1 are ignored.
func WithMaxScan(n int) EnhancerOption {
	return func(e *IntentEnhancer) {
		if n > 0 {
			e.maxScan = n
		}
	}
}

// WithCacheSize bounds the intent cache. Zero disables caching.
func WithCacheSize(n int) EnhancerOption {
	return func(e *IntentEnhancer) {
		e.cache = newIntentCache(n)
	}
}

// WithEnhancerMetrics records cache hits and misses.
func WithEnhancerMetrics(m *observability.Metrics) EnhancerOption {
	return func(e *IntentEnhancer) {
		e.metrics = m
	}
}

// WithEnhancerLogger sets the logger.
func WithEnhancerLogger(log Logger) EnhancerOption {
	return func(e *IntentEnhancer) {
		e.log = log
	}
}

// NewIntentEnhancer creates an enhancer that re-extracts history through parser.
func NewIntentEnhancer(parser IntentParser, opts ...EnhancerOption) *IntentEnhancer {
	e := &IntentEnhancer{
		parser:  parser,
		maxScan: DefaultEnhancerMaxScan,
		cache:   newIntentCache(DefaultEnhancerCacheSize),
		log:     NewNullLogger(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enhance returns current unchanged unless it is a product query without categories. In that
// case valid prior human messages are scanned newest first, skipping the just-submitted one,
// and the first extracted intent that is neither general chat nor error and carries a category
// donates its categories, plus tags and price range where current has none.
// A cancelled context aborts the scan with ctx.Err().
func (e *IntentEnhancer) Enhance(ctx context.Context, current Intent, allMessages []ChatMessage) (Intent, error) {
	if !current.NeedsCategory() {
		return current, nil
	}

	ctx, span := observability.StartSpan(ctx, "IntentEnhancer.Enhance")
	defer span.End()

	candidates := priorHumanMessages(ValidMessages(allMessages))

	scanned := 0
	for i := len(candidates) - 1; i >= 0 && scanned < e.maxScan; i-- {
		if err := ctx.Err(); err != nil {
			return current, err
		}
		scanned++

		historical, err := e.extract(ctx, candidates[i])
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return current, ctxErr
			}
			e.log.WithErr(err).Debug("Skipping history message whose intent could not be extracted")
			continue
		}

		if historical.IntentType == IntentGeneralChat || historical.IntentType == IntentError || len(historical.Categories) == 0 {
			continue
		}

		span.SetAttributes(attribute.Int("scanned", scanned), attribute.Bool("found", true))
		return mergeIntent(current, historical), nil
	}

	span.SetAttributes(attribute.Int("scanned", scanned), attribute.Bool("found", false))
	return current, nil
}

// priorHumanMessages returns the human messages before the last human message.
func priorHumanMessages(messages []ChatMessage) []ChatMessage {
	var humans []ChatMessage
	for _, m := range messages {
		if m.Role == HumanRole {
			humans = append(humans, m)
		}
	}
	if len(humans) == 0 {
		return nil
	}
	return humans[:len(humans)-1]
}

func mergeIntent(current, historical Intent) Intent {
	merged := current
	merged.Categories = append([]Category(nil), historical.Categories...)
	if len(merged.Tags) == 0 && len(historical.Tags) > 0 {
		merged.Tags = append([]string(nil), historical.Tags...)
	}
	if merged.PriceRange == nil && historical.PriceRange != nil {
		pr := *historical.PriceRange
		merged.PriceRange = &pr
	}
	return merged
}

func (e *IntentEnhancer) extract(ctx context.Context, msg ChatMessage) (Intent, error) {
	key := messageKey(msg)

	if intent, ok := e.cache.get(key); ok {
		e.metrics.CacheLookup(true)
		return intent, nil
	}
	e.metrics.CacheLookup(false)

	v, err, _ := e.group.Do(key, func() (interface{}, error) {
		intent, err := e.parser.ExtractIntent(ctx, JoinText(msg.Content), FirstImage(msg.Content))
		if err != nil {
			return Intent{}, err
		}
		e.cache.put(key, intent)
		return intent, nil
	})
	if err != nil {
		return Intent{}, err
	}
	return v.(Intent), nil
}

// messageKey identifies a stored message by role, content and timestamp.
func messageKey(msg ChatMessage) string {
	h := sha256.New()
	h.Write([]byte(msg.Role))
	for _, part := range msg.Content {
		switch p := part.(type) {
		case TextPart:
			h.Write([]byte{'t'})
			h.Write([]byte(p.Text))
		case ImagePart:
			h.Write([]byte{'i'})
			h.Write([]byte(p.MimeType))
			h.Write(p.Data)
		}
		h.Write([]byte{0})
	}
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(msg.Timestamp.UnixNano()))
	h.Write(ts[:])
	return hex.EncodeToString(h.Sum(nil))
}

// intentCache is a fixed-size LRU of extracted intents. A nil or zero-sized cache stores nothing.
type intentCache struct {
	mu      sync.Mutex
	size    int
	order   *list.List
	entries map[string]*list.Element
}

type intentCacheEntry struct {
	key    string
	intent Intent
}

func newIntentCache(size int) *intentCache {
	if size <= 0 {
		return nil
	}
	return &intentCache{
		size:    size,
		order:   list.New(),
		entries: make(map[string]*list.Element, size),
	}
}

func (c *intentCache) get(key string) (Intent, bool) {
	if c == nil {
		return Intent{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return Intent{}, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*intentCacheEntry).intent, true
}

func (c *intentCache) put(key string, intent Intent) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		el.Value.(*intentCacheEntry).intent = intent
		c.order.MoveToFront(el)
		return
	}

	c.entries[key] = c.order.PushFront(&intentCacheEntry{key: key, intent: intent})
	if c.order.Len() > c.size {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*intentCacheEntry).key)
	}
}

func (c *intentCache) len() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
