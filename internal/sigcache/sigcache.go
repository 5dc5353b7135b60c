// Package sigcache stores opaque continuation signatures across conversation
// turns. Reasoning upstreams attach a signature to each thinking block and to
// tool calls made while thinking; the next request must echo the signature
// back or the upstream rejects the conversation. Callers hold only the
// canonical conversation, which has nowhere to carry tool signatures, so the
// proxy remembers them here keyed by tool-use id and by thinking text.
package sigcache

import (
	"strings"
	"sync"
	"time"
)

// Family identifies a signature dialect. Signatures are not portable across
// families; IsCompatible gates reuse when a conversation switches models.
type Family string

const (
	// FamilyClaude signatures are validated leniently by the upstream and may
	// be substituted with the Sentinel when unknown.
	FamilyClaude Family = "claude"
	// FamilyGemini signatures are validated strictly and must round-trip
	// exactly.
	FamilyGemini Family = "gemini"
)

// Sentinel is the placeholder signature accepted by lenient validators when
// the real signature for a tool call is unknown.
const Sentinel = "skip_signature_validator"

// minSignatureLen filters out junk writes; real signatures are long opaque
// tokens and anything shorter is not worth caching.
const minSignatureLen = 16

// thinkingKeyLen bounds the thinking-text key. The first bytes of a thinking
// block are stable across retries while full blocks can be megabytes.
const thinkingKeyLen = 100

type entry struct {
	signature string
	family    Family
	created   time.Time
	expires   time.Time
}

// Cache is a TTL-bounded signature store. Tool and thinking signatures live
// in independently locked maps since they are written from different points
// of the stream pipeline and contention between them is pointless.
type Cache struct {
	ttl      time.Duration
	capacity int

	toolMu    sync.RWMutex
	byToolUse map[string]entry

	thinkingMu sync.RWMutex
	byThinking map[string]entry
}

// Option configures a Cache.
type Option func(*Cache)

// WithTTL overrides the default entry lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) { c.ttl = ttl }
}

// WithCapacity overrides the default per-map entry cap.
func WithCapacity(capacity int) Option {
	return func(c *Cache) { c.capacity = capacity }
}

var (
	defaultOnce  sync.Once
	defaultCache *Cache
)

// Default returns the shared process-wide cache. Providers constructed without
// an explicit cache use it, so signatures survive a model switch between
// independently built providers.
func Default() *Cache {
	defaultOnce.Do(func() { defaultCache = New() })
	return defaultCache
}

// New creates a signature cache. Defaults: 2 hour TTL, 10000 entries per map.
func New(opts ...Option) *Cache {
	c := &Cache{
		ttl:        2 * time.Hour,
		capacity:   10000,
		byToolUse:  make(map[string]entry),
		byThinking: make(map[string]entry),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StoreToolSignature records the signature for a tool-use id. Empty keys and
// implausibly short signatures are ignored.
func (c *Cache) StoreToolSignature(toolUseID, signature string, family Family) {
	if toolUseID == "" || len(signature) < minSignatureLen {
		return
	}

	c.toolMu.Lock()
	defer c.toolMu.Unlock()
	c.purgeLocked(c.byToolUse)
	now := time.Now()
	c.byToolUse[toolUseID] = entry{
		signature: signature,
		family:    family,
		created:   now,
		expires:   now.Add(c.ttl),
	}
}

// ToolSignature returns the cached signature for a tool-use id. Expired
// entries are removed on read.
func (c *Cache) ToolSignature(toolUseID string) (string, bool) {
	c.toolMu.Lock()
	defer c.toolMu.Unlock()

	e, ok := c.byToolUse[toolUseID]
	if !ok {
		return "", false
	}
	if time.Now().After(e.expires) {
		delete(c.byToolUse, toolUseID)
		return "", false
	}
	return e.signature, true
}

// ToolSignatureOrSentinel returns the cached signature for a tool-use id, or
// the Sentinel when none is cached. Only lenient families accept the
// sentinel; strict-family callers should use ToolSignature and omit the call
// from history instead.
func (c *Cache) ToolSignatureOrSentinel(toolUseID string) string {
	if signature, ok := c.ToolSignature(toolUseID); ok {
		return signature
	}
	return Sentinel
}

// StoreThinkingSignature records the signature for a thinking block, keyed by
// the block's leading text.
func (c *Cache) StoreThinkingSignature(thinkingText, signature string, family Family) {
	key := thinkingKey(thinkingText)
	if key == "" || len(signature) < minSignatureLen {
		return
	}

	c.thinkingMu.Lock()
	defer c.thinkingMu.Unlock()
	c.purgeLocked(c.byThinking)
	now := time.Now()
	c.byThinking[key] = entry{
		signature: signature,
		family:    family,
		created:   now,
		expires:   now.Add(c.ttl),
	}
}

// ThinkingSignature returns the cached signature for a thinking block.
func (c *Cache) ThinkingSignature(thinkingText string) (string, bool) {
	key := thinkingKey(thinkingText)
	if key == "" {
		return "", false
	}

	c.thinkingMu.Lock()
	defer c.thinkingMu.Unlock()

	e, ok := c.byThinking[key]
	if !ok {
		return "", false
	}
	if time.Now().After(e.expires) {
		delete(c.byThinking, key)
		return "", false
	}
	return e.signature, true
}

// IsCompatible reports whether a cached tool signature may be replayed to a
// target family. The sentinel is only compatible with lenient validators.
// The check is keyed by tool-use id rather than the signature value: the
// signature is an opaque token whose recorded family is only reachable
// through its cache entry.
func (c *Cache) IsCompatible(toolUseID string, target Family) bool {
	if target == FamilyClaude {
		return true
	}

	c.toolMu.RLock()
	defer c.toolMu.RUnlock()
	e, ok := c.byToolUse[toolUseID]
	if !ok {
		return false
	}
	return e.family == target && !time.Now().After(e.expires)
}

// purgeLocked enforces the capacity bound before an insert: expired entries
// go first, then the oldest-created quarter of what remains.
func (c *Cache) purgeLocked(m map[string]entry) {
	if len(m) < c.capacity {
		return
	}

	now := time.Now()
	for key, e := range m {
		if now.After(e.expires) {
			delete(m, key)
		}
	}
	if len(m) < c.capacity {
		return
	}

	evict := len(m) / 4
	if evict < 1 {
		evict = 1
	}
	type aged struct {
		key     string
		created time.Time
	}
	entries := make([]aged, 0, len(m))
	for key, e := range m {
		entries = append(entries, aged{key: key, created: e.created})
	}
	for i := 0; i < evict; i++ {
		oldest := i
		for j := i + 1; j < len(entries); j++ {
			if entries[j].created.Before(entries[oldest].created) {
				oldest = j
			}
		}
		entries[i], entries[oldest] = entries[oldest], entries[i]
		delete(m, entries[i].key)
	}
}

// thinkingKey derives the cache key from a thinking block's leading text.
func thinkingKey(text string) string {
	text = strings.TrimSpace(text)
	if len(text) > thinkingKeyLen {
		return text[:thinkingKeyLen]
	}
	return text
}
