// Package emotecache manages the guild whose custom emoji slots serve as a
// live image cache for emotes.
package emotecache

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"regexp"
	"sort"
	"strconv"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/zentra/nbot/internal/metrics"
	"github.com/zentra/nbot/internal/models"
	"github.com/zentra/nbot/internal/utils"
	"github.com/zentra/nbot/pkg/imaging"
	"golang.org/x/sync/errgroup"
)

var (
	ErrUploadFailed     = errors.New("failed to upload emote")
	ErrCacheFull        = errors.New("no free emoji slots in the cache guild")
	ErrCacheUnavailable = errors.New("cache guild is not loaded")
	ErrNotCached        = errors.New("emote is not cached")
)

const (
	EventEmoteCached  = "EMOTE_CACHED"
	EventEmoteEvicted = "EMOTE_EVICTED"
	EventCachePurged  = "CACHE_PURGED"

	sliceSeparator = "__"
	// leaves room for the slice suffix inside the 32 character emoji name
	maxKeyLength = 29
	hashMarker   = "_h"
)

var (
	sliceNameRegex = regexp.MustCompile(`^(.+)__(\d+)$`)
	hashedKeyRegex = regexp.MustCompile(`_h[0-9a-f]{8}$`)
)

// Platform is the chat platform API for the cache guild.
type Platform interface {
	GuildEmojis(ctx context.Context) ([]models.CacheEntry, error)
	// EmojiLimit is the slot limit of each partition.
	EmojiLimit(ctx context.Context) (int, error)
	CreateEmoji(ctx context.Context, name string, image []byte, contentType string) (models.CacheEntry, error)
	DeleteEmoji(ctx context.Context, id string) error
}

type ImageFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

type Notifier interface {
	Publish(eventType string, payload any)
}

// Partition separates static and animated emoji, which have separate
// slot limits.
type Partition int

const (
	Static Partition = iota
	Animated
)

func (p Partition) String() string {
	if p == Animated {
		return "animated"
	}
	return "static"
}

func partitionOf(animated bool) Partition {
	if animated {
		return Animated
	}
	return Static
}

type Options struct {
	Buffer  int
	Imaging imaging.Options
}

type flight struct {
	done chan struct{}
	err  error
}

// Cache mirrors the cache guild. All capacity decisions happen under mu;
// network calls happen outside it.
type Cache struct {
	platform Platform
	images   ImageFetcher
	opts     Options
	metrics  *metrics.EmoterMetrics
	notifier Notifier

	mu       sync.Mutex
	loaded   bool
	limit    int
	entries  map[string]*models.CompoundEmote
	reserved [2]int
	pins     map[string]int
	inflight map[string]*flight
}

type Option func(*Cache)

func WithMetrics(m *metrics.EmoterMetrics) Option {
	return func(c *Cache) { c.metrics = m }
}

func WithNotifier(n Notifier) Option {
	return func(c *Cache) { c.notifier = n }
}

func New(platform Platform, images ImageFetcher, opts Options, options ...Option) *Cache {
	c := &Cache{
		platform: platform,
		images:   images,
		opts:     opts,
		entries:  make(map[string]*models.CompoundEmote),
		pins:     make(map[string]int),
		inflight: make(map[string]*flight),
	}
	for _, o := range options {
		o(c)
	}
	return c
}

// Key is the cache name of an emote. A name that is already a usable
// emoji name is its own key. Any other name, including one that would read
// back as a slice or as a hashed key, keeps a sanitized prefix and gets a
// hash of the full name appended, so distinct names get distinct keys.
func Key(name string) string {
	safe := utils.EmojiName(name)
	if safe == name && len(name) <= maxKeyLength &&
		!sliceNameRegex.MatchString(name) && !hashedKeyRegex.MatchString(name) {
		return name
	}

	h := fnv.New32a()
	h.Write([]byte(name))
	suffix := fmt.Sprintf("%s%08x", hashMarker, h.Sum32())
	if len(safe) > maxKeyLength-len(suffix) {
		safe = safe[:maxKeyLength-len(suffix)]
	}
	return safe + suffix
}

func sliceName(key string, i, n int) string {
	if n == 1 {
		return key
	}
	return key + sliceSeparator + strconv.Itoa(i)
}

// Load rebuilds the mirror from the guild. Emotes that are being uploaded
// while the guild is listed are left to their upload.
func (c *Cache) Load(ctx context.Context) error {
	c.mu.Lock()
	before := make(map[string]struct{}, len(c.entries))
	for key := range c.entries {
		before[key] = struct{}{}
	}
	c.mu.Unlock()

	limit, err := c.platform.EmojiLimit(ctx)
	if err != nil {
		return fmt.Errorf("failed to read emoji limit: %w", err)
	}
	emojis, err := c.platform.GuildEmojis(ctx)
	if err != nil {
		return fmt.Errorf("failed to list cache guild emojis: %w", err)
	}

	entries := groupEntries(emojis)

	c.mu.Lock()
	for key := range c.inflight {
		delete(entries, key)
	}
	// finished while the guild was listed
	for key, e := range c.entries {
		if _, ok := before[key]; !ok {
			entries[key] = e
		}
	}
	c.limit = limit
	c.entries = entries
	c.loaded = true
	c.mu.Unlock()

	c.publishSlots()
	log.Info().Int("emotes", len(entries)).Int("slots", len(emojis)).Int("limit", limit).Msg("Loaded cache guild")
	return nil
}

// groupEntries turns guild emojis back into compounds. Slices are only
// regrouped when they form a complete run 0..n-1 with n > 1; anything else
// stays a single emote under its own emoji name.
func groupEntries(emojis []models.CacheEntry) map[string]*models.CompoundEmote {
	type indexed struct {
		idx   int
		entry models.CacheEntry
	}

	entries := make(map[string]*models.CompoundEmote, len(emojis))
	single := func(e models.CacheEntry) {
		key := e.Name
		if _, taken := entries[key]; taken {
			// duplicate emoji names still hold a slot
			key = e.Name + "#" + e.ID
		}
		entries[key] = &models.CompoundEmote{Name: key, Slices: []models.CacheEntry{e}}
	}

	groups := make(map[string][]indexed)
	for _, e := range emojis {
		if m := sliceNameRegex.FindStringSubmatch(e.Name); m != nil {
			if idx, err := strconv.Atoi(m[2]); err == nil {
				groups[m[1]] = append(groups[m[1]], indexed{idx: idx, entry: e})
				continue
			}
		}
		single(e)
	}

	for key, group := range groups {
		sort.Slice(group, func(i, j int) bool { return group[i].idx < group[j].idx })
		_, taken := entries[key]
		complete := len(group) > 1 && !taken
		for i, g := range group {
			if g.idx != i {
				complete = false
				break
			}
		}
		if !complete {
			for _, g := range group {
				single(g.entry)
			}
			continue
		}

		compound := &models.CompoundEmote{Name: key}
		for _, g := range group {
			compound.Slices = append(compound.Slices, g.entry)
		}
		entries[key] = compound
	}
	return entries
}

// Lookup returns the cached compound for name without touching the network.
func (c *Cache) Lookup(name string) (*models.CompoundEmote, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[Key(name)]
	if !ok {
		return nil, false
	}
	return clone(e), true
}

// Acquire is Lookup that also pins the entry until Release.
func (c *Cache) Acquire(name string) (*models.CompoundEmote, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := Key(name)
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.pins[key]++
	return clone(e), true
}

// Release unpins entries returned by Acquire or UploadEmote.
func (c *Cache) Release(names ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, name := range names {
		key := Key(name)
		if c.pins[key] <= 1 {
			delete(c.pins, key)
		} else {
			c.pins[key]--
		}
	}
}

// UploadEmote makes name available in the cache guild from the image at
// url and returns it pinned. Wide images are split into slices that are
// uploaded together; if any slice fails, the others are deleted again.
func (c *Cache) UploadEmote(ctx context.Context, name, url string) (*models.CompoundEmote, error) {
	compound, _, err := c.Provide(ctx, name, url)
	return compound, err
}

// Provide is UploadEmote that also reports whether this call did the
// upload. It is false when the emote was resident or another caller
// uploaded it.
func (c *Cache) Provide(ctx context.Context, name, url string) (*models.CompoundEmote, bool, error) {
	key := Key(name)

	for {
		c.mu.Lock()
		if !c.loaded {
			c.mu.Unlock()
			return nil, false, ErrCacheUnavailable
		}
		if e, ok := c.entries[key]; ok {
			c.pins[key]++
			cp := clone(e)
			c.mu.Unlock()
			return cp, false, nil
		}
		if f, ok := c.inflight[key]; ok {
			c.mu.Unlock()
			select {
			case <-f.done:
			case <-ctx.Done():
				return nil, false, ctx.Err()
			}
			if f.err != nil {
				return nil, false, f.err
			}
			continue
		}

		f := &flight{done: make(chan struct{})}
		c.inflight[key] = f
		c.mu.Unlock()

		compound, err := c.upload(ctx, key, url)
		f.err = err
		close(f.done)
		return compound, err == nil, err
	}
}

func (c *Cache) upload(ctx context.Context, key, url string) (*models.CompoundEmote, error) {
	clearFlight := func() {
		c.mu.Lock()
		delete(c.inflight, key)
		c.mu.Unlock()
	}

	data, err := c.images.Fetch(ctx, url)
	if err != nil {
		clearFlight()
		c.metrics.RecordUpload(metrics.ResultError)
		return nil, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	prepared, err := imaging.Prepare(data, c.opts.Imaging)
	if err != nil {
		clearFlight()
		c.metrics.RecordUpload(metrics.ResultError)
		return nil, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	n := len(prepared.Cells)
	p := partitionOf(prepared.Animated)

	if err := c.reserve(ctx, p, n); err != nil {
		clearFlight()
		c.metrics.RecordUpload(metrics.ResultError)
		return nil, err
	}

	slices, err := c.createSlices(ctx, key, prepared)

	c.mu.Lock()
	c.reserved[p] -= n
	delete(c.inflight, key)
	var compound *models.CompoundEmote
	if err == nil {
		compound = &models.CompoundEmote{Name: key, Slices: slices}
		c.entries[key] = compound
		c.pins[key]++
		compound = clone(compound)
	}
	c.mu.Unlock()

	c.publishSlots()
	if err != nil {
		c.metrics.RecordUpload(metrics.ResultError)
		return nil, err
	}

	c.metrics.RecordUpload(metrics.ResultSuccess)
	c.publish(EventEmoteCached, map[string]any{"name": key, "slices": len(slices), "animated": prepared.Animated})
	log.Info().Str("emote", key).Int("slices", len(slices)).Bool("animated", prepared.Animated).Msg("Uploaded emote to cache")
	return compound, nil
}

// reserve holds n slots of partition p, evicting so that the buffer is
// still free once they are used.
func (c *Cache) reserve(ctx context.Context, p Partition, n int) error {
	need := c.opts.Buffer + n

	c.mu.Lock()
	victims := c.selectVictimsLocked(p, need)
	full := c.usedLocked(p)+c.reserved[p]+n > c.limit
	if !full {
		c.reserved[p] += n
	}
	c.mu.Unlock()

	if len(victims) > 0 {
		c.evict(ctx, p, victims)
	}
	if full {
		return ErrCacheFull
	}
	return nil
}

func (c *Cache) createSlices(ctx context.Context, key string, prepared *imaging.Prepared) ([]models.CacheEntry, error) {
	n := len(prepared.Cells)
	results := make([]models.CacheEntry, n)
	ok := make([]bool, n)

	var g errgroup.Group
	for i, cell := range prepared.Cells {
		i, cell := i, cell
		g.Go(func() error {
			entry, err := c.platform.CreateEmoji(ctx, sliceName(key, i, n), cell, prepared.ContentType)
			if err != nil {
				return err
			}
			results[i] = entry
			ok[i] = true
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		var uploaded []models.CacheEntry
		for i := range results {
			if ok[i] {
				uploaded = append(uploaded, results[i])
			}
		}
		if rbErr := c.deleteEntries(context.WithoutCancel(ctx), uploaded); rbErr != nil {
			log.Error().Err(rbErr).Str("emote", key).Msg("Failed to roll back partial upload")
		}
		log.Warn().Err(err).Str("emote", key).Int("rolledBack", len(uploaded)).Msg("Emote upload failed")
		return nil, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}

	return results, nil
}

// EnsureSpace evicts the oldest unpinned emotes until each partition has
// at least buffer free slots.
func (c *Cache) EnsureSpace(ctx context.Context, buffer int) error {
	var errs []error
	for _, p := range []Partition{Static, Animated} {
		c.mu.Lock()
		victims := c.selectVictimsLocked(p, buffer)
		c.mu.Unlock()

		if len(victims) > 0 {
			if err := c.evict(ctx, p, victims); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

func (c *Cache) usedLocked(p Partition) int {
	used := 0
	for _, e := range c.entries {
		if partitionOf(e.Animated()) == p {
			used += len(e.Slices)
		}
	}
	return used
}

// selectVictimsLocked removes from the mirror, oldest first, as many
// unpinned emotes of partition p as needed to leave need slots free.
// Slices of one compound are always evicted together.
func (c *Cache) selectVictimsLocked(p Partition, need int) []*models.CompoundEmote {
	excess := c.usedLocked(p) + c.reserved[p] - (c.limit - need)
	if excess <= 0 {
		return nil
	}

	var candidates []*models.CompoundEmote
	for key, e := range c.entries {
		if partitionOf(e.Animated()) == p && c.pins[key] == 0 {
			candidates = append(candidates, e)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i].Slices[0].CreatedAt, candidates[j].Slices[0].CreatedAt
		if a.Equal(b) {
			return candidates[i].Name < candidates[j].Name
		}
		return a.Before(b)
	})

	var victims []*models.CompoundEmote
	for _, e := range candidates {
		if excess <= 0 {
			break
		}
		victims = append(victims, e)
		excess -= len(e.Slices)
		delete(c.entries, e.Name)
	}

	if excess > 0 {
		log.Warn().Str("partition", p.String()).Int("short", excess).Msg("Cache guild slots held by in-flight emotes")
	}
	return victims
}

func (c *Cache) evict(ctx context.Context, p Partition, victims []*models.CompoundEmote) error {
	var slices []models.CacheEntry
	names := make([]string, 0, len(victims))
	for _, v := range victims {
		slices = append(slices, v.Slices...)
		names = append(names, v.Name)
	}

	err := c.deleteEntries(ctx, slices)
	c.metrics.RecordEviction(p.String(), len(slices))
	c.publishSlots()
	c.publish(EventEmoteEvicted, map[string]any{"names": names, "partition": p.String()})
	log.Info().Strs("emotes", names).Str("partition", p.String()).Msg("Evicted emotes from cache")
	return err
}

// deleteEntries deletes all entries concurrently, best effort.
func (c *Cache) deleteEntries(ctx context.Context, entries []models.CacheEntry) error {
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, e := range entries {
		wg.Add(1)
		go func(e models.CacheEntry) {
			defer wg.Done()
			if err := c.platform.DeleteEmoji(ctx, e.ID); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("delete %s: %w", e.Name, err))
				mu.Unlock()
			}
		}(e)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Remove deletes name from the guild regardless of pins.
func (c *Cache) Remove(ctx context.Context, name string) error {
	key := Key(name)

	c.mu.Lock()
	e, ok := c.entries[key]
	if ok {
		delete(c.entries, key)
	}
	c.mu.Unlock()

	if !ok {
		return nil
	}

	err := c.deleteEntries(ctx, e.Slices)
	c.publishSlots()
	return err
}

// Discard deletes name unless a message in flight still holds it.
func (c *Cache) Discard(ctx context.Context, name string) error {
	key := Key(name)

	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok || c.pins[key] > 0 {
		c.mu.Unlock()
		return nil
	}
	delete(c.entries, key)
	c.mu.Unlock()

	err := c.deleteEntries(ctx, e.Slices)
	c.publishSlots()
	return err
}

// Purge deletes every unpinned emote that is not being uploaded and
// returns how many were removed.
func (c *Cache) Purge(ctx context.Context) (int, error) {
	c.mu.Lock()
	var slices []models.CacheEntry
	removed := 0
	for key, e := range c.entries {
		if c.pins[key] > 0 || c.inflight[key] != nil {
			continue
		}
		slices = append(slices, e.Slices...)
		delete(c.entries, key)
		removed++
	}
	c.mu.Unlock()

	err := c.deleteEntries(ctx, slices)
	c.publishSlots()
	c.publish(EventCachePurged, map[string]any{"emotes": removed, "slots": len(slices)})
	log.Info().Int("emotes", removed).Int("slots", len(slices)).Msg("Purged cache guild")
	return removed, err
}

type PartitionStatus struct {
	Used     int `json:"used"`
	Reserved int `json:"reserved"`
	Free     int `json:"free"`
}

type Status struct {
	Loaded   bool            `json:"loaded"`
	Limit    int             `json:"limit"`
	Buffer   int             `json:"buffer"`
	Static   PartitionStatus `json:"static"`
	Animated PartitionStatus `json:"animated"`
	Pinned   int             `json:"pinned"`
	Emotes   []string        `json:"emotes"`
}

func (c *Cache) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{Loaded: c.loaded, Limit: c.limit, Buffer: c.opts.Buffer, Pinned: len(c.pins)}
	for i, ps := range []*PartitionStatus{&st.Static, &st.Animated} {
		p := Partition(i)
		ps.Used = c.usedLocked(p)
		ps.Reserved = c.reserved[p]
		ps.Free = c.limit - ps.Used - ps.Reserved
	}
	for key := range c.entries {
		st.Emotes = append(st.Emotes, key)
	}
	sort.Strings(st.Emotes)
	return st
}

func (c *Cache) publishSlots() {
	if c.metrics == nil {
		return
	}
	c.mu.Lock()
	static, animated, limit := c.usedLocked(Static), c.usedLocked(Animated), c.limit
	c.mu.Unlock()

	c.metrics.SetCacheSlots(Static.String(), static, limit)
	c.metrics.SetCacheSlots(Animated.String(), animated, limit)
}

func (c *Cache) publish(eventType string, payload any) {
	if c.notifier != nil {
		c.notifier.Publish(eventType, payload)
	}
}

func clone(e *models.CompoundEmote) *models.CompoundEmote {
	cp := &models.CompoundEmote{Name: e.Name, Slices: make([]models.CacheEntry, len(e.Slices))}
	copy(cp.Slices, e.Slices)
	return cp
}
