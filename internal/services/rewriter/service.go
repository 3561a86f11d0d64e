// Package rewriter replaces $name tokens in chat messages with inline
// emoji and reposts the message as its author.
package rewriter

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/zentra/nbot/internal/metrics"
	"github.com/zentra/nbot/internal/models"
	"github.com/zentra/nbot/internal/services/catalog"
	"github.com/zentra/nbot/internal/utils"
	"github.com/zentra/nbot/pkg/imaging"
)

const EventMessageRewritten = "MESSAGE_REWRITTEN"

// Cache is the subset of emotecache.Cache the rewriter depends on
type Cache interface {
	Acquire(name string) (*models.CompoundEmote, bool)
	// Provide uploads name if needed and reports whether this call
	// created the cache entry.
	Provide(ctx context.Context, name, url string) (*models.CompoundEmote, bool, error)
	Release(names ...string)
	Discard(ctx context.Context, name string) error
}

// Directory is the subset of directory.Service the rewriter depends on
type Directory interface {
	FindByNames(ctx context.Context, names []string) (map[string]models.EmoteRecord, error)
	DisabledAmong(ctx context.Context, names []string) (map[string]bool, error)
}

// EmoteFinder looks up a single emote outside the directory.
type EmoteFinder interface {
	Search(ctx context.Context, name string) (*models.EmoteRecord, error)
}

type UsageLedger interface {
	Increment(ctx context.Context, names []string) error
}

type Poster interface {
	Repost(ctx context.Context, msg *models.ChatMessage, content string, file *models.Attachment) error
}

type MessageDeleter interface {
	DeleteMessage(ctx context.Context, channelID, messageID string) error
}

type ImageFetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

type Notifier interface {
	Publish(eventType string, payload any)
}

type Options struct {
	// RetainOnDemand keeps emotes uploaded for a message in the cache
	// instead of deleting them after the repost.
	RetainOnDemand bool
	// AttachSingle reposts a message that is a single uncached token
	// with the image attached instead of uploading it.
	AttachSingle bool
}

// Deps groups the collaborators of Service. Fallback may be nil.
type Deps struct {
	Cache     Cache
	Directory Directory
	Usage     UsageLedger
	Poster    Poster
	Deleter   MessageDeleter
	Images    ImageFetcher
	Fallback  EmoteFinder
	Metrics   *metrics.EmoterMetrics
	Notifier  Notifier
}

// Result describes what happened to one message. External names were
// found by the fallback finder and do not count as usage.
type Result struct {
	MessageID     string   `json:"messageId"`
	ChannelID     string   `json:"channelId"`
	CacheHits     []string `json:"cacheHits"`
	DirectoryHits []string `json:"directoryHits"`
	External      []string `json:"external,omitempty"`
	Unresolved    []string `json:"unresolved,omitempty"`
	Attached      bool     `json:"attached"`
	Reposted      bool     `json:"reposted"`
}

// Resolved lists the substituted names that count as usage.
func (r *Result) Resolved() []string {
	out := make([]string, 0, len(r.CacheHits)+len(r.DirectoryHits))
	out = append(out, r.CacheHits...)
	return append(out, r.DirectoryHits...)
}

type Service struct {
	deps Deps
	opts Options
}

func NewService(deps Deps, opts Options) *Service {
	return &Service{deps: deps, opts: opts}
}

// Handle runs the rewrite pipeline for msg. It returns a nil result when
// the message has nothing to rewrite.
func (s *Service) Handle(ctx context.Context, msg *models.ChatMessage) (*Result, error) {
	if msg.Author.Bot || msg.WebhookID != "" {
		return nil, nil
	}

	names := Scan(msg.Content)
	if len(names) == 0 {
		return nil, nil
	}

	disabled, err := s.deps.Directory.DisabledAmong(ctx, names)
	if err != nil {
		return nil, fmt.Errorf("failed to check disabled emotes: %w", err)
	}
	if len(disabled) > 0 {
		enabled := names[:0:0]
		for _, n := range names {
			if !disabled[n] {
				enabled = append(enabled, n)
			}
		}
		names = enabled
	}
	if len(names) == 0 {
		return nil, nil
	}

	res := &Result{MessageID: msg.ID, ChannelID: msg.ChannelID}
	replacements := make(map[string]string, len(names))
	var pinned []string
	defer func() {
		if len(pinned) > 0 {
			s.deps.Cache.Release(pinned...)
		}
	}()

	var misses []string
	for _, name := range names {
		if compound, ok := s.deps.Cache.Acquire(name); ok {
			replacements[name] = compound.String()
			res.CacheHits = append(res.CacheHits, name)
			pinned = append(pinned, name)
		} else {
			misses = append(misses, name)
		}
	}

	if len(misses) > 0 {
		if single, ok := SingleToken(msg.Content); ok && s.opts.AttachSingle && len(res.CacheHits) == 0 {
			return s.attachSingle(ctx, msg, single)
		}

		hits, created, err := s.resolveFromDirectory(ctx, misses, replacements)
		if err != nil {
			log.Warn().Err(err).Str("messageId", msg.ID).Msg("Directory lookup failed, using cached emotes only")
		}
		res.DirectoryHits = hits
		if s.opts.RetainOnDemand {
			created = nil
		}
		temporary := make(map[string]bool, len(created))
		for _, name := range created {
			temporary[name] = true
		}
		for _, name := range hits {
			if !temporary[name] {
				pinned = append(pinned, name)
			}
		}
		// only what this message uploaded; other emotes stay resident
		if len(created) > 0 {
			defer s.discard(ctx, created)
		}
	}

	for _, name := range names {
		if _, ok := replacements[name]; !ok {
			res.Unresolved = append(res.Unresolved, name)
		}
	}

	if len(replacements) == 0 {
		return res, nil
	}

	content := Substitute(msg.Content, replacements)
	if err := s.deps.Poster.Repost(ctx, msg, content, nil); err != nil {
		return res, fmt.Errorf("failed to repost message: %w", err)
	}
	res.Reposted = true

	s.finish(ctx, msg, res)
	return res, nil
}

// resolveFromDirectory uploads every miss that the directory knows about,
// concurrently. Failed uploads are dropped from the result. created lists
// the hits whose cache entry was made by this call.
func (s *Service) resolveFromDirectory(ctx context.Context, misses []string, replacements map[string]string) (hits, created []string, err error) {
	records, err := s.deps.Directory.FindByNames(ctx, misses)
	if err != nil {
		return nil, nil, err
	}
	if len(records) == 0 {
		return nil, nil, nil
	}

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for _, name := range misses {
		rec, ok := records[name]
		if !ok {
			continue
		}
		wg.Add(1)
		go func(name, url string) {
			defer wg.Done()
			compound, fresh, err := s.deps.Cache.Provide(ctx, name, url)
			if err != nil {
				log.Warn().Err(err).Str("emote", name).Msg("On-demand upload failed")
				return
			}
			mu.Lock()
			replacements[name] = compound.String()
			hits = append(hits, name)
			if fresh {
				created = append(created, name)
			}
			mu.Unlock()
		}(name, rec.ImageURL)
	}
	wg.Wait()

	return hits, created, nil
}

// attachSingle reposts a lone uncached token as an image attachment.
func (s *Service) attachSingle(ctx context.Context, msg *models.ChatMessage, name string) (*Result, error) {
	res := &Result{MessageID: msg.ID, ChannelID: msg.ChannelID}

	records, err := s.deps.Directory.FindByNames(ctx, []string{name})
	if err != nil {
		return nil, fmt.Errorf("failed to look up emote: %w", err)
	}
	rec, ok := records[name]
	external := false
	if !ok && s.deps.Fallback != nil {
		found, err := s.deps.Fallback.Search(ctx, name)
		switch {
		case err == nil:
			rec, ok, external = *found, true, true
		case !errors.Is(err, catalog.ErrEmoteNotFound):
			log.Warn().Err(err).Str("emote", name).Msg("Fallback emote search failed")
		}
	}
	if !ok {
		res.Unresolved = []string{name}
		return res, nil
	}

	data, err := s.deps.Images.Fetch(ctx, rec.ImageURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch emote image: %w", err)
	}

	contentType := imaging.ContentType(data)
	file := &models.Attachment{
		Name:        utils.EmojiName(name) + "." + strings.TrimPrefix(contentType, "image/"),
		ContentType: contentType,
		Data:        data,
	}
	if err := s.deps.Poster.Repost(ctx, msg, "", file); err != nil {
		return res, fmt.Errorf("failed to repost message: %w", err)
	}

	if external {
		res.External = []string{name}
	} else {
		res.DirectoryHits = []string{name}
	}
	res.Attached = true
	res.Reposted = true
	s.finish(ctx, msg, res)
	return res, nil
}

// finish deletes the original message and records usage.
func (s *Service) finish(ctx context.Context, msg *models.ChatMessage, res *Result) {
	if err := s.deps.Deleter.DeleteMessage(ctx, msg.ChannelID, msg.ID); err != nil {
		log.Warn().Err(err).Str("messageId", msg.ID).Msg("Failed to delete original message")
	}

	if err := s.deps.Usage.Increment(ctx, res.Resolved()); err != nil {
		log.Warn().Err(err).Msg("Failed to record emote usage")
	}

	s.deps.Metrics.RecordRewrite(len(res.CacheHits), len(res.DirectoryHits))
	if s.deps.Notifier != nil {
		s.deps.Notifier.Publish(EventMessageRewritten, res)
	}

	log.Debug().
		Str("messageId", msg.ID).
		Strs("cache", res.CacheHits).
		Strs("directory", res.DirectoryHits).
		Bool("attached", res.Attached).
		Msg("Message rewritten")
}

// discard deletes temporary uploads once their pins are released.
func (s *Service) discard(ctx context.Context, names []string) {
	s.deps.Cache.Release(names...)
	ctx = context.WithoutCancel(ctx)
	for _, name := range names {
		if err := s.deps.Cache.Discard(ctx, name); err != nil {
			log.Warn().Err(err).Str("emote", name).Msg("Failed to delete temporary emote")
		}
	}
}
