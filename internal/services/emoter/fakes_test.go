package emoter

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/zentra/nbot/internal/models"
	"github.com/zentra/nbot/internal/services/collection"
	"github.com/zentra/nbot/internal/services/directory"
	"github.com/zentra/nbot/internal/services/emotecache"
	"github.com/zentra/nbot/internal/services/rewriter"
	"github.com/zentra/nbot/internal/services/synclog"
)

const (
	ownerID = "100000000000000001"
	userID  = "100000000000000002"
	otherID = "100000000000000003"
)

type fakeDirectory struct {
	emotes   map[string]models.EmoteRecord
	disabled map[string]bool
	err      error
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{emotes: map[string]models.EmoteRecord{}, disabled: map[string]bool{}}
}

func (d *fakeDirectory) Get(_ context.Context, name string) (*models.EmoteRecord, error) {
	rec, ok := d.emotes[name]
	if !ok {
		return nil, directory.ErrEmoteNotFound
	}
	return &rec, nil
}

func (d *fakeDirectory) Add(_ context.Context, name, imageURL string, owner int64) (*models.EmoteRecord, error) {
	if _, ok := d.emotes[name]; ok {
		return nil, directory.ErrNameTaken
	}
	rec := models.EmoteRecord{Name: name, ImageURL: imageURL, Source: models.SourceUser, OwnerID: owner}
	d.emotes[name] = rec
	return &rec, nil
}

func (d *fakeDirectory) check(name string, owner int64, force bool) error {
	rec, ok := d.emotes[name]
	if !ok {
		return directory.ErrEmoteNotFound
	}
	if force {
		return nil
	}
	if rec.Source != models.SourceUser {
		return directory.ErrNotUserEmote
	}
	if rec.OwnerID != owner {
		return directory.ErrNotOwner
	}
	return nil
}

func (d *fakeDirectory) RemoveOwned(_ context.Context, name string, owner int64, force bool) error {
	if err := d.check(name, owner, force); err != nil {
		return err
	}
	delete(d.emotes, name)
	return nil
}

func (d *fakeDirectory) UpdateURL(_ context.Context, name, imageURL string, owner int64, force bool) error {
	if err := d.check(name, owner, force); err != nil {
		return err
	}
	rec := d.emotes[name]
	rec.ImageURL = imageURL
	d.emotes[name] = rec
	return nil
}

func (d *fakeDirectory) Random(context.Context) (*models.EmoteRecord, error) {
	for _, rec := range d.emotes {
		if !d.disabled[rec.Name] {
			return &rec, nil
		}
	}
	return nil, directory.ErrEmoteNotFound
}

func (d *fakeDirectory) Disable(_ context.Context, name string, _ int64) error {
	if d.disabled[name] {
		return directory.ErrAlreadyDisabled
	}
	d.disabled[name] = true
	return nil
}

func (d *fakeDirectory) Enable(_ context.Context, name string) error {
	if !d.disabled[name] {
		return directory.ErrNotDisabled
	}
	delete(d.disabled, name)
	return nil
}

func (d *fakeDirectory) Count(context.Context) (int64, error) {
	if d.err != nil {
		return 0, d.err
	}
	return int64(len(d.emotes)), nil
}

func (d *fakeDirectory) CountBySource(context.Context) (map[models.EmoteSource]int64, error) {
	counts := map[models.EmoteSource]int64{}
	for _, rec := range d.emotes {
		counts[rec.Source]++
	}
	return counts, nil
}

type fakeCache struct {
	mu          sync.Mutex
	status      emotecache.Status
	loadErr     error
	loads       int
	ensureCalls []int
	uploads     []string
	released    []string
	removed     []string
	purged      int
}

func (c *fakeCache) Load(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loads++
	if c.loadErr != nil {
		return c.loadErr
	}
	c.status.Loaded = true
	return nil
}

func (c *fakeCache) Status() emotecache.Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *fakeCache) EnsureSpace(_ context.Context, buffer int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureCalls = append(c.ensureCalls, buffer)
	return nil
}

func (c *fakeCache) UploadEmote(_ context.Context, name, _ string) (*models.CompoundEmote, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.uploads = append(c.uploads, name)
	return &models.CompoundEmote{Name: name, Slices: []models.CacheEntry{{ID: "1", Name: name}}}, nil
}

func (c *fakeCache) Release(names ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.released = append(c.released, names...)
}

func (c *fakeCache) Remove(_ context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.removed = append(c.removed, name)
	return nil
}

func (c *fakeCache) Purge(context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.purged++
	return 7, nil
}

type fakeCollection struct {
	checks  int
	updates int
	report  *collection.Report
	err     error
}

func (f *fakeCollection) CheckForUpdates(context.Context) (*collection.Report, error) {
	f.checks++
	return nil, f.err
}

func (f *fakeCollection) Update(context.Context) (*collection.Report, error) {
	f.updates++
	return f.report, f.err
}

type fakeCacheSync struct {
	checks  int
	updates int
	report  *emotecache.SyncReport
	err     error
}

func (f *fakeCacheSync) CheckForUpdates(context.Context) (*emotecache.SyncReport, error) {
	f.checks++
	return nil, f.err
}

func (f *fakeCacheSync) Update(context.Context) (*emotecache.SyncReport, error) {
	f.updates++
	return f.report, f.err
}

type fakeUsage struct {
	top []models.UsageCount
}

func (u fakeUsage) Top(_ context.Context, n int) ([]models.UsageCount, error) {
	if n < len(u.top) {
		return u.top[:n], nil
	}
	return u.top, nil
}

type fakeSyncLogs map[string]*models.SyncLog

func (l fakeSyncLogs) Get(_ context.Context, key string) (*models.SyncLog, error) {
	if entry, ok := l[key]; ok {
		return entry, nil
	}
	return nil, synclog.ErrLogNotFound
}

type fakeImages struct{}

func (fakeImages) Fetch(_ context.Context, url string) ([]byte, error) {
	switch url {
	case "https://img.example/ok.png":
		var buf bytes.Buffer
		if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 8, 8))); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case "https://img.example/page.html":
		return []byte("<html></html>"), nil
	}
	return nil, errors.New("not found")
}

type fakeRewriter struct {
	handled []*models.ChatMessage
}

func (r *fakeRewriter) Handle(_ context.Context, msg *models.ChatMessage) (*rewriter.Result, error) {
	r.handled = append(r.handled, msg)
	return nil, nil
}

type fakeConverter struct{}

func (fakeConverter) ChatMessage(_ context.Context, m *discordgo.Message) *models.ChatMessage {
	return &models.ChatMessage{ID: m.ID, GuildID: m.GuildID, ChannelID: m.ChannelID, Content: m.Content}
}

type harness struct {
	dir        *fakeDirectory
	cache      *fakeCache
	collection *fakeCollection
	cacheSync  *fakeCacheSync
	rewriter   *fakeRewriter
	logs       fakeSyncLogs
	module     *Module
}

func newHarness() *harness {
	h := &harness{
		dir:        newFakeDirectory(),
		cache:      &fakeCache{},
		collection: &fakeCollection{},
		cacheSync:  &fakeCacheSync{},
		rewriter:   &fakeRewriter{},
		logs:       fakeSyncLogs{},
	}
	h.module = NewModule(Deps{
		Rewriter:   h.rewriter,
		Converter:  fakeConverter{},
		Collection: h.collection,
		CacheSync:  h.cacheSync,
		Cache:      h.cache,
		Directory:  h.dir,
		Usage: fakeUsage{top: []models.UsageCount{
			{Name: "pog", Uses: 10},
			{Name: "kappa", Uses: 4},
		}},
		SyncLogs: h.logs,
		Images:   fakeImages{},
		IsOwner:  func(id string) bool { return id == ownerID },
	}, Options{Buffer: 8})
	return h
}
