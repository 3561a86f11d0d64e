package emotecache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/zentra/nbot/internal/models"
	"github.com/zentra/nbot/pkg/imaging"
)

var errPlatform = errors.New("platform rejected emoji")

type fakePlatform struct {
	mu      sync.Mutex
	limit   int
	emojis  map[string]models.CacheEntry
	nextID  int
	clock   time.Time
	creates atomic.Int32
	deletes atomic.Int32
	// failName makes CreateEmoji fail for names containing it
	failName string
	delay    time.Duration
	// hold blocks CreateEmoji for that exact name: held is closed when
	// the call arrives and the call returns once release is closed
	hold    string
	held    chan struct{}
	release chan struct{}
}

func newFakePlatform(limit int) *fakePlatform {
	return &fakePlatform{
		limit:  limit,
		emojis: make(map[string]models.CacheEntry),
		clock:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func (p *fakePlatform) holdCreate(name string) {
	p.hold = name
	p.held = make(chan struct{})
	p.release = make(chan struct{})
}

// seed adds an existing emoji, each one newer than the previous.
func (p *fakePlatform) seed(name string, animated bool) models.CacheEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.addLocked(name, animated)
}

func (p *fakePlatform) addLocked(name string, animated bool) models.CacheEntry {
	p.nextID++
	p.clock = p.clock.Add(time.Minute)
	e := models.CacheEntry{ID: fmt.Sprintf("%d", 1000+p.nextID), Name: name, Animated: animated, CreatedAt: p.clock}
	p.emojis[e.ID] = e
	return e
}

func (p *fakePlatform) count(animated bool) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, e := range p.emojis {
		if e.Animated == animated {
			n++
		}
	}
	return n
}

func (p *fakePlatform) GuildEmojis(context.Context) ([]models.CacheEntry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]models.CacheEntry, 0, len(p.emojis))
	for _, e := range p.emojis {
		out = append(out, e)
	}
	return out, nil
}

func (p *fakePlatform) EmojiLimit(context.Context) (int, error) {
	return p.limit, nil
}

func (p *fakePlatform) CreateEmoji(_ context.Context, name string, _ []byte, contentType string) (models.CacheEntry, error) {
	p.creates.Add(1)
	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	if p.hold != "" && name == p.hold {
		close(p.held)
		<-p.release
	}
	if p.failName != "" && strings.Contains(name, p.failName) {
		return models.CacheEntry{}, errPlatform
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	animated := contentType == "image/gif"
	n := 0
	for _, e := range p.emojis {
		if e.Animated == animated {
			n++
		}
	}
	if n >= p.limit {
		return models.CacheEntry{}, errors.New("maximum number of emojis reached")
	}
	return p.addLocked(name, animated), nil
}

func (p *fakePlatform) DeleteEmoji(_ context.Context, id string) error {
	p.deletes.Add(1)
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.emojis[id]; !ok {
		return errors.New("unknown emoji")
	}
	delete(p.emojis, id)
	return nil
}

type fakeImages struct {
	images  map[string][]byte
	fetches atomic.Int32
}

func (f *fakeImages) Fetch(_ context.Context, url string) ([]byte, error) {
	f.fetches.Add(1)
	data, ok := f.images[url]
	if !ok {
		return nil, errors.New("404")
	}
	return data, nil
}

func pngOf(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: 80, B: uint8(y), A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func testImages(t *testing.T) *fakeImages {
	return &fakeImages{images: map[string][]byte{
		"https://cdn/square.png": pngOf(t, 96, 96),
		"https://cdn/wide.png":   pngOf(t, 288, 96),
	}}
}

func newTestCache(t *testing.T, p *fakePlatform, images ImageFetcher, buffer int) *Cache {
	t.Helper()
	c := New(p, images, Options{Buffer: buffer, Imaging: imaging.DefaultOptions()})
	require.NoError(t, c.Load(context.Background()))
	return c
}
