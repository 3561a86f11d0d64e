package catalog

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/zentra/nbot/internal/models"
)

const (
	bttvPageSize = 100
	bttvCDN      = "https://cdn.betterttv.net/emote/"
)

var bttvSections = []string{"trending", "top"}

// BTTV pages through the shared trending and top listings of BetterTTV.
type BTTV struct {
	baseURL    string
	maxPages   int
	httpClient *http.Client
}

func NewBTTV(baseURL string, maxPages int) *BTTV {
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}
	return &BTTV{
		baseURL:    strings.TrimRight(baseURL, "/"),
		maxPages:   maxPages,
		httpClient: newHTTPClient(),
	}
}

func (b *BTTV) Source() models.EmoteSource { return models.SourceBTTV }

type bttvEntry struct {
	Emote struct {
		ID        string `json:"id"`
		Code      string `json:"code"`
		ImageType string `json:"imageType"`
	} `json:"emote"`
}

func (b *BTTV) Fetch(ctx context.Context, emit EmitFunc) error {
	for _, section := range bttvSections {
		for page := 0; page < b.maxPages; page++ {
			url := fmt.Sprintf("%s/3/emotes/shared/%s?offset=%d&limit=%d",
				b.baseURL, section, page*bttvPageSize, bttvPageSize)

			var entries []bttvEntry
			if err := getJSON(ctx, b.httpClient, url, &entries); err != nil {
				return fmt.Errorf("bttv %s page %d: %w", section, page, err)
			}
			if len(entries) == 0 {
				break
			}

			records := make([]models.EmoteRecord, 0, len(entries))
			for _, e := range entries {
				if e.Emote.ID == "" || e.Emote.Code == "" {
					continue
				}
				records = append(records, models.EmoteRecord{
					Name:     e.Emote.Code,
					ImageURL: bttvCDN + e.Emote.ID + "/2x",
					Source:   models.SourceBTTV,
					Animated: e.Emote.ImageType == "gif",
				})
			}

			if err := emit(records); err != nil {
				return err
			}
		}
	}
	return nil
}
