package catalog

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/zentra/nbot/internal/models"
)

const ffzPageSize = 200

// FFZ pages through FrankerFaceZ emoticons sorted by usage.
type FFZ struct {
	baseURL    string
	maxPages   int
	httpClient *http.Client
}

func NewFFZ(baseURL string, maxPages int) *FFZ {
	if maxPages <= 0 {
		maxPages = defaultMaxPages
	}
	return &FFZ{
		baseURL:    strings.TrimRight(baseURL, "/"),
		maxPages:   maxPages,
		httpClient: newHTTPClient(),
	}
}

func (f *FFZ) Source() models.EmoteSource { return models.SourceFFZ }

type ffzPage struct {
	Pages     int `json:"_pages"`
	Emoticons []struct {
		Name string            `json:"name"`
		URLs map[string]string `json:"urls"`
	} `json:"emoticons"`
}

func (f *FFZ) Fetch(ctx context.Context, emit EmitFunc) error {
	for page := 1; page <= f.maxPages; page++ {
		url := fmt.Sprintf("%s/v1/emoticons?high_dpi=off&sort=count-desc&per_page=%d&page=%d",
			f.baseURL, ffzPageSize, page)

		var body ffzPage
		if err := getJSON(ctx, f.httpClient, url, &body); err != nil {
			return fmt.Errorf("ffz page %d: %w", page, err)
		}
		if len(body.Emoticons) == 0 {
			return nil
		}

		records := make([]models.EmoteRecord, 0, len(body.Emoticons))
		for _, e := range body.Emoticons {
			imageURL := e.URLs["2"]
			if imageURL == "" {
				imageURL = e.URLs["1"]
			}
			if e.Name == "" || imageURL == "" {
				continue
			}
			if strings.HasPrefix(imageURL, "//") {
				imageURL = "https:" + imageURL
			}
			records = append(records, models.EmoteRecord{
				Name:     e.Name,
				ImageURL: imageURL,
				Source:   models.SourceFFZ,
			})
		}

		if err := emit(records); err != nil {
			return err
		}

		if body.Pages > 0 && page >= body.Pages {
			return nil
		}
	}
	return nil
}
