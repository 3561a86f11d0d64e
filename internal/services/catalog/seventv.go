package catalog

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/zentra/nbot/internal/models"
)

const searchEmotesQuery = `query SearchEmotes($query: String!, $page: Int, $limit: Int, $sort: Sort) {
	emotes(query: $query, page: $page, limit: $limit, sort: $sort) {
		items { id name animated }
	}
}`

// SevenTV looks up single emotes by name on 7TV. It is not a Catalog: the
// bot only asks it about names nothing else knows.
type SevenTV struct {
	baseURL    string
	cdnURL     string
	httpClient *http.Client
}

func NewSevenTV(baseURL, cdnURL string) *SevenTV {
	return &SevenTV{
		baseURL:    strings.TrimRight(baseURL, "/"),
		cdnURL:     strings.TrimRight(cdnURL, "/"),
		httpClient: newHTTPClient(),
	}
}

type gqlRequest struct {
	Query     string         `json:"query"`
	Variables map[string]any `json:"variables"`
}

type sevenTVSearch struct {
	Data struct {
		Emotes struct {
			Items []struct {
				ID       string `json:"id"`
				Name     string `json:"name"`
				Animated bool   `json:"animated"`
			} `json:"items"`
		} `json:"emotes"`
	} `json:"data"`
	Errors []struct {
		Message string `json:"message"`
	} `json:"errors"`
}

// Search returns the most popular emote whose name equals name, ignoring
// case. Only the top search result is considered.
func (s *SevenTV) Search(ctx context.Context, name string) (*models.EmoteRecord, error) {
	req := gqlRequest{
		Query: searchEmotesQuery,
		Variables: map[string]any{
			"query": name,
			"page":  1,
			"limit": 1,
			"sort":  map[string]string{"value": "popularity", "order": "DESCENDING"},
		},
	}

	var resp sevenTVSearch
	if err := postJSON(ctx, s.httpClient, s.baseURL+"/v3/gql", req, &resp); err != nil {
		return nil, fmt.Errorf("7tv search %q: %w", name, err)
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("%w: 7tv search %q: %s", ErrFetchFailed, name, resp.Errors[0].Message)
	}

	items := resp.Data.Emotes.Items
	if len(items) == 0 || !strings.EqualFold(items[0].Name, name) || items[0].ID == "" {
		return nil, ErrEmoteNotFound
	}

	top := items[0]
	ext := "png"
	if top.Animated {
		ext = "gif"
	}
	return &models.EmoteRecord{
		Name:     top.Name,
		ImageURL: fmt.Sprintf("%s/emote/%s/2x.%s", s.cdnURL, top.ID, ext),
		Source:   models.SourceSevenTV,
		Animated: top.Animated,
	}, nil
}
