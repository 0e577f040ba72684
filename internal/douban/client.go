package douban

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Douban has no public API contract; the mobile rexxar endpoints answer
// plain GETs as long as the client looks like a phone browser and keeps a
// douban.com referer.
const (
	defaultBaseURL = "https://m.douban.com/rexxar/api/v2"
	userAgent      = "Mozilla/5.0 (iPhone; CPU iPhone OS 15_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/15.0 Mobile/15E148 Safari/604.1"
	referer        = "https://movie.douban.com/"
)

type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	return &Client{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// Item is one catalog entry as served to the rest of the portal.
type Item struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	PosterURL string `json:"poster"`
	Rate      string `json:"rate"`
	Year      string `json:"year"`
}

// ListResponse is a decoded page. Total comes straight from Douban and is
// unreliable across kinds; the browse loader ignores it for paging
// decisions.
type ListResponse struct {
	Items []Item
	Total int
}

// StatusError reports a non-200 upstream answer. Callers treat any
// StatusError as a recoverable fetch failure, never a reason to retry.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("douban: status %d body=%q", e.StatusCode, e.Body)
}

// CategoryQuery addresses one page of one category listing.
// Start must be a non-negative multiple of Limit.
type CategoryQuery struct {
	Kind     string // "movie" or "tv"
	Category string // primary selection, e.g. 热门, 豆瓣高分
	Type     string // secondary selection, e.g. 全部, 华语, 综艺
	Start    int
	Limit    int
}

func (q CategoryQuery) validate() error {
	if q.Kind != "movie" && q.Kind != "tv" {
		return fmt.Errorf("douban: unsupported kind %q", q.Kind)
	}
	if q.Limit <= 0 {
		return fmt.Errorf("douban: limit must be positive")
	}
	if q.Start < 0 || q.Start%q.Limit != 0 {
		return fmt.Errorf("douban: start %d must be a non-negative multiple of limit %d", q.Start, q.Limit)
	}
	return nil
}

// rexxar payload subset. Fields beyond these vary per kind and are ignored.
type recommendPayload struct {
	Total int `json:"total"`
	Items []struct {
		ID    string `json:"id"`
		Title string `json:"title"`
		Year  string `json:"year"`
		Type  string `json:"type"`
		Pic   struct {
			Large  string `json:"large"`
			Normal string `json:"normal"`
		} `json:"pic"`
		Rating struct {
			Value float64 `json:"value"`
		} `json:"rating"`
	} `json:"items"`
}

// Categories fetches one page of the recommend listing for a category
// selection.
func (c *Client) Categories(ctx context.Context, q CategoryQuery) (*ListResponse, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}

	sel, _ := json.Marshal(selectedCategories(q))
	params := url.Values{}
	params.Set("refresh", "0")
	params.Set("start", strconv.Itoa(q.Start))
	params.Set("count", strconv.Itoa(q.Limit))
	params.Set("selected_categories", string(sel))
	params.Set("uncollect", "false")
	params.Set("tags", tags(q))

	endpoint := fmt.Sprintf("%s/%s/recommend?%s", c.BaseURL, q.Kind, params.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Referer", referer)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{StatusCode: resp.StatusCode, Body: string(b[:min(len(b), 200)])}
	}

	var payload recommendPayload
	if err := json.Unmarshal(b, &payload); err != nil {
		return nil, fmt.Errorf("douban: decode error: %w body=%q", err, string(b[:min(len(b), 200)]))
	}

	out := &ListResponse{Total: payload.Total}
	for _, it := range payload.Items {
		// Douban mixes ad cards into recommend pages; they carry no id.
		if it.ID == "" {
			continue
		}
		poster := it.Pic.Normal
		if poster == "" {
			poster = it.Pic.Large
		}
		rate := ""
		if it.Rating.Value > 0 {
			rate = strconv.FormatFloat(it.Rating.Value, 'f', 1, 64)
		}
		out.Items = append(out.Items, Item{
			ID:        it.ID,
			Title:     it.Title,
			PosterURL: poster,
			Rate:      rate,
			Year:      it.Year,
		})
	}
	return out, nil
}

// selectedCategories builds the filter object the recommend endpoint
// expects. Keys are the Chinese facet names Douban uses.
func selectedCategories(q CategoryQuery) map[string]string {
	sel := map[string]string{}
	if q.Category != "" && q.Category != "all" {
		if q.Kind == "tv" && (q.Category == "show") {
			sel["形式"] = "综艺"
		} else {
			sel["类型"] = q.Category
		}
	}
	if q.Type != "" && q.Type != "all" && q.Type != q.Category {
		sel["地区"] = q.Type
	}
	return sel
}

func tags(q CategoryQuery) string {
	parts := make([]string, 0, 2)
	if q.Category != "" && q.Category != "all" && q.Category != "show" {
		parts = append(parts, q.Category)
	}
	if q.Type != "" && q.Type != "all" && q.Type != q.Category {
		parts = append(parts, q.Type)
	}
	return strings.Join(parts, ",")
}
