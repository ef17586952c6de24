package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// TainacanClient talks to the Tainacan REST API (wp-json/tainacan/v2).
type TainacanClient struct {
	baseURL    string
	httpClient *http.Client
}

// Compile-time check that TainacanClient implements Adapter.
var _ Adapter = (*TainacanClient)(nil)

// NewTainacanClient creates a client targeting the given API base URL,
// e.g. "https://museum.example.org/wp-json/tainacan/v2".
func NewTainacanClient(baseURL string) *TainacanClient {
	return &TainacanClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// wireCollection mirrors the JSON returned by GET /collections/{id}.
type wireCollection struct {
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
	URL         string `json:"url"`
	ItemsCount  int    `json:"items_count"`
}

// GetCollection returns collection info from GET /collections/{id}.
func (c *TainacanClient) GetCollection(ctx context.Context, id int64) (Collection, error) {
	url := fmt.Sprintf("%s/collections/%d", c.baseURL, id)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Collection{}, fmt.Errorf("creating collection request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Collection{}, fmt.Errorf("fetching collection %d: %w", id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Collection{}, fmt.Errorf("collection %d: %w", id, ErrCollectionNotFound)
	}
	if resp.StatusCode != http.StatusOK {
		return Collection{}, fmt.Errorf("fetching collection %d: unexpected status %d", id, resp.StatusCode)
	}

	var wire wireCollection
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return Collection{}, fmt.Errorf("decoding collection %d: %w", id, err)
	}
	if wire.ID == 0 {
		return Collection{}, fmt.Errorf("collection %d: %w", id, ErrCollectionNotFound)
	}

	return Collection{
		ID:          wire.ID,
		Name:        wire.Name,
		Description: wire.Description,
		URL:         wire.URL,
		ItemsCount:  wire.ItemsCount,
	}, nil
}

// wireMetadata is a single metadata value on an item. Tainacan returns the
// metadata field either as an object keyed by slug or as an array, depending
// on version; metadataSet accepts both.
type wireMetadata struct {
	Name          string `json:"name"`
	ValueAsString string `json:"value_as_string"`
}

type metadataSet []wireMetadata

func (m *metadataSet) UnmarshalJSON(data []byte) error {
	var asList []wireMetadata
	if err := json.Unmarshal(data, &asList); err == nil {
		*m = asList
		return nil
	}

	var asMap map[string]wireMetadata
	if err := json.Unmarshal(data, &asMap); err != nil {
		return err
	}
	for _, v := range asMap {
		*m = append(*m, v)
	}
	return nil
}

// wireItem mirrors one item in the items page response.
type wireItem struct {
	ID          int64       `json:"id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Metadata    metadataSet `json:"metadata"`
	URL         string      `json:"url"`
}

// itemsResponse mirrors the JSON returned by GET /collection/{id}/items.
type itemsResponse struct {
	Items []wireItem `json:"items"`
}

// GetCollectionItems returns one page of items from
// GET /collection/{id}/items?perpage={perPage}&paged={page}.
func (c *TainacanClient) GetCollectionItems(ctx context.Context, id int64, perPage, page int) ([]Item, error) {
	url := fmt.Sprintf("%s/collection/%d/items?perpage=%d&paged=%d", c.baseURL, id, perPage, page)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating items request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching items for collection %d: %w", id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching items for collection %d: unexpected status %d", id, resp.StatusCode)
	}

	var wire itemsResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, fmt.Errorf("decoding items for collection %d: %w", id, err)
	}

	items := make([]Item, 0, len(wire.Items))
	for _, wi := range wire.Items {
		metadata := make(map[string]string)
		for _, meta := range wi.Metadata {
			if meta.Name == "" || meta.ValueAsString == "" {
				continue
			}
			metadata[meta.Name] = meta.ValueAsString
		}
		items = append(items, Item{
			ID:          wi.ID,
			Title:       wi.Title,
			Description: wi.Description,
			Metadata:    metadata,
			URL:         wi.URL,
		})
	}

	return items, nil
}
