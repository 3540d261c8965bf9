package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/TheCoderAdi/EchoPersona-Backend/internal/errors"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/llm"
	"github.com/TheCoderAdi/EchoPersona-Backend/internal/model"
)

const (
	maxProducts       = 8
	productSearchWait = 10 * time.Second
	noProductsMessage = "No products found. Try rephrasing."
)

const queryExtractionPrompt = "Extract a clean product search query from the user's shopping request. " +
	"Use the most relevant keywords and phrases and focus on the main product they are looking for. " +
	"Reply with the query only, for example 'I want to buy a new laptop for gaming' becomes 'gaming laptop'."

type ProductSearcher interface {
	Search(ctx context.Context, query string) ([]model.Product, error)
}

type ShoppingResult struct {
	Query    string          `json:"query"`
	Products []model.Product `json:"products"`
	Message  string          `json:"message,omitempty"`
}

type ShoppingService struct {
	plans     PremiumGate
	generator llm.Generator
	searcher  ProductSearcher
}

func NewShoppingService(plans PremiumGate, generator llm.Generator, searcher ProductSearcher) *ShoppingService {
	return &ShoppingService{plans: plans, generator: generator, searcher: searcher}
}

func (s *ShoppingService) Search(ctx context.Context, userID, prompt string) (*ShoppingResult, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, apperrors.MissingRequired("prompt")
	}
	if _, err := s.plans.RequirePremium(ctx, userID, "shopping"); err != nil {
		return nil, err
	}

	query, err := s.generator.Generate(ctx, llm.Request{
		System:   queryExtractionPrompt,
		Input:    prompt,
		Creative: true,
	})
	if err != nil {
		return nil, apperrors.UpstreamFailure("Query extraction", err)
	}
	query = strings.Trim(query, "\"' \n")

	products, err := s.searcher.Search(ctx, query)
	if err != nil {
		return nil, apperrors.External("product search", err)
	}
	if len(products) > maxProducts {
		products = products[:maxProducts]
	}

	result := &ShoppingResult{Query: query, Products: products}
	if len(products) == 0 {
		result.Products = []model.Product{}
		result.Message = noProductsMessage
	}

	log.Info().Str("userId", userID).Str("query", query).Int("results", len(products)).Msg("shopping search completed")
	return result, nil
}

// SerpAPIClient searches Google results through SerpAPI.
type SerpAPIClient struct {
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewSerpAPIClient(endpoint, apiKey string) *SerpAPIClient {
	return &SerpAPIClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: productSearchWait},
	}
}

type serpResult struct {
	ProductID any    `json:"product_id"`
	Position  any    `json:"position"`
	Title     string `json:"title"`
	Price     any    `json:"price"`
	Thumbnail string `json:"thumbnail"`
	Link      string `json:"link"`
}

type serpResponse struct {
	OrganicResults []serpResult `json:"organic_results"`
	Error          string       `json:"error"`
}

func (c *SerpAPIClient) Search(ctx context.Context, query string) ([]model.Product, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("product search is not configured")
	}

	params := url.Values{}
	params.Set("engine", "google")
	params.Set("q", query)
	params.Set("api_key", c.apiKey)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	start := time.Now()
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	var body serpResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("search failed with status %d: %s", resp.StatusCode, body.Error)
	}

	log.Debug().
		Str("query", query).
		Int("status", resp.StatusCode).
		Dur("elapsed", time.Since(start)).
		Msg("product search returned")

	products := make([]model.Product, 0, min(len(body.OrganicResults), maxProducts))
	for _, r := range body.OrganicResults {
		if len(products) == maxProducts {
			break
		}
		id := scalarString(r.ProductID)
		if id == "" {
			id = scalarString(r.Position)
		}
		products = append(products, model.Product{
			ID:      id,
			Name:    r.Title,
			Price:   scalarString(r.Price),
			Image:   r.Thumbnail,
			BuyLink: r.Link,
		})
	}
	return products, nil
}

// scalarString renders a JSON scalar that may arrive as a string or a number.
func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprint(t)
	}
}
