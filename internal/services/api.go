// API service for making raw HTTP requests against the Label Studio REST API
package services

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
	"golang.org/x/oauth2"
)

// APIService makes raw requests against a Label Studio server and hands back the response untouched.
//
// Authentication is carried by the supplied [http.Client], typically the result of [NewAuthorizedClient].
type APIService struct {
	baseURL    string
	httpClient *http.Client
	rest       *resty.Client
}

// NewAPIService creates a new raw API service rooted at baseURL.
func NewAPIService(baseURL string, client *http.Client) *APIService {
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	rest := resty.New()
	if client != nil {
		rest = resty.NewWithClient(client)
	}

	return &APIService{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: rest.GetClient(),
		rest:       rest,
	}
}

// NewAuthorizedClient wraps an [oauth2.TokenSource] (such as [TokenCache]) in an HTTP client that sets the bearer
// header on every request.
func NewAuthorizedClient(ctx context.Context, src oauth2.TokenSource) *http.Client {
	return oauth2.NewClient(ctx, src)
}

// APIResponse represents a raw API response with status and body.
type APIResponse struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	IsJSON     bool
	JSONData   any
}

// Get performs a GET request to the specified path and returns the raw response.
func (a *APIService) Get(ctx context.Context, path string) (*APIResponse, error) {
	resp, err := a.rest.R().
		SetContext(ctx).
		SetHeader("Accept", "application/json").
		Get(a.baseURL + path)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return newAPIResponse(resp), nil
}

// Post performs a POST request with the given JSON data and returns the raw response.
func (a *APIService) Post(ctx context.Context, path string, data []byte) (*APIResponse, error) {
	resp, err := a.rest.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json").
		SetBody(data).
		Post(a.baseURL + path)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return newAPIResponse(resp), nil
}

func newAPIResponse(resp *resty.Response) *APIResponse {
	body := resp.Body()
	apiResp := &APIResponse{
		StatusCode: resp.StatusCode(),
		Headers:    resp.Header(),
		Body:       body,
	}

	var jsonData any
	if err := json.Unmarshal(body, &jsonData); err == nil {
		apiResp.IsJSON = true
		apiResp.JSONData = jsonData
	}
	return apiResp
}
