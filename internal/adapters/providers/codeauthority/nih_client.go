package codeauthority

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/caretide/priorauth/internal/domain/providers"
)

const (
	defaultSearchURL   = "https://clinicaltables.nlm.nih.gov/api/icd10cm/v3/search"
	defaultHTTPTimeout = 8 * time.Second
	lookupCacheTTL     = 60 * 60 * 24
)

// NIHClient implements the CodeAuthorityProvider against the NIH Clinical
// Tables ICD-10-CM search API.
type NIHClient struct {
	baseURL    string
	httpClient *http.Client
	cache      providers.CacheProvider
}

// NewNIHClient creates a new code authority client.
func NewNIHClient(baseURL string, cache providers.CacheProvider) providers.CodeAuthorityProvider {
	return NewNIHClientWithOptions(baseURL, cache, nil)
}

// NewNIHClientWithOptions allows overriding the HTTP client (used for tests).
func NewNIHClientWithOptions(baseURL string, cache providers.CacheProvider, httpClient *http.Client) providers.CodeAuthorityProvider {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultSearchURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &NIHClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		cache:      cache,
	}
}

// LookupDiagnosisCode checks one ICD-10 code against the authority. The code
// is matched exactly against the returned code column; a non-empty result set
// without an exact match still means the code is unknown.
func (c *NIHClient) LookupDiagnosisCode(ctx context.Context, code string) (*providers.CodeLookup, error) {
	trimmed := strings.TrimSpace(code)
	if trimmed == "" {
		return nil, fmt.Errorf("diagnosis code is required")
	}

	cacheKey := "codeauth:icd10:" + strings.ToUpper(trimmed)
	if c.cache != nil {
		if cached, err := c.cache.Get(ctx, cacheKey); err == nil && len(cached) > 0 {
			var lookup providers.CodeLookup
			if err := json.Unmarshal(cached, &lookup); err == nil && lookup.Code != "" {
				return &lookup, nil
			}
		}
	}

	params := url.Values{}
	params.Set("sf", "code")
	params.Set("terms", trimmed)

	reqURL := fmt.Sprintf("%s?%s", c.baseURL, params.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build code lookup request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("code lookup request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("code lookup returned status %d", resp.StatusCode)
	}

	// The API answers with a positional array:
	// [total, [codes...], null, [[code, description]...]]
	var payload []json.RawMessage
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode code lookup response: %w", err)
	}
	if len(payload) < 4 {
		return nil, fmt.Errorf("malformed code lookup response")
	}

	var codes []string
	if err := json.Unmarshal(payload[1], &codes); err != nil {
		return nil, fmt.Errorf("malformed code list in lookup response: %w", err)
	}

	var displays [][]string
	if err := json.Unmarshal(payload[3], &displays); err != nil {
		return nil, fmt.Errorf("malformed display list in lookup response: %w", err)
	}

	lookup := &providers.CodeLookup{Code: trimmed}
	for i, candidate := range codes {
		if !strings.EqualFold(candidate, trimmed) {
			continue
		}
		lookup.Found = true
		if i < len(displays) && len(displays[i]) > 1 {
			lookup.Description = displays[i][1]
		}
		break
	}

	if c.cache != nil {
		if payload, err := json.Marshal(lookup); err == nil {
			_ = c.cache.Set(ctx, cacheKey, payload, lookupCacheTTL)
		}
	}

	return lookup, nil
}
