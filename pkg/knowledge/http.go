package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/convoflow/convoflow/pkg/utils"
)

// HTTPRetriever speaks the REST API of the external vector store. The
// store's internals (sharding, replication, embedding) are opaque here.
type HTTPRetriever struct {
	http    *utils.HTTPClient
	baseURL string
	apiKey  string
	timeout time.Duration
}

// NewHTTPRetriever creates a retriever client against the given base
// URL.
func NewHTTPRetriever(baseURL, apiKey string, timeout time.Duration) *HTTPRetriever {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPRetriever{
		http:    utils.NewHTTPClient(),
		baseURL: baseURL,
		apiKey:  apiKey,
		timeout: timeout,
	}
}

func (r *HTTPRetriever) Search(ctx context.Context, index, query, tenantID string, k int) ([]Result, error) {
	if tenantID == "" {
		return nil, ErrTenantRequired
	}

	resp, err := r.do(ctx, "POST", fmt.Sprintf("/indexes/%s/search", index), map[string]interface{}{
		"query":     query,
		"tenant_id": tenantID,
		"k":         k,
	})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Results []Result `json:"results"`
	}
	if err := json.Unmarshal(resp.RawBody, &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse search response: %w", err)
	}
	return parsed.Results, nil
}

func (r *HTTPRetriever) Add(ctx context.Context, index, tenantID string, doc Document) (string, error) {
	if tenantID == "" {
		return "", ErrTenantRequired
	}

	resp, err := r.do(ctx, "POST", fmt.Sprintf("/indexes/%s/documents", index), map[string]interface{}{
		"tenant_id": tenantID,
		"document":  doc,
	})
	if err != nil {
		return "", err
	}

	var parsed struct {
		DocumentID string `json:"document_id"`
	}
	if err := json.Unmarshal(resp.RawBody, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse add response: %w", err)
	}
	return parsed.DocumentID, nil
}

func (r *HTTPRetriever) Update(ctx context.Context, index, tenantID, docID string, doc Document) error {
	if tenantID == "" {
		return ErrTenantRequired
	}
	_, err := r.do(ctx, "PUT", fmt.Sprintf("/indexes/%s/documents/%s", index, docID), map[string]interface{}{
		"tenant_id": tenantID,
		"document":  doc,
	})
	return err
}

func (r *HTTPRetriever) Delete(ctx context.Context, index, tenantID, docID string) error {
	if tenantID == "" {
		return ErrTenantRequired
	}
	_, err := r.do(ctx, "DELETE", fmt.Sprintf("/indexes/%s/documents/%s", index, docID), map[string]interface{}{
		"tenant_id": tenantID,
	})
	return err
}

func (r *HTTPRetriever) Stats(ctx context.Context, index, tenantID string) (Stats, error) {
	if tenantID == "" {
		return Stats{}, ErrTenantRequired
	}

	resp, err := r.do(ctx, "GET", fmt.Sprintf("/indexes/%s/stats?tenant_id=%s", index, tenantID), nil)
	if err != nil {
		return Stats{}, err
	}

	var stats Stats
	if err := json.Unmarshal(resp.RawBody, &stats); err != nil {
		return Stats{}, fmt.Errorf("failed to parse stats response: %w", err)
	}
	return stats, nil
}

func (r *HTTPRetriever) do(ctx context.Context, method, path string, body interface{}) (*utils.HTTPResponse, error) {
	headers := map[string]string{}
	if r.apiKey != "" {
		headers["Authorization"] = fmt.Sprintf("Bearer %s", r.apiKey)
	}

	resp, err := r.http.Do(ctx, &utils.HTTPRequest{
		URL:     r.baseURL + path,
		Method:  method,
		Headers: headers,
		Body:    body,
		Timeout: r.timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("vector store request failed: %w", err)
	}
	if resp.StatusCode == 404 {
		return nil, ErrDocumentNotFound
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("vector store error (status %d)", resp.StatusCode)
	}
	return resp, nil
}
