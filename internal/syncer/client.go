package syncer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"dokonpos/internal/domain"
)

// Client talks to the shop server's HTTP API on behalf of a terminal.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

func NewClient(baseURL string, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method string, path string, body any, dest any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Error != "" {
			return fmt.Errorf("server returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}

	if dest == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}

// IngestBatch pushes a batch of offline sales and returns the per-sale
// outcomes.
func (c *Client) IngestBatch(ctx context.Context, req domain.BulkSaleRequest) (domain.BulkSaleResponse, error) {
	var resp domain.BulkSaleResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/receipts/bulk", req, &resp); err != nil {
		return domain.BulkSaleResponse{}, err
	}
	return resp, nil
}

// Health probes the server's health endpoint with a short deadline. Any
// failure counts as offline.
func (c *Client) Health(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// StaffReceipts fetches the server's current staff receipt list.
func (c *Client) StaffReceipts(ctx context.Context, status string) ([]domain.Receipt, error) {
	path := "/api/v1/receipts/staff"
	if status != "" {
		path += "?status=" + status
	}
	var resp struct {
		Receipts []domain.Receipt `json:"receipts"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Receipts, nil
}

// UpdateReceiptItems pushes a local line-item edit of a pending staff
// receipt to the server.
func (c *Client) UpdateReceiptItems(ctx context.Context, receiptID string, items []domain.ReceiptItem) (domain.Receipt, error) {
	var resp struct {
		Receipt domain.Receipt `json:"receipt"`
	}
	err := c.do(ctx, http.MethodPut, "/api/v1/receipts/"+receiptID+"/items", domain.ReceiptItemsUpdateRequest{Items: items}, &resp)
	if err != nil {
		return domain.Receipt{}, err
	}
	return resp.Receipt, nil
}
