package proofstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yangwenmai/oracle-avs/internal/model"
)

// IPFSStore publishes through an IPFS node's HTTP API and reads back through
// a gateway. Content ids are the node's CIDs, not sha256 digests.
type IPFSStore struct {
	apiURL     string
	gatewayURL string
	httpClient *http.Client
}

// IPFSOption configures an IPFSStore.
type IPFSOption func(*IPFSStore)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) IPFSOption {
	return func(s *IPFSStore) { s.httpClient = c }
}

// NewIPFSStore creates a store for the node at apiURL (e.g.
// http://localhost:5001) and the gateway at gatewayURL (e.g.
// https://ipfs.io/ipfs/).
func NewIPFSStore(apiURL, gatewayURL string, opts ...IPFSOption) *IPFSStore {
	if !strings.HasSuffix(gatewayURL, "/") {
		gatewayURL += "/"
	}
	s := &IPFSStore{
		apiURL:     strings.TrimRight(apiURL, "/"),
		gatewayURL: gatewayURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

type ipfsAddResponse struct {
	Hash string `json:"Hash"`
}

func (s *IPFSStore) Put(ctx context.Context, data []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", "data.json")
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	endpoint := s.apiURL + "/api/v0/add?pin=true&cid-version=1"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("ipfs add: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read ipfs response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("ipfs add: HTTP %d: %s", resp.StatusCode, string(raw))
	}
	var out ipfsAddResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode ipfs response: %w", err)
	}
	if out.Hash == "" {
		return "", fmt.Errorf("ipfs add: empty hash in response")
	}
	return out.Hash, nil
}

func (s *IPFSStore) Get(ctx context.Context, cid string) ([]byte, error) {
	if cid == "" {
		return nil, fmt.Errorf("%w: empty cid", model.ErrProofNotFound)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.gatewayURL+url.PathEscape(cid), nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ipfs get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", model.ErrProofNotFound, cid)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("ipfs get %s: HTTP %d", cid, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
