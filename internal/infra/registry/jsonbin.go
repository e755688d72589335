package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/vigilis/sentinel/pkg/domain/client"
	"github.com/vigilis/sentinel/pkg/logger"
)

// maxRegistryBody caps registry downloads.
const maxRegistryBody = 16 << 20

// JSONBinConfig configures the JSONBin.io store.
type JSONBinConfig struct {
	BaseURL   string // e.g. https://api.jsonbin.io/v3
	BinID     string
	MasterKey string
	Timeout   time.Duration
}

// JSONBinStore keeps the registry in a single JSONBin.io bin.
type JSONBinStore struct {
	baseURL    string
	binID      string
	masterKey  string
	httpClient *http.Client
	logger     *logger.Logger
}

// NewJSONBinStore creates a JSONBin-backed repository.
func NewJSONBinStore(cfg JSONBinConfig, log *logger.Logger) (*JSONBinStore, error) {
	if cfg.BinID == "" || cfg.MasterKey == "" {
		return nil, fmt.Errorf("jsonbin bin id and master key are required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.jsonbin.io/v3"
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}

	return &JSONBinStore{
		baseURL:    strings.TrimRight(baseURL, "/"),
		binID:      cfg.BinID,
		masterKey:  cfg.MasterKey,
		httpClient: &http.Client{Timeout: timeout},
		logger:     log.With("component", "registry", "backend", "jsonbin"),
	}, nil
}

// Load fetches the latest bin version and unwraps the "record" envelope.
func (s *JSONBinStore) Load(ctx context.Context) (*client.Registry, error) {
	url := fmt.Sprintf("%s/b/%s/latest", s.baseURL, s.binID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", client.ErrRegistryUnavailable, err)
	}
	req.Header.Set("X-Master-Key", s.masterKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", client.ErrRegistryUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRegistryBody))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", client.ErrRegistryUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: jsonbin status %d", client.ErrRegistryUnavailable, resp.StatusCode)
	}

	reg, err := decodeEnvelope(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", client.ErrRegistryUnavailable, err)
	}

	s.logger.Debug("registry loaded", "clients", len(reg.Clients))
	return reg, nil
}

// Replace overwrites the bin with reg.
func (s *JSONBinStore) Replace(ctx context.Context, reg *client.Registry) error {
	payload, err := json.Marshal(reg)
	if err != nil {
		return fmt.Errorf("%w: marshal: %v", client.ErrRegistryPersist, err)
	}

	url := fmt.Sprintf("%s/b/%s", s.baseURL, s.binID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("%w: create request: %v", client.ErrRegistryPersist, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Master-Key", s.masterKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", client.ErrRegistryPersist, err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("%w: jsonbin status %d", client.ErrRegistryPersist, resp.StatusCode)
	}

	s.logger.Debug("registry replaced", "clients", len(reg.Clients))
	return nil
}

// decodeEnvelope accepts a bare registry document or one wrapped in one or
// more {"record": ...} envelopes (the JSONBin read format, and legacy writes
// that stored the envelope itself).
func decodeEnvelope(body []byte) (*client.Registry, error) {
	doc := json.RawMessage(body)
	for range 3 {
		var env struct {
			Record json.RawMessage `json:"record"`
		}
		if err := json.Unmarshal(doc, &env); err != nil {
			return nil, fmt.Errorf("decode registry: %w", err)
		}
		if len(env.Record) == 0 || string(env.Record) == "null" {
			break
		}
		doc = env.Record
	}

	var reg client.Registry
	if err := json.Unmarshal(doc, &reg); err != nil {
		return nil, fmt.Errorf("decode registry: %w", err)
	}
	return &reg, nil
}
