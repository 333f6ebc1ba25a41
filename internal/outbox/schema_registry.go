package outbox

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrSchemaNotRegistered is returned when a subject does not hold the schema yet.
var ErrSchemaNotRegistered = errors.New("schema not registered")

// RegistryError carries a non-success registry response.
type RegistryError struct {
	Method  string
	Subject string
	Status  int
	Body    string
}

func (e *RegistryError) Error() string {
	return fmt.Sprintf("schema registry %s %s: status %d: %s", e.Method, e.Subject, e.Status, e.Body)
}

// SchemaRegistryClient talks to a Confluent-compatible Schema Registry using JSON schemas.
type SchemaRegistryClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewSchemaRegistryClient constructs a client with a 10s request timeout.
func NewSchemaRegistryClient(baseURL string) *SchemaRegistryClient {
	return &SchemaRegistryClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// EnsureSchema returns the ID of schema under subject, registering it first
// when the subject does not hold it. Server errors never trigger a registration.
func (c *SchemaRegistryClient) EnsureSchema(ctx context.Context, subject, schema string) (int, error) {
	id, err := c.post(ctx, subject, "", schema)
	if errors.Is(err, ErrSchemaNotRegistered) {
		return c.post(ctx, subject, "/versions", schema)
	}
	return id, err
}

// post looks the schema up (suffix "") or registers it (suffix "/versions").
func (c *SchemaRegistryClient) post(ctx context.Context, subject, suffix, schema string) (int, error) {
	body, err := json.Marshal(struct {
		SchemaType string `json:"schemaType"`
		Schema     string `json:"schema"`
	}{SchemaType: "JSON", Schema: schema})
	if err != nil {
		return 0, err
	}

	endpoint := fmt.Sprintf("%s/subjects/%s%s", c.baseURL, url.PathEscape(subject), suffix)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/vnd.schemaregistry.v1+json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("schema registry %s: %w", subject, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound && suffix == "" {
		return 0, fmt.Errorf("%w: %s", ErrSchemaNotRegistered, subject)
	}
	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
		return 0, &RegistryError{Method: req.Method, Subject: subject, Status: resp.StatusCode, Body: string(bytes.TrimSpace(data))}
	}

	var out struct {
		ID int `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode schema registry response: %w", err)
	}
	return out.ID, nil
}
