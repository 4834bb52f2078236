package transport

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SendRequest is one outbound message: this core decides what goes to whom,
// the delivery service decides how.
type SendRequest struct {
	ProjectID  string            `json:"projectId"`
	Recipient  string            `json:"recipient"`
	TemplateID string            `json:"templateId"`
	Variables  map[string]string `json:"variables,omitempty"`
}

// DigestRequest carries a composed digest to the same delivery service.
type DigestRequest struct {
	ProjectID string `json:"projectId"`
	Subject   string `json:"subject"`
	Body      string `json:"body"`
}

// Messenger is the outbound delivery boundary.
type Messenger interface {
	Send(ctx context.Context, req SendRequest) error
	SendDigest(ctx context.Context, req DigestRequest) error
}

// HTTPMessenger posts JSON payloads to the delivery endpoint, authenticated
// with an HMAC-SHA256 signature of the body in the x-sheen-signature header.
type HTTPMessenger struct {
	endpoint string
	secret   []byte
	client   *http.Client
}

func NewHTTPMessenger(endpoint, sharedSecret string) *HTTPMessenger {
	return &HTTPMessenger{
		endpoint: endpoint,
		secret:   []byte(sharedSecret),
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

func (m *HTTPMessenger) sign(payload []byte) string {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func (m *HTTPMessenger) post(ctx context.Context, path string, body interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-sheen-signature", m.sign(payload))

	resp, err := m.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("delivery endpoint returned %d: %s", resp.StatusCode, string(snippet))
	}
	return nil
}

func (m *HTTPMessenger) Send(ctx context.Context, req SendRequest) error {
	return m.post(ctx, "/messages", req)
}

func (m *HTTPMessenger) SendDigest(ctx context.Context, req DigestRequest) error {
	return m.post(ctx, "/digests", req)
}
