package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/prudhvinik1/offlinesync/internal/models"
	"github.com/prudhvinik1/offlinesync/internal/services"
)

var ErrUnauthorized = errors.New("not authorized, log in again")

// Transport carries one sync exchange to the server.
type Transport interface {
	Sync(ctx context.Context, req *models.SyncRequest) (*models.SyncResponse, error)
}

// HTTPTransport talks to the server's JSON API with a bearer token.
type HTTPTransport struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPTransport(baseURL, token string) *HTTPTransport {
	return &HTTPTransport{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (t *HTTPTransport) Sync(ctx context.Context, req *models.SyncRequest) (*models.SyncResponse, error) {
	var resp models.SyncResponse
	if err := t.post(ctx, "/api/sync", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Login exchanges credentials for a device token.
func (t *HTTPTransport) Login(ctx context.Context, req services.LoginRequest) (*services.LoginResponse, error) {
	var resp services.LoginResponse
	if err := t.post(ctx, "/api/auth/login", req, &resp); err != nil {
		return nil, err
	}
	t.token = resp.Token
	return &resp, nil
}

func (t *HTTPTransport) post(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach server: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return responseError(resp.StatusCode, data)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// responseError maps a failed response back to the server's sentinel errors.
func responseError(status int, body []byte) error {
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	_ = json.Unmarshal(body, &payload)
	message := payload.Message
	if message == "" {
		message = payload.Error
	}
	if message == "" {
		message = http.StatusText(status)
	}

	switch status {
	case http.StatusConflict:
		return fmt.Errorf("%w: %s", services.ErrWalkNotFound, message)
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s", services.ErrUnknownAgent, message)
	case http.StatusBadRequest:
		return fmt.Errorf("%w: %s", services.ErrInvalidRequest, message)
	case http.StatusUnauthorized, http.StatusForbidden:
		return fmt.Errorf("%w: %s", ErrUnauthorized, message)
	}
	return fmt.Errorf("server returned %d: %s", status, message)
}

// LocalTransport runs exchanges against an in-process Reconciler. Requests
// and responses pass through JSON so neither side shares memory with the
// other.
type LocalTransport struct {
	reconciler *services.Reconciler
}

func NewLocalTransport(reconciler *services.Reconciler) *LocalTransport {
	return &LocalTransport{reconciler: reconciler}
}

func (t *LocalTransport) Sync(ctx context.Context, req *models.SyncRequest) (*models.SyncResponse, error) {
	var wireReq models.SyncRequest
	if err := roundTrip(req, &wireReq); err != nil {
		return nil, err
	}
	resp, err := t.reconciler.Reconcile(ctx, &wireReq)
	if err != nil {
		return nil, err
	}
	var wireResp models.SyncResponse
	if err := roundTrip(resp, &wireResp); err != nil {
		return nil, err
	}
	return &wireResp, nil
}

func roundTrip(in, out any) error {
	data, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
