// Package client implements the device-side half of the storage product:
// the REST transport to the backend and the transfer orchestrator that
// encrypts before upload and decrypts after download. All key material stays
// inside this process; the transport only ever carries ciphertext and
// wrapped keys.
package client

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

	"github.com/coffercloud/coffer/auth"
	"github.com/coffercloud/coffer/crypto"
	"github.com/coffercloud/coffer/models"
)

// Backend is the surface the orchestrator needs from the server. APIClient
// is the real implementation; tests substitute recording fakes.
type Backend interface {
	Login(ctx context.Context, username, password string) (*models.LoginResponse, error)
	CryptoInit(ctx context.Context, username string) (crypto.KdfParams, error)
	UploadFile(ctx context.Context, req *models.FileUploadRequest, content io.Reader, contentLen int64) (*models.FileUploadResponse, error)
	GetFile(ctx context.Context, fileID string) (*models.File, error)
	GetFileContent(ctx context.Context, fileID string) (io.ReadCloser, error)
	CreateShare(ctx context.Context, fileID string) (*models.Share, error)
	GetShare(ctx context.Context, token string) (*models.File, error)
	GetShareContent(ctx context.Context, token string) (io.ReadCloser, error)
	ShareURL(token string) string
}

// APIClient talks to the backend REST ABI over HTTPS.
type APIClient struct {
	baseURL    string
	httpClient *http.Client
	tokens     *auth.TokenSession
}

// NewAPIClient creates a client for the given base URL.
func NewAPIClient(baseURL string, tokens *auth.TokenSession) *APIClient {
	return &APIClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Minute},
		tokens:     tokens,
	}
}

// Login authenticates and installs the returned bearer token on the token
// session.
func (c *APIClient) Login(ctx context.Context, username, password string) (*models.LoginResponse, error) {
	var resp models.LoginResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/auth/login", models.LoginRequest{
		Username: username,
		Password: password,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if err := c.tokens.SetToken(resp.Token); err != nil {
		return nil, fmt.Errorf("login succeeded but token is unusable: %w", err)
	}
	return &resp, nil
}

// CryptoInit fetches the server-issued key derivation parameters for the
// account. A malformed response surfaces as ErrCryptoInit; callers fall back
// to local defaults.
func (c *APIClient) CryptoInit(ctx context.Context, username string) (crypto.KdfParams, error) {
	var resp models.CryptoInitResponse
	err := c.doJSON(ctx, http.MethodPost, "/api/crypto/init", map[string]string{"username": username}, &resp)
	if err != nil {
		return crypto.KdfParams{}, err
	}
	return resp.KdfParams.ToKdfParams()
}

// UploadFile streams an encrypted object to the backend: the envelope as a
// JSON multipart field, the ciphertext as the file part. contentLen is the
// padded blob size and sizes the request for the server.
func (c *APIClient) UploadFile(ctx context.Context, req *models.FileUploadRequest, content io.Reader, contentLen int64) (*models.FileUploadResponse, error) {
	metadata, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode upload metadata: %w", err)
	}

	pr, pw := io.Pipe()
	writer := multipart.NewWriter(pw)
	go func() {
		err := writeUploadBody(writer, metadata, content)
		writer.Close()
		pw.CloseWithError(err)
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/files", pr)
	if err != nil {
		return nil, fmt.Errorf("failed to create upload request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())
	c.setAuth(httpReq)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, &NetworkError{Op: "upload", Err: err}
	}
	defer resp.Body.Close()

	if err := checkStatus("upload", resp); err != nil {
		return nil, err
	}
	var out models.FileUploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &NetworkError{Op: "upload", Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return &out, nil
}

func writeUploadBody(writer *multipart.Writer, metadata []byte, content io.Reader) error {
	field, err := writer.CreateFormField("metadata")
	if err != nil {
		return err
	}
	if _, err := field.Write(metadata); err != nil {
		return err
	}
	part, err := writer.CreateFormFile("content", "blob")
	if err != nil {
		return err
	}
	_, err = io.Copy(part, content)
	return err
}

// GetFile fetches the server record for a file, envelope included.
func (c *APIClient) GetFile(ctx context.Context, fileID string) (*models.File, error) {
	var file models.File
	if err := c.doJSON(ctx, http.MethodGet, "/api/files/"+url.PathEscape(fileID), nil, &file); err != nil {
		return nil, err
	}
	return &file, nil
}

// GetFileContent streams the stored ciphertext blob. The caller reads only
// the authenticated ciphertext length and discards any trailing padding.
func (c *APIClient) GetFileContent(ctx context.Context, fileID string) (io.ReadCloser, error) {
	return c.doStream(ctx, "/api/files/"+url.PathEscape(fileID)+"/content")
}

// CreateShare asks the backend to mint a share token for a file. The
// response never contains key material; the caller appends the decryption
// fragment locally.
func (c *APIClient) CreateShare(ctx context.Context, fileID string) (*models.Share, error) {
	var share models.Share
	err := c.doJSON(ctx, http.MethodPost, "/api/files/"+url.PathEscape(fileID)+"/shares", nil, &share)
	if err != nil {
		return nil, err
	}
	return &share, nil
}

// GetShare resolves a share token to the shared file record.
func (c *APIClient) GetShare(ctx context.Context, token string) (*models.File, error) {
	var file models.File
	if err := c.doJSON(ctx, http.MethodGet, "/api/shares/"+url.PathEscape(token), nil, &file); err != nil {
		return nil, err
	}
	return &file, nil
}

// GetShareContent streams the ciphertext blob behind a share token.
func (c *APIClient) GetShareContent(ctx context.Context, token string) (io.ReadCloser, error) {
	return c.doStream(ctx, "/api/shares/"+url.PathEscape(token)+"/content")
}

// ShareURL returns the public link for a share token, without any fragment.
func (c *APIClient) ShareURL(token string) string {
	return c.baseURL + "/shared/" + url.PathEscape(token)
}

func (c *APIClient) setAuth(req *http.Request) {
	if token := c.tokens.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
}

func (c *APIClient) doJSON(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	c.setAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &NetworkError{Op: method + " " + path, Err: err}
	}
	defer resp.Body.Close()

	if err := checkStatus(method+" "+path, resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &NetworkError{Op: method + " " + path, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}

func (c *APIClient) doStream(ctx context.Context, path string) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.setAuth(req)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Op: "GET " + path, Err: err}
	}
	if err := checkStatus("GET "+path, resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp.Body, nil
}

// checkStatus maps HTTP failures onto the client error taxonomy: 5xx and
// transport-shaped problems are retryable NetworkErrors, 4xx are terminal
// APIErrors carrying the server's message.
func checkStatus(op string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	message := resp.Status
	var body models.ErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body); err == nil && body.Error != "" {
		message = body.Error
	}

	if resp.StatusCode >= 500 {
		return &NetworkError{Op: op, Err: fmt.Errorf("server error: %s", message)}
	}
	return &APIError{StatusCode: resp.StatusCode, Message: message}
}
