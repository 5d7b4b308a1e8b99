// Package devserver is a self-contained backend for development and
// integration testing. It implements the REST ABI the client speaks against
// the production service: login, crypto-init, file upload/download, and
// shares, backed by in-memory state and a pluggable blob store. It performs
// no cryptography beyond JWT signing; everything it stores is opaque
// ciphertext, which is exactly the property the client tests assert.
package devserver

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"

	"github.com/coffercloud/coffer/crypto"
	"github.com/coffercloud/coffer/models"
	"github.com/coffercloud/coffer/storage"
)

const tokenLifetime = time.Hour

type account struct {
	password  string
	kdfParams crypto.KdfParams
}

// Server holds the in-memory backend state.
type Server struct {
	mu     sync.RWMutex
	users  map[string]*account
	files  map[string]*models.File
	shares map[string]*models.Share

	blobs     storage.BlobStore
	jwtSecret []byte
	echo      *echo.Echo
}

// NewServer creates a backend over the given blob store with a fresh random
// JWT signing secret.
func NewServer(blobs storage.BlobStore) *Server {
	s := &Server{
		users:     make(map[string]*account),
		files:     make(map[string]*models.File),
		shares:    make(map[string]*models.Share),
		blobs:     blobs,
		jwtSecret: crypto.GenerateRandomBytes(32),
	}
	s.echo = s.buildRouter()
	return s
}

// RegisterUser creates an account with its login password and the KDF
// parameters the crypto-init endpoint will hand back for it.
func (s *Server) RegisterUser(username, password string, params crypto.KdfParams) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[username] = &account{password: password, kdfParams: params}
}

// Handler exposes the server as an http.Handler for httptest.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start runs the server on the given address, blocking until shutdown.
func (s *Server) Start(addr string) error {
	return s.echo.Start(addr)
}

func (s *Server) buildRouter() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HTTPErrorHandler = errorHandler

	e.POST("/api/auth/login", s.handleLogin)
	e.POST("/api/crypto/init", s.handleCryptoInit)
	e.GET("/api/shares/:token", s.handleGetShare)
	e.GET("/api/shares/:token/content", s.handleGetShareContent)

	api := e.Group("/api", echojwt.WithConfig(echojwt.Config{
		SigningKey: s.jwtSecret,
	}))
	api.POST("/files", s.handleUpload)
	api.GET("/files/:id", s.handleGetFile)
	api.GET("/files/:id/content", s.handleGetFileContent)
	api.POST("/files/:id/shares", s.handleCreateShare)

	return e
}

// errorHandler renders every failure as the uniform JSON error payload.
func errorHandler(err error, c echo.Context) {
	code := http.StatusInternalServerError
	message := "internal server error"
	if he, ok := err.(*echo.HTTPError); ok {
		code = he.Code
		message = fmt.Sprintf("%v", he.Message)
	}
	if !c.Response().Committed {
		c.JSON(code, models.ErrorResponse{Error: message})
	}
}

func (s *Server) handleLogin(c echo.Context) error {
	var req models.LoginRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	s.mu.RLock()
	acct, ok := s.users[req.Username]
	s.mu.RUnlock()
	if !ok || acct.password != req.Password {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	}

	expiresAt := time.Now().Add(tokenLifetime)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": req.Username,
		"exp": expiresAt.Unix(),
		"iat": time.Now().Unix(),
	})
	signed, err := token.SignedString(s.jwtSecret)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to sign token")
	}
	return c.JSON(http.StatusOK, models.LoginResponse{Token: signed, ExpiresAt: expiresAt})
}

func (s *Server) handleCryptoInit(c echo.Context) error {
	var req struct {
		Username string `json:"username"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	s.mu.RLock()
	acct, ok := s.users[req.Username]
	s.mu.RUnlock()
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "unknown account")
	}
	return c.JSON(http.StatusOK, models.CryptoInitResponse{
		KdfParams: models.NewKdfParamsDTO(acct.kdfParams),
	})
}

func (s *Server) handleUpload(c echo.Context) error {
	username, err := claimedUser(c)
	if err != nil {
		return err
	}

	metadataField := c.FormValue("metadata")
	if metadataField == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "missing metadata field")
	}
	var req models.FileUploadRequest
	if err := json.Unmarshal([]byte(metadataField), &req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid upload metadata")
	}
	if req.Envelope == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "upload has no envelope")
	}
	if req.SizeBytes < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "negative size")
	}

	blob, err := c.FormFile("content")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "missing content part")
	}
	src, err := blob.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "unreadable content part")
	}
	defer src.Close()

	version := 1
	if req.NewVersionOf != "" {
		s.mu.RLock()
		prev, ok := s.files[req.NewVersionOf]
		s.mu.RUnlock()
		if !ok {
			return echo.NewHTTPError(http.StatusNotFound, "file not found")
		}
		if prev.Owner != username {
			return echo.NewHTTPError(http.StatusForbidden, "not the file owner")
		}
		version = prev.Version + 1
	}

	storageID := models.GenerateStorageID()
	if _, err := s.blobs.PutObject(c.Request().Context(), storageID, src, blob.Size, storage.PutObjectOptions{
		ContentType: "application/octet-stream",
	}); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "blob store write failed")
	}

	file := &models.File{
		FileID:     models.GenerateFileID(),
		StorageID:  storageID,
		Owner:      username,
		Version:    version,
		Envelope:   req.Envelope,
		SizeBytes:  req.SizeBytes,
		UploadDate: time.Now().UTC(),
	}
	s.mu.Lock()
	s.files[file.FileID] = file
	s.mu.Unlock()

	return c.JSON(http.StatusCreated, models.FileUploadResponse{
		FileID:    file.FileID,
		StorageID: file.StorageID,
		Version:   file.Version,
	})
}

func (s *Server) handleGetFile(c echo.Context) error {
	username, err := claimedUser(c)
	if err != nil {
		return err
	}
	file, err := s.ownedFile(c.Param("id"), username)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, file)
}

func (s *Server) handleGetFileContent(c echo.Context) error {
	username, err := claimedUser(c)
	if err != nil {
		return err
	}
	file, err := s.ownedFile(c.Param("id"), username)
	if err != nil {
		return err
	}
	return s.streamBlob(c, file.StorageID)
}

func (s *Server) handleCreateShare(c echo.Context) error {
	username, err := claimedUser(c)
	if err != nil {
		return err
	}
	file, err := s.ownedFile(c.Param("id"), username)
	if err != nil {
		return err
	}

	share := &models.Share{
		Token:     models.GenerateShareToken(),
		FileID:    file.FileID,
		CreatedAt: time.Now().UTC(),
	}
	s.mu.Lock()
	s.shares[share.Token] = share
	s.mu.Unlock()

	return c.JSON(http.StatusCreated, share)
}

func (s *Server) handleGetShare(c echo.Context) error {
	file, err := s.sharedFile(c.Param("token"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, file)
}

func (s *Server) handleGetShareContent(c echo.Context) error {
	file, err := s.sharedFile(c.Param("token"))
	if err != nil {
		return err
	}
	return s.streamBlob(c, file.StorageID)
}

func (s *Server) streamBlob(c echo.Context, storageID string) error {
	obj, err := s.blobs.GetObject(c.Request().Context(), storageID, storage.GetObjectOptions{})
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "blob not found")
	}
	defer obj.Close()
	c.Response().Header().Set(echo.HeaderContentType, "application/octet-stream")
	c.Response().WriteHeader(http.StatusOK)
	_, err = io.Copy(c.Response(), obj)
	return err
}

func (s *Server) ownedFile(fileID, username string) (*models.File, error) {
	s.mu.RLock()
	file, ok := s.files[fileID]
	s.mu.RUnlock()
	if !ok {
		return nil, echo.NewHTTPError(http.StatusNotFound, "file not found")
	}
	if file.Owner != username {
		return nil, echo.NewHTTPError(http.StatusForbidden, "not the file owner")
	}
	return file, nil
}

func (s *Server) sharedFile(token string) (*models.File, error) {
	s.mu.RLock()
	share, ok := s.shares[token]
	var file *models.File
	if ok {
		file = s.files[share.FileID]
	}
	s.mu.RUnlock()
	if !ok || file == nil {
		return nil, echo.NewHTTPError(http.StatusNotFound, "share not found")
	}
	if share.ExpiresAt != nil && time.Now().After(*share.ExpiresAt) {
		return nil, echo.NewHTTPError(http.StatusGone, "share expired")
	}
	return file, nil
}

// claimedUser reads the authenticated username from the verified JWT that
// the middleware stored on the context.
func claimedUser(c echo.Context) (string, error) {
	token, ok := c.Get("user").(*jwt.Token)
	if !ok {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "missing token")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "malformed claims")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", echo.NewHTTPError(http.StatusUnauthorized, "token has no subject")
	}
	return sub, nil
}
