package client

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"

	"github.com/coffercloud/coffer/crypto"
	"github.com/coffercloud/coffer/models"
	"github.com/coffercloud/coffer/utils"
)

// TransferState names the phases of an upload or download. Progress
// callbacks receive the current state so a UI can show "deriving key" during
// the slow KDF instead of a stalled transfer bar.
type TransferState int

const (
	StateIdle TransferState = iota
	StateDerivingKey
	StateEncrypting
	StateDecrypting
	StateTransferring
	StateComplete
	StateFailed
)

func (s TransferState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDerivingKey:
		return "deriving key"
	case StateEncrypting:
		return "encrypting"
	case StateDecrypting:
		return "decrypting"
	case StateTransferring:
		return "transferring"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ProgressFunc receives state transitions and per-chunk progress. done and
// total are chunk counts; total is 0 while it is not yet known.
type ProgressFunc func(state TransferState, done, total int64)

// DownloadResult carries the recovered cleartext metadata of a download.
type DownloadResult struct {
	Filename  string
	MimeType  string
	SizeBytes int64
}

// Orchestrator drives uploads, downloads, and shares end to end: key
// availability, envelope construction, chunked encryption, transport, and
// integrity verification. Plaintext and unwrapped keys never reach the
// Backend; it only ever sees envelopes and ciphertext.
type Orchestrator struct {
	backend   Backend
	session   *crypto.Session
	chunkSize int
	padding   *utils.PaddingCalculator
	progress  ProgressFunc
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithChunkSize overrides the content chunk size for new uploads.
func WithChunkSize(size int) Option {
	return func(o *Orchestrator) { o.chunkSize = size }
}

// WithProgress installs a progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(o *Orchestrator) { o.progress = fn }
}

// NewOrchestrator creates an orchestrator over the given backend and key
// session.
func NewOrchestrator(backend Backend, session *crypto.Session, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		backend:   backend,
		session:   session,
		chunkSize: crypto.DefaultChunkSize,
		padding:   utils.NewPaddingCalculator(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func (o *Orchestrator) report(state TransferState, done, total int64) {
	if o.progress != nil {
		o.progress(state, done, total)
	}
}

func (o *Orchestrator) fail(err error) error {
	o.report(StateFailed, 0, 0)
	return err
}

// waitForKey blocks until the session master key is available, surfacing the
// deriving-key state to the progress callback while it waits.
func (o *Orchestrator) waitForKey(ctx context.Context) error {
	if o.session.Ready() {
		return nil
	}
	o.report(StateDerivingKey, 0, 0)
	return o.session.WaitReady(ctx)
}

// Upload encrypts size bytes from r under a fresh DEK and streams the result
// to the backend. Each chunk is handed to the transport as soon as it is
// sealed; random padding is appended after the real ciphertext so the server
// stores a rounded blob size. newVersionOf, if set, marks this upload as a
// new version of an existing file; the fresh DEK means old versions stay
// decryptable only through their own envelopes.
func (o *Orchestrator) Upload(ctx context.Context, r io.Reader, size int64, filename, mimeType, newVersionOf string) (*models.FileUploadResponse, error) {
	if size < 0 {
		return nil, o.fail(fmt.Errorf("size cannot be negative"))
	}
	if err := o.waitForKey(ctx); err != nil {
		return nil, o.fail(err)
	}

	dek, err := crypto.GenerateDEK()
	if err != nil {
		return nil, o.fail(err)
	}
	defer crypto.SecureZeroBytes(dek)

	baseIV, err := crypto.GenerateBaseIV()
	if err != nil {
		return nil, o.fail(err)
	}
	meta := crypto.NewEncMetaV1(size, o.chunkSize, baseIV)

	var env *crypto.Envelope
	err = o.session.UseMasterKey(func(mk []byte) error {
		var err error
		env, err = crypto.NewStreamEnvelope(dek, meta, filename, mimeType, mk)
		return err
	})
	if err != nil {
		return nil, o.fail(err)
	}

	encryptor, err := crypto.NewChunkEncryptor(dek, meta)
	if err != nil {
		return nil, o.fail(err)
	}
	defer encryptor.Wipe()

	ciphertextSize := crypto.CiphertextSizeFor(size, o.chunkSize)
	paddedSize, err := o.padding.CalculatePaddedSize(ciphertextSize)
	if err != nil {
		return nil, o.fail(err)
	}

	o.report(StateEncrypting, 0, meta.TotalChunks)
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(o.encryptToPipe(ctx, r, encryptor, meta, pw, paddedSize-ciphertextSize))
	}()

	req := &models.FileUploadRequest{
		Envelope:     models.NewEnvelopeDTO(env),
		SizeBytes:    size,
		NewVersionOf: newVersionOf,
	}
	resp, err := o.backend.UploadFile(ctx, req, pr, paddedSize)
	pr.Close()
	if err != nil {
		return nil, o.fail(err)
	}

	o.report(StateComplete, meta.TotalChunks, meta.TotalChunks)
	return resp, nil
}

// encryptToPipe reads plaintext chunk by chunk, seals each one, and writes
// the ciphertext followed by the padding tail.
func (o *Orchestrator) encryptToPipe(ctx context.Context, r io.Reader, encryptor *crypto.ChunkEncryptor, meta crypto.EncMeta, pw io.Writer, padLen int64) error {
	buf := make([]byte, meta.ChunkSize)
	for i := int64(0); i < meta.TotalChunks; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		want := crypto.ChunkPlaintextLen(meta.SizeBytes, meta.ChunkSize, i)
		if _, err := io.ReadFull(r, buf[:want]); err != nil {
			return fmt.Errorf("failed to read plaintext chunk %d: %w", i, err)
		}
		sealed, err := encryptor.EncryptChunk(buf[:want])
		if err != nil {
			return err
		}
		if _, err := pw.Write(sealed); err != nil {
			return err
		}
		o.report(StateTransferring, i+1, meta.TotalChunks)
	}
	_, err := io.Copy(pw, &utils.PaddingReader{Remaining: padLen})
	return err
}

// UploadBytes is the in-memory convenience path for small objects: it hashes
// the plaintext into the envelope and uploads the full ciphertext in one
// piece.
func (o *Orchestrator) UploadBytes(ctx context.Context, plaintext []byte, filename, mimeType, newVersionOf string) (*models.FileUploadResponse, error) {
	if err := o.waitForKey(ctx); err != nil {
		return nil, o.fail(err)
	}

	var (
		env        *crypto.Envelope
		ciphertext []byte
	)
	err := o.session.UseMasterKey(func(mk []byte) error {
		var err error
		env, ciphertext, err = crypto.WrapNewFileChunked(plaintext, filename, mimeType, mk, o.chunkSize)
		return err
	})
	if err != nil {
		return nil, o.fail(err)
	}

	paddedSize, err := o.padding.CalculatePaddedSize(int64(len(ciphertext)))
	if err != nil {
		return nil, o.fail(err)
	}
	body := io.MultiReader(bytes.NewReader(ciphertext),
		&utils.PaddingReader{Remaining: paddedSize - int64(len(ciphertext))})

	o.report(StateTransferring, 0, env.EncMeta.TotalChunks)
	req := &models.FileUploadRequest{
		Envelope:     models.NewEnvelopeDTO(env),
		SizeBytes:    int64(len(plaintext)),
		NewVersionOf: newVersionOf,
	}
	resp, err := o.backend.UploadFile(ctx, req, body, paddedSize)
	if err != nil {
		return nil, o.fail(err)
	}
	o.report(StateComplete, env.EncMeta.TotalChunks, env.EncMeta.TotalChunks)
	return resp, nil
}

// Download fetches a file, unwraps its DEK under the session master key, and
// streams verified plaintext into w. If any chunk fails authentication the
// download aborts; w may already hold the plaintext of earlier chunks, so
// callers write to a temporary location and discard it on error.
func (o *Orchestrator) Download(ctx context.Context, fileID string, w io.Writer) (*DownloadResult, error) {
	if err := o.waitForKey(ctx); err != nil {
		return nil, o.fail(err)
	}

	file, err := o.backend.GetFile(ctx, fileID)
	if err != nil {
		return nil, o.fail(err)
	}
	env, err := envelopeOf(file)
	if err != nil {
		return nil, o.fail(err)
	}

	dek := make([]byte, 0, crypto.KeySize)
	err = o.session.UseMasterKey(func(mk []byte) error {
		unwrapped, err := crypto.UnwrapDEK(env.EDEK, env.EDEKIV, mk)
		if err != nil {
			return err
		}
		dek = append(dek, unwrapped...)
		crypto.SecureZeroBytes(unwrapped)
		return nil
	})
	if err != nil {
		return nil, o.fail(err)
	}
	defer crypto.SecureZeroBytes(dek)

	body, err := o.backend.GetFileContent(ctx, file.FileID)
	if err != nil {
		return nil, o.fail(err)
	}
	defer body.Close()

	if err := o.decryptStream(ctx, env, dek, body, w); err != nil {
		return nil, o.fail(err)
	}

	filename, err := crypto.DecryptFilename(env.MetaNameEnc, env.MetaNameIV, dek)
	if err != nil {
		return nil, o.fail(err)
	}
	var mimeType string
	if len(env.MimeEnc) > 0 {
		if mimeType, err = crypto.DecryptMimeType(env.MimeEnc, env.MimeIV, dek); err != nil {
			return nil, o.fail(err)
		}
	}

	o.report(StateComplete, env.EncMeta.TotalChunks, env.EncMeta.TotalChunks)
	return &DownloadResult{Filename: filename, MimeType: mimeType, SizeBytes: env.EncMeta.SizeBytes}, nil
}

// decryptStream reads exactly the declared ciphertext from body, chunk by
// chunk, and writes verified plaintext to w. Trailing padding past the
// declared geometry is never read.
func (o *Orchestrator) decryptStream(ctx context.Context, env *crypto.Envelope, dek []byte, body io.Reader, w io.Writer) error {
	decryptor, err := crypto.NewChunkDecryptor(dek, env.EncMeta)
	if err != nil {
		return err
	}
	defer decryptor.Wipe()

	var hasher hash.Hash
	if env.ContentSHA256 != "" {
		hasher = sha256.New()
	}

	buf := make([]byte, env.EncMeta.ChunkSize+crypto.TagSize)
	for i := int64(0); i < env.EncMeta.TotalChunks; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		o.report(StateDecrypting, i, env.EncMeta.TotalChunks)
		clen := decryptor.ExpectedChunkLen()
		if _, err := io.ReadFull(body, buf[:clen]); err != nil {
			return &NetworkError{Op: "download", Err: fmt.Errorf("short read at chunk %d: %w", i, err)}
		}
		plain, err := decryptor.DecryptChunk(buf[:clen])
		if err != nil {
			return err
		}
		if hasher != nil {
			hasher.Write(plain)
		}
		if _, err := w.Write(plain); err != nil {
			return fmt.Errorf("failed to write plaintext: %w", err)
		}
	}

	if hasher != nil {
		if hex.EncodeToString(hasher.Sum(nil)) != env.ContentSHA256 {
			return fmt.Errorf("%w: plaintext hash mismatch after decryption", crypto.ErrWrongKeyOrCorrupted)
		}
	}
	return nil
}

// Share creates a share link for a file the session owns. The server mints
// the token and records the grant; the decryption secret is exported locally
// and appended as the URL fragment, which HTTP clients never transmit.
func (o *Orchestrator) Share(ctx context.Context, fileID string) (string, error) {
	if err := o.waitForKey(ctx); err != nil {
		return "", err
	}

	file, err := o.backend.GetFile(ctx, fileID)
	if err != nil {
		return "", err
	}
	env, err := envelopeOf(file)
	if err != nil {
		return "", err
	}

	var fragment string
	err = o.session.UseMasterKey(func(mk []byte) error {
		dek, err := crypto.UnwrapDEK(env.EDEK, env.EDEKIV, mk)
		if err != nil {
			return err
		}
		defer crypto.SecureZeroBytes(dek)
		fragment, err = crypto.ExportShareSecret(dek, env.CipherIV, env.MetaNameEnc, env.MetaNameIV)
		return err
	})
	if err != nil {
		return "", err
	}

	share, err := o.backend.CreateShare(ctx, file.FileID)
	if err != nil {
		return "", err
	}
	return BuildShareLink(o.backend.ShareURL(share.Token), fragment)
}

// DownloadShared resolves a share link and decrypts the shared object into
// w using only the fragment secret. The fragment is validated before any
// network traffic: a missing fragment is ErrShareKeyMissing, a structurally
// broken one is ErrMalformedShareLink, and neither case sends anything to
// the server.
func (o *Orchestrator) DownloadShared(ctx context.Context, link string, w io.Writer) (*DownloadResult, error) {
	token, fragment, err := ParseShareLink(link)
	if err != nil {
		return nil, o.fail(err)
	}
	if fragment == "" {
		return nil, o.fail(crypto.ErrShareKeyMissing)
	}
	secret, err := crypto.ImportShareSecret(fragment)
	if err != nil {
		return nil, o.fail(err)
	}
	defer crypto.SecureZeroBytes(secret.DEK)

	file, err := o.backend.GetShare(ctx, token)
	if err != nil {
		return nil, o.fail(err)
	}
	env, err := envelopeOf(file)
	if err != nil {
		return nil, o.fail(err)
	}
	if !bytes.Equal(secret.CipherIV, env.CipherIV) {
		return nil, o.fail(fmt.Errorf("%w: share secret does not match the stored object", crypto.ErrWrongKeyOrCorrupted))
	}

	// The filename comes from the fragment's own copy of the encrypted
	// field, so a recipient learns it even if the server record is stale.
	filename, err := crypto.DecryptFilename(secret.MetaNameEnc, secret.MetaNameIV, secret.DEK)
	if err != nil {
		return nil, o.fail(err)
	}

	body, err := o.backend.GetShareContent(ctx, token)
	if err != nil {
		return nil, o.fail(err)
	}
	defer body.Close()

	if err := o.decryptStream(ctx, env, secret.DEK, body, w); err != nil {
		return nil, o.fail(err)
	}

	var mimeType string
	if len(env.MimeEnc) > 0 {
		if mimeType, err = crypto.DecryptMimeType(env.MimeEnc, env.MimeIV, secret.DEK); err != nil {
			return nil, o.fail(err)
		}
	}

	o.report(StateComplete, env.EncMeta.TotalChunks, env.EncMeta.TotalChunks)
	return &DownloadResult{Filename: filename, MimeType: mimeType, SizeBytes: env.EncMeta.SizeBytes}, nil
}

// envelopeOf decodes and validates a file record's envelope. A file record
// without one is corrupt as far as the client is concerned.
func envelopeOf(file *models.File) (*crypto.Envelope, error) {
	if file.Envelope == nil {
		return nil, fmt.Errorf("%w: file record has no envelope", crypto.ErrWrongKeyOrCorrupted)
	}
	env, err := file.Envelope.ToEnvelope()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", crypto.ErrWrongKeyOrCorrupted, err)
	}
	if err := env.Validate(); err != nil {
		return nil, err
	}
	return env, nil
}
