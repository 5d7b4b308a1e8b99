// coffer - end-to-end encrypted file storage client
// All encryption and decryption happens on this device; the server only ever
// receives ciphertext, wrapped keys, and the cleartext chunk descriptor.

package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/coffercloud/coffer/auth"
	"github.com/coffercloud/coffer/client"
	"github.com/coffercloud/coffer/config"
	"github.com/coffercloud/coffer/crypto"
	"github.com/coffercloud/coffer/keystore"
	"github.com/coffercloud/coffer/logging"
	"github.com/coffercloud/coffer/utils"
)

const (
	Version = "1.2.0"
	Usage   = `coffer - end-to-end encrypted file storage client

USAGE:
    coffer [global options] command [command options]

COMMANDS:
    login              Authenticate and unlock the encryption session
    upload             Encrypt and upload a file
    download           Download and decrypt a file
    share              Create a share link for an uploaded file
    open-share         Download and decrypt a shared file from its link
    logout             Clear the session and escrowed credentials
    version            Show version information

GLOBAL OPTIONS:
    --server-url URL   Server URL (default from COFFER_SERVER_URL)
    --username USER    Account username
    --verbose, -v      Verbose output
    --help, -h         Show help

EXAMPLES:
    coffer login --username alice
    coffer upload --file report.pdf
    coffer download --file-id 7d3f... --output report.pdf
    coffer share --file-id 7d3f...
    coffer open-share --link 'https://coffer.example/shared/ab12#<fragment>' --output shared.pdf
`
)

var verbose bool

// storedSession is the on-disk bearer token state between CLI invocations.
// It carries no key material; the master key is re-derived per invocation
// from the keystore escrow.
type storedSession struct {
	Username  string    `json:"username"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
	ServerURL string    `json:"serverUrl"`
}

func main() {
	var (
		serverURL    = flag.String("server-url", "", "Server URL")
		usernameFlag = flag.String("username", "", "Account username")
		verboseFlag  = flag.Bool("verbose", false, "Verbose output")
		vFlag        = flag.Bool("v", false, "Verbose output (shorthand)")
		helpFlag     = flag.Bool("help", false, "Show help")
		hFlag        = flag.Bool("h", false, "Show help (shorthand)")
	)
	flag.Usage = printUsage
	flag.Parse()

	verbose = *verboseFlag || *vFlag
	if *helpFlag || *hFlag || flag.NArg() == 0 {
		printUsage()
		if flag.NArg() == 0 && !*helpFlag && !*hFlag {
			os.Exit(1)
		}
		return
	}

	if *serverURL != "" {
		os.Setenv("COFFER_SERVER_URL", *serverURL)
	}
	cfg, err := config.LoadConfig()
	if err != nil {
		logError("Configuration error: %v", err)
		os.Exit(1)
	}
	if err := logging.InitLogging(&logging.LogConfig{
		LogDir:     cfg.Logging.Directory,
		MaxSize:    cfg.Logging.MaxSize,
		MaxBackups: cfg.Logging.MaxBackups,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: file logging unavailable: %v\n", err)
	}

	command := flag.Arg(0)
	args := flag.Args()[1:]

	app := &appContext{cfg: cfg, username: *usernameFlag}

	switch command {
	case "login":
		err = app.runLogin(args)
	case "upload":
		err = app.runUpload(args)
	case "download":
		err = app.runDownload(args)
	case "share":
		err = app.runShare(args)
	case "open-share":
		err = app.runOpenShare(args)
	case "logout":
		err = app.runLogout(args)
	case "version":
		fmt.Printf("coffer %s\n", Version)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", command)
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		logError("%s failed: %v", command, err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(Usage)
}

func logError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	logging.ErrorLogger.Printf(format, args...)
}

func logVerbose(format string, args ...interface{}) {
	if verbose {
		fmt.Printf(format+"\n", args...)
	}
	logging.DebugLogger.Printf(format, args...)
}

type appContext struct {
	cfg      *config.Config
	username string
}

func (a *appContext) sessionPath() string {
	return filepath.Join(filepath.Dir(a.cfg.Keystore.Path), "session.json")
}

func (a *appContext) saveStoredSession(s *storedSession) error {
	if err := os.MkdirAll(filepath.Dir(a.sessionPath()), 0700); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := os.WriteFile(a.sessionPath(), data, 0600); err != nil {
		return fmt.Errorf("failed to write session file: %w", err)
	}
	return nil
}

func (a *appContext) loadStoredSession() (*storedSession, error) {
	data, err := os.ReadFile(a.sessionPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("not logged in; run 'coffer login' first")
		}
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}
	var s storedSession
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("failed to decode session file: %w", err)
	}
	if time.Now().After(s.ExpiresAt) {
		return nil, fmt.Errorf("session expired; run 'coffer login' again")
	}
	return &s, nil
}

// connect restores the stored bearer token and starts background master key
// derivation from the keystore escrow. The KDF runs while the first network
// round trips are in flight; the orchestrator blocks on readiness only when
// it actually needs the key.
func (a *appContext) connect(ctx context.Context) (*client.Orchestrator, *client.APIClient, *crypto.Session, error) {
	stored, err := a.loadStoredSession()
	if err != nil {
		return nil, nil, nil, err
	}
	if a.username == "" {
		a.username = stored.Username
	}

	tokens := auth.NewTokenSession()
	if err := tokens.SetToken(stored.Token); err != nil {
		return nil, nil, nil, fmt.Errorf("stored token is unusable: %w", err)
	}
	api := client.NewAPIClient(stored.ServerURL, tokens)

	ks, err := keystore.Open(a.cfg.Keystore.Path)
	if err != nil {
		return nil, nil, nil, err
	}
	creds, err := ks.LoadCredentials(a.username)
	ks.Close()
	if err != nil {
		return nil, nil, nil, err
	}
	if creds == nil {
		return nil, nil, nil, fmt.Errorf("no escrowed credentials for %s; run 'coffer login' again", a.username)
	}

	session := crypto.NewSession()
	session.DeriveInBackground([]byte(creds.Password), creds.KdfParams())

	orch := client.NewOrchestrator(api, session,
		client.WithChunkSize(a.cfg.Crypto.ChunkSize),
		client.WithProgress(progressPrinter()),
	)
	return orch, api, session, nil
}

func progressPrinter() client.ProgressFunc {
	var lastState client.TransferState = -1
	return func(state client.TransferState, done, total int64) {
		if !verbose {
			return
		}
		if state != lastState {
			fmt.Printf("[%s]\n", state)
			lastState = state
		}
		if total > 0 && (state == client.StateTransferring || state == client.StateDecrypting) {
			fmt.Printf("  chunk %d/%d\n", done, total)
		}
	}
}

func promptPassword(prompt string) ([]byte, error) {
	fmt.Print(prompt)
	password, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return nil, fmt.Errorf("failed to read password: %w", err)
	}
	return password, nil
}

func (a *appContext) runLogin(args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	usernameFlag := fs.String("username", a.username, "Account username")
	if err := fs.Parse(args); err != nil {
		return err
	}
	username := *usernameFlag
	if username == "" {
		return fmt.Errorf("username is required")
	}
	if err := utils.ValidateUsername(username); err != nil {
		return err
	}

	accountPassword, err := promptPassword("Account password: ")
	if err != nil {
		return err
	}
	encryptionPassword, err := promptPassword("Encryption password: ")
	if err != nil {
		return err
	}
	defer crypto.SecureZeroBytes(encryptionPassword)

	if err := crypto.RequireStrongPassword(string(encryptionPassword), []string{username}); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	tokens := auth.NewTokenSession()
	api := client.NewAPIClient(a.cfg.Server.BaseURL, tokens)

	loginResp, err := api.Login(ctx, username, string(accountPassword))
	crypto.SecureZeroBytes(accountPassword)
	if err != nil {
		return err
	}
	logVerbose("Authenticated as %s, token valid until %s", username, loginResp.ExpiresAt.Format(time.RFC3339))

	params, err := api.CryptoInit(ctx, username)
	if err != nil {
		return fmt.Errorf("failed to fetch key derivation parameters: %w", err)
	}
	if params.Algorithm == crypto.KdfPBKDF2SHA256 && params.Iterations <= 0 {
		params.Iterations = a.cfg.Crypto.FallbackIterations
	}

	// Derive while the keystore writes happen, then block on the result so a
	// wrong parameter set is reported here rather than on the first upload.
	session := crypto.NewSession()
	passwordCopy := make([]byte, len(encryptionPassword))
	copy(passwordCopy, encryptionPassword)
	derived := session.DeriveInBackground(passwordCopy, params)

	ks, err := keystore.Open(a.cfg.Keystore.Path)
	if err != nil {
		return err
	}
	saveErr := ks.SaveCredentials(username, &keystore.Credentials{
		Password:   string(encryptionPassword),
		Algorithm:  params.Algorithm,
		Salt:       params.Salt,
		Iterations: params.Iterations,
		Memory:     params.Memory,
		Threads:    params.Threads,
	})
	ks.Close()
	if saveErr != nil {
		return saveErr
	}

	if err := <-derived; err != nil {
		return err
	}
	session.Clear()

	if err := a.saveStoredSession(&storedSession{
		Username:  username,
		Token:     tokens.Token(),
		ExpiresAt: loginResp.ExpiresAt,
		ServerURL: a.cfg.Server.BaseURL,
	}); err != nil {
		return err
	}

	fmt.Printf("Logged in as %s\n", username)
	return nil
}

func (a *appContext) runUpload(args []string) error {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	var (
		fileFlag     = fs.String("file", "", "Path of the file to upload")
		mimeFlag     = fs.String("mime", "", "MIME type to record (encrypted)")
		newVersionOf = fs.String("new-version-of", "", "File ID this upload replaces")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *fileFlag == "" {
		return fmt.Errorf("--file is required")
	}

	f, err := os.Open(*fileFlag)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat file: %w", err)
	}

	ctx := context.Background()
	orch, _, session, err := a.connect(ctx)
	if err != nil {
		return err
	}
	defer session.Clear()

	resp, err := orch.Upload(ctx, f, info.Size(), filepath.Base(*fileFlag), *mimeFlag, *newVersionOf)
	if err != nil {
		return err
	}
	fmt.Printf("Uploaded %s\n", filepath.Base(*fileFlag))
	fmt.Printf("  File ID: %s\n", resp.FileID)
	fmt.Printf("  Version: %d\n", resp.Version)
	return nil
}

func (a *appContext) runDownload(args []string) error {
	fs := flag.NewFlagSet("download", flag.ExitOnError)
	var (
		fileIDFlag = fs.String("file-id", "", "File ID to download")
		outputFlag = fs.String("output", "", "Output path (default: decrypted filename)")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *fileIDFlag == "" {
		return fmt.Errorf("--file-id is required")
	}

	ctx := context.Background()
	orch, _, session, err := a.connect(ctx)
	if err != nil {
		return err
	}
	defer session.Clear()

	return downloadTo(*outputFlag, func(w *os.File) (*client.DownloadResult, error) {
		return orch.Download(ctx, *fileIDFlag, w)
	})
}

func (a *appContext) runShare(args []string) error {
	fs := flag.NewFlagSet("share", flag.ExitOnError)
	fileIDFlag := fs.String("file-id", "", "File ID to share")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *fileIDFlag == "" {
		return fmt.Errorf("--file-id is required")
	}

	ctx := context.Background()
	orch, _, session, err := a.connect(ctx)
	if err != nil {
		return err
	}
	defer session.Clear()

	link, err := orch.Share(ctx, *fileIDFlag)
	if err != nil {
		return err
	}
	fmt.Println("Share link (the part after '#' is the decryption key; send the whole link):")
	fmt.Println(link)
	return nil
}

func (a *appContext) runOpenShare(args []string) error {
	fs := flag.NewFlagSet("open-share", flag.ExitOnError)
	var (
		linkFlag   = fs.String("link", "", "Complete share link, fragment included")
		outputFlag = fs.String("output", "", "Output path (default: decrypted filename)")
	)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *linkFlag == "" {
		return fmt.Errorf("--link is required")
	}

	// No session needed: the fragment alone carries the decryption key.
	stored, err := a.loadStoredSession()
	serverURL := a.cfg.Server.BaseURL
	if err == nil && stored.ServerURL != "" {
		serverURL = stored.ServerURL
	}
	api := client.NewAPIClient(serverURL, auth.NewTokenSession())
	orch := client.NewOrchestrator(api, crypto.NewSession(),
		client.WithProgress(progressPrinter()))

	ctx := context.Background()
	return downloadTo(*outputFlag, func(w *os.File) (*client.DownloadResult, error) {
		return orch.DownloadShared(ctx, *linkFlag, w)
	})
}

// downloadTo streams a decryption into a temporary file and renames it into
// place only after every chunk has verified. A failed download leaves no
// partial plaintext behind.
func downloadTo(outputPath string, fetch func(*os.File) (*client.DownloadResult, error)) error {
	dir := "."
	if outputPath != "" {
		dir = filepath.Dir(outputPath)
	}
	tmp, err := os.CreateTemp(dir, ".coffer-download-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer func() {
		tmp.Close()
		os.Remove(tmp.Name())
	}()

	result, err := fetch(tmp)
	if err != nil {
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to finish temporary file: %w", err)
	}

	target := outputPath
	if target == "" {
		target = sanitizeFilename(result.Filename)
	}
	if err := os.Rename(tmp.Name(), target); err != nil {
		return fmt.Errorf("failed to move download into place: %w", err)
	}
	fmt.Printf("Downloaded %s (%d bytes)\n", target, result.SizeBytes)
	return nil
}

// sanitizeFilename strips path separators from a decrypted filename before
// it is used on the local filesystem. The name is authenticated ciphertext,
// but it was still chosen by whoever uploaded the file.
func sanitizeFilename(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "" || name == "." || name == ".." || name == "/" {
		return "download"
	}
	return name
}

func (a *appContext) runLogout(args []string) error {
	fs := flag.NewFlagSet("logout", flag.ExitOnError)
	usernameFlag := fs.String("username", a.username, "Account username")
	if err := fs.Parse(args); err != nil {
		return err
	}

	username := *usernameFlag
	if username == "" {
		if stored, err := a.loadStoredSession(); err == nil {
			username = stored.Username
		}
	}

	if username != "" {
		ks, err := keystore.Open(a.cfg.Keystore.Path)
		if err != nil {
			return err
		}
		defer ks.Close()
		if err := ks.DeleteCredentials(username); err != nil {
			return err
		}
	}

	if err := os.Remove(a.sessionPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove session file: %w", err)
	}
	fmt.Println("Logged out")
	return nil
}
