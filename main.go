package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/term"
	"golang.org/x/text/language"

	tea "charm.land/bubbletea/v2"
	"github.com/go-authgate/api-client/apiclient"
	"github.com/go-authgate/api-client/authevents"
	"github.com/go-authgate/api-client/credstore"
	"github.com/go-authgate/api-client/logging"
	"github.com/go-authgate/api-client/refresh"
	"github.com/go-authgate/api-client/tui"
)

// Credential store backends selectable with -store.
const (
	storeFile   = "file"
	storeRedis  = "redis"
	storeMemory = "memory"
)

const bodyPreviewLen = 80

var (
	flagServerURL      *string
	flagStore          *string
	flagTokenFile      *string
	flagRedisURL       *string
	flagProfile        *string
	flagLocale         *string
	flagPath           *string
	flagConcurrency    *string
	flagAccessToken    *string
	flagRefreshToken   *string
	flagRefreshTimeout *string
	flagRequestTimeout *string
	flagMaxRetries     *string
	flagLogLevel       *string
)

// config is the resolved CLI configuration.
type config struct {
	serverURL      string
	store          string
	tokenFile      string
	redisURL       string
	profile        string
	locale         language.Tag
	path           string
	concurrency    int
	accessToken    string
	refreshToken   string
	refreshTimeout time.Duration
	requestTimeout time.Duration
	maxRetries     int
	logLevel       slog.Level
}

func init() {
	// Load .env file if exists (ignore error if not found)
	_ = godotenv.Load()

	// Define flags (but don't parse yet to avoid conflicts with test flags)
	flagServerURL = flag.String(
		"server-url",
		"",
		"API server URL (default: http://localhost:8080 or SERVER_URL env)",
	)
	flagStore = flag.String(
		"store",
		"",
		"Credential store: file, redis or memory (default: file or CREDENTIAL_STORE env)",
	)
	flagTokenFile = flag.String(
		"token-file",
		"",
		"Credential file (default: .authgate-credentials.json or TOKEN_FILE env)",
	)
	flagRedisURL = flag.String(
		"redis-url",
		"",
		"Redis URL for -store=redis (default: redis://localhost:6379/0 or REDIS_URL env)",
	)
	flagProfile = flag.String("profile", "", "Credential profile (default: default or PROFILE env)")
	flagLocale = flag.String("locale", "", "Accept-Language tag (default: en or LOCALE env)")
	flagPath = flag.String("path", "", "API path to call (default: /api/me or API_PATH env)")
	flagConcurrency = flag.String(
		"concurrency",
		"",
		"Number of concurrent calls (default: 4 or CONCURRENCY env)",
	)
	flagAccessToken = flag.String("access-token", "", "Seed access credential (or ACCESS_TOKEN env)")
	flagRefreshToken = flag.String(
		"refresh-token",
		"",
		"Seed refresh credential (or REFRESH_TOKEN env)",
	)
	flagRefreshTimeout = flag.String(
		"refresh-timeout",
		"",
		"Refresh call timeout (default: 10s or REFRESH_TIMEOUT env)",
	)
	flagRequestTimeout = flag.String(
		"request-timeout",
		"",
		"Per request timeout (default: 10s or REQUEST_TIMEOUT env)",
	)
	flagMaxRetries = flag.String(
		"max-retries",
		"",
		"Transport retries for API calls (default: 0 or MAX_RETRIES env)",
	)
	flagLogLevel = flag.String(
		"log-level",
		"",
		"Log level: debug, info, warn, error (default: warn or LOG_LEVEL env)",
	)
}

// initConfig parses flags and resolves the configuration.
// Separated from init() to avoid conflicts with test flag parsing
func initConfig() *config {
	flag.Parse()

	cfg, err := loadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// Warn if using HTTP instead of HTTPS
	if strings.HasPrefix(strings.ToLower(cfg.serverURL), "http://") {
		fmt.Fprintln(
			os.Stderr,
			"⚠️  WARNING: Using HTTP instead of HTTPS. Credentials will be transmitted in plaintext!",
		)
		fmt.Fprintln(
			os.Stderr,
			"⚠️  This is only safe for local development. Use HTTPS in production.",
		)
		fmt.Fprintln(os.Stderr)
	}

	return cfg
}

// loadConfig resolves every setting with priority: flag > env > default.
func loadConfig() (*config, error) {
	cfg := &config{
		serverURL:    getConfig(*flagServerURL, "SERVER_URL", "http://localhost:8080"),
		store:        strings.ToLower(getConfig(*flagStore, "CREDENTIAL_STORE", storeFile)),
		tokenFile:    getConfig(*flagTokenFile, "TOKEN_FILE", ".authgate-credentials.json"),
		redisURL:     getConfig(*flagRedisURL, "REDIS_URL", "redis://localhost:6379/0"),
		profile:      getConfig(*flagProfile, "PROFILE", credstore.DefaultProfile),
		path:         getConfig(*flagPath, "API_PATH", "/api/me"),
		accessToken:  getConfig(*flagAccessToken, "ACCESS_TOKEN", ""),
		refreshToken: getConfig(*flagRefreshToken, "REFRESH_TOKEN", ""),
	}

	if err := apiclient.ValidateBaseURL(cfg.serverURL); err != nil {
		return nil, fmt.Errorf("invalid SERVER_URL: %w", err)
	}

	switch cfg.store {
	case storeFile, storeRedis, storeMemory:
	default:
		return nil, fmt.Errorf("invalid CREDENTIAL_STORE %q (want file, redis or memory)", cfg.store)
	}

	var err error
	if cfg.locale, err = language.Parse(getConfig(*flagLocale, "LOCALE", "en")); err != nil {
		return nil, fmt.Errorf("invalid LOCALE: %w", err)
	}
	if cfg.concurrency, err = parseInt(getConfig(*flagConcurrency, "CONCURRENCY", "4")); err != nil {
		return nil, fmt.Errorf("invalid CONCURRENCY: %w", err)
	}
	if cfg.concurrency < 1 {
		return nil, fmt.Errorf("invalid CONCURRENCY: must be at least 1, got %d", cfg.concurrency)
	}
	if cfg.maxRetries, err = parseInt(getConfig(*flagMaxRetries, "MAX_RETRIES", "0")); err != nil {
		return nil, fmt.Errorf("invalid MAX_RETRIES: %w", err)
	}
	if cfg.refreshTimeout, err = parseDuration(
		getConfig(*flagRefreshTimeout, "REFRESH_TIMEOUT", refresh.DefaultTimeout.String()),
	); err != nil {
		return nil, fmt.Errorf("invalid REFRESH_TIMEOUT: %w", err)
	}
	if cfg.requestTimeout, err = parseDuration(
		getConfig(*flagRequestTimeout, "REQUEST_TIMEOUT", apiclient.DefaultRequestTimeout.String()),
	); err != nil {
		return nil, fmt.Errorf("invalid REQUEST_TIMEOUT: %w", err)
	}
	if cfg.logLevel, err = logging.ParseLevel(getConfig(*flagLogLevel, "LOG_LEVEL", "warn")); err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	return cfg, nil
}

// getConfig returns value with priority: flag > env > default
func getConfig(flagValue, envKey, defaultValue string) string {
	if flagValue != "" {
		return flagValue
	}
	return getEnv(envKey, defaultValue)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseInt(raw string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", raw)
	}
	return n, nil
}

func parseDuration(raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("must be positive, got %s", raw)
	}
	return d, nil
}

// openStore builds the configured credential store. The returned close
// function releases backend connections and is never nil.
func openStore(ctx context.Context, cfg *config) (credstore.Store, string, func(), error) {
	switch cfg.store {
	case storeMemory:
		return credstore.NewMemory(), "memory", func() {}, nil
	case storeRedis:
		client, err := credstore.OpenRedis(ctx, cfg.redisURL)
		if err != nil {
			return nil, "", nil, err
		}
		closeFn := func() { _ = client.Close() }
		return credstore.NewRedis(client, credstore.WithProfile(cfg.profile)), "redis", closeFn, nil
	case storeFile:
		return credstore.NewFile(cfg.tokenFile, cfg.profile), cfg.tokenFile, func() {}, nil
	default:
		return nil, "", nil, fmt.Errorf("unknown credential store %q", cfg.store)
	}
}

// seedCredentials stores an externally obtained pair when one was configured.
func seedCredentials(ctx context.Context, store credstore.Store, cfg *config) (bool, error) {
	switch {
	case cfg.accessToken != "":
		return true, credstore.SetPair(ctx, store, cfg.accessToken, cfg.refreshToken)
	case cfg.refreshToken != "":
		if err := store.Set(ctx, credstore.Refresh, cfg.refreshToken); err != nil {
			return false, fmt.Errorf("failed to store refresh credential: %w", err)
		}
		return true, nil
	default:
		return false, nil
	}
}

// isTTY reports whether stderr is an interactive terminal.
// We check stderr because the TUI renders to stderr, allowing stdout to be piped.
func isTTY() bool {
	return term.IsTerminal(int(os.Stderr.Fd()))
}

func main() {
	cfg := initConfig()
	logger := logging.NewText(os.Stderr, cfg.logLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if isTTY() {
		// Run TUI program on stderr so stdout pipes are not corrupted
		m := tui.NewModel()
		// WithInput(nil): disable stdin/keyboard input so BubbleTea skips terminal
		// capability queries (?2026/?2027). Ctrl+C is handled by signal.NotifyContext.
		p := tea.NewProgram(m, tea.WithOutput(os.Stderr), tea.WithInput(nil))

		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := p.Run(); err != nil {
				fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
			}
		}()

		d := tui.NewProgramDisplayer(p)
		d.Banner()
		runErr := run(ctx, cfg, d, logger)
		p.Quit() // let BubbleTea drain terminal query responses before exiting
		wg.Wait()
		if runErr != nil {
			stop()
			os.Exit(1)
		}
	} else {
		d := tui.NewPlainDisplayer(os.Stderr)
		d.Banner()
		if err := run(ctx, cfg, d, logger); err != nil {
			stop()
			os.Exit(1)
		}
	}
}

// run wires the store, event bus, coordinator and client, then issues
// cfg.concurrency calls to cfg.path at once.
func run(ctx context.Context, cfg *config, d tui.Displayer, logger logging.Logger) error {
	store, source, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		d.Fatal(err)
		return err
	}
	defer closeStore()

	seeded, err := seedCredentials(ctx, store, cfg)
	if err != nil {
		d.Fatal(err)
		return err
	}
	if seeded {
		d.CredentialsSeeded()
	}

	access, err := store.Get(ctx, credstore.Access)
	if err != nil {
		d.Fatal(err)
		return err
	}
	if access != "" {
		d.CredentialsFound(source)
	} else {
		d.CredentialsNotFound(source)
	}

	bus := authevents.New(authevents.WithLogger(logger))
	unsubscribe := bus.Subscribe(d.SessionExpired)
	defer unsubscribe()

	httpClient := apiclient.NewHTTPClient()

	refresher, err := refresh.NewHTTPRefresher(cfg.serverURL, httpClient)
	if err != nil {
		d.Fatal(err)
		return err
	}

	coordinator := refresh.NewCoordinator(store, refresher,
		refresh.WithTimeout(cfg.refreshTimeout),
		refresh.WithPublisher(bus),
		refresh.WithLogger(logger),
		refresh.WithHooks(d.Refreshing, func(err error) {
			if err != nil {
				d.RefreshFailed(err)
				return
			}
			d.RefreshOK()
		}),
	)

	client, err := apiclient.New(cfg.serverURL, store, coordinator,
		apiclient.WithHTTPClient(httpClient),
		apiclient.WithMaxRetries(cfg.maxRetries),
		apiclient.WithLogger(logger),
		apiclient.WithLocale(cfg.locale),
		apiclient.WithTimeout(cfg.requestTimeout),
	)
	if err != nil {
		d.Fatal(err)
		return err
	}

	started := time.Now()
	d.Requesting(cfg.concurrency, cfg.path)

	errs := make([]error, cfg.concurrency)
	var wg sync.WaitGroup
	for i := range cfg.concurrency {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			var body json.RawMessage
			if err := client.Get(ctx, cfg.path, &body); err != nil {
				errs[id] = err
				d.CallFailed(id+1, err)
				return
			}
			d.CallOK(id+1, preview(body))
		}(i)
	}
	wg.Wait()

	summary := tui.Summary{
		Calls:     cfg.concurrency,
		Refreshes: coordinator.Attempts(),
		Elapsed:   time.Since(started),
	}
	var firstErr error
	for _, err := range errs {
		if err == nil {
			summary.Succeeded++
			continue
		}
		summary.Failed++
		// session loss outranks whatever the other calls saw
		if firstErr == nil || errors.Is(err, apiclient.ErrSessionTerminated) &&
			!errors.Is(firstErr, apiclient.ErrSessionTerminated) {
			firstErr = err
		}
	}
	if final, err := store.Get(ctx, credstore.Access); err == nil {
		summary.Access = logging.Redact(final)
	}
	d.Done(summary)

	if firstErr != nil {
		if errors.Is(firstErr, apiclient.ErrSessionTerminated) {
			return fmt.Errorf("session expired: %w", firstErr)
		}
		return fmt.Errorf("%d of %d calls failed: %w", summary.Failed, summary.Calls, firstErr)
	}
	return nil
}

// preview shortens a response body to bodyPreviewLen runes for display.
func preview(body []byte) string {
	runes := []rune(strings.TrimSpace(string(body)))
	if len(runes) > bodyPreviewLen {
		return string(runes[:bodyPreviewLen]) + "..."
	}
	return string(runes)
}
