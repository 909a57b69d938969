package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"coinsafe/pkg/account"
	"coinsafe/pkg/auth"
	"coinsafe/pkg/config"
	"coinsafe/pkg/logging"
	"coinsafe/pkg/metrics"
	"coinsafe/pkg/models"
	"coinsafe/pkg/rpc"
	"coinsafe/pkg/server"
	"coinsafe/pkg/store"
	"coinsafe/pkg/tui"
	"coinsafe/pkg/watcher"

	"github.com/common-nighthawk/go-figure"
	"github.com/rs/zerolog"
)

// Version should be set during build
var Version = "dev"

// app holds the wired components shared by every run mode.
type app struct {
	cfg     *config.Config
	log     zerolog.Logger
	metrics *metrics.Metrics
	store   *store.Store
	api     *rpc.API
	watcher *watcher.Watcher
	closers []io.Closer
}

// openStore picks redis when a URL is configured and the data directory otherwise.
func openStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*store.Store, io.Closer, error) {
	if cfg.RedisURL != "" {
		adapter, err := store.NewRedisAdapter(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to redis: %w", err)
		}
		log.Info().Msg("persisting state in redis")
		return store.New(adapter, store.WithLogger(log)), adapter, nil
	}

	dir, err := cfg.DataPath()
	if err != nil {
		return nil, nil, err
	}
	adapter, err := store.NewFileAdapter(dir)
	if err != nil {
		return nil, nil, err
	}
	log.Info().Str("dir", dir).Msg("persisting state on disk")
	return store.New(adapter, store.WithLogger(log)), nil, nil
}

func buildApp(ctx context.Context, cfg *config.Config, st *store.Store, log zerolog.Logger) (*app, error) {
	m := metrics.New()
	creds := auth.NewCredentials(auth.Pair{})
	client := auth.NewClient(creds, cfg.RefreshURL(),
		auth.WithHTTPClient(&http.Client{Timeout: cfg.RequestTimeout()}),
		auth.WithLogger(log),
		auth.WithMetrics(m),
	)
	api := rpc.NewAPI(client, cfg.OracleURL, cfg.BackendURL, cfg.RequestTimeout())

	w := watcher.New(cfg, st, creds, &watcher.RealDataSource{API: api},
		watcher.WithLogger(log),
		watcher.WithMetrics(m),
	)
	if err := w.Hydrate(ctx); err != nil {
		return nil, fmt.Errorf("hydrate state: %w", err)
	}
	return &app{cfg: cfg, log: log, metrics: m, store: st, api: api, watcher: w}, nil
}

// restore exchanges a recovery phrase for a wallet and loads it.
func (a *app) restore(ctx context.Context, mnemonic string) error {
	return account.Restore(ctx, a.api, a.watcher, mnemonic)
}

func (a *app) create(ctx context.Context, phone, password string) (models.NewWallet, error) {
	return account.Create(ctx, a.api, a.watcher, phone, password)
}

func (a *app) login(ctx context.Context, phone, password string) error {
	return account.Login(ctx, a.api, a.watcher, phone, password)
}

// writeToken stores the API token next to the state so local scripts can read it.
func writeToken(cfg *config.Config, token string) (string, error) {
	dir, err := cfg.DataPath()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	path := filepath.Join(dir, "api.token")
	if err := os.WriteFile(path, []byte(token+"\n"), 0o600); err != nil {
		return "", err
	}
	return path, nil
}

// readLine prompts on stdout and reads one line from in.
func readLine(in *bufio.Reader, prompt string) (string, error) {
	fmt.Print(prompt)
	line, err := in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

func (a *app) Close() {
	a.watcher.Stop()
	if err := a.watcher.Persist(context.Background()); err != nil {
		a.log.Error().Err(err).Msg("final persist failed")
	}
	for _, c := range a.closers {
		_ = c.Close()
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}

// runOneShot performs the restore, create or login flag and reports on stdout.
func runOneShot(ctx context.Context, a *app, restore, create bool, in *bufio.Reader) error {
	if restore {
		phrase, err := readLine(in, "Recovery phrase: ")
		if err != nil {
			return err
		}
		if err := a.restore(ctx, phrase); err != nil {
			return fmt.Errorf("restore failed: %w", err)
		}
		fmt.Printf("Wallet %s restored.\n", a.watcher.Wallet().Address)
		return nil
	}

	phone, err := readLine(in, "Phone number: ")
	if err != nil {
		return err
	}
	password, err := readLine(in, "Password: ")
	if err != nil {
		return err
	}

	if create {
		created, err := a.create(ctx, phone, password)
		if err != nil {
			return fmt.Errorf("create failed: %w", err)
		}
		fmt.Printf("Wallet %s created.\n\nWrite down this recovery phrase, it is shown only once:\n\n  %s\n\n", created.Address, created.Mnemonic.Phrase)
		return nil
	}

	if err := a.login(ctx, phone, password); err != nil {
		return fmt.Errorf("login failed: %w", err)
	}
	fmt.Printf("Wallet %s logged in.\n", a.watcher.Wallet().Address)
	return nil
}

func main() {
	testFlag := flag.Bool("t", false, "Test configuration and exit")
	testLongFlag := flag.Bool("test", false, "Test configuration and exit")
	jsonFlag := flag.Bool("json", false, "Output test results as JSON")
	dryRunFlag := flag.Bool("dry-run", false, "Perform a trial run with no changes made")
	configFlag := flag.String("config", "", "Path to configuration file")
	versionFlag := flag.Bool("version", false, "Print version and exit")
	serverFlag := flag.Bool("server", false, "Run in headless server mode")
	portFlag := flag.Int("port", 8080, "Port for API server")
	hostFlag := flag.String("host", server.DefaultHost, "Interface for API server")
	restoreFlag := flag.Bool("restore", false, "Read a recovery phrase from stdin, restore the wallet and exit")
	createFlag := flag.Bool("create", false, "Create a wallet and phone account from stdin input and exit")
	loginFlag := flag.Bool("login", false, "Log the stored wallet back in with phone and password from stdin and exit")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("coinsafe version %s\n", Version)
		os.Exit(0)
	}

	cfgInput := *configFlag
	if cfgInput == "" && len(flag.Args()) > 0 {
		cfgInput = flag.Args()[0]
	}
	path, err := config.GetConfigPath(cfgInput)
	if err != nil {
		fmt.Printf("Error determining config path: %v\n", err)
		os.Exit(1)
	}
	cfg, err := config.LoadConfigFromFile(path)
	if err != nil {
		fmt.Printf("Error loading config from %s: %v\n", path, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *testFlag || *testLongFlag {
		api := rpc.NewAPI(&http.Client{Timeout: cfg.RequestTimeout()}, cfg.OracleURL, cfg.BackendURL, cfg.RequestTimeout())
		var out io.Writer = os.Stdout
		if *jsonFlag {
			out = nil
		}
		report, ok := runCheck(ctx, cfg, path, api, rpc.FetchChainID, *dryRunFlag, out)
		if *jsonFlag {
			printJSON(report)
		}
		if !ok {
			os.Exit(1)
		}
		os.Exit(0)
	}

	// The dashboard owns the terminal, so it logs to a file.
	oneShot := *restoreFlag || *createFlag || *loginFlag
	interactive := !*serverFlag && !oneShot
	log := logging.Console(cfg.LogLevel)
	if interactive {
		logPath, err := cfg.LogPath()
		if err != nil {
			fmt.Printf("Error determining log path: %v\n", err)
			os.Exit(1)
		}
		fileLog, f, err := logging.File(cfg.LogLevel, logPath)
		if err != nil {
			fmt.Printf("Error opening log file %s: %v\n", logPath, err)
			os.Exit(1)
		}
		defer func() { _ = f.Close() }()
		log = fileLog
	}

	st, closer, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("open store")
	}
	a, err := buildApp(ctx, cfg, st, log)
	if err != nil {
		log.Fatal().Err(err).Msg("start")
	}
	if closer != nil {
		a.closers = append(a.closers, closer)
	}
	defer a.Close()

	if oneShot {
		if err := runOneShot(ctx, a, *restoreFlag, *createFlag, bufio.NewReader(os.Stdin)); err != nil {
			fmt.Println(err)
			a.Close()
			os.Exit(1)
		}
		return
	}

	a.watcher.Start(ctx)
	srv := server.NewServer(a.watcher, a.api,
		server.WithLogger(log),
		server.WithMetrics(a.metrics),
		server.WithHost(*hostFlag),
	)
	if tokenPath, err := writeToken(cfg, srv.Token()); err != nil {
		log.Warn().Err(err).Msg("could not write API token file")
	} else {
		log.Info().Str("path", tokenPath).Msg("API token written")
	}

	if *serverFlag {
		figure.NewFigure("CoinSafe", "cybermedium", true).Print()
		fmt.Println()
		if dir, err := cfg.DataPath(); err == nil {
			fmt.Printf("API token: %s\n", filepath.Join(dir, "api.token"))
		}
		if err := srv.Start(ctx, *portFlag); err != nil {
			log.Error().Err(err).Msg("server error")
		}
		return
	}

	go func() {
		if err := srv.Start(ctx, *portFlag); err != nil {
			log.Error().Err(err).Msg("server error")
		}
	}()

	actions := tui.Actions{
		Restore:      a.restore,
		Login:        a.login,
		Transactions: a.api.FetchTransactions,
		Payments:     a.api.PaymentHistory,
	}
	if err := tui.Start(a.watcher, actions, Version); err != nil {
		fmt.Printf("Alas, there's been an error: %v", err)
	}
	stop()
}
