// Package main is the Choubo CLI entry point.
package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ledgerworks/choubo/internal/anthropic"
	"github.com/ledgerworks/choubo/internal/auth"
	"github.com/ledgerworks/choubo/internal/chat"
	"github.com/ledgerworks/choubo/internal/config"
	"github.com/ledgerworks/choubo/internal/extract"
	"github.com/ledgerworks/choubo/internal/llm"
	"github.com/ledgerworks/choubo/internal/locator"
	"github.com/ledgerworks/choubo/internal/models"
	"github.com/ledgerworks/choubo/internal/openai"
	"github.com/ledgerworks/choubo/internal/reconcile"
	"github.com/ledgerworks/choubo/internal/retrieval"
	"github.com/ledgerworks/choubo/internal/server"
	"github.com/ledgerworks/choubo/internal/storage"
	"github.com/ledgerworks/choubo/internal/watcher"
	"github.com/ledgerworks/choubo/internal/workbook"
	"github.com/ledgerworks/choubo/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/choubo/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks
// for config.yaml in the current directory (for development); if that exists
// it is used.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "import-ledger":
		runImportLedger()
	case "import-transactions":
		runImportTransactions()
	case "version", "--version", "-v":
		fmt.Printf("choubo version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`Usage: choubo <command> [flags]

Commands:
  server               Start the API server
  import-ledger        Import chart-of-accounts codes from a CSV file
  import-transactions  Import posted transactions from a CSV file
  version              Print version
  help                 Print this help

Environment:
  JWT_SECRET           Token signing secret (required for server)
  CHOUBO_ACCESS_KEY    Shared key for the login endpoint (optional)
  ANTHROPIC_API_KEY    API key when llm.provider is anthropic
  OPENAI_API_KEY       API key when llm.provider is openai
`)
}

// components holds everything the server command wires together.
type components struct {
	store  storage.Store
	blobs  *storage.BlobStore
	index  *retrieval.Index
	tokens *auth.Service
	logger *zap.Logger
}

func (c *components) Close() {
	if c.index != nil {
		_ = c.index.Close()
	}
	if c.store != nil {
		_ = c.store.Close()
	}
}

func initializeComponents(cfg *config.Config, logger *zap.Logger) (*components, error) {
	store, err := storage.NewSQLiteStore(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open metadata store: %w", err)
	}
	blobs, err := storage.NewBlobStore(cfg.Storage.BlobRoot)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open blob store: %w", err)
	}
	index, err := retrieval.NewIndex(cfg.Storage.IndexPath)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("open retrieval index: %w", err)
	}

	secret := os.Getenv("JWT_SECRET")
	tokens, err := auth.NewService(secret,
		time.Duration(cfg.Auth.TokenTTLMinutes)*time.Minute,
		time.Duration(cfg.Auth.DownloadTTLMinutes)*time.Minute)
	if err != nil {
		_ = index.Close()
		_ = store.Close()
		return nil, fmt.Errorf("auth: %w", err)
	}

	return &components{store: store, blobs: blobs, index: index, tokens: tokens, logger: logger}, nil
}

func newLLMClient(cfg *config.Config) (llm.Client, error) {
	switch cfg.LLM.Provider {
	case "anthropic":
		key := os.Getenv("ANTHROPIC_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("ANTHROPIC_API_KEY is not set")
		}
		return anthropic.NewClient(key, anthropic.WithMaxTokens(cfg.LLM.MaxTokens)), nil
	case "openai":
		key := os.Getenv("OPENAI_API_KEY")
		if key == "" {
			return nil, fmt.Errorf("OPENAI_API_KEY is not set")
		}
		return openai.NewClient(key, openai.WithMaxTokens(cfg.LLM.MaxTokens)), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	comps, err := initializeComponents(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer comps.Close()

	client, err := newLLMClient(cfg)
	if err != nil {
		logger.Fatal("Failed to create model client", zap.Error(err))
	}

	reconciler := reconcile.New(comps.store, comps.blobs, comps.tokens, logger)
	mutator := workbook.NewMutator(locator.New(comps.store, logger), comps.blobs, logger)
	orchestrator := chat.New(comps.store, comps.blobs, mutator, reconciler,
		comps.index, extract.NewExtractor(), client, cfg.LLM.Model,
		chat.Limits{
			SimilarMessages:    cfg.Retrieval.SimilarMessages,
			LedgerCodes:        cfg.Retrieval.LedgerCodes,
			RecentTransactions: cfg.Retrieval.RecentTransactions,
		}, logger)

	watchSvc := watcher.New(comps.store, comps.blobs, cfg.Storage.BlobRoot, logger)
	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if err := watchSvc.Start(watchCtx); err != nil {
		logger.Fatal("Failed to start watcher", zap.Error(err))
	}
	defer watchSvc.Stop()

	srv := server.NewServer(
		orchestrator,
		reconciler,
		comps.store,
		comps.blobs,
		comps.tokens,
		os.Getenv("CHOUBO_ACCESS_KEY"),
		cfg,
		logger,
	)
	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

// runImportLedger loads chart-of-accounts entries from a CSV of
// code,description rows and indexes them for retrieval.
func runImportLedger() {
	fs := flag.NewFlagSet("import-ledger", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	_ = fs.Parse(os.Args[2:])
	if fs.NArg() < 1 {
		fmt.Println("Usage: choubo import-ledger [flags] <file.csv>")
		os.Exit(1)
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	store, err := storage.NewSQLiteStore(cfg.Storage.DatabasePath)
	if err != nil {
		logger.Fatal("Failed to open metadata store", zap.Error(err))
	}
	defer store.Close()
	index, err := retrieval.NewIndex(cfg.Storage.IndexPath)
	if err != nil {
		logger.Fatal("Failed to open retrieval index", zap.Error(err))
	}
	defer index.Close()

	ctx := context.Background()
	count := 0
	err = forEachCSVRow(fs.Arg(0), 2, func(fields []string) error {
		code := &models.LedgerCode{
			Code:        strings.TrimSpace(fields[0]),
			Description: strings.TrimSpace(fields[1]),
		}
		if err := store.UpsertLedgerCode(ctx, code); err != nil {
			return err
		}
		if err := index.IndexLedgerCode(code); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		logger.Fatal("Import failed", zap.Error(err))
	}
	logger.Info("Imported ledger codes", zap.Int("count", count))
}

// runImportTransactions loads posted transactions from a CSV of
// date,description,ledger_code,amount rows. Dates are YYYY-MM-DD; amounts
// are exact decimals, negative for debits.
func runImportTransactions() {
	fs := flag.NewFlagSet("import-transactions", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	user := fs.String("user", "", "user id owning the transactions")
	_ = fs.Parse(os.Args[2:])
	if fs.NArg() < 1 || *user == "" {
		fmt.Println("Usage: choubo import-transactions [flags] --user <id> <file.csv>")
		os.Exit(1)
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	store, err := storage.NewSQLiteStore(cfg.Storage.DatabasePath)
	if err != nil {
		logger.Fatal("Failed to open metadata store", zap.Error(err))
	}
	defer store.Close()

	ctx := context.Background()
	count := 0
	err = forEachCSVRow(fs.Arg(0), 4, func(fields []string) error {
		date, err := time.Parse("2006-01-02", strings.TrimSpace(fields[0]))
		if err != nil {
			return fmt.Errorf("bad date %q: %w", fields[0], err)
		}
		amount, err := decimal.NewFromString(strings.TrimSpace(fields[3]))
		if err != nil {
			return fmt.Errorf("bad amount %q: %w", fields[3], err)
		}
		tx := &models.Transaction{
			ID:          uuid.NewString(),
			UserID:      *user,
			Date:        date,
			Description: strings.TrimSpace(fields[1]),
			LedgerCode:  strings.TrimSpace(fields[2]),
			Amount:      amount,
		}
		if err := store.CreateTransaction(ctx, tx); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		logger.Fatal("Import failed", zap.Error(err))
	}
	logger.Info("Imported transactions", zap.Int("count", count), zap.String("user", *user))
}

// forEachCSVRow reads path and calls fn for every record with at least
// minFields fields. Files must not carry a header row; short rows are
// skipped.
func forEachCSVRow(path string, minFields int, fn func(fields []string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.FieldsPerRecord = -1
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		line++
		if len(record) < minFields {
			continue
		}
		if err := fn(record); err != nil {
			return fmt.Errorf("line %d: %w", line, err)
		}
	}
}
