package main

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/cardscan/internal/card"
	"github.com/zombor/cardscan/internal/contact"
	"github.com/zombor/cardscan/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	if err := run(os.Args[1:]); err != nil {
		slog.Error("cardscan failed", "error", err)
		os.Exit(1)
	}
}

// run parses flags and serves until interrupted, or runs a one-shot extraction
func run(args []string) error {
	// Check for version flag before parsing other flags
	for _, arg := range args {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			return nil
		}
	}

	fs := ff.NewFlagSet("cardscan")
	var (
		port           = fs.IntLong("port", 8080, "HTTP server port")
		provider       = fs.StringLong("provider", "gemini", "Model provider: 'gemini', 'ollama', 'openai' or 'claude'")
		geminiKey      = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel    = fs.StringLong("gemini-model", "gemini-2.5-flash", "Google Gemini model name")
		ollamaURL      = fs.StringLong("ollama-url", "http://localhost:11434", "Ollama API base URL")
		ollamaModel    = fs.StringLong("ollama-model", "llama3.2-vision", "Ollama vision model name (e.g., llama3.2-vision, llava, qwen2.5vl)")
		openAIKey      = fs.StringLong("openai-key", "", "OpenAI API key (or set OPENAI_API_KEY env var)")
		openAIModel    = fs.StringLong("openai-model", "gpt-4o-mini", "OpenAI model name")
		openAIBaseURL  = fs.StringLong("openai-base-url", "", "OpenAI-compatible API base URL (optional)")
		anthropicKey   = fs.StringLong("anthropic-key", "", "Anthropic API key (or set ANTHROPIC_API_KEY env var)")
		anthropicModel = fs.StringLong("anthropic-model", "claude-sonnet-4-5-20250929", "Anthropic model name")
		modelTimeout   = fs.DurationLong("model-timeout", 60*time.Second, "Timeout for each model call")
		retryAttempts  = fs.IntLong("retry-attempts", 3, "Model call attempts per image, including the first (1 disables retries)")
		retryDelay     = fs.DurationLong("retry-delay", 500*time.Millisecond, "Initial delay between model call attempts")
		maxUploadMB    = fs.IntLong("max-upload-mb", 20, "Maximum upload size in megabytes")
		authUser       = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass       = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		extractPath    = fs.StringLong("extract", "", "Extract a single image, print the CSV to stdout and exit")
		showVersion    = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, args,
		ff.WithEnvVarPrefix("CARDSCAN"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		return fmt.Errorf("parsing flags: %w", err)
	}

	// Check version flag after parsing
	if *showVersion {
		fmt.Println(version)
		return nil
	}

	// Initialize invoker based on provider
	var (
		invoker scanning.Invoker
		err     error
	)
	switch *provider {
	case "gemini":
		apiKey := firstNonEmpty(*geminiKey, os.Getenv("GEMINI_API_KEY"))
		slog.Info("Initializing Gemini invoker...", "model", *geminiModel)
		invoker, err = scanning.NewGemini(apiKey, *geminiModel)
	case "ollama":
		slog.Info("Initializing Ollama invoker...", "url", *ollamaURL, "model", *ollamaModel)
		invoker, err = scanning.NewOllama(*ollamaURL, *ollamaModel)
	case "openai":
		slog.Info("Initializing OpenAI invoker...", "model", *openAIModel)
		invoker, err = scanning.NewOpenAI(scanning.OpenAIConfig{
			APIKey:  firstNonEmpty(*openAIKey, os.Getenv("OPENAI_API_KEY")),
			Model:   *openAIModel,
			BaseURL: *openAIBaseURL,
		})
	case "claude":
		slog.Info("Initializing Claude invoker...", "model", *anthropicModel)
		invoker, err = scanning.NewClaude(scanning.ClaudeConfig{
			APIKey: firstNonEmpty(*anthropicKey, os.Getenv("ANTHROPIC_API_KEY")),
			Model:  *anthropicModel,
		})
	default:
		return fmt.Errorf("invalid provider %q: want gemini, ollama, openai or claude", *provider)
	}
	if err != nil {
		return fmt.Errorf("initializing %s invoker: %w", *provider, err)
	}
	defer invoker.Close()

	extractor, err := scanning.NewExtractor(invoker)
	if err != nil {
		return fmt.Errorf("initializing extractor: %w", err)
	}

	attempts := *retryAttempts
	if attempts < 1 {
		attempts = 1
	}
	policy := card.RetryPolicy{
		Attempts: uint(attempts),
		Delay:    *retryDelay,
		Timeout:  *modelTimeout,
	}
	service := card.NewService(card.NewMemoryStore(), extractor, policy)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *extractPath != "" {
		if err := extractFile(ctx, service, *extractPath, os.Stdout); err != nil {
			return fmt.Errorf("extracting %s: %w", *extractPath, err)
		}
		return nil
	}

	basicAuth := card.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	}
	server := card.NewServer(service, basicAuth, card.WithMaxUploadBytes(int64(*maxUploadMB)<<20))

	// Start server in goroutine
	addr := fmt.Sprintf(":%d", *port)
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Start(addr)
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "provider", service.Provider())
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	// Wait for interrupt signal or a listener failure
	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("serving: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	return nil
}

// extractFile runs one extraction and writes the record as CSV to w
func extractFile(ctx context.Context, service *card.Service, path string, w io.Writer) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading image: %w", err)
	}

	result := service.Extract(ctx, data, contentTypeFor(path, data))
	if !result.OK() {
		return errors.New(result.Error.Message)
	}
	return contact.WriteCSV(w, *result.Record)
}

// contentTypeFor guesses a file's type from its extension, then its content
func contentTypeFor(path string, data []byte) string {
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); ct != "" {
		return ct
	}
	return http.DetectContentType(data)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
