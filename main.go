// Math Coach: a math-tutoring chat service with incremental conversation
// summarization.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/tainanafeng/math-coach/internal/channel"
	"github.com/tainanafeng/math-coach/internal/retrieval"
	"github.com/tainanafeng/math-coach/internal/security"
	"github.com/tainanafeng/math-coach/internal/upload"
	"github.com/tainanafeng/math-coach/internal/web"
)

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: %s [-config FILE] <command> [options]

COMMANDS:
  serve                      Start the web chat (and Telegram when configured)
  chat [-user NAME]          Chat on the console as NAME (default "console")
  seed [-file PATH]          Rebuild the retrieval index from a YAML seed
                             (default: the built-in examples)
  secret set NAME            Store a secret read from stdin in the keychain
  secret get NAME            Show a stored secret, masked
  secret delete NAME         Remove a stored secret
  secret hash-password       Print the bcrypt hash of a password read from stdin

SECRET NAMES:
  %s, %s, %s,
  %s, %s
  Reference one from the config file with the value "[keyring]".

ENVIRONMENT VARIABLES:
  MATHCOACH_CONFIG           Config file, same as -config
  LLM_API_KEY / OPENAI_API_KEY / ANTHROPIC_API_KEY
  SESSION_SECRET, TEST_USERS_JSON, TELEGRAM_TOKEN, DB_PATH, PORT
  %s  Password of the fallback vault file

FLAGS:
`, os.Args[0],
		secretNameLLMKey, secretNameFallbackLLMKey, secretNameEmbeddingKey,
		secretNameTelegramToken, secretNameSessionSecret,
		vaultPasswordEnv)
	flag.PrintDefaults()
}

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: .env: %v\n", err)
	}

	configPath := flag.String("config", os.Getenv("MATHCOACH_CONFIG"), "config file (default ~/.mathcoach/config.json)")
	flag.Usage = printUsage
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	args := flag.Args()
	cmd := "serve"
	if len(args) > 0 {
		cmd, args = strings.ToLower(strings.TrimSpace(args[0])), args[1:]
	}

	var code int
	switch cmd {
	case "help", "-h", "--help":
		printUsage()
	case "serve":
		code = runServe(ctx, *configPath)
	case "chat":
		code = runChat(ctx, *configPath, args)
	case "seed":
		code = runSeed(ctx, *configPath, args)
	case "secret":
		code = runSecret(*configPath, args, os.Stdin, os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", cmd)
		printUsage()
		code = 2
	}
	stop()
	os.Exit(code)
}

func fail(app *App, msg string, err error) int {
	if app != nil && app.log != nil {
		app.log.Error(msg, zap.Error(err))
	}
	fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	return 1
}

func runServe(ctx context.Context, configPath string) int {
	app, err := newApp(configPath)
	if err != nil {
		return fail(nil, "startup failed", err)
	}
	defer app.Close()

	if err := app.cfg.ValidateServer(); err != nil {
		return fail(app, "invalid server config", err)
	}
	if err := app.initCore(ctx); err != nil {
		return fail(app, "startup failed", err)
	}

	if tg := app.cfg.Channels.Telegram; tg != nil && tg.Token != "" {
		app.chanMgr.Register(channel.NewTelegramChannel(channel.TelegramConfig{
			Token:      tg.Token,
			AllowedIDs: tg.AllowedIDs,
		}, app.log))
	}
	app.tutor.Serve(ctx, app.chanMgr)
	if err := app.chanMgr.StartAll(ctx); err != nil {
		app.log.Warn("failed to start channels", zap.Error(err))
	}
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		app.chanMgr.StopAll(stopCtx)
	}()

	srv := web.NewServer(web.Options{
		Accounts:      security.NewAccounts(app.cfg.Accounts),
		Sessions:      security.NewSessionManager(app.cfg.Server.SessionSecret, time.Duration(app.cfg.Server.SessionTTLMins)*time.Minute),
		Tutor:         app.tutor,
		Store:         app.store,
		Uploads:       upload.NewRegistry(),
		MaxUploadMB:   app.cfg.Server.MaxUploadMB,
		SecureCookies: app.cfg.Server.SecureCookies,
		Logger:        app.log,
	})
	if err := srv.ListenAndServe(ctx, app.cfg.Server.Addr); err != nil {
		return fail(app, "server failed", err)
	}
	app.log.Info("server stopped")
	return 0
}

func runChat(ctx context.Context, configPath string, args []string) int {
	fs := flag.NewFlagSet("chat", flag.ContinueOnError)
	user := fs.String("user", "console", "conversation to continue")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	app, err := newApp(configPath)
	if err != nil {
		return fail(nil, "startup failed", err)
	}
	defer app.Close()
	if err := app.initCore(ctx); err != nil {
		return fail(app, "startup failed", err)
	}

	console := channel.NewConsoleChannel(*user, os.Stdin, os.Stdout)
	app.chanMgr.Register(console)
	app.tutor.Serve(ctx, app.chanMgr)
	if err := app.chanMgr.StartAll(ctx); err != nil {
		return fail(app, "start console", err)
	}
	fmt.Printf("Math Coach · %s (Ctrl-D to quit)\n\n> ", *user)

	select {
	case <-ctx.Done():
	case <-console.Done():
	}
	app.chanMgr.StopAll(context.Background())
	fmt.Println()
	return 0
}

func runSeed(ctx context.Context, configPath string, args []string) int {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	file := fs.String("file", "", "YAML seed file (default: built-in examples)")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	app, err := newApp(configPath)
	if err != nil {
		return fail(nil, "startup failed", err)
	}
	defer app.Close()

	rc := app.cfg.Retrieval
	if rc.APIKey == "" {
		return fail(app, "seed", errors.New("retrieval.api_key (or OPENAI_API_KEY) is required to embed examples"))
	}
	embedder, err := retrieval.NewOpenAIEmbedder(rc.APIKey, rc.BaseURL, rc.EmbeddingModel)
	if err != nil {
		return fail(app, "seed", err)
	}
	index, err := retrieval.OpenStore(rc.IndexPath)
	if err != nil {
		return fail(app, "seed", err)
	}
	app.index = index

	path := *file
	if path == "" {
		path = rc.SeedPath
	}
	stats, err := seedIndex(ctx, index, embedder, path)
	if err != nil {
		return fail(app, "seed", err)
	}
	fmt.Printf("indexed %d context examples and %d teaching examples into %s\n",
		stats.Context, stats.Teaching, rc.IndexPath)
	return 0
}

func runSecret(configPath string, args []string, in io.Reader, out io.Writer) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	if args[0] == "hash-password" {
		password, err := readLine(in)
		if err != nil || password == "" {
			fmt.Fprintln(os.Stderr, "no password on stdin")
			return 2
		}
		hash, err := security.HashPassword(password)
		if err != nil {
			return fail(nil, "hash password", err)
		}
		fmt.Fprintln(out, hash)
		return 0
	}

	if len(args) < 2 {
		fmt.Fprintf(os.Stderr, "usage: secret %s NAME\n", args[0])
		return 2
	}
	app, err := newApp(configPath)
	if err != nil {
		return fail(nil, "startup failed", err)
	}
	defer app.Close()
	if app.keyStore == nil {
		return fail(app, "secret", errors.New("no key store available"))
	}

	name := args[1]
	switch args[0] {
	case "set":
		value, err := readLine(in)
		if err != nil || value == "" {
			fmt.Fprintln(os.Stderr, "no value on stdin")
			return 2
		}
		if err := app.keyStore.Set(name, value); err != nil {
			return fail(app, "store secret", err)
		}
		fmt.Fprintf(out, "stored %s; reference it with \"[keyring]\" in the config\n", name)
	case "get":
		value, err := app.keyStore.Get(name)
		if err != nil {
			return fail(app, "read secret", err)
		}
		fmt.Fprintln(out, security.MaskKey(value))
	case "delete":
		if err := app.keyStore.Delete(name); err != nil {
			return fail(app, "delete secret", err)
		}
		fmt.Fprintf(out, "deleted %s\n", name)
	default:
		fmt.Fprintf(os.Stderr, "unknown secret action %q\n", args[0])
		return 2
	}
	return 0
}

func readLine(in io.Reader) (string, error) {
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
