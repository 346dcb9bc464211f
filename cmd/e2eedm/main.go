package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	e2eedm "github.com/egregoros/e2eedm-go"
)

func main() {
	if err := run(os.Args, DefaultConfig()); err != nil {
		fmt.Fprintf(os.Stderr, "e2eedm: %v\n", err)
		fmt.Fprintln(os.Stderr, e2eedm.UserMessage(err))
		os.Exit(1)
	}
}

func run(args []string, cfg Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	a := &app{cfg: cfg, stdin: bufio.NewReader(cfg.Stdin)}
	root := a.rootCmd()
	root.SetArgs(args[1:])
	root.SetIn(cfg.Stdin)
	root.SetOut(cfg.Stdout)
	root.SetErr(cfg.Stderr)

	err := root.ExecuteContext(ctx)
	if cerr := a.close(); err == nil {
		err = cerr
	}
	return err
}

// app is the state shared by one command invocation.
type app struct {
	cfg    Config
	stdin  *bufio.Reader
	client *e2eedm.Client
}

func (a *app) rootCmd() *cobra.Command {
	var (
		configPath string
		flags      settings
		retries    int
	)

	root := &cobra.Command{
		Use:           "e2eedm",
		Short:         "End-to-end encrypted direct messages",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			home, err := a.cfg.home()
			if err != nil {
				return err
			}
			if configPath == "" {
				configPath = filepath.Join(home, "config.yaml")
			}
			s, err := loadSettings(configPath, home)
			if err != nil {
				return err
			}

			f := cmd.Flags()
			if f.Changed("base-url") {
				s.BaseURL = flags.BaseURL
			}
			if f.Changed("token") {
				s.Token = flags.Token
			}
			if f.Changed("actor") {
				s.ActorID = flags.ActorID
			}
			if f.Changed("handle") {
				s.Handle = flags.Handle
			}
			if f.Changed("cache-dir") {
				s.CacheDir = flags.CacheDir
			}
			if f.Changed("timeout") {
				s.Timeout = flags.Timeout
			}
			if f.Changed("retries") {
				s.Retries = &retries
			}
			if f.Changed("log-level") {
				s.LogLevel = flags.LogLevel
			}
			return a.open(s)
		},
	}

	pf := root.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "config file (default ~/.e2eedm/config.yaml)")
	pf.StringVar(&flags.BaseURL, "base-url", "", "instance URL")
	pf.StringVar(&flags.Token, "token", "", "session bearer token")
	pf.StringVar(&flags.ActorID, "actor", "", "your ActivityPub actor id")
	pf.StringVar(&flags.Handle, "handle", "", "your handle, shown by authenticators")
	pf.StringVar(&flags.CacheDir, "cache-dir", "", "unlocked key cache directory")
	pf.DurationVar(&flags.Timeout, "timeout", 30*time.Second, "per-request timeout")
	pf.IntVar(&retries, "retries", 3, "retries for transient API failures")
	pf.StringVar(&flags.LogLevel, "log-level", "warn", "log level")

	root.AddCommand(
		a.statusCmd(),
		a.enableRecoveryCmd(),
		a.unlockCmd(),
		a.encryptCmd(),
		a.decryptCmd(),
		a.resolveCmd(),
		a.lockCmd(),
	)
	return root
}

func (a *app) open(s settings) error {
	logger := logrus.New()
	logger.SetOutput(a.cfg.Stderr)
	level, err := logrus.ParseLevel(s.LogLevel)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	logger.SetLevel(level)

	if err := os.MkdirAll(s.CacheDir, 0o700); err != nil {
		return fmt.Errorf("create cache dir: %w", err)
	}
	store, err := e2eedm.OpenFileKeyStore(s.CacheDir)
	if err != nil {
		return fmt.Errorf("open key cache: %w", err)
	}

	opts := []e2eedm.Option{
		e2eedm.WithBaseURL(s.BaseURL),
		e2eedm.WithToken(s.Token),
		e2eedm.WithActorID(s.ActorID),
		e2eedm.WithUser(s.Handle),
		e2eedm.WithTimeout(s.Timeout),
		e2eedm.WithLogger(logger),
		e2eedm.WithKeyStore(store),
		e2eedm.WithMnemonicPrompt(a.promptPhrase),
	}
	if s.Retries != nil {
		opts = append(opts, e2eedm.WithRetries(*s.Retries))
	}

	client, err := e2eedm.New(opts...)
	if err != nil {
		store.Close()
		return err
	}
	a.client = client
	return nil
}

func (a *app) close() error {
	if a.client == nil {
		return nil
	}
	err := a.client.Close()
	a.client = nil
	return err
}

// promptPhrase reads the recovery phrase from one line of stdin.
func (a *app) promptPhrase(ctx context.Context) (string, error) {
	fmt.Fprint(a.cfg.Stderr, "Recovery phrase: ")
	line, err := a.stdin.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", fmt.Errorf("read recovery phrase: %w", e2eedm.ErrUserCancelled)
	}
	return strings.TrimSpace(line), nil
}
