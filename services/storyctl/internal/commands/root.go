package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"storybookai/internal/util"
	"storybookai/pkg/apiclient"
	"storybookai/pkg/cache"
	"storybookai/pkg/connectivity"
	"storybookai/pkg/generation"
	"storybookai/pkg/session"
	"storybookai/pkg/store"
	"storybookai/services/storyctl/internal/app"
	"storybookai/services/storyctl/internal/config"
)

// Options customises the command tree. The zero value is what the binary uses.
type Options struct {
	// KV replaces the configured state store.
	KV store.KV
	// PollerOptions are passed to the create screen's poller.
	PollerOptions []generation.Option
	// CoverRetryDelay overrides the cover retry pause.
	CoverRetryDelay time.Duration
}

type environment struct {
	opts       Options
	configPath string

	cfg     config.FileConfig
	logger  *slog.Logger
	app     *app.App
	session *session.Session
	closers []func() error
}

// NewRootCommand builds the storyctl command tree.
func NewRootCommand(opts Options) *cobra.Command {
	env := &environment{opts: opts}
	root := &cobra.Command{
		Use:           "storyctl",
		Short:         "Create and read personalised children's storybooks",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return env.close()
		},
	}
	defaultConfig := config.ConfigPath
	if v := os.Getenv("STORYCTL_CONFIG"); v != "" {
		defaultConfig = v
	}
	root.PersistentFlags().StringVarP(&env.configPath, "config", "c", defaultConfig, "Path to the storyctl config file")

	root.AddCommand(
		newLoginCmd(env),
		newRegisterCmd(env),
		newLogoutCmd(env),
		newWhoamiCmd(env),
		newProfileCmd(env),
		newSubscribeCmd(env),
		newHomeCmd(env),
		newDiscoverCmd(env),
		newLibraryCmd(env),
		newBookCmd(env),
		newCreateCmd(env),
		newOptionsCmd(),
		newQueueCmd(env),
	)
	return root
}

// Execute runs storyctl and returns the process exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	root := NewRootCommand(Options{})
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(stderr, "Error:", app.Message(err))
		if errors.Is(err, context.Canceled) {
			return 130
		}
		return 1
	}
	return 0
}

func (e *environment) loadConfig(cmd *cobra.Command) error {
	if e.logger != nil {
		return nil
	}
	cfg, err := config.Load(e.configPath)
	if err != nil {
		return err
	}
	e.cfg = cfg
	e.logger = util.InitLoggerTo(cmd.ErrOrStderr(), cfg.LogLevel)
	return nil
}

// screens opens local state and the API client on first use.
func (e *environment) screens(cmd *cobra.Command) (*app.App, error) {
	if e.app != nil {
		return e.app, nil
	}
	if err := e.loadConfig(cmd); err != nil {
		return nil, err
	}
	ctx := cmd.Context()
	kv := e.opts.KV
	if kv == nil {
		gs, err := store.NewGormStore(e.cfg.StateDSN)
		if err != nil {
			return nil, fmt.Errorf("open local state: %w", err)
		}
		e.closers = append(e.closers, gs.Close)
		kv = gs
	}
	sess, err := session.Open(ctx, kv, e.logger)
	if err != nil {
		return nil, err
	}
	probe, err := connectivity.NewDialChecker(e.cfg.APIBaseURL, 2*time.Second)
	if err != nil {
		return nil, err
	}
	client := apiclient.NewClient(apiclient.Config{
		BaseURL: e.cfg.APIBaseURL,
		Tokens:  sess,
		Probe:   probe,
		Logger:  e.logger,
	})
	a, err := app.New(app.Config{
		API:             client,
		Session:         sess,
		Cache:           cache.New(kv, cache.WithLogger(e.logger)),
		Logger:          e.logger,
		CoverRetryDelay: e.opts.CoverRetryDelay,
		PollerOptions:   e.opts.PollerOptions,
	})
	if err != nil {
		return nil, err
	}
	e.app = a
	e.session = sess
	return a, nil
}

func (e *environment) close() error {
	if e.app != nil {
		e.app.Create.Close()
	}
	var errs []error
	for i := len(e.closers) - 1; i >= 0; i-- {
		errs = append(errs, e.closers[i]())
	}
	e.closers = nil
	return errors.Join(errs...)
}
