package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"storybookai/pkg/apiclient"
	"storybookai/pkg/cache"
	"storybookai/pkg/domain"
	"storybookai/pkg/generation"
	"storybookai/pkg/session"
)

var (
	ErrLoginRequired        = errors.New("login required")
	ErrGenerationInProgress = errors.New("a book is already being generated")
)

// API is the storybook API surface used by the screens.
type API interface {
	generation.API
	Login(ctx context.Context, email, password string) (domain.AuthResponse, error)
	Register(ctx context.Context, name, email, password string) (domain.AuthResponse, error)
	Me(ctx context.Context) (domain.User, error)
	UpdateProfile(ctx context.Context, update domain.ProfileUpdate) (domain.User, error)
	Discover(ctx context.Context) ([]domain.Book, error)
	History(ctx context.Context) ([]domain.Book, error)
	Book(ctx context.Context, id int64) (domain.BookDetail, error)
	Cover(ctx context.Context, id int64) ([]byte, error)
	PDF(ctx context.Context, id int64) ([]byte, error)
	SetVisibility(ctx context.Context, id int64, isPublic bool) error
	DeleteBook(ctx context.Context, id int64) error
	SyncSubscription(ctx context.Context, isPro bool) error
}

// Config holds the dependencies shared by every screen.
type Config struct {
	API     API
	Session *session.Session
	Cache   *cache.Cache
	Logger  *slog.Logger
	Now     func() time.Time
	// CoverRetryDelay is the pause between cover fetches while the image is
	// still being drawn. Zero means 3s.
	CoverRetryDelay time.Duration
	PollerOptions   []generation.Option
}

// App groups the screen controllers of the CLI.
type App struct {
	Discover *Discover
	Library  *Library
	Detail   *Detail
	Create   *Create
	Auth     *Auth
	Paywall  *Paywall

	session *session.Session
}

type deps struct {
	api     API
	session *session.Session
	cache   *cache.Cache
	logger  *slog.Logger
	now     func() time.Time
}

// New wires the screens over one API client, session and cache.
func New(cfg Config) (*App, error) {
	if cfg.API == nil {
		return nil, errors.New("api client required")
	}
	if cfg.Session == nil {
		return nil, errors.New("session required")
	}
	if cfg.Cache == nil {
		return nil, errors.New("cache required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.CoverRetryDelay <= 0 {
		cfg.CoverRetryDelay = 3 * time.Second
	}
	d := &deps{api: cfg.API, session: cfg.Session, cache: cfg.Cache, logger: cfg.Logger, now: cfg.Now}
	group := &singleflight.Group{}
	opts := append([]generation.Option{generation.WithLogger(cfg.Logger)}, cfg.PollerOptions...)
	return &App{
		Discover: &Discover{list: bookList{deps: d, channel: cache.Discover, fetch: cfg.API.Discover, group: group}},
		Library:  &Library{list: bookList{deps: d, channel: cache.Library, fetch: cfg.API.History, group: group}},
		Detail:   &Detail{deps: d, coverRetryDelay: cfg.CoverRetryDelay},
		Create:   &Create{deps: d, poller: generation.NewPoller(cfg.API, opts...)},
		Auth:     &Auth{deps: d},
		Paywall:  &Paywall{deps: d},
		session:  cfg.Session,
	}, nil
}

// HomeView is the landing screen: public books plus, when signed in, the
// user's own library.
type HomeView struct {
	User     *domain.User
	Discover []domain.Book
	Library  []domain.Book
}

// Home loads both lists concurrently. A library failure does not hide the
// public books.
func (a *App) Home(ctx context.Context, force bool) (HomeView, error) {
	var view HomeView
	if user, ok := a.session.User(); ok {
		view.User = &user
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		books, err := a.Discover.Load(gctx, force)
		if err != nil {
			return err
		}
		view.Discover = books
		return nil
	})
	if view.User != nil {
		g.Go(func() error {
			books, err := a.Library.Load(gctx, force)
			if err != nil {
				a.Library.list.logger.Warn("home_library_failed", "err", err)
				return nil
			}
			view.Library = books
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return HomeView{}, err
	}
	return view, nil
}

// Message renders err for display.
func Message(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrLoginRequired):
		return "Please log in to continue."
	case errors.Is(err, ErrGenerationInProgress):
		return "A book is already being created. Please wait for it to finish."
	case errors.Is(err, domain.ErrNameRequired):
		return "Please enter your character's name."
	case errors.Is(err, domain.ErrOptionLocked):
		return "This option is available with Premium."
	case errors.Is(err, domain.ErrUnknownValue):
		return "Please pick one of the listed options."
	}
	return apiclient.UserMessage(err)
}

// dropSessionOn401 signs out when err is an invalid-session response for the
// token that is still current.
func (d *deps) dropSessionOn401(ctx context.Context, err error, sent string) {
	var apiErr *apiclient.APIError
	if !errors.As(err, &apiErr) || apiErr.Kind != apiclient.KindUnauthenticated {
		return
	}
	token := apiErr.SessionToken()
	if token == "" {
		token = sent
	}
	cleared, clearErr := d.session.InvalidateIfCurrent(ctx, token)
	if clearErr != nil {
		d.logger.Warn("session_clear_failed", "err", clearErr)
		return
	}
	if cleared {
		d.invalidate(ctx, cache.Library)
	}
}

func (d *deps) currentToken(ctx context.Context) string {
	token, _ := d.session.Token(ctx)
	return token
}

func (d *deps) invalidate(ctx context.Context, channels ...cache.Channel) {
	for _, ch := range channels {
		if err := d.cache.Invalidate(ctx, ch); err != nil {
			d.logger.Warn("cache_invalidate_failed", "channel", string(ch), "err", err)
		}
	}
}
