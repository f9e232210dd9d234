package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"storybookai/pkg/apiclient"
	"storybookai/pkg/document"
	"storybookai/pkg/domain"
	"storybookai/pkg/events"
	"storybookai/pkg/generation"
	"storybookai/pkg/queue"
	"storybookai/pkg/session"
	"storybookai/pkg/storage"
)

// ErrGenerationTimedOut is returned when a job exhausts its poll budget.
// The queue retries it and the next attempt resumes the same book.
var ErrGenerationTimedOut = errors.New("generation timed out")

// SubmitLimitKey is the rate limiter key shared by every worker replica.
const SubmitLimitKey = "generate"

const bookIDSaveTimeout = 5 * time.Second

// API is the part of the storybook API the worker needs.
type API interface {
	generation.API
	Login(ctx context.Context, email, password string) (domain.AuthResponse, error)
	PDF(ctx context.Context, id int64) ([]byte, error)
	Cover(ctx context.Context, id int64) ([]byte, error)
}

// Limiter throttles generation submissions.
type Limiter interface {
	Wait(ctx context.Context, key string) error
}

// JobTracker records the server book id of a queued job so a retry can resume it.
type JobTracker interface {
	SetBookID(ctx context.Context, jobID string, bookID int64) error
}

// Config holds runtime dependencies for the worker.
type Config struct {
	API      API
	Session  *session.Session
	Email    string
	Password string
	Jobs     JobTracker
	Limiter  Limiter
	Archive  *storage.Archive
	Events   events.Publisher
	Logger   *slog.Logger
	Now      func() time.Time
	// PollerOptions are appended to the worker's poller defaults.
	PollerOptions []generation.Option
}

// Worker turns queued generation requests into archived books.
type Worker struct {
	api      API
	session  *session.Session
	email    string
	password string
	jobs     JobTracker
	limiter  Limiter
	archive  *storage.Archive
	events   events.Publisher
	poller   *generation.Poller
	logger   *slog.Logger
	now      func() time.Time

	loginMu sync.Mutex
}

// New validates cfg and builds a Worker.
func New(cfg Config) (*Worker, error) {
	if cfg.API == nil {
		return nil, errors.New("api client required")
	}
	if cfg.Session == nil {
		return nil, errors.New("session required")
	}
	if strings.TrimSpace(cfg.Email) == "" || cfg.Password == "" {
		return nil, errors.New("worker account email and password required")
	}
	if cfg.Jobs == nil {
		return nil, errors.New("job tracker required")
	}
	if cfg.Archive == nil {
		return nil, errors.New("archive required")
	}
	if cfg.Events == nil {
		return nil, errors.New("event publisher required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	opts := append([]generation.Option{
		generation.WithLogger(cfg.Logger),
		generation.WithCompletionDelay(0),
	}, cfg.PollerOptions...)
	return &Worker{
		api:      cfg.API,
		session:  cfg.Session,
		email:    strings.TrimSpace(cfg.Email),
		password: cfg.Password,
		jobs:     cfg.Jobs,
		limiter:  cfg.Limiter,
		archive:  cfg.Archive,
		events:   cfg.Events,
		poller:   generation.NewPoller(cfg.API, opts...),
		logger:   cfg.Logger,
		now:      cfg.Now,
	}, nil
}

// Handle processes one queued job. It matches queue.Handler.
func (w *Worker) Handle(ctx context.Context, job queue.Job) error {
	logger := w.logger.With("job_id", job.ID, "attempt", job.Attempts)
	if err := w.ensureSession(ctx); err != nil {
		return fmt.Errorf("sign in: %w", err)
	}
	token, _ := w.session.Token(ctx)

	var out generation.Outcome
	if job.BookID > 0 {
		logger.Info("generation_resume", "book_id", job.BookID)
		out = w.poller.Resume(ctx, job.BookID, nil)
	} else {
		req := job.Request.WithDefaults()
		if err := req.Validate(w.session.Tier()); err != nil {
			return queue.Permanent(err)
		}
		if w.limiter != nil {
			if err := w.limiter.Wait(ctx, SubmitLimitKey); err != nil {
				return err
			}
		}
		recorded := false
		out = w.poller.Run(ctx, req, func(s generation.State) {
			if recorded || s.BookID == 0 {
				return
			}
			recorded = true
			w.rememberBook(ctx, job.ID, s.BookID, logger)
		})
		if !recorded && out.BookID > 0 {
			// cancelled between submit and the first state change
			w.rememberBook(ctx, job.ID, out.BookID, logger)
		}
	}

	switch out.Status {
	case generation.Completed:
		return w.store(ctx, job, out.BookID, logger)
	case generation.TimedOut:
		return fmt.Errorf("book %d: %w", out.BookID, ErrGenerationTimedOut)
	case generation.Aborted:
		if err := ctx.Err(); err != nil {
			return err
		}
		return context.Canceled
	default:
		return w.submitFailure(ctx, token, out.Err)
	}
}

// rememberBook records the submitted book on the job so a retry resumes
// polling instead of submitting again. It outlives a cancelled ctx.
func (w *Worker) rememberBook(ctx context.Context, jobID string, bookID int64, logger *slog.Logger) {
	saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), bookIDSaveTimeout)
	defer cancel()
	if err := w.jobs.SetBookID(saveCtx, jobID, bookID); err != nil {
		logger.Warn("job_book_id_save_failed", "book_id", bookID, "err", err)
	}
}

func (w *Worker) submitFailure(ctx context.Context, token string, err error) error {
	var apiErr *apiclient.APIError
	if errors.As(err, &apiErr) && apiErr.Kind == apiclient.KindUnauthenticated {
		used := apiErr.SessionToken()
		if used == "" {
			used = token
		}
		if _, clearErr := w.session.InvalidateIfCurrent(ctx, used); clearErr != nil {
			w.logger.Warn("session_clear_failed", "err", clearErr)
		}
		return fmt.Errorf("submit: %w", err)
	}
	if errors.Is(err, apiclient.ErrBadRequest) || errors.Is(err, apiclient.ErrForbidden) {
		return queue.Permanent(fmt.Errorf("submit: %w", err))
	}
	return fmt.Errorf("submit: %w", err)
}

// ensureSession signs the worker account in when there is no usable token.
func (w *Worker) ensureSession(ctx context.Context) error {
	w.loginMu.Lock()
	defer w.loginMu.Unlock()
	if w.session.SignedIn() && !w.session.Expired(w.now()) {
		return nil
	}
	resp, err := w.api.Login(ctx, w.email, w.password)
	if err != nil {
		return err
	}
	w.logger.Info("worker_signed_in", "user_id", resp.UserID, "is_premium", resp.IsPremium)
	return w.session.Set(ctx, resp.Token, resp.User())
}

// store downloads the finished files, archives them and announces the book.
func (w *Worker) store(ctx context.Context, job queue.Job, bookID int64, logger *slog.Logger) error {
	var pdfData, cover []byte
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		data, err := w.api.PDF(gctx, bookID)
		if err != nil {
			return fmt.Errorf("download pdf: %w", err)
		}
		pdfData = data
		return nil
	})
	g.Go(func() error {
		data, err := w.api.Cover(gctx, bookID)
		if err != nil {
			logger.Warn("cover_download_failed", "book_id", bookID, "err", err)
			return nil
		}
		cover = data
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	info, err := document.InspectPDF(pdfData)
	if err != nil {
		return fmt.Errorf("inspect pdf: %w", err)
	}
	saved, err := w.archive.Save(ctx, bookID, pdfData, cover)
	if err != nil {
		return err
	}
	evt := events.BookReady{
		JobID:      job.ID,
		BookID:     bookID,
		Owner:      job.Owner,
		Title:      job.Request.BookTitle,
		PDFKey:     saved.PDFKey,
		CoverKey:   saved.CoverKey,
		PDFURL:     saved.PDFURL,
		Pages:      info.Pages,
		FinishedAt: w.now().UTC(),
	}
	if err := w.events.PublishBookReady(ctx, evt); err != nil {
		return err
	}
	logger.Info("book_archived", "book_id", bookID, "pages", info.Pages, "size_bytes", info.SizeBytes)
	return nil
}
