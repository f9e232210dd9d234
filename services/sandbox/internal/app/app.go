package app

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"storybookai/pkg/auth"
	"storybookai/pkg/domain"
)

const premiumPeriod = 30 * 24 * time.Hour

// Config holds runtime configuration for the sandbox backend.
type Config struct {
	JWTSecret  string
	SessionTTL time.Duration
	// CoverAfterPolls and PDFAfterPolls control how many status polls a
	// generation needs before the cover and the PDF become ready.
	CoverAfterPolls int
	PDFAfterPolls   int
	SeedDemo        bool
	Now             func() time.Time
	Logger          *slog.Logger
}

type userRecord struct {
	user         domain.User
	passwordHash string
}

type bookRecord struct {
	detail  domain.BookDetail
	ownerID int64
	polls   int
	title   string
	paras   []string
	req     domain.GenerateRequest
	cover   []byte
	pdf     []byte
}

// App is an in-memory stand-in for the storybook backend.
type App struct {
	mu         sync.RWMutex
	users      map[int64]*userRecord
	emails     map[string]int64
	books      map[int64]*bookRecord
	nextUserID int64
	nextBookID int64

	tokens     *tokenSigner
	coverAfter int
	pdfAfter   int
	now        func() time.Time
	logger     *slog.Logger
}

// New constructs the sandbox with empty state, optionally seeded with demo data.
func New(cfg Config) (*App, error) {
	if strings.TrimSpace(cfg.JWTSecret) == "" {
		return nil, errors.New("jwt secret required")
	}
	if cfg.SessionTTL <= 0 {
		cfg.SessionTTL = 7 * 24 * time.Hour
	}
	if cfg.CoverAfterPolls <= 0 {
		cfg.CoverAfterPolls = 2
	}
	if cfg.PDFAfterPolls < cfg.CoverAfterPolls {
		cfg.PDFAfterPolls = cfg.CoverAfterPolls + 3
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	a := &App{
		users:      make(map[int64]*userRecord),
		emails:     make(map[string]int64),
		books:      make(map[int64]*bookRecord),
		tokens:     newTokenSigner(cfg.JWTSecret, cfg.SessionTTL, cfg.Now),
		coverAfter: cfg.CoverAfterPolls,
		pdfAfter:   cfg.PDFAfterPolls,
		now:        cfg.Now,
		logger:     cfg.Logger,
	}
	if cfg.SeedDemo {
		if err := a.seed(); err != nil {
			return nil, fmt.Errorf("seed demo data: %w", err)
		}
	}
	return a, nil
}

// Register creates a free account and returns a signed session.
func (a *App) Register(name, email, password string) (domain.AuthResponse, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.AuthResponse{}, ErrNameRequired
	}
	email, err := auth.NormalizeEmail(email)
	if err != nil {
		return domain.AuthResponse{}, err
	}
	if err := auth.ValidatePassword(password); err != nil {
		return domain.AuthResponse{}, err
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return domain.AuthResponse{}, err
	}

	a.mu.Lock()
	if _, exists := a.emails[email]; exists {
		a.mu.Unlock()
		return domain.AuthResponse{}, ErrEmailAlreadyExists
	}
	a.nextUserID++
	user := domain.User{ID: a.nextUserID, Name: name, Email: email}
	a.users[user.ID] = &userRecord{user: user, passwordHash: hash}
	a.emails[email] = user.ID
	a.mu.Unlock()

	a.logger.Info("user_registered", "user_id", user.ID)
	return a.authResponse(user)
}

// Login checks credentials and returns a signed session.
func (a *App) Login(email, password string) (domain.AuthResponse, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	a.mu.RLock()
	id, ok := a.emails[email]
	var rec userRecord
	if ok {
		rec = *a.users[id]
	}
	a.mu.RUnlock()
	if !ok || !auth.CheckPassword(password, rec.passwordHash) {
		return domain.AuthResponse{}, ErrInvalidCredentials
	}
	return a.authResponse(rec.user)
}

func (a *App) authResponse(user domain.User) (domain.AuthResponse, error) {
	token, err := a.tokens.Issue(user.ID)
	if err != nil {
		return domain.AuthResponse{}, err
	}
	return domain.AuthResponse{
		Token:            token,
		UserID:           user.ID,
		Name:             user.Name,
		Email:            user.Email,
		IsPremium:        user.IsPremium,
		IsAdmin:          user.IsAdmin,
		PremiumExpiresAt: user.PremiumExpiresAt,
	}, nil
}

// Authenticate resolves a bearer token to its user.
func (a *App) Authenticate(token string) (domain.User, error) {
	id, err := a.tokens.Subject(token)
	if err != nil {
		return domain.User{}, ErrUnauthorized
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, ok := a.users[id]
	if !ok {
		return domain.User{}, ErrUnauthorized
	}
	a.expirePremiumLocked(rec)
	return rec.user, nil
}

func (a *App) expirePremiumLocked(rec *userRecord) {
	exp := rec.user.PremiumExpiresAt
	if rec.user.IsPremium && exp != nil && !exp.After(a.now()) {
		rec.user.IsPremium = false
		rec.user.PremiumExpiresAt = nil
	}
}

// UpdateProfile renames the user.
func (a *App) UpdateProfile(userID int64, name string) (domain.User, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.User{}, ErrNameRequired
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, ok := a.users[userID]
	if !ok {
		return domain.User{}, ErrUnauthorized
	}
	rec.user.Name = name
	for _, b := range a.books {
		if b.ownerID == userID {
			b.detail.AuthorName = name
		}
	}
	return rec.user, nil
}

// SyncSubscription grants or revokes premium for the user.
func (a *App) SyncSubscription(userID int64, isPro bool) (domain.User, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rec, ok := a.users[userID]
	if !ok {
		return domain.User{}, ErrUnauthorized
	}
	rec.user.IsPremium = isPro
	rec.user.PremiumExpiresAt = nil
	if isPro {
		exp := a.now().UTC().Add(premiumPeriod)
		rec.user.PremiumExpiresAt = &exp
	}
	a.logger.Info("subscription_synced", "user_id", userID, "is_premium", isPro)
	return rec.user, nil
}

// Discover lists public books, newest first.
func (a *App) Discover() []domain.Book {
	return a.listBooks(func(b *bookRecord) bool { return b.detail.IsPublic })
}

// History lists the user's own books, newest first.
func (a *App) History(userID int64) []domain.Book {
	return a.listBooks(func(b *bookRecord) bool { return b.ownerID == userID })
}

func (a *App) listBooks(keep func(*bookRecord) bool) []domain.Book {
	a.mu.RLock()
	defer a.mu.RUnlock()
	out := make([]domain.Book, 0, len(a.books))
	for _, b := range a.books {
		if keep(b) {
			out = append(out, b.detail.Book)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Book returns the detail of a book visible to viewerID (0 for anonymous) and counts the view.
func (a *App) Book(viewerID, bookID int64) (domain.BookDetail, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, err := a.visibleLocked(viewerID, bookID)
	if err != nil {
		return domain.BookDetail{}, err
	}
	if b.ownerID != viewerID {
		b.detail.ViewCount++
	}
	return b.detail, nil
}

func (a *App) visibleLocked(viewerID, bookID int64) (*bookRecord, error) {
	b, ok := a.books[bookID]
	if !ok {
		return nil, ErrBookNotFound
	}
	if !b.detail.IsPublic && b.ownerID != viewerID {
		return nil, ErrForbidden
	}
	return b, nil
}

func (a *App) ownedLocked(userID, bookID int64) (*bookRecord, error) {
	b, ok := a.books[bookID]
	if !ok {
		return nil, ErrBookNotFound
	}
	if b.ownerID != userID {
		return nil, ErrForbidden
	}
	return b, nil
}

// Generate validates the request against the user's tier and starts a simulated job.
func (a *App) Generate(user domain.User, req domain.GenerateRequest) (int64, error) {
	req = req.WithDefaults()
	if err := req.Validate(user.Tier()); err != nil {
		return 0, err
	}
	title := storyTitle(req)
	paras := storyParagraphs(req)

	a.mu.Lock()
	defer a.mu.Unlock()
	a.nextBookID++
	id := a.nextBookID
	a.books[id] = &bookRecord{
		detail: domain.BookDetail{
			Book: domain.Book{
				ID:         id,
				Name:       title,
				Theme:      req.Theme,
				Tone:       req.Tone,
				IsPublic:   req.IsPublic,
				AuthorName: user.Name,
				CreatedAt:  a.now().UTC(),
			},
			AuthorID: user.ID,
		},
		ownerID: user.ID,
		title:   title,
		paras:   paras,
		req:     req,
	}
	a.logger.Info("generation_started", "book_id", id, "user_id", user.ID, "length", req.Length)
	return id, nil
}

// Status advances the simulated job by one poll and reports readiness.
func (a *App) Status(userID, bookID int64) (domain.GenerationStatus, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, err := a.ownedLocked(userID, bookID)
	if err != nil {
		return domain.GenerationStatus{}, err
	}
	if b.pdf == nil {
		b.polls++
	}
	if b.cover == nil && b.polls >= a.coverAfter {
		cover, err := renderCover(b.req.Theme, b.req.CoverStyle)
		if err != nil {
			return domain.GenerationStatus{}, err
		}
		b.cover = cover
		b.detail.CoverImagePath = fmt.Sprintf("/api/book/%d/cover", bookID)
	}
	if b.pdf == nil && b.polls >= a.pdfAfter {
		a.finishLocked(b)
	}
	return domain.GenerationStatus{CoverReady: b.cover != nil, PDFReady: b.pdf != nil}, nil
}

func (a *App) finishLocked(b *bookRecord) {
	b.detail.Content = renderStoryHTML(b.title, b.paras)
	b.pdf = renderPDF(b.title, b.req.Name, b.paras)
	b.detail.PDFReady = true
	b.detail.PDFPath = fmt.Sprintf("/api/book/%d/pdf", b.detail.ID)
	a.logger.Info("generation_completed", "book_id", b.detail.ID, "polls", b.polls)
}

// Cover returns the cover image of a visible book.
func (a *App) Cover(viewerID, bookID int64) ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	b, err := a.visibleLocked(viewerID, bookID)
	if err != nil {
		return nil, err
	}
	if b.cover == nil {
		return nil, ErrNotReady
	}
	return b.cover, nil
}

// PDF returns the finished document of a visible book and counts the download.
func (a *App) PDF(viewerID, bookID int64) ([]byte, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, err := a.visibleLocked(viewerID, bookID)
	if err != nil {
		return nil, err
	}
	if b.pdf == nil {
		return nil, ErrNotReady
	}
	b.detail.DownloadCount++
	return b.pdf, nil
}

// SetVisibility publishes or hides one of the user's books.
func (a *App) SetVisibility(userID, bookID int64, isPublic bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	b, err := a.ownedLocked(userID, bookID)
	if err != nil {
		return err
	}
	b.detail.IsPublic = isPublic
	return nil
}

// DeleteBook removes one of the user's books.
func (a *App) DeleteBook(userID, bookID int64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, err := a.ownedLocked(userID, bookID); err != nil {
		return err
	}
	delete(a.books, bookID)
	a.logger.Info("book_deleted", "book_id", bookID, "user_id", userID)
	return nil
}

const (
	DemoEmail    = "demo@storybook.local"
	DemoPassword = "storybook"
)

func (a *App) seed() error {
	resp, err := a.Register("Demo Parent", DemoEmail, DemoPassword)
	if err != nil {
		return err
	}
	user := resp.User()
	samples := []domain.GenerateRequest{
		{Name: "Mira", Theme: "Space Explorer", Tone: "Playful", MainTopic: "curiosity", IsPublic: true},
		{Name: "Leo", Theme: "Enchanted Forest", Tone: "Warm", MainTopic: "sharing", IsPublic: true},
	}
	for _, req := range samples {
		id, err := a.Generate(user, req)
		if err != nil {
			return err
		}
		a.mu.Lock()
		b := a.books[id]
		b.polls = a.pdfAfter
		cover, err := renderCover(b.req.Theme, b.req.CoverStyle)
		if err != nil {
			a.mu.Unlock()
			return err
		}
		b.cover = cover
		b.detail.CoverImagePath = fmt.Sprintf("/api/book/%d/cover", id)
		a.finishLocked(b)
		a.mu.Unlock()
	}
	return nil
}
