package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"storybookai/internal/util"
	"storybookai/pkg/apiclient"
	"storybookai/pkg/cache"
	"storybookai/pkg/domain"
	"storybookai/pkg/generation"
	"storybookai/pkg/session"
	"storybookai/pkg/store"
)

var testNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type fakeAPI struct {
	mu sync.Mutex

	user       domain.User
	token      string
	books      []domain.Book
	detail     domain.BookDetail
	discoverN  atomic.Int32
	historyN   atomic.Int32
	generated  atomic.Int32
	statusN    atomic.Int32
	pdfAfter   int32
	coverAfter int32
	coverN     atomic.Int32
	pdf        []byte
	historyErr error
	meErr      error
	synced     []bool
	deleted    []int64
	visibility map[int64]bool
	release    chan struct{}
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		user:       domain.User{ID: 7, Name: "Ana", Email: "ana@example.com"},
		token:      "token-1",
		books:      []domain.Book{{ID: 1, Name: "Mira", Theme: "Space Explorer"}},
		pdfAfter:   2,
		visibility: map[int64]bool{},
	}
}

func (f *fakeAPI) authResponse() domain.AuthResponse {
	return domain.AuthResponse{Token: f.token, UserID: f.user.ID, Name: f.user.Name, Email: f.user.Email, IsPremium: f.user.IsPremium}
}

func (f *fakeAPI) Login(context.Context, string, string) (domain.AuthResponse, error) {
	return f.authResponse(), nil
}

func (f *fakeAPI) Register(_ context.Context, name, _, _ string) (domain.AuthResponse, error) {
	f.user.Name = name
	return f.authResponse(), nil
}

func (f *fakeAPI) Me(context.Context) (domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.meErr != nil {
		return domain.User{}, f.meErr
	}
	return f.user, nil
}

func (f *fakeAPI) UpdateProfile(_ context.Context, update domain.ProfileUpdate) (domain.User, error) {
	f.user.Name = update.Name
	return f.user, nil
}

func (f *fakeAPI) Discover(ctx context.Context) ([]domain.Book, error) {
	f.discoverN.Add(1)
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.books, nil
}

func (f *fakeAPI) History(context.Context) ([]domain.Book, error) {
	f.historyN.Add(1)
	if f.historyErr != nil {
		return nil, f.historyErr
	}
	return f.books, nil
}

func (f *fakeAPI) Book(context.Context, int64) (domain.BookDetail, error) {
	return f.detail, nil
}

func (f *fakeAPI) Generate(context.Context, domain.GenerateRequest) (domain.GenerateResponse, error) {
	f.generated.Add(1)
	return domain.GenerateResponse{BookID: 9}, nil
}

func (f *fakeAPI) BookStatus(context.Context, int64) (domain.GenerationStatus, error) {
	n := f.statusN.Add(1)
	if f.pdfAfter == 0 {
		return domain.GenerationStatus{}, nil
	}
	return domain.GenerationStatus{CoverReady: n >= 1, PDFReady: n >= f.pdfAfter}, nil
}

func (f *fakeAPI) Cover(context.Context, int64) ([]byte, error) {
	n := f.coverN.Add(1)
	if n <= f.coverAfter {
		return nil, &apiclient.APIError{Kind: apiclient.KindNotFound, Status: 404}
	}
	return []byte("\x89PNG\r\n\x1a\n"), nil
}

func (f *fakeAPI) PDF(context.Context, int64) ([]byte, error) {
	return f.pdf, nil
}

func (f *fakeAPI) SetVisibility(_ context.Context, id int64, isPublic bool) error {
	f.visibility[id] = isPublic
	return nil
}

func (f *fakeAPI) DeleteBook(_ context.Context, id int64) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeAPI) SyncSubscription(_ context.Context, isPro bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.synced = append(f.synced, isPro)
	f.user.IsPremium = isPro
	return nil
}

type fixture struct {
	app   *App
	api   *fakeAPI
	kv    *store.MemoryStore
	sess  *session.Session
	cache *cache.Cache
}

func newFixture(t *testing.T, api *fakeAPI, opts ...generation.Option) *fixture {
	t.Helper()
	kv := store.NewMemoryStore()
	sess, err := session.Open(context.Background(), kv, util.DiscardLogger())
	if err != nil {
		t.Fatalf("open session: %v", err)
	}
	c := cache.New(kv, cache.WithClock(func() time.Time { return testNow }), cache.WithLogger(util.DiscardLogger()))
	a, err := New(Config{
		API:             api,
		Session:         sess,
		Cache:           c,
		Logger:          util.DiscardLogger(),
		Now:             func() time.Time { return testNow },
		CoverRetryDelay: time.Millisecond,
		PollerOptions: append([]generation.Option{
			generation.WithInterval(time.Millisecond),
			generation.WithCompletionDelay(0),
			generation.WithMilestones(nil),
		}, opts...),
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	return &fixture{app: a, api: api, kv: kv, sess: sess, cache: c}
}

func (f *fixture) login(t *testing.T) {
	t.Helper()
	if _, err := f.app.Auth.Login(context.Background(), "ana@example.com", "secret1"); err != nil {
		t.Fatalf("login: %v", err)
	}
}

func TestDiscoverReadThrough(t *testing.T) {
	f := newFixture(t, newFakeAPI())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		books, err := f.app.Discover.Load(ctx, false)
		if err != nil || len(books) != 1 {
			t.Fatalf("load %d = %+v, %v", i, books, err)
		}
	}
	if got := f.api.discoverN.Load(); got != 1 {
		t.Fatalf("discover requests = %d, want 1", got)
	}
	if _, err := f.app.Discover.Load(ctx, true); err != nil {
		t.Fatalf("forced load: %v", err)
	}
	if got := f.api.discoverN.Load(); got != 2 {
		t.Fatalf("forced load must hit the network, requests = %d", got)
	}
}

func TestEmptyCachedListIsMiss(t *testing.T) {
	api := newFakeAPI()
	f := newFixture(t, api)
	ctx := context.Background()
	if err := f.cache.Save(ctx, cache.Discover, nil); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := f.app.Discover.Load(ctx, false); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := api.discoverN.Load(); got != 1 {
		t.Fatalf("empty cache should refetch, requests = %d", got)
	}
}

func TestConcurrentMissesShareOneRequest(t *testing.T) {
	api := newFakeAPI()
	api.release = make(chan struct{})
	f := newFixture(t, api)

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.app.Discover.Load(context.Background(), true)
			errs <- err
		}()
	}
	for api.discoverN.Load() == 0 {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(10 * time.Millisecond)
	close(api.release)
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("load: %v", err)
		}
	}
	if got := api.discoverN.Load(); got != 1 {
		t.Fatalf("discover requests = %d, want 1", got)
	}
}

func TestCancelledCallerDoesNotFailSharedLoad(t *testing.T) {
	api := newFakeAPI()
	api.release = make(chan struct{})
	f := newFixture(t, api)

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := f.app.Discover.Load(ctx, true)
		first <- err
	}()
	for api.discoverN.Load() == 0 {
		time.Sleep(time.Millisecond)
	}

	second := make(chan error, 1)
	var books []domain.Book
	go func() {
		var err error
		books, err = f.app.Discover.Load(context.Background(), true)
		second <- err
	}()
	time.Sleep(10 * time.Millisecond)

	cancel()
	if err := <-first; !errors.Is(err, context.Canceled) {
		t.Fatalf("first caller error = %v, want canceled", err)
	}
	close(api.release)
	if err := <-second; err != nil {
		t.Fatalf("second caller: %v", err)
	}
	if len(books) != len(api.books) {
		t.Fatalf("second caller got %d books, want %d", len(books), len(api.books))
	}
	if got := api.discoverN.Load(); got != 1 {
		t.Fatalf("discover requests = %d, want 1", got)
	}
}

func TestLibraryRequiresLogin(t *testing.T) {
	f := newFixture(t, newFakeAPI())
	if _, err := f.app.Library.Load(context.Background(), false); !errors.Is(err, ErrLoginRequired) {
		t.Fatalf("expected login required, got %v", err)
	}
	if Message(ErrLoginRequired) != "Please log in to continue." {
		t.Fatalf("unexpected message")
	}
}

func TestLibraryUnauthenticatedSignsOut(t *testing.T) {
	api := newFakeAPI()
	api.historyErr = &apiclient.APIError{Kind: apiclient.KindUnauthenticated, Status: 401}
	f := newFixture(t, api)
	f.login(t)

	_, err := f.app.Library.Load(context.Background(), false)
	if !errors.Is(err, apiclient.ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
	if f.sess.SignedIn() {
		t.Fatalf("session should be cleared")
	}
	if Message(err) != "Session expired. Please log in again." {
		t.Fatalf("message = %q", Message(err))
	}
}

func TestLoginClearsCaches(t *testing.T) {
	f := newFixture(t, newFakeAPI())
	ctx := context.Background()
	if err := f.cache.Save(ctx, cache.Library, []domain.Book{{ID: 99}}); err != nil {
		t.Fatalf("save: %v", err)
	}
	f.login(t)
	if _, ok := f.cache.Load(ctx, cache.Library); ok {
		t.Fatalf("library cache should be cleared on login")
	}
	user, ok := f.sess.User()
	if !ok || user.ID != 7 {
		t.Fatalf("session user = %+v, %v", user, ok)
	}
	if err := f.app.Auth.Logout(ctx); err != nil {
		t.Fatalf("logout: %v", err)
	}
	if f.sess.SignedIn() {
		t.Fatalf("still signed in after logout")
	}
}

func TestDetailLoad(t *testing.T) {
	api := newFakeAPI()
	api.detail = domain.BookDetail{
		Book:     domain.Book{ID: 3, Name: "Mira", CreatedAt: testNow.Add(-26 * time.Hour)},
		Content:  "<h1>Mira</h1><p>Once upon a time.</p>",
		AuthorID: 7,
	}
	f := newFixture(t, api)
	f.login(t)

	view, err := f.app.Detail.Load(context.Background(), 3)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !view.IsOwner || view.Age != "Yesterday" {
		t.Fatalf("view = %+v", view)
	}
	if view.Text == "" || view.Text == api.detail.Content {
		t.Fatalf("content not stripped: %q", view.Text)
	}
}

func TestDetailDeleteInvalidatesLibrary(t *testing.T) {
	f := newFixture(t, newFakeAPI())
	ctx := context.Background()
	f.login(t)
	if _, err := f.app.Library.Load(ctx, false); err != nil {
		t.Fatalf("library: %v", err)
	}
	if err := f.app.Detail.Delete(ctx, 1); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok := f.cache.Load(ctx, cache.Library); ok {
		t.Fatalf("library cache should be invalidated")
	}
	if err := f.app.Detail.SetVisibility(ctx, 1, true); err != nil || !f.api.visibility[1] {
		t.Fatalf("set visibility: %v", err)
	}
}

func TestDownloadCoverRetriesUntilReady(t *testing.T) {
	api := newFakeAPI()
	api.coverAfter = 3
	f := newFixture(t, api)
	data, err := f.app.Detail.DownloadCover(context.Background(), 1)
	if err != nil || len(data) == 0 {
		t.Fatalf("cover = %d bytes, %v", len(data), err)
	}
	if got := api.coverN.Load(); got != 4 {
		t.Fatalf("cover requests = %d, want 4", got)
	}
}

func TestDownloadCoverGivesUpAfterTenRetries(t *testing.T) {
	api := newFakeAPI()
	api.coverAfter = 100
	f := newFixture(t, api)
	_, err := f.app.Detail.DownloadCover(context.Background(), 1)
	if !errors.Is(err, apiclient.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if got := api.coverN.Load(); got != coverRetries+1 {
		t.Fatalf("cover requests = %d, want %d", got, coverRetries+1)
	}
}

func TestDownloadPDFRejectsNonPDF(t *testing.T) {
	api := newFakeAPI()
	api.pdf = []byte("<html>oops</html>")
	f := newFixture(t, api)
	path := filepath.Join(t.TempDir(), "book.pdf")
	if _, err := f.app.Detail.DownloadPDF(context.Background(), 1, path); err == nil {
		t.Fatalf("expected error for non-pdf body")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("nothing should be written, stat err = %v", err)
	}
}

func TestCreateSubmit(t *testing.T) {
	api := newFakeAPI()
	f := newFixture(t, api)
	ctx := context.Background()

	if _, err := f.app.Create.Submit(ctx, domain.GenerateRequest{Name: "Mira"}, nil); !errors.Is(err, ErrLoginRequired) {
		t.Fatalf("expected login required, got %v", err)
	}
	f.login(t)
	if _, err := f.app.Library.Load(ctx, false); err != nil {
		t.Fatalf("library: %v", err)
	}

	var last generation.State
	out, err := f.app.Create.Submit(ctx, domain.GenerateRequest{Name: "Mira"}, func(s generation.State) { last = s })
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if out.Status != generation.Completed || out.BookID != 9 || last.Progress != generation.ProgressComplete {
		t.Fatalf("outcome = %+v, last = %+v", out, last)
	}
	if _, ok := f.cache.Load(ctx, cache.Library); ok {
		t.Fatalf("library cache should be invalidated after completion")
	}
	if f.app.Create.Active() {
		t.Fatalf("no generation should be active")
	}
}

func TestCreateRejectsLockedOption(t *testing.T) {
	api := newFakeAPI()
	f := newFixture(t, api)
	f.login(t)
	_, err := f.app.Create.Submit(context.Background(), domain.GenerateRequest{Name: "Mira", Length: "Long"}, nil)
	if !errors.Is(err, domain.ErrOptionLocked) {
		t.Fatalf("expected locked option, got %v", err)
	}
	if api.generated.Load() != 0 {
		t.Fatalf("locked request must not be submitted")
	}
	if _, err := f.app.Create.Submit(context.Background(), domain.GenerateRequest{Name: " "}, nil); !errors.Is(err, domain.ErrNameRequired) {
		t.Fatalf("expected name required, got %v", err)
	}
}

func TestCreateOneAtATimeAndClose(t *testing.T) {
	api := newFakeAPI()
	api.pdfAfter = 0
	f := newFixture(t, api, generation.WithInterval(20*time.Millisecond))
	f.login(t)

	started := make(chan struct{})
	var once sync.Once
	done := make(chan generation.Outcome, 1)
	go func() {
		out, _ := f.app.Create.Submit(context.Background(), domain.GenerateRequest{Name: "Mira"}, func(s generation.State) {
			if s.Attempts > 0 {
				once.Do(func() { close(started) })
			}
		})
		done <- out
	}()
	<-started

	if _, err := f.app.Create.Submit(context.Background(), domain.GenerateRequest{Name: "Leo"}, nil); !errors.Is(err, ErrGenerationInProgress) {
		t.Fatalf("expected in progress, got %v", err)
	}
	f.app.Create.Close()
	polls := api.statusN.Load()
	out := <-done
	if out.Status != generation.Aborted {
		t.Fatalf("status = %v, want aborted", out.Status)
	}
	time.Sleep(5 * time.Millisecond)
	if api.statusN.Load() != polls {
		t.Fatalf("polled after Close")
	}
}

func TestPaywallSyncRefreshesUser(t *testing.T) {
	api := newFakeAPI()
	f := newFixture(t, api)
	if _, err := f.app.Paywall.Sync(context.Background(), true); !errors.Is(err, ErrLoginRequired) {
		t.Fatalf("expected login required, got %v", err)
	}
	f.login(t)
	user, err := f.app.Paywall.Sync(context.Background(), true)
	if err != nil || !user.IsPremium {
		t.Fatalf("sync = %+v, %v", user, err)
	}
	if f.sess.Tier() != domain.TierPremium {
		t.Fatalf("session tier = %v", f.sess.Tier())
	}
}

func TestRefreshKeepsNewerLogin(t *testing.T) {
	api := newFakeAPI()
	f := newFixture(t, api)
	f.login(t)

	// a 401 for a token that is no longer current must not sign out
	api.meErr = &apiclient.APIError{Kind: apiclient.KindUnauthenticated, Status: 401}
	api.token = "token-2"
	f.login(t)
	f.app.Auth.dropSessionOn401(context.Background(), api.meErr, "token-1")
	if !f.sess.SignedIn() {
		t.Fatalf("newer session was cleared")
	}

	if _, err := f.app.Auth.Refresh(context.Background()); !errors.Is(err, apiclient.ErrUnauthenticated) {
		t.Fatalf("expected unauthenticated, got %v", err)
	}
	if f.sess.SignedIn() {
		t.Fatalf("current session should be cleared")
	}
}

func TestHomeLoadsBothLists(t *testing.T) {
	f := newFixture(t, newFakeAPI())
	f.login(t)
	view, err := f.app.Home(context.Background(), false)
	if err != nil {
		t.Fatalf("home: %v", err)
	}
	if view.User == nil || len(view.Discover) != 1 || len(view.Library) != 1 {
		t.Fatalf("view = %+v", view)
	}
}

func TestUpdateProfilePersistsUser(t *testing.T) {
	f := newFixture(t, newFakeAPI())
	f.login(t)
	if _, err := f.app.Auth.UpdateProfile(context.Background(), "  "); !errors.Is(err, domain.ErrNameRequired) {
		t.Fatalf("expected name required, got %v", err)
	}
	if _, err := f.app.Auth.UpdateProfile(context.Background(), "Ana B"); err != nil {
		t.Fatalf("update: %v", err)
	}
	user, _ := f.sess.User()
	if user.Name != "Ana B" {
		t.Fatalf("stored name = %q", user.Name)
	}
}
