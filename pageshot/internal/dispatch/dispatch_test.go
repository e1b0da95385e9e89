package dispatch

import (
	"context"
	"errors"
	"image"
	"image/color"
	"strings"
	"sync"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/shotkit/dbopen"
	"github.com/hazyhaar/shotkit/idgen"
	"github.com/hazyhaar/shotkit/pageshot/internal/fullpage"
	"github.com/hazyhaar/shotkit/pageshot/internal/host"
	"github.com/hazyhaar/shotkit/pageshot/internal/notify"
	"github.com/hazyhaar/shotkit/pageshot/internal/store"
	"github.com/hazyhaar/shotkit/pageshot/shot"
)

type fakeTab struct {
	mu         sync.Mutex
	url        string
	captures   int
	captureErr error
	mountErr   error
	mounted    bool
	onSelect   func(shot.Rect)
}

func (t *fakeTab) ID() string  { return "tab-1" }
func (t *fakeTab) URL() string { return t.url }

func (t *fakeTab) Geometry(context.Context) (*shot.PageGeometry, error) {
	return &shot.PageGeometry{TotalWidth: 100, TotalHeight: 100, ViewportHeight: 100}, nil
}

func (t *fakeTab) ScrollTo(_ context.Context, y int) (int, error) { return y, nil }

func (t *fakeTab) CaptureViewport(context.Context) (image.Image, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.captures++
	if t.captureErr != nil {
		return nil, t.captureErr
	}
	img := image.NewRGBA(image.Rect(0, 0, 400, 300))
	img.SetRGBA(150, 120, color.RGBA{255, 0, 0, 255})
	return img, nil
}

func (t *fakeTab) MountSelection(_ context.Context, fn func(shot.Rect)) (bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.mountErr != nil {
		return false, t.mountErr
	}
	if t.mounted {
		return false, nil
	}
	t.mounted = true
	t.onSelect = fn
	return true, nil
}

func (t *fakeTab) captureCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.captures
}

type fakeHost struct{ tab host.Tab }

func (h fakeHost) ActiveTab(context.Context) (host.Tab, error) { return h.tab, nil }

type memSaver struct {
	mu      sync.Mutex
	formats []shot.Format
}

func (m *memSaver) Save(_ context.Context, _ []byte, f shot.Format) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.formats = append(m.formats, f)
	return "/downloads/shot." + f.Ext(), nil
}

// blockingFull holds a full-page run open until release is closed.
type blockingFull struct {
	started chan struct{}
	release chan struct{}
	err     error
}

func (b *blockingFull) Run(ctx context.Context, _ host.Page, _ shot.Format) (*fullpage.Result, error) {
	close(b.started)
	<-b.release
	if b.err != nil {
		return nil, b.err
	}
	return &fullpage.Result{Path: "/downloads/full.png", Width: 100, Height: 900, Tiles: 9}, nil
}

type env struct {
	d     *Dispatcher
	tab   *fakeTab
	board *notify.Board
	saver *memSaver
	store *store.Store
	full  *blockingFull
}

func newEnv(t *testing.T, url string) *env {
	t.Helper()
	db := dbopen.OpenMemory(t, dbopen.WithSchema(store.Schema))
	e := &env{
		tab:   &fakeTab{url: url},
		board: notify.NewBoard(0),
		saver: &memSaver{},
		store: &store.Store{DB: db},
		full:  &blockingFull{started: make(chan struct{}), release: make(chan struct{})},
	}
	e.d = New(Config{
		Host:        fakeHost{tab: e.tab},
		FullPage:    e.full,
		Saver:       e.saver,
		Notifier:    e.board,
		Preferences: e.store,
		Journal:     e.store,
		Sleep:       func(context.Context, time.Duration) error { return nil },
		NewID:       idgen.Sequence("cap_"),
	})
	return e
}

func TestDispatch_RestrictedURL(t *testing.T) {
	for _, url := range []string{"chrome://settings", "https://chrome.google.com/webstore/detail/x"} {
		e := newEnv(t, url)
		resp := e.d.Dispatch(context.Background(), shot.Request{Action: shot.ActionCaptureVisible})
		if resp.Status != shot.StatusError || resp.Message != "Restricted URL" {
			t.Errorf("%s: got %+v", url, resp)
		}
		if e.tab.captureCount() != 0 {
			t.Errorf("%s: no capture expected", url)
		}
		list := e.board.List()
		if len(list) != 1 || list[0].Kind != notify.KindError {
			t.Errorf("%s: notifications %+v", url, list)
		}
	}
}

func TestDispatch_ConfiguredRestrictedPrefix(t *testing.T) {
	e := newEnv(t, "about:blank")
	d := New(Config{Host: fakeHost{tab: e.tab}, FullPage: e.full, Saver: e.saver, Restricted: []string{"about:"}})
	resp := d.Dispatch(context.Background(), shot.Request{Action: shot.ActionCaptureVisible})
	if resp.Message != "Restricted URL" {
		t.Errorf("got %+v", resp)
	}
}

func TestDispatch_NoActiveTab(t *testing.T) {
	d := New(Config{Host: fakeHost{}, Saver: &memSaver{}})
	resp := d.Dispatch(context.Background(), shot.Request{Action: shot.ActionCaptureFull})
	if resp.Status != shot.StatusError || resp.Message != "No active tab found" {
		t.Errorf("got %+v", resp)
	}
}

func TestDispatch_InvalidRequest(t *testing.T) {
	e := newEnv(t, "https://example.com")
	resp := e.d.Dispatch(context.Background(), shot.Request{Action: shot.ActionCaptureArea})
	if resp.Status != shot.StatusError {
		t.Fatalf("got %+v", resp)
	}
	if e.tab.captureCount() != 0 {
		t.Error("no capture expected")
	}
}

func TestDispatch_CaptureVisible(t *testing.T) {
	e := newEnv(t, "https://example.com")
	resp := e.d.Dispatch(context.Background(), shot.Request{Action: shot.ActionCaptureVisible, Format: shot.FormatJPG})
	if resp.Status != shot.StatusComplete {
		t.Fatalf("got %+v", resp)
	}
	if !strings.HasSuffix(resp.Path, ".jpg") {
		t.Errorf("path: %q", resp.Path)
	}

	list, err := e.store.ListCaptures(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || list[0].Status != "complete" || list[0].Width != 400 || list[0].TabURL != "https://example.com" {
		t.Errorf("journal: %+v", list[0])
	}
}

func TestDispatch_FormatFromPreference(t *testing.T) {
	e := newEnv(t, "https://example.com")
	ctx := context.Background()

	e.d.Dispatch(ctx, shot.Request{Action: shot.ActionCaptureVisible})
	if err := e.store.SetFormat(ctx, shot.FormatJPG); err != nil {
		t.Fatal(err)
	}
	e.d.Dispatch(ctx, shot.Request{Action: shot.ActionCaptureVisible})
	e.d.Dispatch(ctx, shot.Request{Action: shot.ActionCaptureVisible, Format: shot.FormatPNG})

	want := []shot.Format{shot.FormatPNG, shot.FormatJPG, shot.FormatPNG}
	if len(e.saver.formats) != len(want) {
		t.Fatalf("saves: %v", e.saver.formats)
	}
	for i := range want {
		if e.saver.formats[i] != want[i] {
			t.Errorf("save %d: got %s, want %s", i, e.saver.formats[i], want[i])
		}
	}
}

func TestDispatch_CaptureVisibleFailure(t *testing.T) {
	e := newEnv(t, "https://example.com")
	e.tab.captureErr = errors.New("tab is hidden")
	resp := e.d.Dispatch(context.Background(), shot.Request{Action: shot.ActionCaptureVisible})
	if resp.Status != shot.StatusError || resp.Message != "tab is hidden" {
		t.Errorf("got %+v", resp)
	}
	list := e.board.List()
	if len(list) != 1 || list[0].Title != "Visible capture failed." {
		t.Errorf("notice: %+v", list)
	}
}

func TestDispatch_FullStartsAndGuards(t *testing.T) {
	e := newEnv(t, "https://example.com")
	ctx := context.Background()

	resp := e.d.Dispatch(ctx, shot.Request{Action: shot.ActionCaptureFull})
	if resp.Status != shot.StatusStarted {
		t.Fatalf("got %+v", resp)
	}
	<-e.full.started
	if !e.d.Busy() {
		t.Fatal("dispatcher should be busy")
	}

	second := e.d.Dispatch(ctx, shot.Request{Action: shot.ActionCaptureFull})
	if second.Status != shot.StatusError || second.Message != "Capture already in progress" {
		t.Errorf("second full: got %+v", second)
	}
	area := e.d.Dispatch(ctx, shot.Request{Action: shot.ActionCaptureArea, Area: &shot.Rect{Width: 10, Height: 10}})
	if area.Message != "Capture already in progress" {
		t.Errorf("area during full: got %+v", area)
	}
	// Visible capture does not touch the scroll position and is allowed.
	if vis := e.d.Dispatch(ctx, shot.Request{Action: shot.ActionCaptureVisible}); vis.Status != shot.StatusComplete {
		t.Errorf("visible during full: got %+v", vis)
	}

	close(e.full.release)
	e.d.Wait()
	if e.d.Busy() {
		t.Error("guard should be released")
	}

	list, _ := e.store.ListCaptures(ctx, 10)
	var found bool
	for _, c := range list {
		if c.Action == "captureFull" && c.Status == "complete" {
			found = true
			if c.Tiles != 9 || c.Path != "/downloads/full.png" {
				t.Errorf("journal: %+v", c)
			}
		}
	}
	if !found {
		t.Error("completed full capture should be journaled")
	}
}

func TestDispatch_FullFailureNotifies(t *testing.T) {
	e := newEnv(t, "https://example.com")
	e.full.err = shot.Wrap(shot.KindGeometry, "Failed to read the page dimensions.", nil)
	close(e.full.release)

	resp := e.d.Dispatch(context.Background(), shot.Request{Action: shot.ActionCaptureFull})
	if resp.Status != shot.StatusStarted {
		t.Fatalf("got %+v", resp)
	}
	e.d.Wait()

	list := e.board.List()
	if len(list) != 1 {
		t.Fatalf("notices: %+v", list)
	}
	if list[0].Title != "An error occurred: Failed to read the page dimensions." {
		t.Errorf("title: %q", list[0].Title)
	}
}

func TestDispatch_AreaSelectionRoundTrip(t *testing.T) {
	e := newEnv(t, "https://example.com")
	ctx := context.Background()

	resp := e.d.Dispatch(ctx, shot.Request{Action: shot.ActionInitiateArea, Format: shot.FormatJPG})
	if resp.Status != shot.StatusInjected {
		t.Fatalf("got %+v", resp)
	}
	// A second initiation while the overlay is up is a no-op.
	if again := e.d.Dispatch(ctx, shot.Request{Action: shot.ActionInitiateArea}); again.Status != shot.StatusInjected {
		t.Fatalf("again: got %+v", again)
	}

	e.tab.onSelect(shot.Rect{X: 100, Y: 100, Width: 200, Height: 150})

	if e.tab.captureCount() != 1 {
		t.Fatalf("captures: got %d", e.tab.captureCount())
	}
	if len(e.saver.formats) != 1 || e.saver.formats[0] != shot.FormatJPG {
		t.Errorf("area should keep the format chosen at initiation: %v", e.saver.formats)
	}
	list, _ := e.store.ListCaptures(ctx, 10)
	var area *store.Capture
	for _, c := range list {
		if c.Action == "captureArea" {
			area = c
		}
	}
	if area == nil || area.Width != 200 || area.Height != 150 {
		t.Errorf("journal: %+v", area)
	}
}

func TestDispatch_ResponseIDNamesJournalRow(t *testing.T) {
	e := newEnv(t, "https://example.com")
	ctx := context.Background()

	full := e.d.Dispatch(ctx, shot.Request{Action: shot.ActionCaptureFull})
	if full.Status != shot.StatusStarted || full.ID == "" {
		t.Fatalf("got %+v", full)
	}
	<-e.full.started
	close(e.full.release)
	e.d.Wait()

	// WHAT: a capture journaled after the full run does not shadow it.
	vis := e.d.Dispatch(ctx, shot.Request{Action: shot.ActionCaptureVisible})
	if vis.ID == "" || vis.ID == full.ID {
		t.Fatalf("visible id: got %q (full %q)", vis.ID, full.ID)
	}

	c, err := e.store.GetCapture(ctx, full.ID)
	if err != nil {
		t.Fatal(err)
	}
	if c.Action != "captureFull" || c.Tiles != 9 {
		t.Errorf("lookup by id: got %+v", c)
	}

	bad := e.d.Dispatch(ctx, shot.Request{Action: "zoom"})
	if bad.ID == "" {
		t.Error("error responses carry their journal id")
	}
}

func TestDispatch_SelectionAfterCloseIgnored(t *testing.T) {
	e := newEnv(t, "https://example.com")
	ctx := context.Background()

	if resp := e.d.Dispatch(ctx, shot.Request{Action: shot.ActionInitiateArea}); resp.Status != shot.StatusInjected {
		t.Fatalf("got %+v", resp)
	}
	e.d.Close()

	e.tab.onSelect(shot.Rect{X: 1, Y: 1, Width: 20, Height: 20})
	if n := e.tab.captureCount(); n != 0 {
		t.Fatalf("captures after close: got %d", n)
	}
	if resp := e.d.Dispatch(ctx, shot.Request{Action: shot.ActionCaptureFull}); resp.Status != shot.StatusError {
		t.Errorf("full after close: got %+v", resp)
	}
	if e.d.Busy() {
		t.Error("guard held after refused full capture")
	}
}

func TestDispatch_InjectionFailure(t *testing.T) {
	e := newEnv(t, "https://example.com")
	e.tab.mountErr = errors.New("cannot access contents of the page")
	resp := e.d.Dispatch(context.Background(), shot.Request{Action: shot.ActionInitiateArea})
	if resp.Status != shot.StatusError {
		t.Fatalf("got %+v", resp)
	}
	list := e.board.List()
	if len(list) != 1 || list[0].Title != "Failed to start selection." {
		t.Errorf("notice: %+v", list)
	}
}

func TestNotice(t *testing.T) {
	title, _ := Notice(shot.ActionCaptureArea, shot.Wrap(shot.KindCapture, "x", nil))
	if title != "An error occurred while cropping the image." {
		t.Errorf("area: %q", title)
	}
	title, _ = Notice(shot.ActionCaptureFull, shot.ErrRestrictedURL)
	if title != "Browser restrictions." {
		t.Errorf("restricted: %q", title)
	}
}
