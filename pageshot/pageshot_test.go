package pageshot

import (
	"context"
	"image"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/hazyhaar/shotkit/idgen"
	"github.com/hazyhaar/shotkit/kit"
	"github.com/hazyhaar/shotkit/pageshot/internal/host"
	"github.com/hazyhaar/shotkit/pageshot/shot"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// pageTab is a 200px wide page, 500px tall, seen through a 200px viewport.
// Row y of the page is painted with shade(y).
type pageTab struct {
	mu        sync.Mutex
	url       string
	scrollY   int
	captures  int
	navigated []string
	onSelect  func(shot.Rect)
}

const (
	pageW = 200
	pageH = 500
	viewH = 200
)

func shade(y int) color.RGBA { return color.RGBA{uint8(y % 251), uint8(y / 251), 0, 255} }

func (p *pageTab) ID() string { return "tab-1" }

func (p *pageTab) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *pageTab) Geometry(context.Context) (*shot.PageGeometry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return &shot.PageGeometry{TotalWidth: pageW, TotalHeight: pageH, ViewportHeight: viewH, OriginalScrollY: p.scrollY}, nil
}

func (p *pageTab) ScrollTo(_ context.Context, y int) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scrollY = max(0, min(y, pageH-viewH))
	return p.scrollY, nil
}

func (p *pageTab) CaptureViewport(context.Context) (image.Image, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.captures++
	img := image.NewRGBA(image.Rect(0, 0, pageW, viewH))
	for y := 0; y < viewH; y++ {
		c := shade(p.scrollY + y)
		for x := 0; x < pageW; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	return img, nil
}

func (p *pageTab) MountSelection(_ context.Context, fn func(shot.Rect)) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.onSelect != nil {
		return false, nil
	}
	p.onSelect = fn
	return true, nil
}

func (p *pageTab) Navigate(_ context.Context, url string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.navigated = append(p.navigated, url)
	p.url = url
	return nil
}

func (p *pageTab) captureCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.captures
}

// tabHost serves one tab and forwards Navigate to it.
type tabHost struct{ tab *pageTab }

func (h tabHost) ActiveTab(context.Context) (host.Tab, error) { return h.tab, nil }
func (h tabHost) Navigate(ctx context.Context, url string) error {
	return h.tab.Navigate(ctx, url)
}

func testConfig(t *testing.T) *Config {
	t.Helper()
	cfg := DefaultConfig()
	dir := t.TempDir()
	cfg.Output.Dir = dir
	cfg.Store.Path = filepath.Join(dir, ".pageshot", "pageshot.db")
	cfg.Capture.SettleDelay = time.Millisecond
	cfg.Capture.AreaDelay = time.Millisecond
	return cfg
}

func newTestService(t *testing.T, tab *pageTab, cfg *Config) *Service {
	t.Helper()
	if cfg == nil {
		cfg = testConfig(t)
	}
	svc, err := New(cfg,
		WithLogger(quiet),
		WithHost(tabHost{tab: tab}),
		WithIDGenerator(idgen.Sequence("cap_")),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	svc.urlPolicy.Lookup = publicDNS
	t.Cleanup(func() { svc.Close() })
	return svc
}

// publicDNS resolves every name to a public address.
func publicDNS(string) ([]string, error) { return []string{"93.184.216.34"}, nil }

func decodePNG(t *testing.T, path string) image.Image {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return img
}

func TestService_CaptureVisible(t *testing.T) {
	tab := &pageTab{url: "https://example.com/"}
	svc := newTestService(t, tab, nil)

	resp := svc.Dispatch(context.Background(), shot.Request{Action: shot.ActionCaptureVisible})
	if resp.Status != shot.StatusComplete {
		t.Fatalf("status: got %q (%s)", resp.Status, resp.Message)
	}
	if !strings.HasPrefix(filepath.Base(resp.Path), "screen_shoot_") || filepath.Ext(resp.Path) != ".png" {
		t.Fatalf("path: got %q", resp.Path)
	}
	img := decodePNG(t, resp.Path)
	if b := img.Bounds(); b.Dx() != pageW || b.Dy() != viewH {
		t.Fatalf("size: got %v", b)
	}

	hist, err := svc.History(context.Background(), 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 1 || hist[0].Status != "complete" || hist[0].TabURL != "https://example.com/" {
		t.Fatalf("history: got %+v", hist)
	}
}

func TestService_CaptureFull(t *testing.T) {
	tab := &pageTab{url: "https://example.com/long", scrollY: 40}
	svc := newTestService(t, tab, nil)

	resp := svc.Dispatch(context.Background(), shot.Request{Action: shot.ActionCaptureFull})
	if resp.Status != shot.StatusStarted {
		t.Fatalf("status: got %q (%s)", resp.Status, resp.Message)
	}
	svc.Wait()

	// WHAT: 500px page through a 200px viewport takes three tiles.
	if n := tab.captureCount(); n != 3 {
		t.Errorf("captures: got %d, want 3", n)
	}
	if tab.scrollY != 40 {
		t.Errorf("scroll not restored: got %d", tab.scrollY)
	}

	hist, err := svc.History(context.Background(), 1)
	if err != nil || len(hist) != 1 {
		t.Fatalf("history: %v %v", hist, err)
	}
	c := hist[0]
	if c.Status != "complete" || c.Tiles != 3 || c.Width != pageW || c.Height != pageH {
		t.Fatalf("journal: got %+v", c)
	}

	img := decodePNG(t, c.Path)
	for _, y := range []int{0, 199, 200, 399, 400, 499} {
		r, g, _, _ := img.At(10, y).RGBA()
		want := shade(y)
		if uint8(r>>8) != want.R || uint8(g>>8) != want.G {
			t.Errorf("row %d: got (%d,%d), want (%d,%d)", y, r>>8, g>>8, want.R, want.G)
		}
	}
}

func TestService_Restricted(t *testing.T) {
	tab := &pageTab{url: "chrome://settings"}
	svc := newTestService(t, tab, nil)

	resp := svc.Dispatch(context.Background(), shot.Request{Action: shot.ActionCaptureVisible})
	if resp.Status != shot.StatusError || resp.Message != "Restricted URL" || resp.Kind != shot.KindRestrictedPage {
		t.Fatalf("got %+v", resp)
	}
	if tab.captureCount() != 0 {
		t.Fatal("restricted page was captured")
	}

	notes := svc.Notifications()
	if len(notes) != 1 || notes[0].Title != "Browser restrictions." {
		t.Fatalf("notifications: got %+v", notes)
	}
}

func TestService_ConfiguredRestriction(t *testing.T) {
	cfg := testConfig(t)
	cfg.Capture.Restricted = []string{"about:"}
	svc := newTestService(t, &pageTab{url: "about:blank"}, cfg)

	resp := svc.Dispatch(context.Background(), shot.Request{Action: shot.ActionCaptureVisible})
	if resp.Kind != shot.KindRestrictedPage {
		t.Fatalf("got %+v", resp)
	}
}

func TestService_FormatPreference(t *testing.T) {
	svc := newTestService(t, &pageTab{url: "https://example.com/"}, nil)
	ctx := context.Background()

	f, err := svc.Format(ctx)
	if err != nil || f != shot.FormatPNG {
		t.Fatalf("default format: got %q, %v", f, err)
	}
	if err := svc.SetFormat(ctx, shot.FormatJPG); err != nil {
		t.Fatal(err)
	}

	resp := svc.Dispatch(ctx, shot.Request{Action: shot.ActionCaptureVisible})
	if filepath.Ext(resp.Path) != ".jpg" {
		t.Fatalf("path: got %q", resp.Path)
	}

	// WHAT: an explicit format wins over the preference.
	resp = svc.Dispatch(ctx, shot.Request{Action: shot.ActionCaptureVisible, Format: shot.FormatPNG})
	if filepath.Ext(resp.Path) != ".png" {
		t.Fatalf("path: got %q", resp.Path)
	}
}

func TestService_ConfigSeedsFormat(t *testing.T) {
	cfg := testConfig(t)
	cfg.Capture.Format = "jpeg"
	svc := newTestService(t, &pageTab{url: "https://example.com/"}, cfg)

	f, err := svc.Format(context.Background())
	if err != nil || f != shot.FormatJPG {
		t.Fatalf("got %q, %v", f, err)
	}
}

func TestService_AreaSelection(t *testing.T) {
	tab := &pageTab{url: "https://example.com/"}
	svc := newTestService(t, tab, nil)
	ctx := context.Background()

	resp := svc.Dispatch(ctx, shot.Request{Action: shot.ActionInitiateArea, Format: shot.FormatJPG})
	if resp.Status != shot.StatusInjected {
		t.Fatalf("status: got %+v", resp)
	}
	if tab.onSelect == nil {
		t.Fatal("overlay not mounted")
	}

	tab.onSelect(shot.Rect{X: 10, Y: 20, Width: 50, Height: 40})

	hist, err := svc.History(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	var area *Capture
	for _, c := range hist {
		if c.Action == string(shot.ActionCaptureArea) {
			area = c
		}
	}
	if area == nil || area.Status != "complete" {
		t.Fatalf("area capture not journaled: %+v", hist)
	}
	// WHAT: the area keeps the format chosen when the selection started.
	if filepath.Ext(area.Path) != ".jpg" || area.Width != 50 || area.Height != 40 {
		t.Fatalf("area: got %+v", area)
	}
}

func TestService_OpensTabURL(t *testing.T) {
	tab := &pageTab{url: "about:blank"}
	svc := newTestService(t, tab, nil)

	ctx := kit.WithTabURL(context.Background(), "https://example.org/")
	resp := svc.Dispatch(ctx, shot.Request{Action: shot.ActionCaptureVisible})
	if resp.Status != shot.StatusComplete {
		t.Fatalf("got %+v", resp)
	}
	if len(tab.navigated) != 1 || tab.navigated[0] != "https://example.org/" {
		t.Fatalf("navigated: got %v", tab.navigated)
	}
}

func TestService_RejectsUnsafeURL(t *testing.T) {
	tab := &pageTab{url: "https://example.com/"}
	svc := newTestService(t, tab, nil)

	for _, url := range []string{"file:///etc/passwd", "javascript:alert(1)", "http://192.168.1.1/"} {
		ctx := kit.WithTabURL(context.Background(), url)
		resp := svc.Dispatch(ctx, shot.Request{Action: shot.ActionCaptureVisible})
		if resp.Status != shot.StatusError || resp.Kind != shot.KindInvalidRequest {
			t.Errorf("%s: got %+v", url, resp)
		}
	}
	if len(tab.navigated) != 0 || tab.captureCount() != 0 {
		t.Fatalf("refused URL reached the tab: navigated %v, captures %d", tab.navigated, tab.captureCount())
	}

	// WHAT: local development servers stay capturable.
	ctx := kit.WithTabURL(context.Background(), "http://127.0.0.1:3000/")
	if resp := svc.Dispatch(ctx, shot.Request{Action: shot.ActionCaptureVisible}); resp.Status != shot.StatusComplete {
		t.Fatalf("loopback: got %+v", resp)
	}
}

func TestService_AllowPrivateURLs(t *testing.T) {
	cfg := testConfig(t)
	cfg.Capture.AllowPrivateURLs = true
	tab := &pageTab{url: "about:blank"}
	svc := newTestService(t, tab, cfg)

	ctx := kit.WithTabURL(context.Background(), "http://10.0.0.7/dashboard")
	if resp := svc.Dispatch(ctx, shot.Request{Action: shot.ActionCaptureVisible}); resp.Status != shot.StatusComplete {
		t.Fatalf("got %+v", resp)
	}
}

func TestService_LookupByResponseID(t *testing.T) {
	tab := &pageTab{url: "https://example.com/long"}
	svc := newTestService(t, tab, nil)
	ctx := context.Background()

	full := svc.Dispatch(ctx, shot.Request{Action: shot.ActionCaptureFull})
	if full.Status != shot.StatusStarted || full.ID == "" {
		t.Fatalf("got %+v", full)
	}
	svc.Wait()
	svc.Dispatch(ctx, shot.Request{Action: shot.ActionCaptureVisible})

	c, err := svc.Lookup(ctx, full.ID)
	if err != nil {
		t.Fatal(err)
	}
	if c.Action != "captureFull" || c.Tiles != 3 {
		t.Fatalf("got %+v", c)
	}
}

func TestService_JournalRetention(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.MaxCaptures = 2
	svc := newTestService(t, &pageTab{url: "https://example.com/"}, cfg)
	ctx := context.Background()

	for range 4 {
		svc.Dispatch(ctx, shot.Request{Action: shot.ActionCaptureVisible})
	}
	hist, err := svc.History(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(hist) != 2 {
		t.Fatalf("journal rows: got %d, want 2", len(hist))
	}
}

func TestService_CloseIdempotent(t *testing.T) {
	svc := newTestService(t, &pageTab{url: "https://example.com/"}, nil)
	if err := svc.Close(); err != nil {
		t.Fatal(err)
	}
	if err := svc.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}

func TestNew_RejectsBadConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Browser.Stealth = "invisible"
	if _, err := New(cfg, WithLogger(quiet), WithHost(tabHost{tab: &pageTab{}})); err == nil {
		t.Fatal("expected error")
	}
}
