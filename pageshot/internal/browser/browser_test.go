package browser

import (
	"context"
	"strings"
	"testing"

	"github.com/hazyhaar/shotkit/pageshot/internal/host"
)

var _ host.Host = (*Host)(nil)
var _ host.Tab = (*Tab)(nil)

func TestParseMode(t *testing.T) {
	if ParseMode("headful") != ModeHeadful {
		t.Error("headful")
	}
	for _, s := range []string{"", "headless", "garbage"} {
		if ParseMode(s) != ModeHeadless {
			t.Errorf("%q: want headless", s)
		}
	}
}

func TestOverlayScript(t *testing.T) {
	// WHAT: the embedded overlay is a two-argument function.
	// WHY: MountSelection evaluates it with the overlay id and binding name.
	if !strings.HasPrefix(strings.TrimSpace(overlayJS), "(id, bindingName) =>") {
		t.Fatalf("unexpected overlay prologue: %.40q", overlayJS)
	}
	for _, want := range []string{"'Escape'", "'down'", "'move'", "'up'", "'cancel'", "Press Esc to cancel", "devicePixelRatio"} {
		if !strings.Contains(overlayJS, want) {
			t.Errorf("overlay script lacks %s", want)
		}
	}
}

func TestProbesUseDevicePixels(t *testing.T) {
	for name, js := range map[string]string{"geometry": geometryJS, "scroll": scrollJS} {
		if !strings.Contains(js, "devicePixelRatio") {
			t.Errorf("%s probe must scale by devicePixelRatio", name)
		}
	}
}

func TestManager_StartAfterClose(t *testing.T) {
	m := NewManager(Config{})
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Start(context.Background()); err == nil {
		t.Fatal("expected error after Close")
	}
	if m.Browser() != nil {
		t.Error("no browser expected")
	}
}

func TestHost_NoBrowser(t *testing.T) {
	h := NewHost(NewManager(Config{RemoteURL: "ws://127.0.0.1:1/devtools"}))
	if _, err := h.ActiveTab(context.Background()); err == nil {
		t.Fatal("expected error without a started browser")
	}
	if _, err := h.Open(context.Background(), "https://example.com"); err == nil {
		t.Fatal("expected error without a started browser")
	}
}
