// Package shot holds the wire types shared by every pageshot component:
// capture requests and responses, formats, rectangles, page geometry and
// tiles.
package shot

import (
	"fmt"
	"image"
	"strings"
)

// Action names one of the four capture commands.
type Action string

const (
	ActionCaptureVisible Action = "captureVisible"
	ActionCaptureFull    Action = "captureFull"
	ActionInitiateArea   Action = "initiateAreaSelection"
	ActionCaptureArea    Action = "captureArea"
)

// Valid reports whether a is one of the known actions.
func (a Action) Valid() bool {
	switch a {
	case ActionCaptureVisible, ActionCaptureFull, ActionInitiateArea, ActionCaptureArea:
		return true
	}
	return false
}

// Format is the output image encoding.
type Format string

const (
	FormatPNG Format = "png"
	FormatJPG Format = "jpg"
)

// JPEGQuality is the fixed quality used for jpg output.
const JPEGQuality = 92

// DefaultFormat is used when neither the request nor the stored
// preference names one.
const DefaultFormat = FormatPNG

// ParseFormat accepts "png", "jpg" and "jpeg" (case-insensitive).
// The empty string parses to the empty Format, meaning "unset".
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return "", nil
	case "png":
		return FormatPNG, nil
	case "jpg", "jpeg":
		return FormatJPG, nil
	}
	return "", fmt.Errorf("shot: unknown format %q", s)
}

// Valid reports whether f is png or jpg.
func (f Format) Valid() bool { return f == FormatPNG || f == FormatJPG }

// Ext returns the file extension without the dot.
func (f Format) Ext() string {
	if f == FormatJPG {
		return "jpg"
	}
	return "png"
}

// MIME returns the content type of the encoded image.
func (f Format) MIME() string {
	if f == FormatJPG {
		return "image/jpeg"
	}
	return "image/png"
}

// Rect is a rectangle in device pixels.
type Rect struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Empty reports whether the rectangle has no area.
func (r Rect) Empty() bool { return r.Width <= 0 || r.Height <= 0 }

// Image converts r to an image.Rectangle.
func (r Rect) Image() image.Rectangle {
	return image.Rect(r.X, r.Y, r.X+r.Width, r.Y+r.Height)
}

// Request is a capture command. It is not modified after dispatch.
type Request struct {
	Action Action `json:"action"`
	Format Format `json:"format,omitempty"`
	Area   *Rect  `json:"area,omitempty"`
}

// Validate checks the request shape. It does not look at any tab.
func (r Request) Validate() error {
	if !r.Action.Valid() {
		return &Error{Kind: KindInvalidRequest, Message: fmt.Sprintf("Unknown action %q", r.Action)}
	}
	if r.Format != "" && !r.Format.Valid() {
		return &Error{Kind: KindInvalidRequest, Message: fmt.Sprintf("Unknown format %q", r.Format)}
	}
	if r.Action == ActionCaptureArea {
		if r.Area == nil {
			return &Error{Kind: KindInvalidRequest, Message: "Missing area"}
		}
		if r.Area.X < 0 || r.Area.Y < 0 || r.Area.Empty() {
			return &Error{Kind: KindInvalidRequest, Message: "Invalid area"}
		}
	}
	return nil
}

// Status is the outcome reported in a Response.
type Status string

const (
	StatusComplete Status = "complete"
	StatusStarted  Status = "started"
	StatusInjected Status = "injected"
	StatusError    Status = "error"
)

// Response answers a Request.
type Response struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	// Path is set when a file was written synchronously.
	Path string `json:"path,omitempty"`
	// Kind classifies an error response.
	Kind Kind `json:"kind,omitempty"`
	// ID names the journal entry of the command. A started capture
	// records its outcome under this id once it finishes.
	ID string `json:"id,omitempty"`
}

// Failed builds an error response carrying err's message and kind.
func Failed(err error) Response {
	return Response{Status: StatusError, Message: err.Error(), Kind: KindOf(err)}
}

// PageGeometry is the snapshot taken once per full-page run. All values
// are device pixels.
type PageGeometry struct {
	TotalWidth      int `json:"totalWidth"`
	TotalHeight     int `json:"totalHeight"`
	ViewportHeight  int `json:"viewportHeight"`
	OriginalScrollY int `json:"originalScrollY"`
}

// Tile is one captured viewport and the canvas row it belongs at.
type Tile struct {
	Raster  image.Image
	InsertY int
}
