// Package capture renders the clock page in headless Chromium and saves it
// as a PNG, for displays that can only show images.
package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/chromedp/chromedp"
)

const (
	DefaultWidth   = 960
	DefaultHeight  = 540
	DefaultTimeout = 30 * time.Second

	// ReadySelector matches the page root once the face and legend are inline.
	ReadySelector = `[data-ready="true"]`

	// FaceSelector matches the clock face SVG alone.
	FaceSelector = `#clock svg`
)

// Options controls one capture.
type Options struct {
	URL        string
	OutputPath string

	// Selector limits the screenshot to one element. Empty captures the
	// full page.
	Selector string

	Width, Height int
	// Scale is the device pixel ratio; 0 means 1.
	Scale   float64
	Timeout time.Duration
}

func (o *Options) defaults() error {
	if o.URL == "" {
		return errors.New("capture: URL is required")
	}
	if o.Width <= 0 {
		o.Width = DefaultWidth
	}
	if o.Height <= 0 {
		o.Height = DefaultHeight
	}
	if o.Scale <= 0 {
		o.Scale = 1
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	return nil
}

// tasks builds the chromedp actions that fill png.
func (o Options) tasks(png *[]byte) chromedp.Tasks {
	var shot chromedp.Action = chromedp.FullScreenshot(png, 100)
	if o.Selector != "" {
		shot = chromedp.Screenshot(o.Selector, png, chromedp.NodeVisible, chromedp.ByQuery)
	}
	return chromedp.Tasks{
		chromedp.EmulateViewport(int64(o.Width), int64(o.Height), chromedp.EmulateScale(o.Scale)),
		chromedp.Navigate(o.URL),
		chromedp.WaitVisible(ReadySelector, chromedp.ByQuery),
		// Let the browser finish painting the inline SVG.
		chromedp.Sleep(300 * time.Millisecond),
		shot,
	}
}

// Capture loads opts.URL and returns the PNG bytes.
func Capture(ctx context.Context, opts Options) ([]byte, error) {
	if err := opts.defaults(); err != nil {
		return nil, err
	}

	bctx, cancel := chromedp.NewContext(ctx)
	defer cancel()
	bctx, cancelTimeout := context.WithTimeout(bctx, opts.Timeout)
	defer cancelTimeout()

	var png []byte
	if err := chromedp.Run(bctx, opts.tasks(&png)); err != nil {
		return nil, fmt.Errorf("capture %s: %w", opts.URL, err)
	}
	if len(png) == 0 {
		return nil, errors.New("capture: browser returned an empty screenshot")
	}
	return png, nil
}

// CaptureClockPNG captures the clock page and writes it to opts.OutputPath.
func CaptureClockPNG(ctx context.Context, opts Options) error {
	if opts.OutputPath == "" {
		return errors.New("capture: output path is required")
	}
	png, err := Capture(ctx, opts)
	if err != nil {
		return err
	}
	if err := os.WriteFile(opts.OutputPath, png, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", opts.OutputPath, err)
	}
	return nil
}
