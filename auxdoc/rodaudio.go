package auxdoc

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"

	"github.com/hazyhaar/packetd/media"
)

// TickFunc receives periodic playback progress from the audio page.
type TickFunc func(key string, currentTime, duration float64)

// AudioPage is a hidden browser page holding a single audio element. It
// implements media.AudioDocument.
type AudioPage struct {
	page   *rod.Page
	logger *slog.Logger
	stop   func() error
}

// NewAudioPage creates the hidden page, injects the audio element, and
// wires timeupdate events back through onTick.
func NewAudioPage(browser *rod.Browser, logger *slog.Logger, onTick TickFunc) (*AudioPage, error) {
	if logger == nil {
		logger = slog.Default()
	}
	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank", Background: true})
	if err != nil {
		return nil, fmt.Errorf("auxdoc: create audio page: %w", err)
	}

	a := &AudioPage{page: page, logger: logger}

	stop, err := page.Expose("packetdAudioTick", func(v gson.JSON) (interface{}, error) {
		if onTick != nil {
			onTick(v.Get("key").Str(), v.Get("t").Num(), v.Get("d").Num())
		}
		return nil, nil
	})
	if err != nil {
		page.Close()
		return nil, fmt.Errorf("auxdoc: expose tick binding: %w", err)
	}
	a.stop = stop

	_, err = page.Eval(`() => {
		const a = document.createElement('audio');
		a.id = 'packetd-audio';
		document.body.appendChild(a);
		a.addEventListener('timeupdate', () => {
			window.packetdAudioTick({key: a.dataset.key || '', t: a.currentTime, d: a.duration || 0});
		});
		a.addEventListener('ended', () => {
			window.packetdAudioTick({key: a.dataset.key || '', t: a.duration || 0, d: a.duration || 0});
		});
	}`)
	if err != nil {
		page.Close()
		return nil, fmt.Errorf("auxdoc: install audio element: %w", err)
	}
	return a, nil
}

// Play loads the audio bytes as a data URL and starts playback at the
// requested offset.
func (a *AudioPage) Play(ctx context.Context, cmd media.PlayCommand) error {
	mime := cmd.Mime
	if mime == "" {
		mime = "audio/mpeg"
	}
	src := "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(cmd.AudioBytes)
	_, err := a.page.Context(ctx).Eval(`(src, key, start) => {
		const a = document.getElementById('packetd-audio');
		a.dataset.key = key;
		a.src = src;
		a.currentTime = start;
		return a.play();
	}`, src, cmd.Key, cmd.StartTime)
	if err != nil {
		return fmt.Errorf("auxdoc: play: %w", err)
	}
	return nil
}

// Pause halts playback, keeping the element loaded.
func (a *AudioPage) Pause(ctx context.Context) error {
	_, err := a.page.Context(ctx).Eval(`() => document.getElementById('packetd-audio').pause()`)
	if err != nil {
		return fmt.Errorf("auxdoc: pause: %w", err)
	}
	return nil
}

// Resume continues playback of the loaded track.
func (a *AudioPage) Resume(ctx context.Context) error {
	_, err := a.page.Context(ctx).Eval(`() => document.getElementById('packetd-audio').play()`)
	if err != nil {
		return fmt.Errorf("auxdoc: resume: %w", err)
	}
	return nil
}

// Stop unloads the track.
func (a *AudioPage) Stop(ctx context.Context) error {
	_, err := a.page.Context(ctx).Eval(`() => {
		const a = document.getElementById('packetd-audio');
		a.pause();
		a.removeAttribute('src');
		a.dataset.key = '';
		a.load();
	}`)
	if err != nil {
		return fmt.Errorf("auxdoc: stop: %w", err)
	}
	return nil
}

// Duration probes a blob's playable duration by loading it into a detached
// element. Used when packets arrive without duration metadata.
func (a *AudioPage) Duration(ctx context.Context, audio []byte, mime string) (float64, error) {
	if mime == "" {
		mime = "audio/mpeg"
	}
	src := "data:" + mime + ";base64," + base64.StdEncoding.EncodeToString(audio)
	res, err := a.page.Context(ctx).Eval(`(src) => new Promise((resolve, reject) => {
		const el = new Audio();
		el.addEventListener('loadedmetadata', () => resolve(el.duration));
		el.addEventListener('error', () => reject(new Error('unplayable')));
		el.src = src;
	})`, src)
	if err != nil {
		return 0, fmt.Errorf("auxdoc: probe duration: %w", err)
	}
	return res.Value.Num(), nil
}

// Close tears down the hidden page.
func (a *AudioPage) Close() error {
	if a.stop != nil {
		if err := a.stop(); err != nil {
			a.logger.Warn("auxdoc: unbind tick", "error", err)
		}
	}
	return a.page.Close()
}
