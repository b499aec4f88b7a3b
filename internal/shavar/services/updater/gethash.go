package updater

import (
	"context"

	"github.com/haukened/shavar/internal/shavar/gateways/request"
	"github.com/haukened/shavar/internal/shavar/gateways/wire"
)

// GetFullHashes resolves 4-byte prefixes to full hashes via the gethash
// endpoint. The callback is invoked exactly once, from another goroutine,
// with the resolved hashes; it receives none while gethash is inside its
// backoff window, on transport failure, or on a malformed response.
// Failures count against the gethash backoff schedule independently of the
// update schedule.
func (u *Updater) GetFullHashes(prefixes [][]byte, cb GetFullHashesCallback) {
	u.post(func() {
		now := u.clk.Now()
		if u.gethashBackOff.errorCount() > 0 && now.Before(u.nextGetHashTime) {
			u.logger.Debug(map[string]any{
				"next_allowed": u.nextGetHashTime.String(),
			}, "gethash inside backoff window")
			go cb(nil)
			return
		}
		body, err := request.GetHashBody(prefixes)
		if err != nil {
			u.logger.Warn(map[string]any{"error": err.Error()}, "invalid gethash request")
			go cb(nil)
			return
		}
		url := u.urls.GetHashURL(u.cfg.URLPrefix)
		ctx, cancel := context.WithTimeout(u.rootCtx, u.cfg.RequestTimeout)
		go func() {
			resp, err := u.fetcher.Do(ctx, url, []byte(body))
			cancel()
			u.post(func() { u.onGetHashResponse(resp, err, cb) })
		}()
	})
}

func (u *Updater) onGetHashResponse(resp Response, err error, cb GetFullHashesCallback) {
	if err != nil {
		u.logger.Warn(map[string]any{"error": err.Error()}, "gethash request failed")
		u.handleGetHashError()
		go cb(nil)
		return
	}
	// 204 is the server's way of saying no prefix matched.
	if resp.StatusCode == 204 {
		u.gethashBackOff.next(false)
		go cb(nil)
		return
	}
	if !is2xx(resp.StatusCode) {
		u.logger.Warn(map[string]any{"status": resp.StatusCode}, "gethash request rejected")
		u.handleGetHashError()
		go cb(nil)
		return
	}
	hashes, perr := wire.ParseGetHashResponse(resp.Body)
	if perr != nil {
		u.logger.Warn(map[string]any{"error": perr.Error()}, "malformed gethash response")
		u.handleGetHashError()
		go cb(nil)
		return
	}
	u.gethashBackOff.next(false)
	go cb(hashes)
}

// handleGetHashError advances the gethash schedule and records the
// absolute time before which no further gethash request may be issued.
func (u *Updater) handleGetHashError() {
	interval := u.gethashBackOff.next(true)
	u.nextGetHashTime = u.clk.Now().Add(interval)
	u.logger.Debug(map[string]any{
		"errors":       u.gethashBackOff.errorCount(),
		"next_allowed": u.nextGetHashTime.String(),
	}, "gethash backoff advanced")
}
