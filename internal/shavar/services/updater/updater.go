// Package updater implements the client side of the chunk update protocol:
// it polls the update server for deltas against the delegate's local state,
// follows redirect directives to fetch chunk payloads, applies the results
// through the Delegate, and schedules the next poll through a backoff
// policy that respects the server's retry contract.
package updater

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haukened/shavar/internal/shavar/common/clock"
	"github.com/haukened/shavar/internal/shavar/common/log"
	"github.com/haukened/shavar/internal/shavar/domain"
	"github.com/haukened/shavar/internal/shavar/gateways/request"
	"github.com/haukened/shavar/internal/shavar/gateways/wire"
)

const (
	defaultUpdateInterval = 30 * time.Minute
	defaultRequestTimeout = 30 * time.Second
)

// Config carries the immutable protocol identity and endpoints.
type Config struct {
	ClientName      string
	AppVersion      string
	ProtocolVersion string
	Key             string
	AdditionalQuery string

	// URLPrefix is the primary endpoint prefix. The backup prefixes are
	// consulted once per cycle, keyed by the kind of the first failure;
	// an empty backup prefix disables fallback for that kind.
	URLPrefix              string
	BackupConnectURLPrefix string
	BackupHTTPURLPrefix    string
	BackupNetworkURLPrefix string

	// UpdateInterval is the base poll interval on the success path.
	UpdateInterval time.Duration
	// RequestTimeout bounds every individual network request.
	RequestTimeout time.Duration
}

// Options configures a new Updater.
type Options struct {
	Config   Config
	Delegate Delegate
	Fetcher  Fetcher
	// optional, injectable for testing
	Clock  clock.Clock
	Logger log.Logger
	Rand   *rand.Rand
}

// session is the state of one update cycle. It exists from UpdateStarted
// until UpdateFinished; at most one is live at a time.
type session struct {
	body             string
	onBackup         bool
	pendingRedirects []wire.Redirect
	nextDelay        time.Duration
	fetchID          uint64
	cancel           context.CancelFunc
}

// Updater drives the update cycle. All mutable state is owned by the event
// loop goroutine; callbacks arriving from timers, fetch goroutines, and the
// delegate are marshalled onto the loop rather than synchronized with
// locks.
type Updater struct {
	cfg      Config
	delegate Delegate
	fetcher  Fetcher
	clk      clock.Clock
	logger   log.Logger
	urls     *request.Builder

	events   chan func()
	quit     chan struct{}
	stopOnce sync.Once
	rootCtx  context.Context
	rootStop context.CancelFunc

	updateBackOff   *backOffSchedule
	gethashBackOff  *backOffSchedule
	nextGetHashTime time.Time

	sess      *session
	nextTimer *time.Timer
	fetchSeq  uint64
	scheduled atomic.Bool
}

// New constructs an Updater and starts its event loop. Call Stop to release
// it.
func New(opts Options) (*Updater, error) {
	if opts.Delegate == nil {
		return nil, fmt.Errorf("delegate is required")
	}
	if opts.Fetcher == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if opts.Config.URLPrefix == "" {
		return nil, fmt.Errorf("url prefix is required")
	}
	urls, err := request.NewBuilder(request.Options{
		ClientName:      opts.Config.ClientName,
		AppVersion:      opts.Config.AppVersion,
		ProtocolVersion: opts.Config.ProtocolVersion,
		Key:             opts.Config.Key,
		AdditionalQuery: opts.Config.AdditionalQuery,
	})
	if err != nil {
		return nil, err
	}
	if opts.Config.UpdateInterval <= 0 {
		opts.Config.UpdateInterval = defaultUpdateInterval
	}
	if opts.Config.RequestTimeout <= 0 {
		opts.Config.RequestTimeout = defaultRequestTimeout
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = log.GetLogger()
	}
	fuzz := func() float64 {
		if opts.Rand != nil {
			return opts.Rand.Float64()
		}
		return rand.Float64()
	}

	ctx, cancel := context.WithCancel(context.Background())
	u := &Updater{
		cfg:            opts.Config,
		delegate:       opts.Delegate,
		fetcher:        opts.Fetcher,
		clk:            opts.Clock,
		logger:         opts.Logger,
		urls:           urls,
		events:         make(chan func(), 64),
		quit:           make(chan struct{}),
		rootCtx:        ctx,
		rootStop:       cancel,
		updateBackOff:  newBackOffSchedule(opts.Config.UpdateInterval, fuzz()),
		gethashBackOff: newBackOffSchedule(0, fuzz()),
	}
	go u.loop()
	return u, nil
}

// Stop shuts the updater down: pending timers are cancelled, in-flight
// requests are abandoned without invoking their completions, and any
// pending redirect queue is discarded without partial application.
func (u *Updater) Stop() {
	u.stopOnce.Do(func() {
		u.rootStop()
		close(u.quit)
	})
}

// ForceScheduleNextUpdate replaces the pending update timer so the next
// cycle starts after delay. A cycle already in progress is left alone; a
// second concurrent cycle is never started.
func (u *Updater) ForceScheduleNextUpdate(delay time.Duration) {
	u.post(func() {
		if u.sess != nil {
			u.logger.Debug(nil, "update already in progress, ignoring force request")
			return
		}
		u.scheduleNextUpdate(delay)
	})
}

// IsUpdateScheduled reports whether a future update cycle is scheduled.
// False while a cycle is running.
func (u *Updater) IsUpdateScheduled() bool {
	return u.scheduled.Load()
}

// post marshals fn onto the event loop; dropped after Stop.
func (u *Updater) post(fn func()) {
	select {
	case u.events <- fn:
	case <-u.quit:
	}
}

func (u *Updater) loop() {
	for {
		select {
		case fn := <-u.events:
			fn()
		case <-u.quit:
			if u.nextTimer != nil {
				u.nextTimer.Stop()
				u.nextTimer = nil
			}
			if u.sess != nil && u.sess.cancel != nil {
				u.sess.cancel()
			}
			u.sess = nil
			u.scheduled.Store(false)
			return
		}
	}
}

// scheduleNextUpdate arms the cycle timer. Loop context only.
func (u *Updater) scheduleNextUpdate(delay time.Duration) {
	if delay < 0 {
		delay = 0
	}
	if u.nextTimer != nil {
		u.nextTimer.Stop()
	}
	u.nextTimer = time.AfterFunc(delay, func() {
		u.post(u.beginUpdate)
	})
	u.scheduled.Store(true)
	u.logger.Debug(map[string]any{"delay": delay.String()}, "next update scheduled")
}

// beginUpdate starts a cycle unless one is already live. Loop context only.
func (u *Updater) beginUpdate() {
	if u.sess != nil {
		return
	}
	u.scheduled.Store(false)
	u.nextTimer = nil
	u.sess = &session{}
	u.delegate.UpdateStarted()
	u.delegate.GetChunks(func(ranges []domain.ListChunkRanges, databaseError bool) {
		u.post(func() { u.onGetChunks(ranges, databaseError) })
	})
}

func (u *Updater) onGetChunks(ranges []domain.ListChunkRanges, databaseError bool) {
	if u.sess == nil {
		return
	}
	if databaseError {
		// Do not even attempt the network round-trip when local storage
		// cannot be read.
		u.logger.Error(nil, "local chunk database unreadable, skipping update")
		u.finishUpdate(false)
		return
	}
	u.sess.body = request.UpdateBody(ranges)
	u.issueUpdateRequest(u.cfg.URLPrefix)
}

// issueUpdateRequest posts the advertised local state to prefix.
func (u *Updater) issueUpdateRequest(prefix string) {
	url := u.urls.UpdateURL(prefix)
	u.startFetch(url, []byte(u.sess.body), u.onUpdateResponse)
}

// startFetch runs one bounded request off-loop and marshals its completion
// back. Completions of superseded or cancelled fetches are dropped by the
// fetch id check.
func (u *Updater) startFetch(url string, body []byte, handle func(Response, error)) {
	u.fetchSeq++
	id := u.fetchSeq
	u.sess.fetchID = id
	ctx, cancel := context.WithTimeout(u.rootCtx, u.cfg.RequestTimeout)
	u.sess.cancel = cancel
	go func() {
		resp, err := u.fetcher.Do(ctx, url, body)
		cancel()
		u.post(func() {
			if u.sess == nil || u.sess.fetchID != id {
				return
			}
			handle(resp, err)
		})
	}()
}

func (u *Updater) onUpdateResponse(resp Response, err error) {
	if err != nil {
		u.logger.Warn(map[string]any{"error": err.Error()}, "update request failed")
		u.handleUpdateFailure(fetchFailureKind(err))
		return
	}
	if !is2xx(resp.StatusCode) {
		u.logger.Warn(map[string]any{"status": resp.StatusCode}, "update request rejected")
		u.handleUpdateFailure(domain.FailureHTTP)
		return
	}
	parsed, perr := wire.ParseUpdateResponse(resp.Body)
	if perr != nil {
		u.logger.Warn(map[string]any{"error": perr.Error()}, "malformed update response")
		u.handleUpdateFailure(domain.FailureHTTP)
		return
	}
	u.applyUpdateResponse(parsed)
}

// handleUpdateFailure falls back to the failure-kind backup host once per
// cycle; a failure on the backup, or a missing backup prefix, ends the
// cycle.
func (u *Updater) handleUpdateFailure(kind domain.FailureKind) {
	if !u.sess.onBackup {
		if prefix := u.backupPrefix(kind); prefix != "" {
			u.sess.onBackup = true
			u.logger.Info(map[string]any{"kind": kind.String()}, "retrying update against backup host")
			u.issueUpdateRequest(prefix)
			return
		}
	}
	u.finishUpdate(false)
}

func (u *Updater) backupPrefix(kind domain.FailureKind) string {
	switch kind {
	case domain.FailureConnect:
		return u.cfg.BackupConnectURLPrefix
	case domain.FailureHTTP:
		return u.cfg.BackupHTTPURLPrefix
	case domain.FailureNetwork:
		return u.cfg.BackupNetworkURLPrefix
	default:
		return ""
	}
}

func (u *Updater) applyUpdateResponse(parsed wire.UpdateResponse) {
	if parsed.Rekey {
		// No key manager here; the server's hint is informational.
		u.logger.Warn(nil, "server requested a rekey")
	}
	if parsed.Reset {
		u.logger.Info(nil, "server requested a database reset")
		u.delegate.ResetDatabase()
	}
	if len(parsed.Deletes) > 0 {
		u.delegate.DeleteChunks(parsed.Deletes)
	}
	u.sess.nextDelay = parsed.NextDelay
	u.sess.pendingRedirects = parsed.Redirects
	u.processNextRedirect()
}

// processNextRedirect fetches the redirect queue strictly one at a time;
// the next fetch is issued only after the previous chunk batch has been
// committed by the delegate.
func (u *Updater) processNextRedirect() {
	if len(u.sess.pendingRedirects) == 0 {
		u.finishUpdate(true)
		return
	}
	next := u.sess.pendingRedirects[0]
	u.sess.pendingRedirects = u.sess.pendingRedirects[1:]
	url := u.urls.NextChunkURL(next.URL)
	u.startFetch(url, nil, func(resp Response, err error) {
		u.onChunkResponse(next.ListName, resp, err)
	})
}

func (u *Updater) onChunkResponse(listName string, resp Response, err error) {
	if err != nil {
		u.logger.Warn(map[string]any{"list": listName, "error": err.Error()}, "chunk fetch failed")
		u.finishUpdate(false)
		return
	}
	if !is2xx(resp.StatusCode) {
		u.logger.Warn(map[string]any{"list": listName, "status": resp.StatusCode}, "chunk fetch rejected")
		u.finishUpdate(false)
		return
	}
	chunks, perr := wire.ParseChunkPayload(resp.Body, listName)
	if perr != nil {
		u.logger.Warn(map[string]any{"list": listName, "error": perr.Error()}, "malformed chunk payload")
		u.finishUpdate(false)
		return
	}
	if len(chunks) == 0 {
		u.processNextRedirect()
		return
	}
	s := u.sess
	u.delegate.AddChunks(listName, chunks, func() {
		u.post(func() {
			if u.sess != s {
				return
			}
			u.processNextRedirect()
		})
	})
}

// finishUpdate ends the cycle, notifies the delegate, and schedules the
// next cycle from the backoff policy, honoring a server n: override on the
// success path.
func (u *Updater) finishUpdate(success bool) {
	s := u.sess
	u.sess = nil
	u.delegate.UpdateFinished(success)

	next := u.updateBackOff.next(!success)
	if success && s.nextDelay > 0 {
		next = s.nextDelay
	}
	u.logger.Info(map[string]any{
		"success": success,
		"errors":  u.updateBackOff.errorCount(),
		"next":    next.String(),
	}, "update cycle finished")
	u.scheduleNextUpdate(next)
}

func is2xx(status int) bool {
	return status >= 200 && status < 300
}

// fetchFailureKind extracts the classification from a fetch error.
func fetchFailureKind(err error) domain.FailureKind {
	var fe *domain.FetchError
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return domain.ClassifyNetError(err)
}
