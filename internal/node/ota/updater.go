// Package ota receives update commands, streams the firmware image into
// storage and restarts the node once it is committed.
package ota

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/looplab/fsm"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/autopeer-io/sensornode/internal/node/core"
	"github.com/autopeer-io/sensornode/internal/pkg/metrics"
	"github.com/autopeer-io/sensornode/pkg/log"
)

// errServerUnavailable abandons an https update without a result.
var errServerUnavailable = errors.New("server unavailable, cannot fetch root certificates")

type Config struct {
	// BufferSize bounds the bytes moved per tick.
	BufferSize   int
	TickInterval time.Duration
	// ProgressStep is the minimum percent increase between progress results.
	ProgressStep int
	// RestartGrace lets queued results leave before the restart.
	RestartGrace time.Duration
	// ResultTimeout bounds each result send; results are dropped after it.
	ResultTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		BufferSize:    4096,
		TickInterval:  50 * time.Millisecond,
		ProgressStep:  10,
		RestartGrace:  1500 * time.Millisecond,
		ResultTimeout: 2 * time.Second,
	}
}

// ClientFactory returns a fresh connection for each update.
type ClientFactory func() Client

type session struct {
	requestID string
	size      uint64
	restart   bool

	client   Client
	buffer   []byte
	progress progress
	task     core.TaskHandle

	closed    bool
	finalized bool
}

// Updater runs at most one update at a time. Every method must be called on
// the scheduler goroutine.
type Updater struct {
	cfg       Config
	flasher   Flasher
	newClient ClientFactory

	platform core.Platform
	services core.Services
	sched    core.Scheduler

	ctx     context.Context
	fsm     *fsm.FSM
	session *session
}

var _ core.Module = (*Updater)(nil)

func NewUpdater(cfg Config, flasher Flasher, newClient ClientFactory) *Updater {
	def := DefaultConfig()
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = def.TickInterval
	}
	if cfg.ProgressStep <= 0 {
		cfg.ProgressStep = def.ProgressStep
	}
	if cfg.ResultTimeout <= 0 {
		cfg.ResultTimeout = def.ResultTimeout
	}

	u := &Updater{
		cfg:       cfg,
		flasher:   flasher,
		newClient: newClient,
		ctx:       context.Background(),
	}
	u.fsm = u.newStateMachine()
	return u
}

func (u *Updater) Name() string {
	return "OTA"
}

func (u *Updater) Setup(ctx context.Context, deps core.Deps) error {
	if deps.Scheduler == nil || deps.Services == nil || deps.Platform == nil {
		return fmt.Errorf("ota: scheduler, services and platform are required")
	}
	u.ctx = ctx
	u.platform = deps.Platform
	u.services = deps.Services
	u.sched = deps.Scheduler
	return nil
}

func (u *Updater) Routes() map[core.EventType]core.HandlerFunc {
	return map[core.EventType]core.HandlerFunc{
		core.EventUpdateCommand: core.ProtoAdapter(u.HandleCommand),
	}
}

// State returns the current state of the update state machine.
func (u *Updater) State() string {
	return u.fsm.Current()
}

// Active reports whether an update session exists.
func (u *Updater) Active() bool {
	return u.session != nil
}

func (u *Updater) busy() bool {
	return u.session != nil || !u.fsm.Is(StateIdle)
}

// HandleCommand starts an update from a command carrying an "update" key.
// Messages without it are ignored. Failures are reported as results, never
// returned.
func (u *Updater) HandleCommand(ctx context.Context, msg *structpb.Struct) error {
	update, ok := msg.GetFields()[KeyUpdate]
	if !ok || isNull(update) {
		return nil
	}
	requestID := msg.GetFields()[KeyRequestID].GetStringValue()

	if u.busy() {
		log.Warn("Rejecting update command", "requestId", requestID, "state", u.fsm.Current())
		u.reject(ctx, newError(ReasonBusy, DetailBusy, nil), requestID)
		return nil
	}

	u.fire(ctx, EventValidate)
	req, err := ParseUpdateRequest(update, requestID)
	if err != nil {
		u.abort(ctx, err, requestID)
		return nil
	}

	log.Info("Update command accepted", "requestId", requestID, "url", redact(req.URL), "size", req.Size, "restart", req.Restart)

	u.fire(ctx, EventConnect)
	if err := u.connect(ctx, req); err != nil {
		u.abort(ctx, err, requestID)
		return nil
	}

	u.fire(ctx, EventDownload)
	return nil
}

// connect opens the image source and starts the flasher session. On success
// the session exists and the start result has been sent.
func (u *Updater) connect(ctx context.Context, req *UpdateRequest) error {
	target, err := url.Parse(req.URL)
	if err != nil {
		return newError(ReasonConnect, DetailFailedToConnect, err)
	}

	var rootCAs string
	if strings.EqualFold(target.Scheme, "https") {
		srv := u.services.Server()
		if srv == nil {
			return errServerUnavailable
		}
		rootCAs = srv.RootCertificates()
	}

	client := u.newClient()
	if err := client.Open(ctx, req.URL, rootCAs); err != nil {
		_ = client.Close()
		return newError(ReasonConnect, DetailFailedToConnect, err)
	}

	code, err := client.Get(ctx)
	if err != nil {
		_ = client.Close()
		return newError(ReasonConnect, DetailFailedToConnect, err)
	}
	if code != http.StatusOK {
		_ = client.Close()
		return newError(ReasonProtocol, fmt.Sprintf("HTTP code: %d", code), nil)
	}

	// the hash has to be known before the write session opens
	u.flasher.SetExpectedHash(req.MD5)
	if err := u.flasher.Begin(req.Size); err != nil {
		_ = client.Close()
		return newError(ReasonStorage, err.Error(), err)
	}

	u.session = &session{
		requestID: req.RequestID,
		size:      req.Size,
		restart:   req.Restart,
		client:    client,
		progress:  newProgress(u.cfg.ProgressStep),
	}
	u.sendResult(ctx, StatusStart, "", "")
	return nil
}

func (u *Updater) actionArm(ctx context.Context, e *fsm.Event) error {
	s := u.session
	if s == nil {
		return fmt.Errorf("no session to arm")
	}
	s.buffer = make([]byte, u.cfg.BufferSize)
	s.task = u.sched.RegisterPeriodic(u.cfg.TickInterval, core.Forever, u.tick)

	log.Info("Update download started", "requestId", s.requestID, "interval", u.cfg.TickInterval)
	return nil
}

// tick moves at most one buffer from the stream into the flasher.
func (u *Updater) tick() {
	s := u.session
	if s == nil || !u.fsm.Is(StateDownloading) {
		return
	}
	ctx := u.ctx

	stream := s.client.Stream()
	if stream == nil {
		u.fail(ctx, newError(ReasonStream, DetailConnectionLost, nil))
		return
	}
	if !stream.Available() {
		return
	}

	n, err := stream.Read(s.buffer)
	if err != nil && n == 0 {
		u.fail(ctx, newError(ReasonStream, DetailConnectionLost, err))
		return
	}
	if n == 0 {
		return
	}

	if _, err := u.flasher.Write(s.buffer[:n]); err != nil {
		u.fail(ctx, newError(ReasonStorage, err.Error(), err))
		return
	}
	metrics.OTABytesWritten.Add(float64(n))

	if detail := s.progress.observe(u.flasher.BytesWritten(), s.size); detail != "" {
		u.sendResult(ctx, StatusUpdating, detail, "")
	}

	if u.flasher.IsComplete() {
		u.finish(ctx, s)
	}
}

func (u *Updater) finish(ctx context.Context, s *session) {
	// release the connection before committing
	if err := s.client.Close(); err != nil {
		log.Warn("Failed to close image connection", "err", err)
	}
	s.closed = true

	u.fire(ctx, EventFinish)

	if err := u.flasher.Finalize(); err != nil {
		u.fail(ctx, newError(ReasonIntegrity, err.Error(), err))
		return
	}
	s.finalized = true

	log.Info("Update finished", "requestId", s.requestID, "bytes", u.flasher.BytesWritten(), "restart", s.restart)
	u.sendResult(ctx, StatusFinish, "", "")
	metrics.OTASessionsTotal.WithLabelValues(string(StatusFinish), "").Inc()

	if s.restart {
		u.fire(ctx, EventRestart)
		return
	}
	u.fire(ctx, EventReset)
}

// fail ends the active session with one fail result and no restart.
func (u *Updater) fail(ctx context.Context, e *Error) {
	if s := u.session; s != nil {
		s.restart = false
	}
	log.Error(e, "Update failed", "state", u.fsm.Current())
	u.sendResult(ctx, StatusFail, e.Detail, "")
	metrics.OTASessionsTotal.WithLabelValues(string(StatusFail), string(e.Reason)).Inc()
	u.fire(ctx, EventReset)
}

// abort ends a command that never got a session.
func (u *Updater) abort(ctx context.Context, err error, requestID string) {
	var oe *Error
	if errors.As(err, &oe) {
		log.Error(oe, "Update command rejected", "requestId", requestID)
		u.reject(ctx, oe, requestID)
	} else {
		log.Error(err, "Update command abandoned", "requestId", requestID)
	}
	u.fire(ctx, EventReset)
}

func (u *Updater) reject(ctx context.Context, e *Error, requestID string) {
	u.sendResult(ctx, StatusFail, e.Detail, requestID)
	metrics.OTASessionsTotal.WithLabelValues(string(StatusFail), string(e.Reason)).Inc()
}

func (u *Updater) actionEnterIdle(ctx context.Context, e *fsm.Event) error {
	u.teardown()
	return nil
}

func (u *Updater) actionEnterRestarting(ctx context.Context, e *fsm.Event) error {
	u.teardown()

	log.Info("Restarting node to boot the new image", "grace", u.cfg.RestartGrace)
	if err := u.platform.Restart(ctx, u.cfg.RestartGrace); err != nil {
		// restarting is terminal, so every later command is refused as busy
		log.Error(err, "Node restart failed, updates stay blocked until the process restarts",
			"state", StateRestarting, "image", "committed")
	}
	return nil
}

// teardown releases everything the session holds. It runs once per session.
func (u *Updater) teardown() {
	s := u.session
	if s == nil {
		return
	}

	if s.task != 0 {
		u.sched.Cancel(s.task)
	}
	if !s.closed {
		if err := s.client.Close(); err != nil {
			log.Warn("Failed to close image connection", "err", err)
		}
		s.closed = true
	}
	if !s.finalized {
		u.flasher.Abort()
	}

	s.buffer = nil
	s.requestID = ""
	s.progress.reset()
	u.session = nil
}

// sendResult prefers override over the session's request id.
func (u *Updater) sendResult(ctx context.Context, status Status, detail, override string) {
	id := override
	if id == "" && u.session != nil {
		id = u.session.requestID
	}

	srv := u.services.Server()
	if srv == nil {
		log.Warn("No server available, dropping update result", "status", status, "detail", detail, "requestId", id)
		return
	}

	// runs on the scheduler goroutine; a stalled link must not hold it
	sendCtx, cancel := context.WithTimeout(ctx, u.cfg.ResultTimeout)
	defer cancel()

	res := Result{Status: status, Detail: detail, RequestID: id}
	if err := srv.SendResult(sendCtx, res.Struct()); err != nil {
		log.Error(err, "Failed to send update result", "status", status, "requestId", id, "timeout", u.cfg.ResultTimeout)
		return
	}
	metrics.OTAResultsTotal.WithLabelValues(string(status)).Inc()
}

func (u *Updater) fire(ctx context.Context, event string) {
	if err := u.fsm.Event(ctx, event); err != nil {
		log.Error(err, "Update state transition failed", "event", event, "state", u.fsm.Current())
	}
}

func isNull(v *structpb.Value) bool {
	_, null := v.GetKind().(*structpb.Value_NullValue)
	return v == nil || null
}

// redact drops credentials and query strings from a URL before logging.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "<invalid url>"
	}
	u.User = nil
	u.RawQuery = ""
	return u.String()
}
