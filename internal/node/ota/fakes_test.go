package ota

import (
	"context"
	"errors"
	"maps"
	"slices"
	"time"

	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/autopeer-io/sensornode/internal/node/core"
)

// journal records collaborator calls in order across fakes.
type journal struct{ entries []string }

func (j *journal) add(s string) { j.entries = append(j.entries, s) }

func (j *journal) index(s string) int { return slices.Index(j.entries, s) }

type fakeScheduler struct {
	tasks    map[core.TaskHandle]func()
	next     core.TaskHandle
	interval time.Duration
	iter     int
	canceled []core.TaskHandle
}

func newFakeScheduler() *fakeScheduler {
	return &fakeScheduler{tasks: make(map[core.TaskHandle]func())}
}

func (s *fakeScheduler) RegisterPeriodic(interval time.Duration, iterations int, fn func()) core.TaskHandle {
	s.next++
	s.tasks[s.next] = fn
	s.interval = interval
	s.iter = iterations
	return s.next
}

func (s *fakeScheduler) Cancel(h core.TaskHandle) {
	s.canceled = append(s.canceled, h)
	delete(s.tasks, h)
}

func (s *fakeScheduler) Post(fn func()) { fn() }

// tick runs every registered task once.
func (s *fakeScheduler) tick() {
	for _, h := range slices.Sorted(maps.Keys(s.tasks)) {
		if fn, ok := s.tasks[h]; ok {
			fn()
		}
	}
}

type fakeServer struct {
	log       *journal
	certs     string
	results   []*structpb.Struct
	deadlines []bool
	// stall makes SendResult hang until its context ends, like a broker
	// that never acknowledges.
	stall bool
}

func (s *fakeServer) RootCertificates() string { return s.certs }

func (s *fakeServer) SendResult(ctx context.Context, msg proto.Message) error {
	_, ok := ctx.Deadline()
	s.deadlines = append(s.deadlines, ok)
	if s.stall {
		<-ctx.Done()
		return ctx.Err()
	}
	st := msg.(*structpb.Struct)
	s.results = append(s.results, st)
	s.log.add("result:" + status(st))
	return nil
}

func status(st *structpb.Struct) string {
	return st.Fields[KeyUpdate].GetStructValue().Fields[keyStatus].GetStringValue()
}

func detail(st *structpb.Struct) string {
	return st.Fields[KeyUpdate].GetStructValue().Fields[keyDetail].GetStringValue()
}

func requestID(st *structpb.Struct) (string, bool) {
	v, ok := st.Fields[KeyRequestID]
	return v.GetStringValue(), ok
}

func (s *fakeServer) statuses() []string {
	out := make([]string, 0, len(s.results))
	for _, r := range s.results {
		out = append(out, status(r))
	}
	return out
}

type fakePlatform struct {
	log        *journal
	restarts   int
	grace      time.Duration
	restartErr error
}

func (p *fakePlatform) DeviceID() string        { return "node-1" }
func (p *fakePlatform) FirmwareVersion() string { return "1.0.0" }
func (p *fakePlatform) Restart(ctx context.Context, grace time.Duration) error {
	p.restarts++
	p.grace = grace
	p.log.add("restart")
	return p.restartErr
}

type fakeFlasher struct {
	log         *journal
	hash        string
	size        uint64
	written     uint64
	begun       bool
	beginErr    error
	writeErr    error
	finalizeErr error
	aborted     int
	finalized   bool
	writes      []int
}

func (f *fakeFlasher) SetExpectedHash(h string) {
	f.hash = h
	f.log.add("hash")
}

func (f *fakeFlasher) Begin(size uint64) error {
	f.log.add("begin")
	if f.beginErr != nil {
		return f.beginErr
	}
	f.size = size
	f.begun = true
	return nil
}

func (f *fakeFlasher) Write(p []byte) (int, error) {
	if !f.begun {
		return 0, errors.New("write before begin")
	}
	if f.writeErr != nil {
		return 0, f.writeErr
	}
	f.written += uint64(len(p))
	f.writes = append(f.writes, len(p))
	return len(p), nil
}

func (f *fakeFlasher) BytesWritten() uint64 { return f.written }
func (f *fakeFlasher) IsComplete() bool     { return f.begun && f.written >= f.size }

func (f *fakeFlasher) Finalize() error {
	f.log.add("finalize")
	f.begun = false
	if f.finalizeErr != nil {
		return f.finalizeErr
	}
	f.finalized = true
	return nil
}

func (f *fakeFlasher) Abort() {
	f.aborted++
	f.begun = false
}

// fakeStream hands out one queued chunk per Read, capped at the buffer size.
type fakeStream struct {
	chunks [][]byte
}

func (s *fakeStream) Available() bool { return len(s.chunks) > 0 }

func (s *fakeStream) Read(p []byte) (int, error) {
	if len(s.chunks) == 0 {
		return 0, nil
	}
	n := copy(p, s.chunks[0])
	if n == len(s.chunks[0]) {
		s.chunks = s.chunks[1:]
	} else {
		s.chunks[0] = s.chunks[0][n:]
	}
	return n, nil
}

type fakeClient struct {
	log     *journal
	url     string
	rootCAs string
	openErr error
	getErr  error
	code    int
	stream  *fakeStream
	lost    bool
	closed  int
}

func (c *fakeClient) Open(ctx context.Context, url, rootCAs string) error {
	c.url = url
	c.rootCAs = rootCAs
	return c.openErr
}

func (c *fakeClient) Get(ctx context.Context) (int, error) {
	if c.getErr != nil {
		return 0, c.getErr
	}
	return c.code, nil
}

func (c *fakeClient) Stream() Stream {
	if c.lost || c.closed > 0 {
		return nil
	}
	return c.stream
}

func (c *fakeClient) Close() error {
	c.closed++
	c.log.add("close")
	return nil
}

type harness struct {
	log      *journal
	sched    *fakeScheduler
	server   *fakeServer
	platform *fakePlatform
	flasher  *fakeFlasher
	client   *fakeClient
	clients  int
	noServer bool
	updater  *Updater
}

func newHarness(chunks ...[]byte) *harness {
	j := &journal{}
	h := &harness{
		log:      j,
		sched:    newFakeScheduler(),
		server:   &fakeServer{log: j, certs: "-----BEGIN CERTIFICATE-----"},
		platform: &fakePlatform{log: j},
		flasher:  &fakeFlasher{log: j},
		client:   &fakeClient{log: j, code: 200, stream: &fakeStream{chunks: chunks}},
	}

	h.updater = NewUpdater(DefaultConfig(), h.flasher, func() Client {
		h.clients++
		return h.client
	})
	services := core.ServicesFunc(func() core.Server {
		if h.noServer {
			return nil
		}
		return h.server
	})
	err := h.updater.Setup(context.Background(), core.Deps{
		Platform:  h.platform,
		Services:  services,
		Scheduler: h.sched,
	})
	if err != nil {
		panic(err)
	}
	return h
}

func (h *harness) command(json string) {
	msg := &structpb.Struct{}
	if err := protojson.Unmarshal([]byte(json), msg); err != nil {
		panic(err)
	}
	if err := h.updater.HandleCommand(context.Background(), msg); err != nil {
		panic(err)
	}
}

// drain ticks until no task is left or limit is reached.
func (h *harness) drain(limit int) int {
	n := 0
	for ; n < limit && len(h.sched.tasks) > 0; n++ {
		h.sched.tick()
	}
	return n
}

func chunk(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i)
	}
	return b
}
