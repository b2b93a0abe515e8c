package scheduler

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Guliveer/pingtel/internal/buffer"
	"github.com/Guliveer/pingtel/internal/models"
	"github.com/Guliveer/pingtel/internal/sender"
)

var errDown = errors.New("ingestion down")

// fakeSource returns a timeout or a reply depending on the target.
type fakeSource struct {
	clock clockwork.Clock
	mu    sync.Mutex
	calls map[string]int
	err   error
}

func (s *fakeSource) Name() string { return "fake" }

func (s *fakeSource) Measure(_ context.Context, target string) (models.Measurement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls == nil {
		s.calls = make(map[string]int)
	}
	s.calls[target]++
	if s.err != nil {
		return models.Measurement{}, s.err
	}
	if strings.HasSuffix(target, ".1") {
		return models.NewTimeout(s.clock.Now(), target, "test"), nil
	}
	return models.NewResponseTime(s.clock.Now(), target, "test", 5*time.Millisecond), nil
}

func (s *fakeSource) count(target string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[target]
}

// recordingDeliverer stores everything it is asked to deliver.
type recordingDeliverer struct {
	mu      sync.Mutex
	records []models.Measurement
	ctxErrs []error
}

func (d *recordingDeliverer) Deliver(ctx context.Context, m models.Measurement) sender.Result {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.records = append(d.records, m)
	d.ctxErrs = append(d.ctxErrs, ctx.Err())
	return sender.Delivered
}

func (d *recordingDeliverer) len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.records)
}

// failingUploader never delivers.
type failingUploader struct{}

func (failingUploader) Authenticate(context.Context) (sender.Token, error) {
	return sender.Token{}, errDown
}

func (failingUploader) Upload(context.Context, sender.Token, models.Measurement) error {
	return errDown
}

// switchUploader fails until enabled.
type switchUploader struct {
	mu       sync.Mutex
	up       bool
	uploaded []models.Measurement
}

func (u *switchUploader) Authenticate(context.Context) (sender.Token, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.up {
		return sender.Token{}, errDown
	}
	return sender.Token{AccessToken: "t"}, nil
}

func (u *switchUploader) Upload(_ context.Context, _ sender.Token, m models.Measurement) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if !u.up {
		return errDown
	}
	u.uploaded = append(u.uploaded, m)
	return nil
}

func (u *switchUploader) setUp(up bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.up = up
}

func (u *switchUploader) count() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.uploaded)
}

func TestProber_RunsOnCadenceUntilCancelled(t *testing.T) {
	clk := clockwork.NewFakeClock()
	src := &fakeSource{clock: clk}
	del := &recordingDeliverer{}
	p := NewProber("10.0.0.2", src, del, 10*time.Second, clk, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		p.Run(ctx)
	}()

	for i := 1; i <= 3; i++ {
		require.NoError(t, clk.BlockUntilContext(ctx, 1))
		require.Equal(t, i, del.len())
		clk.Advance(10 * time.Second)
	}
	require.NoError(t, clk.BlockUntilContext(ctx, 1))
	cancel()
	<-done

	require.Equal(t, 4, del.len())
	for i := 1; i < len(del.records); i++ {
		require.True(t, del.records[i].Timestamp.After(del.records[i-1].Timestamp))
	}
	for _, err := range del.ctxErrs {
		require.NoError(t, err)
	}
}

func TestProber_TimeoutIsAMeasurement(t *testing.T) {
	clk := clockwork.NewFakeClock()
	src := &fakeSource{clock: clk}
	del := &recordingDeliverer{}
	p := NewProber("10.0.0.1", src, del, time.Second, clk, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	require.NoError(t, clk.BlockUntilContext(ctx, 1))
	require.Equal(t, 1, del.len())
	require.Equal(t, models.KindTimeout, del.records[0].Kind)
}

func TestProber_SourceErrorSkipsDelivery(t *testing.T) {
	clk := clockwork.NewFakeClock()
	src := &fakeSource{clock: clk, err: errors.New("no socket")}
	del := &recordingDeliverer{}
	p := NewProber("10.0.0.2", src, del, time.Second, clk, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go p.Run(ctx)

	require.NoError(t, clk.BlockUntilContext(ctx, 1))
	require.Equal(t, 1, src.count("10.0.0.2"))
	require.Zero(t, del.len())
}

func TestDrainer_TickIsIdleWhenEmpty(t *testing.T) {
	buf, err := buffer.New(filepath.Join(t.TempDir(), "b.ndjson"), 10, zap.NewNop())
	require.NoError(t, err)
	defer buf.Close()

	calls := 0
	d := NewDrainer(buf, func(context.Context, models.Measurement) error {
		calls++
		return nil
	}, time.Minute, clockwork.NewFakeClock(), zap.NewNop())

	delivered, remaining := d.Tick(context.Background())
	require.Zero(t, delivered)
	require.Zero(t, remaining)
	require.Zero(t, calls)
}

func TestDrainer_RetriesOnInterval(t *testing.T) {
	buf, err := buffer.New(filepath.Join(t.TempDir(), "b.ndjson"), 10, zap.NewNop())
	require.NoError(t, err)
	defer buf.Close()
	for i := 0; i < 3; i++ {
		_, err := buf.Append(models.NewTimeout(time.Now(), "10.0.0.1", "test"))
		require.NoError(t, err)
	}

	up := &switchUploader{}
	clk := clockwork.NewFakeClock()
	d := NewDrainer(buf, func(ctx context.Context, m models.Measurement) error {
		return sender.Attempt(ctx, up, m)
	}, time.Minute, clk, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)

	// The immediate pass fails; the ticker is then armed.
	require.NoError(t, clk.BlockUntilContext(ctx, 1))
	require.Equal(t, 3, buf.Count())

	up.setUp(true)
	clk.Advance(time.Minute)
	require.Eventually(t, func() bool { return buf.Count() == 0 }, 5*time.Second, 10*time.Millisecond)
	require.Equal(t, 3, up.count())
	require.Empty(t, buf.Session())
}

func TestScheduler_Validate(t *testing.T) {
	_, err := New(Config{Cadence: time.Second, RetryInterval: time.Second}, nil, nil, nil, nil, zap.NewNop())
	require.Error(t, err)
	_, err = New(Config{Targets: []string{"1.1.1.1"}, RetryInterval: time.Second}, nil, nil, nil, nil, zap.NewNop())
	require.Error(t, err)
	_, err = New(Config{Targets: []string{"1.1.1.1"}, Cadence: time.Second}, nil, nil, nil, nil, zap.NewNop())
	require.Error(t, err)
}

func TestScheduler_ShutdownKeepsUndeliverableRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "buffer.ndjson")
	buf, err := buffer.New(path, 100, zap.NewNop())
	require.NoError(t, err)

	clk := clockwork.NewFakeClock()
	var up failingUploader
	pipeline := sender.NewPipeline(up, buf, zap.NewNop())
	send := func(ctx context.Context, m models.Measurement) error { return sender.Attempt(ctx, up, m) }

	targets := []string{"10.0.0.1", "10.0.0.2", "10.0.0.3", "10.0.0.4", "10.0.0.5"}
	s, err := New(Config{
		Targets:       targets,
		Cadence:       time.Minute,
		RetryInterval: time.Hour,
		Clock:         clk,
	}, &fakeSource{clock: clk}, pipeline, buf, send, zap.NewNop())
	require.NoError(t, err)
	require.Equal(t, StateIdle, s.State())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Summary, 1)
	go func() { done <- s.Start(ctx) }()

	// Five probers sleeping plus the drainer ticker.
	require.NoError(t, clk.BlockUntilContext(ctx, len(targets)+1))
	require.Equal(t, StateRunning, s.State())
	require.Equal(t, 5, buf.Count())

	cancel()
	summary := <-done
	require.Equal(t, StateTerminated, s.State())
	require.Zero(t, summary.FinalDelivered)
	require.Equal(t, 5, summary.Remaining)

	// The records are still on disk for the next run.
	require.NoError(t, buf.Close())
	reopened, err := buffer.New(path, 100, zap.NewNop())
	require.NoError(t, err)
	defer reopened.Close()
	require.Equal(t, 5, reopened.Count())
	_, err = os.Stat(path)
	require.NoError(t, err)
}

func TestScheduler_FinalDrainDeliversWhenServiceRecovers(t *testing.T) {
	buf, err := buffer.New(filepath.Join(t.TempDir(), "buffer.ndjson"), 100, zap.NewNop())
	require.NoError(t, err)
	defer buf.Close()

	clk := clockwork.NewFakeClock()
	up := &switchUploader{}
	pipeline := sender.NewPipeline(up, buf, zap.NewNop())
	s, err := New(Config{
		Targets:       []string{"10.0.0.2", "10.0.0.3"},
		Cadence:       time.Minute,
		RetryInterval: time.Hour,
		Clock:         clk,
	}, &fakeSource{clock: clk}, pipeline, buf, pipeline.Send, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan Summary, 1)
	go func() { done <- s.Start(ctx) }()

	require.NoError(t, clk.BlockUntilContext(ctx, 3))
	require.Equal(t, 2, buf.Count())
	session := buf.Session()
	require.NotEmpty(t, session)

	up.setUp(true)
	cancel()
	summary := <-done

	require.Equal(t, 2, summary.FinalDelivered)
	require.Zero(t, summary.Remaining)
	require.Empty(t, buf.Session())
	for _, m := range up.uploaded {
		require.Equal(t, session, m.FailureSessionID())
	}
}

func TestState_String(t *testing.T) {
	require.Equal(t, "running", StateRunning.String())
	require.Equal(t, "draining", StateDraining.String())
	require.Equal(t, "terminated", StateTerminated.String())
	require.Equal(t, "unknown", State(42).String())
}
