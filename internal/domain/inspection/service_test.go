package inspection

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"sunforge-server/internal/domain/eventbus"
	"sunforge-server/internal/domain/image"
	"sunforge-server/internal/platform/observability"
	testutil "sunforge-server/internal/platform/testing"
)

type mockInferencer struct {
	mock.Mock
}

func (m *mockInferencer) Infer(ctx context.Context, req *Request) (*Output, error) {
	args := m.Called(ctx, req)
	out, _ := args.Get(0).(*Output)
	return out, args.Error(1)
}

func (m *mockInferencer) Name() string { return "mock" }

type recordingPublisher struct {
	mu     sync.Mutex
	topics []string
	events []any
}

func (p *recordingPublisher) PublishAsync(topic string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.topics = append(p.topics, topic)
	p.events = append(p.events, args...)
}

func testPayload() *image.Payload {
	return &image.Payload{Data: []byte{0xff, 0xd8, 0xff}, MediaType: "image/jpeg", Format: "jpeg", Width: 640, Height: 480}
}

func newTestService(t *testing.T, inf Inferencer, pub eventbus.Publisher) *Service {
	t.Helper()
	svc, err := NewService(Options{
		Inferencer: inf,
		Logger:     testutil.SetupTestLogger(t),
		Timeout:    time.Second,
		Publisher:  pub,
		Metrics:    observability.NewMetrics(),
	})
	require.NoError(t, err)
	return svc
}

func TestNewServiceRequiresInferencer(t *testing.T) {
	_, err := NewService(Options{})
	assert.Error(t, err)
}

func TestInspectHotspotEndToEnd(t *testing.T) {
	inf := &mockInferencer{}
	inf.On("Infer", mock.Anything, mock.MatchedBy(func(r *Request) bool {
		return r.Instruction == Instruction && r.Schema != nil && r.ID != ""
	})).Return(&Output{Raw: []byte(hotspotJSON), Provider: "mock"}, nil).Once()

	pub := &recordingPublisher{}
	svc := newTestService(t, inf, pub)

	res, err := svc.Inspect(context.Background(), testPayload())
	require.NoError(t, err)
	inf.AssertExpectations(t)

	m := MapOverlays(res)
	require.Equal(t, 1, m.Len())
	o, _ := m.At(0)
	assert.Equal(t, Region{X: 40, Y: 20, Width: 15, Height: 10}, o.Region)

	require.Equal(t, []string{eventbus.EventInspectionCompleted}, pub.topics)
	ev := pub.events[0].(eventbus.InspectionCompletedData)
	assert.Equal(t, "poor", ev.Condition)
	assert.Equal(t, 1, ev.DefectCount)
	assert.Zero(t, svc.Inflight())
}

func TestInspectEmptyOutput(t *testing.T) {
	for _, out := range []*Output{nil, {Raw: nil}, {Raw: []byte("  \n")}} {
		inf := &mockInferencer{}
		inf.On("Infer", mock.Anything, mock.Anything).Return(out, nil).Once()
		pub := &recordingPublisher{}
		svc := newTestService(t, inf, pub)

		_, err := svc.Inspect(context.Background(), testPayload())

		var f *Failure
		require.ErrorAs(t, err, &f)
		assert.Equal(t, KindNoStructuredOutput, f.Kind)
		assert.Equal(t, 422, f.HTTPStatus())
		assert.Equal(t, []string{eventbus.EventInspectionFailed}, pub.topics)
	}
}

func TestInspectSchemaViolationIsNotCoerced(t *testing.T) {
	inf := &mockInferencer{}
	inf.On("Infer", mock.Anything, mock.Anything).
		Return(&Output{Raw: []byte(`{"overallCondition":"great"}`)}, nil).Once()
	svc := newTestService(t, inf, nil)

	res, err := svc.Inspect(context.Background(), testPayload())
	assert.Nil(t, res)

	var f *Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, KindNoStructuredOutput, f.Kind)
	assert.ErrorIs(t, err, ErrSchemaViolation)
}

func TestInspectRateLimited(t *testing.T) {
	inf := &mockInferencer{}
	inf.On("Infer", mock.Anything, mock.Anything).Return(nil, errors.New("429 quota exceeded")).Once()
	svc := newTestService(t, inf, nil)

	_, err := svc.Inspect(context.Background(), testPayload())

	var f *Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, KindRateLimited, f.Kind)
	assert.Equal(t, 429, f.HTTPStatus())
	// No retry inside the service.
	inf.AssertNumberOfCalls(t, "Infer", 1)
}

// slowInferencer blocks until its context ends and reports a generic error,
// like a provider that does not surface the context error.
type slowInferencer struct{}

func (slowInferencer) Name() string { return "slow" }

func (slowInferencer) Infer(ctx context.Context, _ *Request) (*Output, error) {
	<-ctx.Done()
	return nil, errors.New("connection closed")
}

func TestInspectTimeout(t *testing.T) {
	svc, err := NewService(Options{
		Inferencer: slowInferencer{},
		Logger:     testutil.SetupTestLogger(t),
		Timeout:    20 * time.Millisecond,
		Metrics:    observability.NewMetrics(),
	})
	require.NoError(t, err)

	_, err = svc.Inspect(context.Background(), testPayload())

	var f *Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, KindTimeout, f.Kind)
	assert.Equal(t, 504, f.HTTPStatus())
}

func TestInspectCallerCancelIsNotTimeout(t *testing.T) {
	svc := newTestService(t, slowInferencer{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err := svc.Inspect(ctx, testPayload())

	var f *Failure
	require.ErrorAs(t, err, &f)
	assert.NotEqual(t, KindTimeout, f.Kind)
}

func TestInspectEmptyPayloadNeverCallsInferencer(t *testing.T) {
	inf := &mockInferencer{}
	svc := newTestService(t, inf, nil)

	for _, p := range []*image.Payload{nil, {MediaType: "image/png"}} {
		_, err := svc.Inspect(context.Background(), p)
		var f *Failure
		require.ErrorAs(t, err, &f)
		assert.Equal(t, KindValidation, f.Kind)
	}
	inf.AssertNotCalled(t, "Infer", mock.Anything, mock.Anything)
}

func TestIntakeRejectionNeverReachesInferencer(t *testing.T) {
	cfg := testutil.SetupTestConfig(t)
	pipeline, err := image.NewPipeline(image.Options{Intake: &cfg.Intake, Logger: testutil.SetupTestLogger(t)})
	require.NoError(t, err)

	inf := &mockInferencer{}
	svc := newTestService(t, inf, nil)

	uploads := []image.Upload{
		{Data: make([]byte, 50), MediaType: "image/png"},
		{Data: []byte("hello world, this is plainly not an image at all"), MediaType: "text/plain"},
		{Data: nil, MediaType: "image/jpeg"},
	}
	for _, up := range uploads {
		payload, err := pipeline.Accept(context.Background(), up)
		if err == nil {
			_, err = svc.Inspect(context.Background(), payload)
		}
		f := Classify(err)
		require.NotNil(t, f)
		assert.Equal(t, KindValidation, f.Kind)
		assert.Equal(t, 400, f.HTTPStatus())
	}
	inf.AssertNotCalled(t, "Infer", mock.Anything, mock.Anything)
}

func TestInspectMaxConcurrent(t *testing.T) {
	release := make(chan struct{})
	var mu sync.Mutex
	active, peak := 0, 0

	inf := &funcInferencer{fn: func(ctx context.Context, _ *Request) (*Output, error) {
		mu.Lock()
		active++
		peak = max(peak, active)
		mu.Unlock()
		<-release
		mu.Lock()
		active--
		mu.Unlock()
		return &Output{Raw: []byte(cleanJSON)}, nil
	}}

	svc, err := NewService(Options{
		Inferencer:    inf,
		Logger:        testutil.SetupTestLogger(t),
		Timeout:       5 * time.Second,
		MaxConcurrent: 2,
		Metrics:       observability.NewMetrics(),
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Inspect(context.Background(), testPayload())
			assert.NoError(t, err)
		}()
	}
	assert.Eventually(t, func() bool { return svc.Inflight() == 2 }, time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()

	assert.LessOrEqual(t, peak, 2)
	assert.Zero(t, svc.Inflight())
}

func TestInspectQueueWaitCountsTowardTimeout(t *testing.T) {
	release := make(chan struct{})
	inf := &funcInferencer{fn: func(context.Context, *Request) (*Output, error) {
		<-release
		return &Output{Raw: []byte(cleanJSON)}, nil
	}}

	svc, err := NewService(Options{
		Inferencer:    inf,
		Logger:        testutil.SetupTestLogger(t),
		Timeout:       80 * time.Millisecond,
		MaxConcurrent: 1,
		Metrics:       observability.NewMetrics(),
	})
	require.NoError(t, err)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _ = svc.Inspect(context.Background(), testPayload())
	}()
	require.Eventually(t, func() bool { return svc.Inflight() == 1 }, time.Second, 2*time.Millisecond)
	timer := time.AfterFunc(time.Second, func() { close(release) })
	defer func() {
		if timer.Stop() {
			close(release)
		}
		wg.Wait()
	}()

	start := time.Now()
	_, err = svc.Inspect(context.Background(), testPayload())
	waited := time.Since(start)

	var f *Failure
	require.ErrorAs(t, err, &f)
	assert.Equal(t, KindTimeout, f.Kind)
	assert.Less(t, waited, 500*time.Millisecond, "queued request outlived its deadline")
}

type funcInferencer struct {
	fn func(context.Context, *Request) (*Output, error)
}

func (f *funcInferencer) Name() string { return "func" }
func (f *funcInferencer) Infer(ctx context.Context, req *Request) (*Output, error) {
	return f.fn(ctx, req)
}

func TestRunKeepsRequestID(t *testing.T) {
	var seen string
	inf := &funcInferencer{fn: func(_ context.Context, r *Request) (*Output, error) {
		seen = r.ID
		return &Output{Raw: []byte(cleanJSON)}, nil
	}}
	svc := newTestService(t, inf, nil)

	req := NewRequest(testPayload())
	_, err := svc.Run(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, req.ID, seen)
}
