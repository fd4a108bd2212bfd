package inspection

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"sunforge-server/internal/domain/eventbus"
	"sunforge-server/internal/domain/image"
	"sunforge-server/internal/platform/logging"
	"sunforge-server/internal/platform/observability"
)

// Output is what an inferencer hands back: the raw structured object as
// produced by the model. Raw may be empty when the model declined to answer.
type Output struct {
	Raw      []byte
	Provider string
	Model    string
}

// Inferencer is the multimodal model behind an inspection. Implementations
// make exactly one call per Infer and never retry.
type Inferencer interface {
	Infer(ctx context.Context, req *Request) (*Output, error)
	Name() string
}

// DefaultTimeout bounds one inference call when Options.Timeout is unset.
const DefaultTimeout = 90 * time.Second

type Options struct {
	Inferencer Inferencer
	Logger     *logging.Logger
	// Timeout is the deadline for one inference call.
	Timeout time.Duration
	// MaxConcurrent caps concurrent inference calls; zero means unlimited.
	MaxConcurrent int64
	Publisher     eventbus.Publisher
	Metrics       *observability.Metrics
}

// Service runs inspections. It holds no per-inspection state, so one Service
// is shared by every caller.
type Service struct {
	inferencer Inferencer
	logger     *logging.Logger
	timeout    time.Duration
	sem        *semaphore.Weighted
	publisher  eventbus.Publisher
	metrics    *observability.Metrics
	inflight   atomic.Int64
}

func NewService(opts Options) (*Service, error) {
	if opts.Inferencer == nil {
		return nil, errors.New("inspection: inferencer is required")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Publisher == nil {
		opts.Publisher = eventbus.Discard{}
	}

	s := &Service{
		inferencer: opts.Inferencer,
		logger:     opts.Logger,
		timeout:    opts.Timeout,
		publisher:  opts.Publisher,
		metrics:    opts.Metrics,
	}
	if opts.MaxConcurrent > 0 {
		s.sem = semaphore.NewWeighted(opts.MaxConcurrent)
	}
	return s, nil
}

// Provider names the inferencer in use.
func (s *Service) Provider() string { return s.inferencer.Name() }

// Inflight reports how many inspections are waiting on the model.
func (s *Service) Inflight() int64 { return s.inflight.Load() }

func (s *Service) metricsSet() *observability.Metrics {
	if s.metrics != nil {
		return s.metrics
	}
	return observability.Default()
}

// Inspect runs one inspection of payload. Every error it returns is a
// *Failure.
func (s *Service) Inspect(ctx context.Context, payload *image.Payload) (*Result, error) {
	if payload == nil || len(payload.Data) == 0 {
		return nil, Classify(&image.ValidationError{
			Reason:  image.ReasonEmpty,
			Message: "No image provided. Please upload an image.",
		})
	}
	return s.Run(ctx, NewRequest(payload))
}

// Run executes a prepared request. Callers that need the request ID before
// the result arrives build the request with NewRequest and call Run.
func (s *Service) Run(ctx context.Context, req *Request) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	var requestID string
	if req != nil {
		requestID = req.ID
	}
	ctx, end := observability.StartSpan(ctx, "inspection", "inspect",
		slog.String("request_id", requestID), slog.String("provider", s.inferencer.Name()))
	start := time.Now()

	result, err := s.run(ctx, req)
	elapsed := time.Since(start)
	m := s.metricsSet()

	if err != nil {
		f := Classify(err)
		m.RecordInspection(string(f.Kind))
		s.logFailure(requestID, f)
		s.publisher.PublishAsync(eventbus.EventInspectionFailed, eventbus.InspectionFailedData{
			RequestID: requestID,
			Provider:  s.inferencer.Name(),
			Kind:      string(f.Kind),
			Message:   f.Message,
			Duration:  elapsed,
		})
		end(f)
		return nil, f
	}

	m.RecordInspection("success")
	s.logger.InfoTag("Inspection", "request %s done in %s: condition=%s defects=%d",
		req.ID, elapsed.Round(time.Millisecond), result.OverallCondition, result.DefectCount())
	s.publisher.PublishAsync(eventbus.EventInspectionCompleted, eventbus.InspectionCompletedData{
		RequestID:   req.ID,
		Provider:    s.inferencer.Name(),
		Condition:   string(result.OverallCondition),
		Priority:    string(result.MaintenancePriority),
		DefectCount: result.DefectCount(),
		Duration:    elapsed,
	})
	end(nil)
	return result, nil
}

func (s *Service) run(ctx context.Context, req *Request) (*Result, error) {
	if req == nil || req.Payload == nil || len(req.Payload.Data) == 0 {
		return nil, &image.ValidationError{
			Reason:  image.ReasonEmpty,
			Message: "No image provided. Please upload an image.",
		}
	}

	// The deadline covers the wait for a slot as well as the call itself.
	callCtx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if s.sem != nil {
		if err := s.sem.Acquire(callCtx, 1); err != nil {
			return nil, err
		}
		defer s.sem.Release(1)
	}

	s.inflight.Add(1)
	defer s.inflight.Add(-1)
	done := s.metricsSet().TrackInflight()
	defer done()

	s.logger.DebugTag("Inspection", "request %s: %dx%d %s (%d bytes) -> %s",
		req.ID, req.Payload.Width, req.Payload.Height, req.Payload.MediaType, len(req.Payload.Data), s.inferencer.Name())

	started := time.Now()
	out, err := s.inferencer.Infer(callCtx, req)
	s.metricsSet().ObserveInference(s.inferencer.Name(), time.Since(started))
	if err != nil {
		// A provider that swallows the context error still timed out.
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil &&
			!errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%w: %w", context.DeadlineExceeded, err)
		}
		return nil, err
	}
	if out == nil || len(bytes.TrimSpace(out.Raw)) == 0 {
		return nil, ErrNoStructuredOutput
	}

	return DecodeResult(out.Raw)
}

func (s *Service) logFailure(id string, f *Failure) {
	switch f.Kind {
	case KindValidation:
		s.logger.InfoTag("Inspection", "request %s rejected: %s", id, f.Message)
	case KindUnknown:
		s.logger.ErrorTag("Inspection", "request %s failed: %v", id, f.Cause)
	default:
		s.logger.WarnTag("Inspection", "request %s failed: kind=%s cause=%v", id, f.Kind, f.Cause)
	}
}
