package image

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"sunforge-server/internal/platform/config"
	"sunforge-server/internal/platform/logging"
	"sunforge-server/internal/platform/observability"
)

// Pipeline turns an Upload into a validated, normalized Payload.
type Pipeline struct {
	validator  *SecurityValidator
	normalizer Normalizer
	logger     *logging.Logger
	intake     *config.IntakeConfig
}

// Options configures the pipeline behaviour.
type Options struct {
	Intake *config.IntakeConfig
	Logger *logging.Logger
}

func NewPipeline(opts Options) (*Pipeline, error) {
	if opts.Intake == nil {
		return nil, fmt.Errorf("intake config is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.DefaultLogger
	}

	return &Pipeline{
		validator: NewSecurityValidator(opts.Intake, opts.Logger),
		normalizer: Normalizer{
			TargetMaxSide: opts.Intake.TargetMaxSide,
			JPEGQuality:   opts.Intake.JPEGQuality,
		},
		logger: opts.Logger,
		intake: opts.Intake,
	}, nil
}

// Accept validates and normalizes an upload. Every rejection is a
// *ValidationError.
func (p *Pipeline) Accept(ctx context.Context, up Upload) (*Payload, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, end := observability.StartSpan(ctx, "intake", "accept", slog.String("source", up.Source))

	payload, err := p.accept(ctx, up)
	if err != nil {
		var ve *ValidationError
		if errors.As(err, &ve) {
			observability.Default().RecordIntakeRejection(string(ve.Reason))
			p.logger.InfoTag("Intake", "upload rejected: reason=%s source=%s", ve.Reason, up.Source)
		}
	}
	end(err)
	return payload, err
}

func (p *Pipeline) accept(ctx context.Context, up Upload) (*Payload, error) {
	raw, err := p.read(up)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := p.validator.Validate(raw, up.MediaType)
	if !res.IsValid {
		if res.Error != nil {
			return nil, res.Error
		}
		return nil, reject(ReasonMalformed, "The image failed validation.", nil)
	}

	payload := &Payload{
		Data:      raw,
		MediaType: "image/" + res.Format,
		Format:    res.Format,
		Width:     res.Width,
		Height:    res.Height,
	}

	normalized, err := p.normalizer.normalize(payload, res.decoded)
	if err != nil {
		return nil, err
	}
	if normalized.Resized {
		p.logger.DebugTag("Intake", "resized %dx%d -> %dx%d (%d -> %d bytes)",
			payload.Width, payload.Height, normalized.Width, normalized.Height, len(payload.Data), len(normalized.Data))
	}
	return normalized, nil
}

// read buffers the upload, stopping one byte past the size limit so an
// oversized body is never read in full.
func (p *Pipeline) read(up Upload) ([]byte, error) {
	maxSize := p.intake.MaxFileSize
	if up.Data != nil {
		if int64(len(up.Data)) > maxSize {
			return nil, reject(ReasonTooLarge, fmt.Sprintf("Image exceeds the %s limit. Please upload a smaller photo.", humanSize(maxSize)), nil)
		}
		return up.Data, nil
	}
	if up.Reader == nil {
		return nil, reject(ReasonEmpty, "No image provided. Please upload a photo of the panel.", nil)
	}

	limited := &io.LimitedReader{R: up.Reader, N: maxSize + 1}
	buf := bytes.NewBuffer(make([]byte, 0, 64*1024))
	if _, err := io.Copy(buf, limited); err != nil {
		return nil, reject(ReasonMalformed, "The upload could not be read.", err)
	}
	if limited.N <= 0 {
		return nil, reject(ReasonTooLarge, fmt.Sprintf("Image exceeds the %s limit. Please upload a smaller photo.", humanSize(maxSize)), nil)
	}
	return buf.Bytes(), nil
}
