package inspection

import (
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gin-gonic/gin"

	domainimage "sunforge-server/internal/domain/image"
	domaininspection "sunforge-server/internal/domain/inspection"
	"sunforge-server/internal/platform/errors"
	"sunforge-server/internal/platform/logging"
	httptransport "sunforge-server/internal/transport/http"
)

// Inspector runs prepared inspection requests.
type Inspector interface {
	Run(ctx context.Context, req *domaininspection.Request) (*domaininspection.Result, error)
	Provider() string
	Inflight() int64
}

// multipartOverhead covers boundaries, part headers and small form fields.
const multipartOverhead = 1 << 20

// Options wires the handler's collaborators.
type Options struct {
	Pipeline         *domainimage.Pipeline
	Inspector        Inspector
	Logger           *logging.Logger
	MaxUploadSize    int64
	AnnotateQuality  int
	ProgressInterval time.Duration
}

// Service is the HTTP transport for panel inspections.
type Service struct {
	pipeline         *domainimage.Pipeline
	inspector        Inspector
	logger           *logging.Logger
	maxJSONBody      int64
	maxMultipartBody int64
	annotateQuality  int
	progressInterval time.Duration
}

func NewService(opts Options) (*Service, error) {
	if opts.Pipeline == nil {
		return nil, errors.New(errors.KindConfig, "inspection_http.new", "image pipeline is required")
	}
	if opts.Inspector == nil {
		return nil, errors.New(errors.KindConfig, "inspection_http.new", "inspector is required")
	}
	if opts.Logger == nil {
		opts.Logger = logging.DefaultLogger
	}
	if opts.MaxUploadSize <= 0 {
		opts.MaxUploadSize = 10 * 1024 * 1024
	}
	if opts.AnnotateQuality <= 0 {
		opts.AnnotateQuality = 85
	}
	if opts.ProgressInterval <= 0 {
		opts.ProgressInterval = 500 * time.Millisecond
	}

	return &Service{
		pipeline:  opts.Pipeline,
		inspector: opts.Inspector,
		logger:    opts.Logger,
		// base64 grows the payload by a third; leave room for the JSON around it.
		maxJSONBody:      opts.MaxUploadSize/3*4 + 64*1024,
		maxMultipartBody: opts.MaxUploadSize + multipartOverhead,
		annotateQuality:  opts.AnnotateQuality,
		progressInterval: opts.ProgressInterval,
	}, nil
}

// Register mounts the inspection routes.
func (s *Service) Register(ctx context.Context, router *gin.RouterGroup) error {
	router.GET("/inspect-panel", s.handleGet)
	router.POST("/inspect-panel", s.handlePost)
	router.GET("/inspect-panel/stream", s.handleStream)

	s.logger.InfoTag("HTTP", "inspection routes registered (provider=%s)", s.inspector.Provider())
	return nil
}

// inspectBody is the JSON form of a submission.
type inspectBody struct {
	Image     string `json:"image"`
	MediaType string `json:"mediaType"`
}

type inspectResponse struct {
	RequestID string                     `json:"requestId"`
	Result    *domaininspection.Result   `json:"result"`
	Overlays  []domaininspection.Overlay `json:"overlays"`
	Findings  []domaininspection.Finding `json:"findings"`
	Annotated string                     `json:"annotated,omitempty"`
}

type failureResponse struct {
	Error       string `json:"error"`
	Kind        string `json:"kind"`
	Remediation string `json:"remediation"`
	Detail      string `json:"detail,omitempty"`
	RequestID   string `json:"requestId"`
}

func (s *Service) handleGet(c *gin.Context) {
	httptransport.RespondSuccess(c, http.StatusOK, gin.H{
		"available": true,
		"provider":  s.inspector.Provider(),
		"inflight":  s.inspector.Inflight(),
	}, "inspection service is running")
}

func (s *Service) handlePost(c *gin.Context) {
	requestID := httptransport.RequestID(c)

	upload, err := s.uploadFromRequest(c)
	if err != nil {
		s.respondFailure(c, requestID, err)
		return
	}
	if closer, ok := upload.Reader.(io.Closer); ok && upload.Source == "multipart" {
		defer closer.Close()
	}

	resp, err := s.inspect(c.Request.Context(), requestID, upload, wantAnnotated(c))
	if err != nil {
		s.respondFailure(c, requestID, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// inspect runs intake and inference for one upload.
func (s *Service) inspect(ctx context.Context, requestID string, upload domainimage.Upload, annotate bool) (*inspectResponse, error) {
	payload, err := s.pipeline.Accept(ctx, upload)
	if err != nil {
		return nil, err
	}
	return s.run(ctx, requestID, payload, annotate)
}

func (s *Service) run(ctx context.Context, requestID string, payload *domainimage.Payload, annotate bool) (*inspectResponse, error) {
	req := domaininspection.NewRequest(payload)
	req.ID = requestID

	result, err := s.inspector.Run(ctx, req)
	if err != nil {
		return nil, err
	}

	overlays := domaininspection.MapOverlays(result)
	resp := &inspectResponse{
		RequestID: requestID,
		Result:    result,
		Overlays:  overlays.Overlays(),
		Findings:  domaininspection.NewHighlighter(result, overlays).Findings(),
	}
	if annotate {
		data, err := domaininspection.AnnotatePayload(payload, overlays, s.annotateQuality)
		if err != nil {
			s.logger.WarnTag("Inspection", "request %s: annotation skipped: %v", requestID, err)
		} else {
			resp.Annotated = "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(data)
		}
	}
	return resp, nil
}

func (s *Service) respondFailure(c *gin.Context, requestID string, err error) {
	f := domaininspection.Classify(err)
	c.JSON(f.HTTPStatus(), failureBody(requestID, f))
}

func failureBody(requestID string, f *domaininspection.Failure) failureResponse {
	return failureResponse{
		Error:       f.Message,
		Kind:        string(f.Kind),
		Remediation: f.Remediation,
		Detail:      f.Detail,
		RequestID:   requestID,
	}
}

func wantAnnotated(c *gin.Context) bool {
	v, err := strconv.ParseBool(c.Query("annotate"))
	return err == nil && v
}

// uploadFromRequest accepts a JSON body, a multipart form or a raw image body.
func (s *Service) uploadFromRequest(c *gin.Context) (domainimage.Upload, error) {
	contentType := c.ContentType()
	switch {
	case contentType == "application/json" || contentType == "":
		raw, err := s.readJSONBody(c.Request.Body)
		if err != nil {
			return domainimage.Upload{}, err
		}
		return s.uploadFromJSON(raw)

	case contentType == "multipart/form-data":
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.maxMultipartBody)
		header, err := c.FormFile("file")
		if err != nil && !tooLarge(err) {
			header, err = c.FormFile("image")
		}
		if err != nil {
			if tooLarge(err) {
				return domainimage.Upload{}, &domainimage.ValidationError{
					Reason:  domainimage.ReasonTooLarge,
					Message: "Image exceeds the upload limit. Please upload a smaller photo.",
					Cause:   err,
				}
			}
			return domainimage.Upload{}, &domainimage.ValidationError{
				Reason:  domainimage.ReasonEmpty,
				Message: "No image provided. Please upload a photo of the panel.",
			}
		}
		file, err := header.Open()
		if err != nil {
			return domainimage.Upload{}, &domainimage.ValidationError{
				Reason:  domainimage.ReasonCorrupt,
				Message: "The uploaded file could not be read.",
				Cause:   err,
			}
		}
		return domainimage.Upload{
			Reader:    file,
			MediaType: header.Header.Get("Content-Type"),
			Source:    "multipart",
		}, nil

	case strings.HasPrefix(contentType, "image/"):
		return domainimage.Upload{Reader: c.Request.Body, MediaType: contentType, Source: "raw"}, nil

	default:
		return domainimage.Upload{}, &domainimage.ValidationError{
			Reason:  domainimage.ReasonNotImage,
			Message: "Unsupported request format. Send JSON, multipart form data or an image body.",
		}
	}
}

func tooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}

func (s *Service) readJSONBody(body io.Reader) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	buf := bytes.NewBuffer(nil)
	n, err := io.Copy(buf, io.LimitReader(body, s.maxJSONBody+1))
	if err != nil {
		return nil, &domainimage.ValidationError{
			Reason:  domainimage.ReasonMalformed,
			Message: "The request body could not be read.",
			Cause:   err,
		}
	}
	if n > s.maxJSONBody {
		return nil, &domainimage.ValidationError{
			Reason:  domainimage.ReasonTooLarge,
			Message: "Image is too large. Please upload a smaller photo.",
		}
	}
	return buf.Bytes(), nil
}

func (s *Service) uploadFromJSON(raw []byte) (domainimage.Upload, error) {
	var body inspectBody
	if len(bytes.TrimSpace(raw)) > 0 {
		if err := sonic.Unmarshal(raw, &body); err != nil {
			return domainimage.Upload{}, &domainimage.ValidationError{
				Reason:  domainimage.ReasonMalformed,
				Message: "Invalid request body. Expected JSON with an image field.",
				Cause:   err,
			}
		}
	}

	image := strings.TrimSpace(body.Image)
	if image == "" {
		return domainimage.Upload{}, &domainimage.ValidationError{
			Reason:  domainimage.ReasonEmpty,
			Message: "No image provided. Please upload a photo of the panel.",
		}
	}

	if body.MediaType != "" && !strings.HasPrefix(image, "data:") {
		data, err := domainimage.DecodeBase64(image)
		if err != nil {
			return domainimage.Upload{}, err
		}
		return domainimage.Upload{Data: data, MediaType: body.MediaType, Source: "json"}, nil
	}

	data, mediaType, err := domainimage.ParseDataURL(image)
	if err != nil {
		return domainimage.Upload{}, err
	}
	return domainimage.Upload{Data: data, MediaType: mediaType, Source: "json"}, nil
}
