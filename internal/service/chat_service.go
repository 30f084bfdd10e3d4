package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/vbonduro/detectchat/internal/detect"
	"github.com/vbonduro/detectchat/internal/domain"
	"github.com/vbonduro/detectchat/internal/imagesrc"
	"github.com/vbonduro/detectchat/internal/photostore"
)

const (
	NoImageMessage = "Please provide an image for object detection."

	defaultServiceAddress = "localhost:8080"
)

// Error kinds attached to failure logs and audit records.
const (
	KindInvalidImageFormat  = "invalid_image_format"
	KindImageTooLarge       = "image_too_large"
	KindFetch               = "fetch_error"
	KindTimeout             = "timeout"
	KindMissingConfig       = "missing_configuration"
	KindUpload              = "upload_error"
	KindPredictionService   = "prediction_service_error"
	KindMalformedPrediction = "malformed_prediction_response"
	KindInternal            = "internal"
)

// imageDecoder is the subset of imagesrc.Decoder that ChatService requires.
type imageDecoder interface {
	Decode(ctx context.Context, raw string) (*imagesrc.DecodedImage, error)
}

// detectionRecorder is the subset of store.DetectionStore that ChatService requires.
type detectionRecorder interface {
	Create(ctx context.Context, d *domain.Detection) error
}

type ChatRequest struct {
	ChatID        string
	Images        []string
	Filenames     []string
	SelectedModel string
}

// Reply is the outcome of one chat request. Message is always set; Err and
// ErrorKind are set only when Status is domain.StatusError.
type Reply struct {
	Message   string
	Status    domain.DetectionStatus
	Result    *detect.Result
	Upload    *photostore.UploadResult
	Err       error
	ErrorKind string
}

type Options struct {
	// ServiceAddress is shown in error messages so users know which
	// detection endpoint was unreachable.
	ServiceAddress string
	UploadTimeout  time.Duration
	PredictTimeout time.Duration
	Now            func() time.Time
}

type ChatService struct {
	decoder  imageDecoder
	photoStg photostore.PhotoStore
	detector detect.Detector
	recorder detectionRecorder
	opts     Options
	logger   *slog.Logger
}

// NewChatService wires the request pipeline. photoStg and recorder may be nil
// to skip the upload and audit steps.
func NewChatService(
	decoder imageDecoder,
	photoStg photostore.PhotoStore,
	detector detect.Detector,
	recorder detectionRecorder,
	opts Options,
	logger *slog.Logger,
) *ChatService {
	if opts.ServiceAddress == "" {
		opts.ServiceAddress = defaultServiceAddress
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &ChatService{
		decoder:  decoder,
		photoStg: photoStg,
		detector: detector,
		recorder: recorder,
		opts:     opts,
		logger:   logger,
	}
}

// Respond runs the detection pipeline for the first image in req and returns
// the chat message to show. Failures never escape as errors; they become an
// error message in the reply.
func (s *ChatService) Respond(ctx context.Context, req ChatRequest) Reply {
	if len(req.Images) == 0 {
		reply := Reply{Message: NoImageMessage, Status: domain.StatusNoImage}
		s.record(ctx, req, reply)
		return reply
	}

	s.logger.Info("chat request started", "chat_id", req.ChatID, "model", req.SelectedModel, "images", len(req.Images))

	upload, result, err := s.run(ctx, req)
	var reply Reply
	if err != nil {
		kind := ClassifyError(err)
		s.logger.Error("chat request failed",
			"chat_id", req.ChatID,
			"error_kind", kind,
			"error", err,
		)
		reply = Reply{
			Message:   FormatErrorMessage(err, s.opts.ServiceAddress),
			Status:    domain.StatusError,
			Upload:    upload,
			Err:       err,
			ErrorKind: kind,
		}
	} else {
		s.logger.Info("chat request complete",
			"chat_id", req.ChatID,
			"detection_count", result.DetectionCount,
			"prediction_uid", result.PredictionUID,
		)
		reply = Reply{
			Message: FormatResultMessage(result),
			Status:  domain.StatusSuccess,
			Result:  result,
			Upload:  upload,
		}
	}

	s.record(ctx, req, reply)
	return reply
}

func (s *ChatService) run(ctx context.Context, req ChatRequest) (*photostore.UploadResult, *detect.Result, error) {
	img, err := s.decoder.Decode(ctx, req.Images[0])
	if err != nil {
		return nil, nil, err
	}
	s.logger.Debug("image decoded", "chat_id", req.ChatID, "content_type", img.ContentType, "bytes", len(img.Data))

	filename := ""
	if len(req.Filenames) > 0 {
		filename = req.Filenames[0]
	}

	var upload *photostore.UploadResult
	if s.photoStg != nil {
		upload, err = s.upload(ctx, req.ChatID, filename, img)
		if err != nil {
			return nil, nil, err
		}
		s.logger.Debug("image uploaded", "chat_id", req.ChatID, "bucket", upload.Bucket, "key", upload.Key)
	}

	in := detect.Input{
		Data:        img.Data,
		ContentType: img.ContentType,
		Filename:    filename,
		Metadata:    detect.Metadata{ChatID: req.ChatID},
	}
	if upload != nil {
		in.Metadata.StorageKey = upload.Key
		in.Metadata.StorageURL = upload.URL
	}

	predictCtx, cancel := withTimeout(ctx, s.opts.PredictTimeout)
	defer cancel()
	result, err := s.detector.Detect(predictCtx, in)
	if err != nil {
		return upload, nil, err
	}
	return upload, result, nil
}

func (s *ChatService) upload(ctx context.Context, chatID, filename string, img *imagesrc.DecodedImage) (*photostore.UploadResult, error) {
	key := photostore.BuildImageKey(photostore.KeyParams{
		ChatID:            chatID,
		OriginalFilename:  filename,
		ExtensionFallback: img.Extension(),
	}, s.opts.Now())

	uploadCtx, cancel := withTimeout(ctx, s.opts.UploadTimeout)
	defer cancel()
	return s.photoStg.Put(uploadCtx, photostore.UploadInput{
		Key:         key,
		ContentType: img.ContentType,
		Data:        img.Data,
	})
}

// record persists the outcome. The write is detached from ctx so a client
// that disconnects mid-request still leaves an audit row.
func (s *ChatService) record(ctx context.Context, req ChatRequest, reply Reply) {
	if s.recorder == nil {
		return
	}

	d := &domain.Detection{
		ChatID:    req.ChatID,
		Status:    reply.Status,
		ErrorKind: reply.ErrorKind,
		Labels:    []string{},
	}
	if reply.Err != nil {
		d.Error = reply.Err.Error()
	}
	if reply.Result != nil {
		d.DetectionCount = reply.Result.DetectionCount
		d.Labels = reply.Result.Labels
		d.PredictionUID = reply.Result.PredictionUID
	}
	if reply.Upload != nil {
		d.StorageKey = reply.Upload.Key
		d.StorageURL = reply.Upload.URL
	}

	if err := s.recorder.Create(context.WithoutCancel(ctx), d); err != nil {
		s.logger.Error("failed to record detection", "chat_id", req.ChatID, "error", err)
	}
}

// ClassifyError maps a pipeline error onto its error kind. Deadline errors
// are reported as timeouts regardless of which step hit them.
func ClassifyError(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case errors.Is(err, imagesrc.ErrInvalidImageFormat):
		return KindInvalidImageFormat
	case errors.Is(err, imagesrc.ErrImageTooLarge):
		return KindImageTooLarge
	case errors.Is(err, imagesrc.ErrFetch):
		return KindFetch
	case errors.Is(err, photostore.ErrMissingConfiguration):
		return KindMissingConfig
	case errors.Is(err, photostore.ErrUpload):
		return KindUpload
	case errors.Is(err, detect.ErrPredictionService):
		return KindPredictionService
	case errors.Is(err, detect.ErrMalformedPredictionResponse):
		return KindMalformedPrediction
	default:
		return KindInternal
	}
}

func FormatResultMessage(r *detect.Result) string {
	labels := strings.Join(r.Labels, ", ")
	return fmt.Sprintf(`🔍 **Object Detection Results**

**Detection Count:** %d
**Detected Objects:** %s
**Prediction ID:** %s

I've analyzed your image and detected %d object(s). The detected objects include: %s.`,
		r.DetectionCount, labels, r.PredictionUID, r.DetectionCount, labels)
}

func FormatErrorMessage(err error, serviceAddress string) string {
	if serviceAddress == "" {
		serviceAddress = defaultServiceAddress
	}
	return fmt.Sprintf(`❌ **Object Detection Error**

Sorry, I encountered an error while processing your image: %s

Please make sure the object detection service is reachable at %s and that the /predict endpoint is accepting POST requests.`,
		err.Error(), serviceAddress)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
