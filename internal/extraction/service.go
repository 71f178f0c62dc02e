package extraction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/bidboard/backend/internal/access"
	"github.com/bidboard/backend/internal/auth"
	"github.com/bidboard/backend/internal/metrics"
	"github.com/bidboard/backend/internal/middleware/ratelimit"
	"github.com/bidboard/backend/internal/storage/models"
	"github.com/bidboard/backend/pkg/logger"
)

var (
	ErrNotFound        = errors.New("upload not found")
	ErrTooLarge        = errors.New("upload exceeds maximum size")
	ErrUnsupportedType = errors.New("unsupported file type")
	ErrRateLimited     = errors.New("extraction rate limit exceeded")
	ErrTimeout         = errors.New("extraction timed out")
)

// RateScope is the limiter scope for extraction requests. Quota here is
// independent of any coarse API limiting.
const RateScope = "extract"

const warningNoUsefulContent = "extraction returned no useful content; the document may be scanned or empty"

// TextFn is the black-box document-text engine: bytes + mime in, plain text
// out. The engine itself is an external collaborator.
type TextFn func(data []byte, mime string) (string, error)

type UploadStore interface {
	GetUpload(id string) (*models.Upload, error)
}

type Output struct {
	OK            bool    `json:"ok"`
	OpportunityID string  `json:"opportunity_id"`
	Extracted     *Result `json:"extracted"`
	Warning       string  `json:"warning,omitempty"`
}

type Config struct {
	MaxFileSize  int64
	AllowedTypes []string
	Timeout      time.Duration
}

// Service runs the extraction pipeline: resolve and authorize the upload,
// gate on quota, consult the cache by content fingerprint, and only then pay
// for the model call.
type Service struct {
	store       UploadStore
	checker     *access.Checker
	limiter     *ratelimit.Limiter
	cache       Cache
	extractor   Extractor
	extractText TextFn
	cfg         Config
	now         func() time.Time
}

func NewService(store UploadStore, checker *access.Checker, limiter *ratelimit.Limiter, cache Cache, extractor Extractor, extractText TextFn, cfg Config) *Service {
	if cfg.MaxFileSize == 0 {
		cfg.MaxFileSize = 20 << 20
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}

	return &Service{
		store:       store,
		checker:     checker,
		limiter:     limiter,
		cache:       cache,
		extractor:   extractor,
		extractText: extractText,
		cfg:         cfg,
		now:         time.Now,
	}
}

// Extract resolves uploadID for the caller and returns the structured
// extraction, cached or freshly computed. Failure classes map one-to-one to
// the sentinel errors above; anything else is a generic extraction failure.
func (s *Service) Extract(ctx context.Context, identity *auth.Identity, uploadID string) (*Output, error) {
	start := s.now()

	upload, err := s.store.GetUpload(uploadID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve upload: %w", err)
	}
	// A foreign upload is indistinguishable from a missing one.
	if upload == nil || upload.OwnerID != identity.UserID {
		return nil, ErrNotFound
	}

	if err := s.checker.Opportunity(identity, upload.OpportunityID); err != nil {
		if errors.Is(err, access.ErrForbidden) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if upload.Size > s.cfg.MaxFileSize {
		return nil, ErrTooLarge
	}

	if !s.typeAllowed(upload.MIME) {
		return nil, ErrUnsupportedType
	}

	if !s.limiter.Allow(RateScope, identity.UserID) {
		return nil, ErrRateLimited
	}

	text, err := s.extractText(upload.Data, upload.MIME)
	if err != nil {
		return nil, fmt.Errorf("failed to extract document text: %w", err)
	}

	if cached, ok, err := s.cache.Get(ctx, text); err != nil {
		logger.Warn("Extraction cache lookup failed", zap.Error(err))
	} else if ok {
		logger.Info("Extraction served from cache",
			zap.String("upload_id", uploadID),
			zap.String("opportunity_id", upload.OpportunityID),
		)
		s.observe("cache_hit", start)
		return &Output{
			OK:            true,
			OpportunityID: upload.OpportunityID,
			Extracted:     cached,
		}, nil
	}

	extractCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	payload, err := s.extractor.Extract(extractCtx, text)
	if err != nil {
		if extractCtx.Err() == context.DeadlineExceeded {
			s.observe("timeout", start)
			return nil, ErrTimeout
		}
		s.observe("error", start)
		return nil, fmt.Errorf("extraction failed: %w", err)
	}

	result := &Result{
		Version: s.now().Unix(),
		Discovery: map[string]string{
			"filename": upload.Filename,
			"mime":     upload.MIME,
		},
		Extracted: payload,
	}

	output := &Output{
		OK:            true,
		OpportunityID: upload.OpportunityID,
		Extracted:     result,
	}

	if !result.HasUsefulContent() {
		// Not cached, so a later attempt recomputes instead of replaying
		// an empty answer forever.
		output.Warning = warningNoUsefulContent
		s.observe("empty", start)
		return output, nil
	}

	if err := s.cache.Set(ctx, text, result); err != nil {
		logger.Warn("Failed to cache extraction result", zap.Error(err))
	}

	logger.Info("Extraction completed",
		zap.String("upload_id", uploadID),
		zap.String("opportunity_id", upload.OpportunityID),
		zap.Duration("elapsed", s.now().Sub(start)),
	)
	s.observe("ok", start)

	return output, nil
}

func (s *Service) typeAllowed(mime string) bool {
	for _, allowed := range s.cfg.AllowedTypes {
		if strings.EqualFold(mime, allowed) {
			return true
		}
	}
	return false
}

func (s *Service) observe(outcome string, start time.Time) {
	metrics.ExtractionTotal.WithLabelValues(outcome).Inc()
	metrics.ExtractionDuration.WithLabelValues(outcome).Observe(s.now().Sub(start).Seconds())
}
