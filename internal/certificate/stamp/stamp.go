// Package stamp overlays the visual verification ticket onto the first page
// of a stored PDF and writes the result under a verified_ key.
package stamp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"certifier/internal/certificate/models"
	id "certifier/pkg/domain"
	"certifier/pkg/platform/sentinel"
)

var (
	ErrSourceNotFound = errors.New("source document not found")
	ErrAssetMissing   = errors.New("required stamp asset missing")
	ErrRender         = errors.New("document could not be rendered")
	ErrBlobWrite      = errors.New("stamped document could not be stored")
)

// Layout of the verification ticket, in PDF points from the bottom-left.
const (
	LabelText             = "Signature valid"
	LabelSize             = 12
	AttributionGap        = 18
	AttributionSize       = 8
	AttributionLineHeight = 9
	originX               = 50
	originY               = 100

	// The checkmark sits above the label at 0.15 * 0.6 of its native size.
	checkmarkOffsetX = 35
	checkmarkOffsetY = 35
	checkmarkScale   = 0.09

	dateLayout = "1/2/2006, 3:04:05 PM"
)

// TextBlock is one positioned run of text. Y is the baseline of the first
// line; newlines start a new line LineHeight points further down.
type TextBlock struct {
	Text       string
	X, Y       float64
	Size       int
	LineHeight float64
}

// Lines is the number of lines in the block.
func (t TextBlock) Lines() int {
	return strings.Count(t.Text, "\n") + 1
}

// BottomY is the baseline of the last line.
func (t TextBlock) BottomY() float64 {
	return t.Y - float64(t.Lines()-1)*t.LineHeight
}

// Image is a PNG placed at X,Y and scaled relative to its native size.
type Image struct {
	Data  []byte
	X, Y  float64
	Scale float64
}

// Overlay is everything drawn onto the first page.
type Overlay struct {
	Font  Font
	Texts []TextBlock
	Image *Image
}

// Renderer parses and modifies paginated documents.
type Renderer interface {
	PageCount(ctx context.Context, src []byte) (int, error)
	Render(ctx context.Context, src []byte, overlay Overlay) ([]byte, error)
}

// BlobStore is the subset of blob.Store the stamper needs.
type BlobStore interface {
	Read(ctx context.Context, key string) ([]byte, error)
	Write(ctx context.Context, key string, data []byte) error
}

// Stamper produces verified derivatives of stored documents.
type Stamper struct {
	blobs     BlobStore
	renderer  Renderer
	assets    *Assets
	authority string
	now       func() time.Time
	token     func() string
	logger    *slog.Logger
	tracer    trace.Tracer
}

type Option func(*Stamper)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Stamper) {
		s.logger = logger
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Stamper) {
		s.now = now
	}
}

// WithKeyToken replaces the random token that makes each derived key unique.
func WithKeyToken(token func() string) Option {
	return func(s *Stamper) {
		s.token = token
	}
}

// WithAuthority sets the issuing authority named in the attribution block.
func WithAuthority(name string) Option {
	return func(s *Stamper) {
		if name != "" {
			s.authority = name
		}
	}
}

const DefaultAuthority = "CERTIFICATE ISSUANCE AUTHORITY"

func New(blobs BlobStore, renderer Renderer, assets *Assets, opts ...Option) *Stamper {
	s := &Stamper{
		blobs:     blobs,
		renderer:  renderer,
		assets:    assets,
		authority: DefaultAuthority,
		now:       time.Now,
		token:     randomToken,
		logger:    slog.Default(),
		tracer:    otel.Tracer("certifier/stamp"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// DerivedKey names one stamped rendition of sourceKey. The token keeps
// renditions from separate attempts apart.
func DerivedKey(sourceKey, token string) string {
	return models.VerifiedPrefix + token + "_" + path.Base(sourceKey)
}

func randomToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// Stamp renders the verification ticket onto sourceKey's first page and
// stores the result under a fresh derived key. Nothing is written unless
// rendering succeeds, and existing blobs are never overwritten.
func (s *Stamper) Stamp(ctx context.Context, sourceKey string, requestID id.CertificateRequestID) (derivedKey string, err error) {
	ctx, span := s.tracer.Start(ctx, "stamp.Stamp", trace.WithAttributes(
		attribute.String("certificate_request_id", requestID.String()),
		attribute.String("source_key", sourceKey),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	src, err := s.blobs.Read(ctx, sourceKey)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return "", fmt.Errorf("%w: %s", ErrSourceNotFound, sourceKey)
		}
		return "", fmt.Errorf("read source %s: %w", sourceKey, err)
	}

	pages, err := s.renderer.PageCount(ctx, src)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRender, err)
	}
	if pages == 0 {
		return "", fmt.Errorf("%w: document has no pages", ErrRender)
	}

	font, err := s.assets.Font()
	if err != nil {
		return "", err
	}

	overlay := s.overlay(ctx, font)
	out, err := s.renderer.Render(ctx, src, overlay)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrRender, err)
	}

	derivedKey = DerivedKey(sourceKey, s.token())
	if err := s.blobs.Write(ctx, derivedKey, out); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBlobWrite, err)
	}

	s.logger.InfoContext(ctx, "document stamped",
		"certificate_request_id", requestID.String(),
		"source_key", sourceKey,
		"document_key", derivedKey,
		"pages", pages,
	)
	return derivedKey, nil
}

func (s *Stamper) overlay(ctx context.Context, font Font) Overlay {
	o := Overlay{
		Font: font,
		Texts: []TextBlock{
			{Text: LabelText, X: originX, Y: originY, Size: LabelSize},
			{
				Text:       "Digitally signed\n" + s.authority + "\nDate: " + s.now().Format(dateLayout),
				X:          originX,
				Y:          originY - AttributionGap,
				Size:       AttributionSize,
				LineHeight: AttributionLineHeight,
			},
		},
	}

	checkmark, err := s.assets.Checkmark()
	if err != nil {
		s.logger.WarnContext(ctx, "checkmark asset unavailable, stamping without it", "error", err)
		return o
	}
	o.Image = &Image{
		Data:  checkmark,
		X:     originX + checkmarkOffsetX,
		Y:     originY + checkmarkOffsetY,
		Scale: checkmarkScale,
	}
	return o
}
