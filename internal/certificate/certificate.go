// Package certificate assembles the certificate request bounded context:
// key allocation, stamping, the lifecycle service and its HTTP handler.
package certificate

import (
	"errors"
	"fmt"
	"log/slog"

	"certifier/internal/certificate/blob"
	"certifier/internal/certificate/filename"
	"certifier/internal/certificate/handler"
	"certifier/internal/certificate/metrics"
	"certifier/internal/certificate/notify"
	"certifier/internal/certificate/service"
	"certifier/internal/certificate/stamp"
)

// Repository is a request store that can also report backlog counts.
type Repository interface {
	service.Repository
	metrics.StatusCounter
}

// Backends are the infrastructure adapters the module runs on. Lister,
// Reserver, Audit and Notifier are optional.
type Backends struct {
	Requests Repository
	Blobs    blob.Store
	Lister   blob.Lister
	Reserver filename.Reserver
	Renderer stamp.Renderer
	Assets   *stamp.Assets
	Audit    service.AuditPublisher
	Notifier notify.Notifier
}

type Config struct {
	MaxUploadBytes int64
	KeyAttempts    int
	Authority      string
}

// FontPreparer is implemented by renderers that can check the stamp font
// before the first approval.
type FontPreparer interface {
	PrepareFont(f stamp.Font) error
}

// Module exposes the assembled pieces to the process wiring.
type Module struct {
	Service *service.Service
	Handler *handler.Handler
	Backlog *metrics.BacklogReporter
}

// New wires the module. m may be nil to disable domain metrics.
func New(b Backends, cfg Config, m *metrics.Metrics, logger *slog.Logger) (*Module, error) {
	if b.Requests == nil || b.Blobs == nil || b.Renderer == nil {
		return nil, errors.New("certificate: requests, blobs and renderer are required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	if err := prepareFont(b, logger); err != nil {
		return nil, err
	}

	allocOpts := []filename.AllocatorOption{filename.WithMaxAttempts(cfg.KeyAttempts)}
	if b.Reserver != nil {
		allocOpts = append(allocOpts, filename.WithReserver(b.Reserver))
	}
	keys := filename.NewAllocator(filename.NewSanitizer(), b.Blobs, allocOpts...)

	stampOpts := []stamp.Option{stamp.WithLogger(logger)}
	if cfg.Authority != "" {
		stampOpts = append(stampOpts, stamp.WithAuthority(cfg.Authority))
	}
	stamper := stamp.New(b.Blobs, b.Renderer, b.Assets, stampOpts...)

	svcOpts := []service.Option{
		service.WithLogger(logger),
		service.WithMetrics(m),
		service.WithMaxUploadBytes(cfg.MaxUploadBytes),
	}
	if b.Audit != nil {
		svcOpts = append(svcOpts, service.WithAuditPublisher(b.Audit))
	}
	if b.Lister != nil {
		svcOpts = append(svcOpts, service.WithFileLister(b.Lister))
	}
	svc := service.New(b.Requests, b.Blobs, stamper, keys, svcOpts...)

	notifier := b.Notifier
	if notifier == nil {
		notifier = notify.NewLogNotifier(logger)
	}

	return &Module{
		Service: svc,
		Handler: handler.New(svc, notifier, logger, cfg.MaxUploadBytes),
		Backlog: metrics.NewBacklogReporter(b.Requests, m, logger),
	}, nil
}

// prepareFont fails when the configured font loads but cannot be used. A font
// file that is absent only disables approvals until it is provided.
func prepareFont(b Backends, logger *slog.Logger) error {
	p, ok := b.Renderer.(FontPreparer)
	if !ok || b.Assets == nil {
		return nil
	}
	f, err := b.Assets.Font()
	if err != nil {
		logger.Warn("stamp font unavailable, approvals will fail until it is provided", "error", err)
		return nil
	}
	if err := p.PrepareFont(f); err != nil {
		return fmt.Errorf("certificate: prepare stamp font: %w", err)
	}
	return nil
}
