package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/garyjia/onboarding-workflow/internal/application/dispatcher"
	"github.com/garyjia/onboarding-workflow/internal/application/port"
	"github.com/garyjia/onboarding-workflow/internal/application/workflow"
	"github.com/garyjia/onboarding-workflow/internal/domain/entity"
	"github.com/garyjia/onboarding-workflow/internal/domain/event"
)

// ErrNotCompleted is returned when a report is requested for an open or rejected request
var ErrNotCompleted = errors.New("request is not completed")

// ReportResult describes a rendered completion report
type ReportResult struct {
	RequestID string
	Path      string
	FullPath  string
	Size      int
}

// ReportService renders a completion report for finished requests
type ReportService interface {
	// Register subscribes the service to request completion
	Register(d dispatcher.Dispatcher)

	GenerateReport(ctx context.Context, requestID string) (*ReportResult, error)
}

type reportServiceImpl struct {
	engine   workflow.Engine
	renderer port.ArtifactRenderer
	storage  port.FileStorage
	logger   Logger
}

// NewReportService creates a new ReportService
func NewReportService(
	engine workflow.Engine,
	renderer port.ArtifactRenderer,
	storage port.FileStorage,
	logger Logger,
) ReportService {
	return &reportServiceImpl{
		engine:   engine,
		renderer: renderer,
		storage:  storage,
		logger:   logger,
	}
}

// Register renders a report whenever a request completes. Failures are logged only.
func (s *reportServiceImpl) Register(d dispatcher.Dispatcher) {
	d.SubscribeNamed(event.TypeRequestCompleted, "completion-report", func(ctx context.Context, evt *event.Event) error {
		if _, err := s.GenerateReport(ctx, evt.RequestID); err != nil {
			s.logger.Error("Completion report failed", "request_id", evt.RequestID, "error", err)
		}
		return nil
	})
}

// GenerateReport renders and stores the report of a completed request
func (s *reportServiceImpl) GenerateReport(ctx context.Context, requestID string) (*ReportResult, error) {
	s.logger.Info("Generating completion report", "request_id", requestID)

	snap, err := s.engine.Snapshot(ctx, requestID, 0)
	if err != nil {
		return nil, fmt.Errorf("load request: %w", err)
	}
	if snap.Request.Status != entity.StatusCompleted {
		return nil, fmt.Errorf("%w: %s is %s", ErrNotCompleted, requestID, snap.Request.Status)
	}

	content, err := s.renderer.Render(ctx, snap)
	if err != nil {
		return nil, fmt.Errorf("render report: %w", err)
	}

	path := fmt.Sprintf("%s/%s%s", snap.Request.Type, requestID, s.renderer.Extension())
	if err := s.storage.Save(ctx, path, content); err != nil {
		return nil, fmt.Errorf("save report: %w", err)
	}

	result := &ReportResult{
		RequestID: requestID,
		Path:      path,
		FullPath:  s.storage.GetFullPath(path),
		Size:      len(content),
	}
	s.logger.Info("Completion report stored", "request_id", requestID, "path", result.FullPath, "size", result.Size)
	return result, nil
}
