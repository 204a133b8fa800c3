package report

import (
	"context"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/garyjia/onboarding-workflow/internal/application/port"
)

// Sheet names of the completion workbook
const (
	SheetSummary   = "Summary"
	SheetFields    = "Fields"
	SheetApprovals = "Approvals"
	SheetTimeline  = "Timeline"
)

const timeLayout = "2006-01-02 15:04:05"

// ExcelRenderer renders a completion snapshot as an xlsx workbook
type ExcelRenderer struct {
	title  string
	logger *zap.Logger
}

// NewExcelRenderer creates a renderer. title heads the summary sheet.
func NewExcelRenderer(title string, logger *zap.Logger) *ExcelRenderer {
	if title == "" {
		title = "Request completion report"
	}
	return &ExcelRenderer{title: title, logger: logger}
}

// Extension implements port.ArtifactRenderer
func (r *ExcelRenderer) Extension() string {
	return ".xlsx"
}

// Render implements port.ArtifactRenderer
func (r *ExcelRenderer) Render(ctx context.Context, snap *port.RequestSnapshot) ([]byte, error) {
	if snap == nil || snap.Request == nil {
		return nil, fmt.Errorf("snapshot has no request")
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return nil, fmt.Errorf("failed to rename sheet: %w", err)
	}
	for _, name := range []string{SheetFields, SheetApprovals, SheetTimeline} {
		if _, err := f.NewSheet(name); err != nil {
			return nil, fmt.Errorf("failed to create sheet %s: %w", name, err)
		}
	}

	header, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return nil, fmt.Errorf("failed to create style: %w", err)
	}

	req := snap.Request
	completed := ""
	if req.CompletedAt != nil {
		completed = req.CompletedAt.Format(timeLayout)
	}
	r.writeRows(f, SheetSummary, header, []string{r.title, ""}, [][]interface{}{
		{"Request ID", req.ID},
		{"Type", string(req.Type)},
		{"Status", string(req.Status)},
		{"Created by", req.CreatedBy},
		{"Created at", req.CreatedAt.Format(timeLayout)},
		{"Completed at", completed},
	})

	fieldRows := make([][]interface{}, 0, len(req.Fields))
	for _, key := range req.Fields.Keys() {
		fieldRows = append(fieldRows, []interface{}{key, req.Fields.String(key)})
	}
	r.writeRows(f, SheetFields, header, []string{"Field", "Value"}, fieldRows)

	approvalRows := make([][]interface{}, 0, len(snap.Approvals))
	for _, a := range snap.Approvals {
		approvalRows = append(approvalRows, []interface{}{
			a.StageLevel, string(a.Stage), a.Role, a.ApproverContact, string(a.Status),
			a.Decision, a.DecidedBy, formatTime(a.DecisionAt), a.Comment,
		})
	}
	r.writeRows(f, SheetApprovals, header,
		[]string{"Level", "Stage", "Role", "Approver", "Status", "Decision", "Decided by", "Decided at", "Comment"},
		approvalRows)

	// Timeline arrives newest first; the report reads oldest first
	timelineRows := make([][]interface{}, 0, len(snap.Timeline))
	for i := len(snap.Timeline) - 1; i >= 0; i-- {
		e := snap.Timeline[i]
		timelineRows = append(timelineRows, []interface{}{
			e.Timestamp.Format(timeLayout), e.EventType, e.Description, e.Actor,
		})
	}
	r.writeRows(f, SheetTimeline, header, []string{"Time", "Event", "Description", "Actor"}, timelineRows)

	f.SetActiveSheet(0)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("failed to write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

// writeRows writes a bold header row followed by data rows
func (r *ExcelRenderer) writeRows(f *excelize.File, sheet string, style int, header []string, rows [][]interface{}) {
	headerRow := make([]interface{}, len(header))
	for i, h := range header {
		headerRow[i] = h
	}
	r.setRow(f, sheet, 1, headerRow)

	last, _ := excelize.CoordinatesToCellName(len(header), 1)
	if err := f.SetCellStyle(sheet, "A1", last, style); err != nil {
		r.logger.Warn("Failed to style header", zap.String("sheet", sheet), zap.Error(err))
	}

	for i, row := range rows {
		r.setRow(f, sheet, i+2, row)
	}
}

func (r *ExcelRenderer) setRow(f *excelize.File, sheet string, rowNum int, values []interface{}) {
	cell, _ := excelize.CoordinatesToCellName(1, rowNum)
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		r.logger.Warn("Failed to set row",
			zap.String("sheet", sheet),
			zap.Int("row", rowNum),
			zap.Error(err))
	}
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(timeLayout)
}

var _ port.ArtifactRenderer = (*ExcelRenderer)(nil)
