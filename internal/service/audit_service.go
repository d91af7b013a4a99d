package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/taskdesk/taskdesk-api/internal/dto"
	"github.com/taskdesk/taskdesk-api/internal/models"
	"github.com/taskdesk/taskdesk-api/pkg/config"
	appErrors "github.com/taskdesk/taskdesk-api/pkg/errors"
	"github.com/taskdesk/taskdesk-api/pkg/export"
	"github.com/taskdesk/taskdesk-api/pkg/storage"
)

type auditReader interface {
	List(ctx context.Context, filter models.AuditFilter) ([]models.AssignmentAuditLog, int, error)
}

// AuditService exposes the append-only audit trail for compliance reads
// and file exports. It never writes: audit rows are produced inside the
// mutating repositories.
type AuditService struct {
	audits  auditReader
	csv     *export.CSVExporter
	pdf     *export.PDFExporter
	storage *storage.LocalStorage
	signer  *storage.SignedURLSigner
	logger  *zap.Logger
	now     func() time.Time
}

// NewAuditService constructs the service. Export rendering is disabled
// when the storage directory cannot be prepared.
func NewAuditService(audits auditReader, cfg config.AuditExportsConfig, logger *zap.Logger) (*AuditService, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	store, err := storage.NewLocalStorage(cfg.StorageDir)
	if err != nil {
		return nil, fmt.Errorf("prepare audit export storage: %w", err)
	}
	return &AuditService{
		audits:  audits,
		csv:     export.NewCSVExporter(),
		pdf:     export.NewPDFExporter(),
		storage: store,
		signer:  storage.NewSignedURLSigner(cfg.SignedURLSecret, cfg.SignedURLTTL),
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}, nil
}

// List returns audit rows newest first.
func (s *AuditService) List(ctx context.Context, query dto.AuditQuery) ([]models.AssignmentAuditLog, *models.Pagination, error) {
	filter := models.AuditFilter{
		AssignmentID: query.AssignmentID,
		ActorID:      query.ActorID,
		Action:       query.Action,
		From:         query.From,
		To:           query.To,
		Page:         query.Page,
		PageSize:     query.PageSize,
	}
	logs, total, err := s.audits.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list audit logs")
	}
	page := filter.Page
	if page <= 0 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 500 {
		pageSize = 100
	}
	return logs, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// Export renders the filtered trail to CSV or PDF, stores the file, and
// returns a signed download link.
func (s *AuditService) Export(ctx context.Context, query dto.AuditQuery, format string) (*dto.AuditExportResponse, error) {
	format = strings.ToLower(strings.TrimSpace(format))
	if format != "csv" && format != "pdf" {
		return nil, appErrors.Clone(appErrors.ErrValidation, "format must be csv or pdf")
	}

	// exports are bounded snapshots, not cursors
	query.Page = 1
	if query.PageSize <= 0 || query.PageSize > 10000 {
		query.PageSize = 10000
	}
	filter := models.AuditFilter{
		AssignmentID: query.AssignmentID,
		ActorID:      query.ActorID,
		Action:       query.Action,
		From:         query.From,
		To:           query.To,
		Page:         query.Page,
		PageSize:     query.PageSize,
	}
	logs, _, err := s.audits.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to collect audit logs")
	}

	dataset := auditDataset(logs)
	var (
		rendered []byte
		rendErr  error
	)
	if format == "csv" {
		rendered, rendErr = s.csv.Render(dataset)
	} else {
		rendered, rendErr = s.pdf.Render(dataset, "Assignment Audit Trail")
	}
	if rendErr != nil {
		return nil, appErrors.Wrap(rendErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}

	now := s.now()
	filename := fmt.Sprintf("audit-%s.%s", now.Format("20060102-150405"), format)
	relPath, err := s.storage.Save(filename, rendered)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store export")
	}
	token, expiresAt, err := s.signer.Generate("audit-export", relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign export link")
	}

	s.logger.Info("audit export rendered",
		zap.String("format", format),
		zap.Int("rows", len(logs)),
		zap.String("file", relPath))

	return &dto.AuditExportResponse{
		Format:      format,
		DownloadURL: "/api/v1/audit/export/download?token=" + token,
		ExpiresAt:   expiresAt,
		RowCount:    len(logs),
	}, nil
}

// OpenExport validates a signed token and opens the referenced file.
func (s *AuditService) OpenExport(token string) (string, error) {
	_, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return "", appErrors.Clone(appErrors.ErrForbidden, "invalid or expired download token")
	}
	return s.storage.Path(relPath), nil
}

func auditDataset(logs []models.AssignmentAuditLog) export.Dataset {
	rows := make([]map[string]string, 0, len(logs))
	for _, entry := range logs {
		rows = append(rows, map[string]string{
			"Time":        entry.CreatedAt.Format(time.RFC3339),
			"Assignment":  entry.AssignmentID,
			"Actor":       entry.ActorID,
			"Action":      string(entry.Action),
			"Description": entry.Description,
		})
	}
	return export.Dataset{
		Headers: []string{"Time", "Assignment", "Actor", "Action", "Description"},
		Rows:    rows,
	}
}
