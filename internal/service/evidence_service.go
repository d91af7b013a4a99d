package service

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/taskdesk/taskdesk-api/pkg/config"
	appErrors "github.com/taskdesk/taskdesk-api/pkg/errors"
	"github.com/taskdesk/taskdesk-api/pkg/storage"
)

// EvidenceService stores uploaded evidence files on the local filesystem
// and hands out HMAC-signed download tokens. File references recorded on
// activities are paths relative to the evidence directory.
type EvidenceService struct {
	storage *storage.LocalStorage
	signer  *storage.SignedURLSigner
	maxSize int64
	logger  *zap.Logger
}

// NewEvidenceService prepares the storage directory and signer.
func NewEvidenceService(cfg config.EvidenceConfig, logger *zap.Logger) (*EvidenceService, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	store, err := storage.NewLocalStorage(cfg.StorageDir)
	if err != nil {
		return nil, fmt.Errorf("prepare evidence storage: %w", err)
	}
	maxSize := cfg.MaxFileSizeBytes
	if maxSize <= 0 {
		maxSize = 25 << 20
	}
	return &EvidenceService{
		storage: store,
		signer:  storage.NewSignedURLSigner(cfg.SignedURLSecret, cfg.SignedURLTTL),
		maxSize: maxSize,
		logger:  logger,
	}, nil
}

// SaveFile persists an uploaded evidence file and returns its reference.
// The original filename is kept for display but namespaced by a uuid so
// uploads never collide.
func (s *EvidenceService) SaveFile(originalName string, size int64, r io.Reader) (string, error) {
	if size > s.maxSize {
		return "", appErrors.Clone(appErrors.ErrValidation,
			fmt.Sprintf("file exceeds the %d byte evidence limit", s.maxSize))
	}
	base := filepath.Base(strings.TrimSpace(originalName))
	if base == "" || base == "." || base == string(filepath.Separator) {
		base = "evidence"
	}
	filename := uuid.NewString() + "_" + base

	relPath, err := s.storage.SaveStream(filename, io.LimitReader(r, s.maxSize+1))
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store evidence file")
	}
	s.logger.Debug("evidence file stored", zap.String("file", relPath), zap.Int64("size", size))
	return relPath, nil
}

// SignedURL mints a download token for a stored evidence reference.
func (s *EvidenceService) SignedURL(fileRef string) (string, time.Time, error) {
	token, expiresAt, err := s.signer.Generate("evidence", fileRef)
	if err != nil {
		return "", time.Time{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to sign evidence link")
	}
	return token, expiresAt, nil
}

// Resolve validates a download token and returns the absolute file path.
func (s *EvidenceService) Resolve(token string) (string, error) {
	_, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return "", appErrors.Clone(appErrors.ErrForbidden, "invalid or expired evidence token")
	}
	return s.storage.Path(relPath), nil
}
