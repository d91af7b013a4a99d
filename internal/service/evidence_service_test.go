package service

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/taskdesk/taskdesk-api/pkg/config"
	appErrors "github.com/taskdesk/taskdesk-api/pkg/errors"
)

func newEvidenceFixture(t *testing.T) *EvidenceService {
	t.Helper()
	svc, err := NewEvidenceService(config.EvidenceConfig{
		StorageDir:       t.TempDir(),
		SignedURLSecret:  "test-secret",
		SignedURLTTL:     time.Minute,
		MaxFileSizeBytes: 1024,
	}, zap.NewNop())
	require.NoError(t, err)
	return svc
}

func TestEvidenceSaveFileNamespacesUploads(t *testing.T) {
	svc := newEvidenceFixture(t)
	content := "access log contents"

	first, err := svc.SaveFile("logs.txt", int64(len(content)), strings.NewReader(content))
	require.NoError(t, err)
	second, err := svc.SaveFile("logs.txt", int64(len(content)), strings.NewReader(content))
	require.NoError(t, err)

	// same original name never collides
	assert.NotEqual(t, first, second)
	assert.True(t, strings.HasSuffix(first, "_logs.txt"))
}

func TestEvidenceSaveFileRejectsOversize(t *testing.T) {
	svc := newEvidenceFixture(t)

	_, err := svc.SaveFile("big.bin", 4096, strings.NewReader("x"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestEvidenceSignedURLRoundTrip(t *testing.T) {
	svc := newEvidenceFixture(t)
	content := "proof"

	fileRef, err := svc.SaveFile("proof.txt", int64(len(content)), strings.NewReader(content))
	require.NoError(t, err)

	token, expiresAt, err := svc.SignedURL(fileRef)
	require.NoError(t, err)
	assert.True(t, expiresAt.After(time.Now()))

	path, err := svc.Resolve(token)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, content, string(data))
}

func TestEvidenceResolveRejectsTamperedToken(t *testing.T) {
	svc := newEvidenceFixture(t)

	_, err := svc.Resolve("not-a-real-token")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)
}
