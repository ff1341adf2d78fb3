package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/otenielpinto/mdfe/internal/config"
)

// ErrDisabled indica que nenhum backend de armazenamento foi configurado.
var ErrDisabled = errors.New("storage: uploader não configurado")

// UploadInput descreve um artefato fiscal (XML ou DANFE em PDF) a ser guardado.
type UploadInput struct {
	Key         string
	Body        []byte
	ContentType string
	// Metadata vira cabeçalhos x-amz-meta-*.
	Metadata map[string]string
}

// UploadResult descreve o artefato persistido.
type UploadResult struct {
	URL  string
	ETag string
}

// Uploader armazena blobs.
type Uploader interface {
	Upload(ctx context.Context, input UploadInput) (*UploadResult, error)
}

// New escolhe o backend conforme STORAGE_PROVIDER.
func New(cfg config.StorageConfig) (Uploader, error) {
	switch cfg.Provider {
	case "", "noop":
		return NoopUploader{}, nil
	case "s3", "r2", "minio":
		return NewS3Uploader(S3Config{
			Endpoint:     cfg.S3Endpoint,
			Region:       cfg.S3Region,
			Bucket:       cfg.S3Bucket,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			PublicDomain: cfg.S3PublicURL,
		})
	default:
		return nil, fmt.Errorf("storage: provedor %s não suportado", cfg.Provider)
	}
}

// Enabled informa se u grava de fato em algum lugar.
func Enabled(u Uploader) bool {
	if u == nil {
		return false
	}
	_, noop := u.(NoopUploader)
	return !noop
}

// ArtifactKey monta a chave mdfe/<tenant>/<mdfe>/<tipo>-<seq>.<ext>.
func ArtifactKey(tenantID, mdfeID uuid.UUID, tipoEvento string, seq int, ext string) string {
	tipo := strings.TrimSpace(tipoEvento)
	if tipo == "" {
		tipo = "evento"
	}
	return fmt.Sprintf("mdfe/%s/%s/%s-%d.%s", tenantID, mdfeID, tipo, seq, strings.TrimPrefix(ext, "."))
}
