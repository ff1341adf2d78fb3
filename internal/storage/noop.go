package storage

import "context"

// NoopUploader é usado quando STORAGE_PROVIDER=noop. O XML fica inline no evento.
type NoopUploader struct{}

// Upload sempre devolve ErrDisabled.
func (NoopUploader) Upload(context.Context, UploadInput) (*UploadResult, error) {
	return nil, ErrDisabled
}
