package messaging

import "context"

// MediaUploader uploads a local file to some hosting service and returns the
// public URL. The engine does not implement uploads; hosts plug one in and
// pass the resulting URL to SendImage.
type MediaUploader interface {
	Upload(ctx context.Context, path string) (string, error)
}

// SendImage sends an image message referencing an already hosted URL. The
// receiving side classifies it back into an image record.
func (s *Service) SendImage(ctx context.Context, receiver, url string) (string, error) {
	if url == "" {
		return "", ErrEmptyMessage
	}
	return s.Send(ctx, receiver, imageMarker+url)
}

// UploadAndSendImage runs the upload through the given uploader and sends
// the resulting URL.
func (s *Service) UploadAndSendImage(ctx context.Context, up MediaUploader, receiver, path string) (string, error) {
	url, err := up.Upload(ctx, path)
	if err != nil {
		return "", err
	}
	return s.SendImage(ctx, receiver, url)
}
