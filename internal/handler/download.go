package handler

import (
	"github.com/gofiber/fiber/v2"

	"github.com/trackmash/api/internal/cache"
	"github.com/trackmash/api/pkg/response"
)

// ArchiveSource resolves delivery tokens to cached archives.
type ArchiveSource interface {
	Get(token string) (cache.Entry, bool)
}

// DownloadHandler serves pull delivery: archives by cache token.
type DownloadHandler struct {
	store ArchiveSource
}

func NewDownloadHandler(store ArchiveSource) *DownloadHandler {
	return &DownloadHandler{store: store}
}

// Get handles GET /download/:token. Unknown, expired and storage-lost
// tokens all answer identically, including an archive swept between the
// lookup and the send.
func (h *DownloadHandler) Get(c *fiber.Ctx) error {
	token := c.Params("token")
	if token == "" {
		return response.ValidationError(c, "Token is required", nil)
	}

	entry, ok := h.store.Get(token)
	if !ok {
		return response.NotFound(c, "Download link is expired or invalid")
	}

	if err := c.Download(entry.Path, entry.DisplayName); err != nil {
		return response.NotFound(c, "Download link is expired or invalid")
	}
	return nil
}
