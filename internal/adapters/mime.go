package adapters

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/nextlevelbuilder/relayclaw/internal/bus"
)

// maxInboundDownload caps bytes fetched per inbound attachment. Larger
// files are forwarded as metadata-only references.
const maxInboundDownload = 25 << 20

// ClassifyMime maps a MIME type onto the normalized attachment types.
func ClassifyMime(mime string) string {
	switch {
	case strings.HasPrefix(mime, "image/"):
		return bus.AttachmentImage
	case strings.HasPrefix(mime, "audio/"):
		return bus.AttachmentAudio
	case strings.HasPrefix(mime, "video/"):
		return bus.AttachmentVideo
	case mime == "application/pdf":
		return bus.AttachmentPDF
	case strings.HasPrefix(mime, "text/"):
		return bus.AttachmentText
	default:
		return bus.AttachmentFile
	}
}

// DownloadAttachment fetches an attachment URL with a size cap. Returns
// nil bytes (not an error) when the file is too large to inline.
func DownloadAttachment(client *http.Client, url string) ([]byte, error) {
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Get(url)
	if err != nil {
		return nil, fmt.Errorf("download attachment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download attachment: status %d", resp.StatusCode)
	}
	if resp.ContentLength > maxInboundDownload {
		return nil, nil
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxInboundDownload+1))
	if err != nil {
		return nil, fmt.Errorf("read attachment: %w", err)
	}
	if len(data) > maxInboundDownload {
		return nil, nil
	}
	return data, nil
}
