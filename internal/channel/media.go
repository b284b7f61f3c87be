package channel

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// defaultMaxMedia caps downloads when the channel was built without a limit.
const defaultMaxMedia = 10 << 20

// fetchMedia downloads an attachment. At most limit+1 bytes are read so the
// conversation can still tell an oversized picture from a valid one.
func fetchMedia(ctx context.Context, client *http.Client, url, bearer string, limit int) ([]byte, string, error) {
	if limit <= 0 {
		limit = defaultMaxMedia
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("build media request: %w", err)
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download media: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("download media: status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, int64(limit)+1))
	if err != nil {
		return nil, "", fmt.Errorf("read media: %w", err)
	}
	mime := resp.Header.Get("Content-Type")
	if i := strings.IndexByte(mime, ';'); i >= 0 {
		mime = strings.TrimSpace(mime[:i])
	}
	return data, mime, nil
}

func isImageMime(mime string) bool {
	return strings.HasPrefix(mime, "image/")
}
