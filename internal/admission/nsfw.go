package admission

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/disintegration/imaging"
)

// NSFWDetector classifies an image attachment.
type NSFWDetector interface {
	IsUnsafe(ctx context.Context, imageURL string) (bool, error)
}

const (
	maxImageBytes = 8 << 20
	// Classifiers work on small inputs; shipping full-resolution uploads
	// wastes bandwidth and their time.
	classifierEdge = 384
)

// HTTPDetector downloads the attachment, downscales it, and submits the
// JPEG to an external classifier endpoint that answers {"score": 0..1}.
type HTTPDetector struct {
	client    *http.Client
	endpoint  string
	threshold float64
}

func NewHTTPDetector(endpoint string, threshold float64) *HTTPDetector {
	if threshold <= 0 {
		threshold = 0.85
	}
	return &HTTPDetector{
		client:    &http.Client{Timeout: 15 * time.Second},
		endpoint:  endpoint,
		threshold: threshold,
	}
}

func (d *HTTPDetector) IsUnsafe(ctx context.Context, imageURL string) (bool, error) {
	payload, err := d.preprocess(ctx, imageURL)
	if err != nil {
		return false, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(payload))
	if err != nil {
		return false, fmt.Errorf("build classifier request: %w", err)
	}
	req.Header.Set("Content-Type", "image/jpeg")
	resp, err := d.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("classify image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("classify image: status %d", resp.StatusCode)
	}

	var out struct {
		Score float64 `json:"score"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return false, fmt.Errorf("decode classifier response: %w", err)
	}
	return out.Score >= d.threshold, nil
}

func (d *HTTPDetector) preprocess(ctx context.Context, imageURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build image request: %w", err)
	}
	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch image: status %d", resp.StatusCode)
	}

	img, err := imaging.Decode(io.LimitReader(resp.Body, maxImageBytes), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	thumb := imaging.Fit(img, classifierEdge, classifierEdge, imaging.Lanczos)

	var buf bytes.Buffer
	if err := imaging.Encode(&buf, thumb, imaging.JPEG, imaging.JPEGQuality(85)); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}
