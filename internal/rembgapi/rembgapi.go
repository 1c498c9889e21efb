package rembgapi

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/png"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/lehigh-university-libraries/bgremover/internal/providers"
)

// Client asks a rembg server for a foreground mask
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// New returns a client for the rembg server at baseURL, falling back to
// REMBG_URL and then to a local server.
func New(baseURL string) *Client {
	if baseURL == "" {
		baseURL = os.Getenv("REMBG_URL")
	}
	if baseURL == "" {
		baseURL = "http://localhost:7000"
	}
	return &Client{
		BaseURL: strings.TrimSuffix(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

func (c *Client) NeedsAssets() bool { return false }

// Segment posts the image to /api/remove in mask-only mode
func (c *Client) Segment(ctx context.Context, img image.Image, req providers.Request) (*image.Alpha, error) {
	data, err := providers.EncodePNG(img)
	if err != nil {
		return nil, err
	}

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "image.png")
	if err != nil {
		return nil, fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("failed to write form file: %w", err)
	}
	if req.Model != "" {
		_ = writer.WriteField("model", req.Model)
	}
	_ = writer.WriteField("om", "true")
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close multipart body: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/api/remove", body)
	if err != nil {
		return nil, fmt.Errorf("failed to create new request: %w", err)
	}
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("received non-200 status code: %d - %s", resp.StatusCode, string(msg))
	}

	out, _, err := image.Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to decode mask: %w", err)
	}
	return providers.MaskFromImage(out), nil
}
