package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	_ "image/png"
	"os"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"golang.org/x/image/draw"
	"google.golang.org/api/option"

	"github.com/lehigh-university-libraries/bgremover/internal/providers"
)

const defaultModel = "gemini-2.5-flash"

const segmentationPrompt = `Give the segmentation masks for the main foreground subjects of this image.
Output a JSON list of segmentation masks where each entry contains the 2D bounding box in the key "box_2d",
the segmentation mask in key "mask", and the text label in the key "label".`

// Gemini is a segmenter backed by Google Gemini segmentation masks
type Gemini struct {
	Model string
}

// New returns a new Gemini segmenter
func New(model string) *Gemini {
	if model == "" {
		model = os.Getenv("GEMINI_MODEL")
	}
	if model == "" {
		model = defaultModel
	}
	return &Gemini{Model: model}
}

func (g *Gemini) NeedsAssets() bool { return false }

// Segment asks Gemini for object masks and merges them into one
func (g *Gemini) Segment(ctx context.Context, img image.Image, req providers.Request) (*image.Alpha, error) {
	apiKey := os.Getenv("GEMINI_API_KEY")
	if apiKey == "" {
		return nil, fmt.Errorf("GEMINI_API_KEY environment variable not set")
	}

	data, err := providers.EncodePNG(img)
	if err != nil {
		return nil, err
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create new gemini client: %w", err)
	}
	defer client.Close()

	model := client.GenerativeModel(g.Model)
	model.SetTemperature(0)
	model.ResponseMIMEType = "application/json"

	resp, err := model.GenerateContent(ctx, genai.ImageData("png", data), genai.Text(segmentationPrompt))
	if err != nil {
		return nil, fmt.Errorf("failed to generate content: %w", err)
	}

	if len(resp.Candidates) == 0 {
		return nil, fmt.Errorf("no candidates returned from Gemini")
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return nil, fmt.Errorf("empty content returned from Gemini")
	}

	txt, ok := candidate.Content.Parts[0].(genai.Text)
	if !ok {
		return nil, fmt.Errorf("unexpected response format from Gemini")
	}

	return composeMasks(string(txt), img.Bounds().Dx(), img.Bounds().Dy())
}

type segment struct {
	Box   [4]int `json:"box_2d"`
	Mask  string `json:"mask"`
	Label string `json:"label"`
}

// composeMasks places every returned mask into its box (normalised to
// 0-1000, y before x) and keeps the strongest value per pixel.
func composeMasks(text string, width, height int) (*image.Alpha, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")

	var segments []segment
	if err := json.Unmarshal([]byte(strings.TrimSpace(text)), &segments); err != nil {
		return nil, fmt.Errorf("failed to parse segmentation response: %w", err)
	}
	if len(segments) == 0 {
		return nil, fmt.Errorf("no foreground found")
	}

	out := image.NewAlpha(image.Rect(0, 0, width, height))
	for _, s := range segments {
		y0 := s.Box[0] * height / 1000
		x0 := s.Box[1] * width / 1000
		y1 := s.Box[2] * height / 1000
		x1 := s.Box[3] * width / 1000
		box := image.Rect(x0, y0, x1, y1).Intersect(out.Bounds())
		if box.Empty() {
			continue
		}

		raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(s.Mask, "data:image/png;base64,"))
		if err != nil {
			return nil, fmt.Errorf("failed to decode mask for %q: %w", s.Label, err)
		}
		decoded, _, err := image.Decode(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("failed to decode mask image for %q: %w", s.Label, err)
		}

		mask := providers.MaskFromImage(decoded)
		scaled := image.NewAlpha(image.Rect(0, 0, box.Dx(), box.Dy()))
		draw.BiLinear.Scale(scaled, scaled.Bounds(), mask, mask.Bounds(), draw.Src, nil)

		for y := 0; y < box.Dy(); y++ {
			for x := 0; x < box.Dx(); x++ {
				a := scaled.Pix[y*scaled.Stride+x]
				i := (box.Min.Y+y)*out.Stride + box.Min.X + x
				if a > out.Pix[i] {
					out.Pix[i] = a
				}
			}
		}
	}
	return out, nil
}
