package recognizer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"vin-service/internal/capture"
	"vin-service/internal/domain/vin"
)

const maxResponseBytes = 1 << 20

// OcrReader отправляет кадр в OCR-сервис и возвращает распознанный текст
type OcrReader struct {
	client *http.Client
	url    string
}

func NewOcrReader(client *http.Client, url string) *OcrReader {
	return &OcrReader{client: client, url: url}
}

type ocrResponse struct {
	Text string `json:"text"`
}

func (r *OcrReader) Recognize(ctx context.Context, frame capture.Frame) (vin.RecognitionOutput, error) {
	if frame.IsText() {
		return vin.RecognitionOutput{Text: frame.Text, Kind: KindOCR}, nil
	}

	var resp ocrResponse
	if err := postImage(ctx, r.client, r.url, frame, &resp); err != nil {
		return vin.RecognitionOutput{}, fmt.Errorf("ocr: %w", err)
	}
	return vin.RecognitionOutput{Text: resp.Text, Kind: KindOCR}, nil
}

func postImage(ctx context.Context, client *http.Client, url string, frame capture.Frame, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(frame.Image))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	contentType := frame.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
