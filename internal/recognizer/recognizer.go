package recognizer

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"vin-service/internal/capture"
	"vin-service/internal/config"
	"vin-service/internal/domain/vin"
)

const (
	KindText    = "text"
	KindOCR     = "ocr"
	KindModel   = "model"
	KindBarcode = "barcode"
)

var ErrUnsupportedFrame = errors.New("frame type not supported by recognizer")

// Recognizer turns a captured frame into raw text or a class label. An empty
// output is not an error: it just means nothing was recognized.
type Recognizer interface {
	Recognize(ctx context.Context, frame capture.Frame) (vin.RecognitionOutput, error)
}

func New(cfg config.RecognizerConfig, client *http.Client) (Recognizer, error) {
	switch cfg.Kind {
	case KindText, "":
		return TextReader{}, nil
	case KindOCR:
		return NewOcrReader(client, cfg.OCRURL), nil
	case KindModel:
		return NewModelClassifier(client, cfg.ModelURL, cfg.ModelThreshold), nil
	case KindBarcode:
		return BarcodeReader{}, nil
	default:
		return nil, fmt.Errorf("unknown recognizer %q", cfg.Kind)
	}
}

// TextReader passes already recognized text through.
type TextReader struct{}

func (TextReader) Recognize(_ context.Context, frame capture.Frame) (vin.RecognitionOutput, error) {
	if !frame.IsText() {
		return vin.RecognitionOutput{}, ErrUnsupportedFrame
	}
	return vin.RecognitionOutput{Text: frame.Text, Kind: KindText}, nil
}
