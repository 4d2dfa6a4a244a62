package recognizer

import (
	"context"
	"strings"

	"vin-service/internal/capture"
	"vin-service/internal/domain/vin"
)

// BarcodeReader handles Code 39 payloads already decoded by a hardware
// scanner (keyboard wedge). Image decoding is not supported.
type BarcodeReader struct{}

func (BarcodeReader) Recognize(_ context.Context, frame capture.Frame) (vin.RecognitionOutput, error) {
	if !frame.IsText() {
		return vin.RecognitionOutput{}, ErrUnsupportedFrame
	}
	return vin.RecognitionOutput{Text: CleanCode39(frame.Text), Kind: KindBarcode}, nil
}

// CleanCode39 strips start/stop asterisks and the leading "I" that imported
// vehicles carry in front of an otherwise 17 character VIN barcode.
func CleanCode39(payload string) string {
	s := strings.TrimSpace(payload)
	s = strings.Trim(s, "*")
	s = strings.TrimSpace(s)
	if len(s) == 18 && (s[0] == 'I' || s[0] == 'i') {
		s = s[1:]
	}
	return s
}
