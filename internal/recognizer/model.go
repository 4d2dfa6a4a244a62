package recognizer

import (
	"context"
	"fmt"
	"net/http"

	"vin-service/internal/capture"
	"vin-service/internal/domain/vin"
)

type Prediction struct {
	ClassName   string  `json:"className"`
	Probability float64 `json:"probability"`
}

type modelResponse struct {
	Predictions []Prediction `json:"predictions"`
}

// ModelClassifier calls an image classification endpoint whose class names
// are the VINs it was trained on. Only a prediction strictly above the
// threshold is reported.
type ModelClassifier struct {
	client    *http.Client
	url       string
	threshold float64
}

func NewModelClassifier(client *http.Client, url string, threshold float64) *ModelClassifier {
	return &ModelClassifier{client: client, url: url, threshold: threshold}
}

func (m *ModelClassifier) Recognize(ctx context.Context, frame capture.Frame) (vin.RecognitionOutput, error) {
	if frame.IsText() {
		return vin.RecognitionOutput{}, ErrUnsupportedFrame
	}

	var resp modelResponse
	if err := postImage(ctx, m.client, m.url, frame, &resp); err != nil {
		return vin.RecognitionOutput{}, fmt.Errorf("model: %w", err)
	}

	best, ok := BestPrediction(resp.Predictions, m.threshold)
	if !ok {
		return vin.RecognitionOutput{Kind: KindModel}, nil
	}
	return vin.RecognitionOutput{
		Label:      best.ClassName,
		Confidence: best.Probability,
		Kind:       KindModel,
	}, nil
}

func BestPrediction(predictions []Prediction, threshold float64) (Prediction, bool) {
	var (
		best  Prediction
		found bool
	)
	for _, p := range predictions {
		if p.Probability <= threshold {
			continue
		}
		if !found || p.Probability > best.Probability {
			best = p
			found = true
		}
	}
	return best, found
}
