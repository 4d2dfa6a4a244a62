package vin

import (
	"time"

	"github.com/google/uuid"
)

// VIN is a canonical (uppercase, 17 character) vehicle identification number.
// Build it with utils.ParseVIN or utils.ExtractBestVIN.
type VIN string

func (v VIN) String() string {
	return string(v)
}

type Geolocation struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Candidate is the result of extracting a VIN from recognized text.
// Verified is false when the value came from the no-checksum fallback.
type Candidate struct {
	VIN      VIN
	Verified bool
	Offset   int
}

type RecognitionOutput struct {
	Text       string  `json:"text,omitempty"`
	Label      string  `json:"label,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Kind       string  `json:"kind,omitempty"`
}

// Raw returns the text the candidate extractor should search.
func (o RecognitionOutput) Raw() string {
	if o.Text != "" {
		return o.Text
	}
	return o.Label
}

// ScanAttempt describes one recognition cycle. It is never persisted.
type ScanAttempt struct {
	Raw       string
	Candidate *Candidate
	Checksum  bool
	At        time.Time
}

// ScanResult is submitted to persistence. It is only built for VINs that
// passed checksum validation.
type ScanResult struct {
	VIN            VIN          `json:"vin"`
	CapturedAt     time.Time    `json:"captured_at"`
	Geolocation    *Geolocation `json:"geolocation"`
	SourceIP       *string      `json:"source_ip"`
	MaterialOrKind *string      `json:"material_kind"`
	Recognizer     string       `json:"recognizer,omitempty"`
	RawText        string       `json:"raw_text,omitempty"`
}

type Outcome int

const (
	OutcomeSaved Outcome = iota + 1
	OutcomeDuplicate
	OutcomeTransientError
	OutcomePermanentError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSaved:
		return "saved"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeTransientError:
		return "transient_error"
	case OutcomePermanentError:
		return "permanent_error"
	default:
		return "unknown"
	}
}

// SubmitResponse is the body the backend returns for a scan submission.
type SubmitResponse struct {
	Status string    `json:"status"`
	ID     uuid.UUID `json:"id"`
	VIN    string    `json:"vin"`
	Error  string    `json:"error,omitempty"`
}

const (
	StatusCreated   = "created"
	StatusDuplicate = "duplicate"
)

type RecordInfo struct {
	ID          uuid.UUID  `json:"id"`
	VIN         string     `json:"vin"`
	Material    *string    `json:"material_kind,omitempty"`
	SnapshotURL *string    `json:"snapshot_url,omitempty"`
	FirstSeenAt time.Time  `json:"first_seen_at"`
	ScanCount   int64      `json:"scan_count"`
	LastScanAt  *time.Time `json:"last_scan_at,omitempty"`
}
