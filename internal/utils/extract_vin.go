package utils

import (
	"vin-service/internal/domain/vin"
)

// ExtractBestVIN finds a VIN in noisy recognized text.
//
// The leftmost checksum-valid 17 character window of the normalized text wins.
// When no window validates, the first 17 characters of the normalized text are
// returned with Verified=false. Text with fewer than 17 VIN characters yields
// ok=false.
func ExtractBestVIN(raw string) (vin.Candidate, bool) {
	cleaned := NormalizeVIN(raw)
	if len(cleaned) < VINLength {
		return vin.Candidate{}, false
	}

	for i := 0; i+VINLength <= len(cleaned); i++ {
		window := cleaned[i : i+VINLength]
		if ValidVINChecksum(window) {
			return vin.Candidate{VIN: vin.VIN(window), Verified: true, Offset: i}, true
		}
	}

	// cleaned holds only VIN characters, so its first window is the first
	// alphabet run of the right length.
	return vin.Candidate{VIN: vin.VIN(cleaned[:VINLength]), Verified: false, Offset: 0}, true
}
