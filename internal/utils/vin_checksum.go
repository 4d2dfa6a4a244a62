package utils

var transliteration = map[rune]int{
	'A': 1, 'B': 2, 'C': 3, 'D': 4, 'E': 5, 'F': 6, 'G': 7, 'H': 8,
	'J': 1, 'K': 2, 'L': 3, 'M': 4, 'N': 5, 'P': 7, 'R': 9,
	'S': 2, 'T': 3, 'U': 4, 'V': 5, 'W': 6, 'X': 7, 'Y': 8, 'Z': 9,
}

var positionWeights = [VINLength]int{8, 7, 6, 5, 4, 3, 2, 10, 0, 9, 8, 7, 6, 5, 4, 3, 2}

const checkDigitIndex = 8

func transliterate(r rune) int {
	if r >= '0' && r <= '9' {
		return int(r - '0')
	}
	return transliteration[r]
}

// VINCheckDigit computes the ISO 3779 / NHTSA check character for a
// well-formed candidate. The character at index 8 does not affect the result.
func VINCheckDigit(candidate string) byte {
	sum := 0
	for i, r := range candidate {
		if i >= VINLength {
			break
		}
		sum += transliterate(r) * positionWeights[i]
	}
	rem := sum % 11
	if rem == 10 {
		return 'X'
	}
	return byte('0' + rem)
}

// ValidVINChecksum reports whether candidate is a 17 character VIN whose
// check character matches. It never panics and returns false for anything
// that is not shaped like a VIN.
func ValidVINChecksum(candidate string) bool {
	if !IsLikelyVIN(candidate) {
		return false
	}
	return candidate[checkDigitIndex] == VINCheckDigit(candidate)
}
