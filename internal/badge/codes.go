package badge

import (
	"strings"

	"github.com/google/uuid"
	"github.com/skip2/go-qrcode"
)

const (
	studentPrefix  = "ALUNO-"
	guardianPrefix = "PAI-"

	defaultQRSize = 256
	minQRSize     = 128
	maxQRSize     = 1024
)

// NewStudentCode issues a code in the student namespace.
func NewStudentCode() string {
	return studentPrefix + randomSuffix()
}

// NewGuardianCode issues a code in the guardian namespace.
func NewGuardianCode() string {
	return guardianPrefix + randomSuffix()
}

func randomSuffix() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return strings.ToUpper(id[:10])
}

// PNG renders code as a QR image of size x size pixels. Out of range sizes
// are clamped.
func PNG(code string, size int) ([]byte, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, ErrEmptyCode
	}
	switch {
	case size <= 0:
		size = defaultQRSize
	case size < minQRSize:
		size = minQRSize
	case size > maxQRSize:
		size = maxQRSize
	}
	return qrcode.Encode(code, qrcode.Medium, size)
}
