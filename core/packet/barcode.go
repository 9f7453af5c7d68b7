package packet

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const maxBarcodeAttempts = 5

var newBarcode = generateBarcode // mockable

// generateBarcode returns "EP<exam year id>-<10 random upper hex digits>".
func generateBarcode(examYearID int64) string {
	raw := strings.ReplaceAll(uuid.New().String(), "-", "")
	return fmt.Sprintf("EP%04d-%s", examYearID%10000, strings.ToUpper(raw[:10]))
}
