package gateway

import (
	"fmt"
	"strings"
	"time"

	"github.com/gosimple/slug"
)

// Correlation ids sent to the payment gateway follow the fixed layout
// brand/ftth/customer-name/month-year/location/invoice-id. The gateway echoes
// them back on webhooks, so both build and parse live here.

const externalIDSegment = "ftth"

// BuildExternalID formats the gateway correlation id for one invoice.
func BuildExternalID(brandSlug, customerName string, dueDate time.Time, location string, invoiceID int64) string {
	month := strings.ToLower(dueDate.Format("January-2006"))
	return fmt.Sprintf("%s/%s/%s/%s/%s/%d",
		brandSlug,
		externalIDSegment,
		slug.Make(customerName),
		month,
		slug.Make(location),
		invoiceID,
	)
}

// ParseExternalID extracts the brand slug and invoice id from a correlation id.
func ParseExternalID(externalID string) (brandSlug string, invoiceID int64, err error) {
	parts := strings.Split(strings.TrimSpace(externalID), "/")
	if len(parts) != 6 || parts[1] != externalIDSegment {
		return "", 0, fmt.Errorf("malformed external id %q", externalID)
	}
	if _, err := fmt.Sscanf(parts[5], "%d", &invoiceID); err != nil || invoiceID <= 0 {
		return "", 0, fmt.Errorf("malformed invoice id in external id %q", externalID)
	}
	return parts[0], invoiceID, nil
}
