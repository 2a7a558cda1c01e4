package monitor

import (
	"fmt"
	"strings"
	"time"

	"github.com/hamed0406/speedmon/internal/domain"
)

const timestampLayout = "2006-01-02 15:04:05"

// alertMessage renders the notification sent when a cycle falls below its
// threshold.
func alertMessage(kind domain.Kind, threshold float64, res domain.MeasurementResult, at time.Time) (subject, body string) {
	subject = fmt.Sprintf("Speedmon - Internet %s speed alert", kind)

	var b strings.Builder
	b.WriteString("Hello,\n\n")
	fmt.Fprintf(&b, "Your internet %s speed has fallen below the threshold you configured.\n\n", kind)
	b.WriteString("Details:\n")
	fmt.Fprintf(&b, "  Timestamp:     %s\n", at.Format(timestampLayout))
	fmt.Fprintf(&b, "  Threshold:     %s\n", domain.FormatRate(threshold))
	fmt.Fprintf(&b, "  Current speed: %s\n", domain.FormatRate(res.RateMbps))
	if res.Error != domain.ErrKindNone {
		fmt.Fprintf(&b, "  Probe error:   %s\n", res.Error)
	}
	b.WriteString("\nPlease check your connection or contact your provider if the problem persists.\n\n")
	b.WriteString("Speedmon")
	return subject, b.String()
}
