package probe

import (
	"context"

	"github.com/pkg/errors"

	"github.com/hamed0406/speedmon/internal/domain"
)

// Suite binds both probes to their configured targets so a caller only has
// to name the kind of measurement it wants.
type Suite struct {
	Download       *DownloadProbe
	DownloadTarget DownloadTarget
	Upload         *UploadProbe
	UploadTarget   UploadTarget
}

// Measure runs the probe for kind. The returned error is non-nil only when
// the probe could not be started at all (unknown kind, missing probe, or
// domain.ErrAlreadyRunning); measurement failures travel in the result.
func (s *Suite) Measure(ctx context.Context, kind domain.Kind, onProgress ProgressFunc) (domain.MeasurementResult, error) {
	switch kind {
	case domain.Download:
		if s.Download == nil {
			return domain.MeasurementResult{}, errors.New("download probe not configured")
		}
		return s.Download.Run(ctx, s.DownloadTarget, onProgress)
	case domain.Upload:
		if s.Upload == nil {
			return domain.MeasurementResult{}, errors.New("upload probe not configured")
		}
		return s.Upload.Run(ctx, s.UploadTarget, onProgress)
	}
	return domain.MeasurementResult{}, errors.Errorf("unknown measurement kind %q", kind)
}
