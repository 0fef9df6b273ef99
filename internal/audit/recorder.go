package audit

import (
	"context"
	"time"
)

// recordTimeout bounds a single audit insert.
const recordTimeout = 2 * time.Second

// Logger is the logging interface used by the recorder.
type Logger interface {
	Warn(msg string, args ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any) {}

// Recorder writes audit entries and swallows storage errors.
type Recorder struct {
	repo   Repository
	logger Logger
	now    func() time.Time
}

// NewRecorder creates a Recorder over repo.
func NewRecorder(repo Repository, logger Logger) *Recorder {
	if logger == nil {
		logger = noopLogger{}
	}
	return &Recorder{repo: repo, logger: logger, now: time.Now}
}

// Command records a command sent to deviceID. A nil cmdErr is a success.
func (r *Recorder) Command(ctx context.Context, source, subject, deviceID, command string, cmdErr error) {
	r.record(ctx, &AuditLog{
		Action:   command,
		DeviceID: deviceID,
		Source:   source,
		Subject:  subject,
	}, cmdErr)
}

// Pairing records a pair or unpair action.
func (r *Recorder) Pairing(ctx context.Context, action, subject, deviceID string, opErr error) {
	r.record(ctx, &AuditLog{
		Action:   action,
		DeviceID: deviceID,
		Source:   SourceAPI,
		Subject:  subject,
	}, opErr)
}

func (r *Recorder) record(ctx context.Context, log *AuditLog, opErr error) {
	if r == nil {
		return
	}
	log.Outcome = OutcomeOK
	if opErr != nil {
		log.Outcome = OutcomeFailed
		log.Details = map[string]any{"error": opErr.Error()}
	}
	log.CreatedAt = r.now().UTC()

	// The caller's request may already be finished; the entry must still land.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	if err := r.repo.Create(ctx, log); err != nil {
		r.logger.Warn("audit write failed", "action", log.Action, "device_id", log.DeviceID, "error", err)
	}
}

// List returns recorded entries matching filter.
func (r *Recorder) List(ctx context.Context, filter Filter) (*ListResult, error) {
	return r.repo.List(ctx, filter)
}
