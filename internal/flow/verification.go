package flow

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kozaktomas/facegate/internal/capture"
	"github.com/kozaktomas/facegate/internal/credential"
	"github.com/kozaktomas/facegate/internal/facematch"
	"github.com/kozaktomas/facegate/internal/logging"
)

// VerificationState is a step of the login journey.
type VerificationState string

const (
	VerifyCredentialsEntry   VerificationState = "CredentialsEntry"
	VerifyCredentialsChecked VerificationState = "CredentialsChecked"
	VerifyCameraReady        VerificationState = "CameraReady"
	VerifyCapturing          VerificationState = "Capturing"
	VerifyMatching           VerificationState = "Matching"
	VerifyAuthenticated      VerificationState = "Authenticated"
	VerifyRejected           VerificationState = "Rejected"
)

func (s VerificationState) String() string { return string(s) }

// VerificationSnapshot is a read-only view of a verification.
type VerificationSnapshot struct {
	ID             string             `json:"id"`
	State          VerificationState  `json:"state"`
	Rejection      *Failure           `json:"rejection,omitempty"`
	LastFailure    *Failure           `json:"lastFailure,omitempty"`
	Identifier     string             `json:"email,omitempty"`
	CameraOpen     bool               `json:"cameraOpen"`
	ModelReady     bool               `json:"modelReady"`
	CaptureEnabled bool               `json:"captureEnabled"`
	Attempts       int                `json:"attempts"`
	AttemptsLeft   int                `json:"attemptsLeft"`
	Verdict        *facematch.Verdict `json:"verdict,omitempty"`
	UpdatedAt      time.Time          `json:"updatedAt"`
}

// Verification checks a secret and then a live face against an enrolled account.
type Verification struct {
	id     string
	deps   Deps
	camera *capture.Controller
	logger *zap.Logger

	mu            sync.Mutex
	state         VerificationState
	rejection     *Failure
	lastFailure   *Failure
	record        *credential.AccountRecord
	attempts      int
	verdict       *facematch.Verdict
	updatedAt     time.Time
	captureCancel context.CancelFunc
	generation    uint64
}

// NewVerification creates a verification in CredentialsEntry that captures through camera.
func NewVerification(deps Deps, camera *capture.Controller) *Verification {
	deps = deps.withDefaults()
	id := uuid.NewString()
	return &Verification{
		id:        id,
		deps:      deps,
		camera:    camera,
		logger:    logging.WithOperation(deps.Logger, "verification", id),
		state:     VerifyCredentialsEntry,
		updatedAt: deps.Now(),
	}
}

// ID returns the flow identifier.
func (v *Verification) ID() string { return v.id }

// State returns the current state.
func (v *Verification) State() VerificationState {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Rejection returns why the flow was rejected, or nil.
func (v *Verification) Rejection() *Failure {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.rejection
}

// LastFailure returns the most recent recoverable capture failure, if any.
func (v *Verification) LastFailure() *Failure {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.lastFailure
}

// UpdatedAt returns the time of the last state change.
func (v *Verification) UpdatedAt() time.Time {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.updatedAt
}

// Identifier returns the account being verified once credentials were checked.
func (v *Verification) Identifier() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.record == nil {
		return ""
	}
	return v.record.Identifier
}

func (v *Verification) setState(s VerificationState) {
	if v.state != s {
		v.logger.Debug("state transition", zap.String("from", string(v.state)), zap.String("to", string(s)))
	}
	v.state = s
	v.updatedAt = v.deps.Now()
}

func (v *Verification) reject(reason Reason, err error) {
	v.rejection = newFailure(reason, err, v.deps.Now())
	v.logger.Info("verification rejected", zap.String("reason", string(reason)))
	v.setState(VerifyRejected)
}

// CheckCredentials looks up identifier and verifies secret. The camera is not touched.
// Store failures other than a missing account are returned and leave the state unchanged.
func (v *Verification) CheckCredentials(ctx context.Context, identifier, secret string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state != VerifyCredentialsEntry {
		return invalidState("check credentials", v.state)
	}

	record, err := v.deps.Store.Get(ctx, identifier)
	switch {
	case errors.Is(err, credential.ErrNotFound):
		v.reject(ReasonAccountNotFound, nil)
		return nil
	case err != nil:
		wrapped := logging.NewOperationError("verification.store_get", v.id, err)
		v.logger.Error("failed to load account", zap.Error(wrapped))
		return wrapped
	}

	if !v.deps.Hasher.Verify(record.SecretHash, secret) {
		v.reject(ReasonInvalidCredential, nil)
		return nil
	}

	v.record = record
	v.setState(VerifyCredentialsChecked)
	return nil
}

// OpenCamera opens the camera and starts loading the model in the background.
func (v *Verification) OpenCamera(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	switch v.state {
	case VerifyCameraReady:
		return nil
	case VerifyCredentialsChecked:
	default:
		return invalidState("open camera", v.state)
	}

	v.deps.Gate.Warm(ctx)
	if _, err := v.camera.Open(ctx); err != nil {
		reason := ReasonFor(err)
		v.lastFailure = newFailure(reason, err, v.deps.Now())
		v.logger.Warn("camera open failed", zap.String("reason", string(reason)), zap.Error(err))
		return nil
	}
	v.lastFailure = nil
	v.setState(VerifyCameraReady)
	return nil
}

// CaptureEnabled reports whether Capture may be triggered now.
func (v *Verification) CaptureEnabled() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.captureEnabledLocked()
}

func (v *Verification) captureEnabledLocked() bool {
	return v.state == VerifyCameraReady && v.camera.IsOpen() && v.deps.Gate.Ready()
}

// Capture grabs a frame, extracts the live descriptor and compares it with the
// enrolled one. Recoverable capture failures return to CameraReady without
// losing the credential check.
func (v *Verification) Capture(ctx context.Context) error {
	v.mu.Lock()
	if v.state != VerifyCameraReady {
		defer v.mu.Unlock()
		return invalidState("capture", v.state)
	}
	if !v.camera.IsOpen() {
		defer v.mu.Unlock()
		return invalidState("capture without camera", v.state)
	}
	captureCtx, cancel := context.WithCancel(ctx)
	v.captureCancel = cancel
	v.generation++
	gen := v.generation
	v.setState(VerifyCapturing)
	v.mu.Unlock()

	_, res, err := captureFace(captureCtx, v.deps.Gate, v.camera, v.deps.Extractor)
	cancel()

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.generation != gen || v.state != VerifyCapturing {
		return nil
	}
	v.captureCancel = nil

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			v.setState(VerifyCameraReady)
			return ctxErr
		}
		reason := ReasonFor(err)
		if reason == ReasonInternal {
			v.logger.Error("capture aborted", zap.Error(err))
			v.releaseCamera()
			v.reject(ReasonInternal, err)
			return nil
		}
		v.lastFailure = newFailure(reason, err, v.deps.Now())
		v.logger.Info("capture failed", zap.String("reason", string(reason)), zap.Error(err))
		v.setState(VerifyCameraReady)
		return nil
	}

	v.lastFailure = nil
	v.setState(VerifyMatching)
	v.match(ctx, res.Descriptor)
	return nil
}

func (v *Verification) match(ctx context.Context, live facematch.Descriptor) {
	if !v.record.HasDescriptor() {
		v.releaseCamera()
		v.reject(ReasonNoEnrolledBiometric, nil)
		return
	}

	verdict, err := facematch.Compare(live, v.record.FaceDescriptor)
	if err != nil {
		v.releaseCamera()
		v.reject(ReasonInternal, err)
		return
	}
	v.verdict = &verdict
	v.attempts++

	if verdict.Match {
		v.releaseCamera()
		v.setState(VerifyAuthenticated)
		v.logger.Info("verification authenticated", zap.Float64("distance", verdict.Distance))
		v.deps.success(ctx, v.record.Identifier)
		return
	}

	v.logger.Info("biometric mismatch", zap.Float64("distance", verdict.Distance), zap.Int("attempt", v.attempts))
	if v.attempts >= v.deps.MaxBiometricAttempts {
		v.releaseCamera()
	}
	v.reject(ReasonBiometricMismatch, nil)
}

// Retry returns a mismatched verification to CameraReady while attempts remain.
func (v *Verification) Retry() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state != VerifyRejected || v.rejection == nil || v.rejection.Reason != ReasonBiometricMismatch {
		return invalidState("retry", v.state)
	}
	if v.attempts >= v.deps.MaxBiometricAttempts {
		return ErrAttemptsExhausted
	}
	if !v.camera.IsOpen() {
		return invalidState("retry without camera", v.state)
	}
	v.rejection = nil
	v.setState(VerifyCameraReady)
	return nil
}

// Cancel releases the camera and returns to CredentialsChecked, keeping the credential check.
func (v *Verification) Cancel() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	switch {
	case v.state == VerifyCameraReady, v.state == VerifyCapturing:
	case v.state == VerifyRejected && v.rejection != nil && v.rejection.Reason == ReasonBiometricMismatch &&
		v.attempts < v.deps.MaxBiometricAttempts:
		v.rejection = nil
	default:
		return invalidState("cancel", v.state)
	}
	v.stopCapture()
	v.releaseCamera()
	v.lastFailure = nil
	v.setState(VerifyCredentialsChecked)
	return nil
}

// Close releases the camera regardless of state. Used when a flow is discarded.
func (v *Verification) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.stopCapture()
	if v.state == VerifyCapturing {
		v.setState(VerifyCameraReady)
	}
	return v.camera.Close()
}

// Snapshot returns the current view of the flow.
func (v *Verification) Snapshot() VerificationSnapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	s := VerificationSnapshot{
		ID:             v.id,
		State:          v.state,
		Rejection:      v.rejection,
		LastFailure:    v.lastFailure,
		CameraOpen:     v.camera.IsOpen(),
		ModelReady:     v.deps.Gate.Ready(),
		CaptureEnabled: v.captureEnabledLocked(),
		Attempts:       v.attempts,
		AttemptsLeft:   max(0, v.deps.MaxBiometricAttempts-v.attempts),
		Verdict:        v.verdict,
		UpdatedAt:      v.updatedAt,
	}
	if v.record != nil {
		s.Identifier = v.record.Identifier
	}
	return s
}

func (v *Verification) stopCapture() {
	if v.captureCancel != nil {
		v.captureCancel()
		v.captureCancel = nil
	}
	v.generation++
}

func (v *Verification) releaseCamera() {
	if err := v.camera.Close(); err != nil {
		v.logger.Warn("failed to release camera", zap.Error(err))
	}
}
