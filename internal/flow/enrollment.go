package flow

import (
	"context"
	"maps"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kozaktomas/facegate/internal/capture"
	"github.com/kozaktomas/facegate/internal/credential"
	"github.com/kozaktomas/facegate/internal/facematch"
	"github.com/kozaktomas/facegate/internal/logging"
)

// EnrollmentState is a step of the enrollment journey.
type EnrollmentState string

const (
	EnrollCredentialsPending EnrollmentState = "CredentialsPending"
	EnrollCameraReady        EnrollmentState = "CameraReady"
	EnrollCapturing          EnrollmentState = "Capturing"
	EnrollDescriptorObtained EnrollmentState = "DescriptorObtained"
	EnrollDetailsPending     EnrollmentState = "DetailsPending"
	EnrollComplete           EnrollmentState = "Complete"
	// EnrollFailed is only terminal after an internal error; recoverable
	// failures are recorded in LastFailure and return to CameraReady.
	EnrollFailed EnrollmentState = "Failed"
)

func (s EnrollmentState) String() string { return string(s) }

// Details are the account fields supplied after the face was captured.
type Details struct {
	Identifier string            `json:"email"`
	Secret     string            `json:"password"`
	Role       string            `json:"role"`
	Attributes map[string]string `json:"attributes"`
}

// EnrollmentSnapshot is a read-only view of an enrollment.
type EnrollmentSnapshot struct {
	ID             string          `json:"id"`
	State          EnrollmentState `json:"state"`
	LastFailure    *Failure        `json:"lastFailure,omitempty"`
	CameraOpen     bool            `json:"cameraOpen"`
	ModelReady     bool            `json:"modelReady"`
	CaptureEnabled bool            `json:"captureEnabled"`
	HasDescriptor  bool            `json:"hasDescriptor"`
	FaceBox        []float64       `json:"faceBox,omitempty"` // relative [x1, y1, x2, y2] on the retained frame
	Identifier     string          `json:"email,omitempty"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// Enrollment registers a new account with a face descriptor.
type Enrollment struct {
	id     string
	deps   Deps
	camera *capture.Controller
	logger *zap.Logger

	mu            sync.Mutex
	state         EnrollmentState
	lastFailure   *Failure
	descriptor    facematch.Descriptor
	frame         *capture.Frame
	faceBox       []float64
	identifier    string
	updatedAt     time.Time
	captureCancel context.CancelFunc
	generation    uint64
}

// NewEnrollment creates an enrollment in CredentialsPending that captures through camera.
func NewEnrollment(deps Deps, camera *capture.Controller) *Enrollment {
	deps = deps.withDefaults()
	id := uuid.NewString()
	return &Enrollment{
		id:        id,
		deps:      deps,
		camera:    camera,
		logger:    logging.WithOperation(deps.Logger, "enrollment", id),
		state:     EnrollCredentialsPending,
		updatedAt: deps.Now(),
	}
}

// ID returns the flow identifier.
func (e *Enrollment) ID() string { return e.id }

// State returns the current state.
func (e *Enrollment) State() EnrollmentState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// LastFailure returns the most recent recoverable failure, if any.
func (e *Enrollment) LastFailure() *Failure {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastFailure
}

// UpdatedAt returns the time of the last state change.
func (e *Enrollment) UpdatedAt() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.updatedAt
}

func (e *Enrollment) setState(s EnrollmentState) {
	if e.state != s {
		e.logger.Debug("state transition", zap.String("from", string(e.state)), zap.String("to", string(s)))
	}
	e.state = s
	e.updatedAt = e.deps.Now()
}

// Begin opens the camera and starts loading the model in the background.
func (e *Enrollment) Begin(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	switch e.state {
	case EnrollCameraReady:
		return nil
	case EnrollCredentialsPending:
	default:
		return invalidState("begin", e.state)
	}

	e.deps.Gate.Warm(ctx)
	if _, err := e.camera.Open(ctx); err != nil {
		reason := ReasonFor(err)
		e.lastFailure = newFailure(reason, err, e.deps.Now())
		e.logger.Warn("camera open failed", zap.String("reason", string(reason)), zap.Error(err))
		return nil
	}
	e.lastFailure = nil
	e.setState(EnrollCameraReady)
	return nil
}

// CaptureEnabled reports whether Capture may be triggered now: the camera is
// open, the model is loaded and no capture is in flight.
func (e *Enrollment) CaptureEnabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.captureEnabledLocked()
}

func (e *Enrollment) captureEnabledLocked() bool {
	return (e.state == EnrollCameraReady || e.state == EnrollDescriptorObtained) &&
		e.camera.IsOpen() && e.deps.Gate.Ready()
}

// Capture grabs a frame and extracts its descriptor. On success the flow moves
// to DescriptorObtained and keeps the frame for confirmation; on a recoverable
// failure it records the reason and returns to CameraReady with the camera open.
// Capturing again from DescriptorObtained replaces the previous descriptor.
func (e *Enrollment) Capture(ctx context.Context) error {
	e.mu.Lock()
	if e.state != EnrollCameraReady && e.state != EnrollDescriptorObtained {
		defer e.mu.Unlock()
		return invalidState("capture", e.state)
	}
	if !e.camera.IsOpen() {
		defer e.mu.Unlock()
		return invalidState("capture without camera", e.state)
	}
	captureCtx, cancel := context.WithCancel(ctx)
	e.captureCancel = cancel
	e.generation++
	gen := e.generation
	e.setState(EnrollCapturing)
	e.mu.Unlock()

	frame, res, err := captureFace(captureCtx, e.deps.Gate, e.camera, e.deps.Extractor)
	cancel()

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.generation != gen || e.state != EnrollCapturing {
		// Cancelled or closed while capturing.
		return nil
	}
	e.captureCancel = nil

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			e.descriptor, e.frame, e.faceBox = nil, nil, nil
			e.setState(EnrollCameraReady)
			return ctxErr
		}
		reason := ReasonFor(err)
		e.lastFailure = newFailure(reason, err, e.deps.Now())
		e.descriptor, e.frame, e.faceBox = nil, nil, nil
		if reason == ReasonInternal {
			e.logger.Error("capture aborted", zap.Error(err))
			e.releaseCamera()
			e.setState(EnrollFailed)
			return nil
		}
		e.logger.Info("capture failed", zap.String("reason", string(reason)), zap.Error(err))
		e.setState(EnrollCameraReady)
		return nil
	}

	e.lastFailure = nil
	e.descriptor = res.Descriptor
	e.frame = &frame
	e.faceBox = facematch.RelativeBox(res.BBox, frame.Width, frame.Height)
	e.logger.Info("descriptor obtained", zap.Float64("det_score", res.DetScore), zap.Int("faces", res.FacesDetected))
	e.setState(EnrollDescriptorObtained)
	return nil
}

// Frame returns the frame retained from the successful capture.
func (e *Enrollment) Frame() (capture.Frame, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.frame == nil {
		return capture.Frame{}, false
	}
	return *e.frame, true
}

// Proceed confirms the captured face and releases the camera.
func (e *Enrollment) Proceed() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != EnrollDescriptorObtained {
		return invalidState("proceed", e.state)
	}
	e.releaseCamera()
	e.setState(EnrollDetailsPending)
	return nil
}

// Submit stores the account. Missing fields return a *ValidationError and leave the state unchanged.
func (e *Enrollment) Submit(ctx context.Context, details Details) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != EnrollDetailsPending {
		return invalidState("submit", e.state)
	}

	var missing []string
	if !e.descriptor.Valid() {
		missing = append(missing, "faceDescriptor")
	}
	if !credential.ValidIdentifier(details.Identifier) {
		missing = append(missing, "email")
	}
	if !credential.ValidSecret(details.Secret) {
		missing = append(missing, "password")
	}
	role, err := credential.ParseRole(details.Role)
	if err != nil {
		missing = append(missing, credential.RoleAttribute)
	} else {
		missing = append(missing, credential.MissingAttributes(role, details.Attributes)...)
	}
	if len(missing) > 0 {
		return &ValidationError{Fields: missing}
	}

	hash, err := e.deps.Hasher.Hash(details.Secret)
	if err != nil {
		return logging.NewOperationError("enrollment.hash_secret", e.id, err)
	}

	attrs := make(map[string]string, len(details.Attributes)+1)
	maps.Copy(attrs, details.Attributes)
	attrs[credential.RoleAttribute] = string(role)

	record := &credential.AccountRecord{
		Identifier:        credential.NormalizeIdentifier(details.Identifier),
		SecretHash:        hash,
		DisplayAttributes: attrs,
		FaceDescriptor:    e.descriptor.Clone(),
	}
	if err := e.deps.Store.Put(ctx, record); err != nil {
		wrapped := logging.NewOperationError("enrollment.store_put", e.id, err)
		e.logger.Error("failed to store account", zap.Error(wrapped))
		return wrapped
	}

	e.identifier = record.Identifier
	e.frame = nil
	e.setState(EnrollComplete)
	e.logger.Info("enrollment complete", zap.String("identifier", record.Identifier))
	e.deps.success(ctx, record.Identifier)
	return nil
}

// Cancel releases the camera, stops any capture in flight and returns to CredentialsPending.
func (e *Enrollment) Cancel() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	switch e.state {
	case EnrollCameraReady, EnrollCapturing, EnrollDescriptorObtained:
	default:
		return invalidState("cancel", e.state)
	}
	e.stopCapture()
	e.releaseCamera()
	e.descriptor, e.frame, e.faceBox = nil, nil, nil
	e.lastFailure = nil
	e.setState(EnrollCredentialsPending)
	return nil
}

// Close releases the camera regardless of state. Used when a flow is discarded.
func (e *Enrollment) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stopCapture()
	if e.state == EnrollCapturing {
		e.setState(EnrollCameraReady)
	}
	return e.camera.Close()
}

// Snapshot returns the current view of the flow.
func (e *Enrollment) Snapshot() EnrollmentSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return EnrollmentSnapshot{
		ID:             e.id,
		State:          e.state,
		LastFailure:    e.lastFailure,
		CameraOpen:     e.camera.IsOpen(),
		ModelReady:     e.deps.Gate.Ready(),
		CaptureEnabled: e.captureEnabledLocked(),
		HasDescriptor:  e.descriptor.Valid(),
		FaceBox:        e.faceBox,
		Identifier:     e.identifier,
		UpdatedAt:      e.updatedAt,
	}
}

func (e *Enrollment) stopCapture() {
	if e.captureCancel != nil {
		e.captureCancel()
		e.captureCancel = nil
	}
	e.generation++
}

func (e *Enrollment) releaseCamera() {
	if err := e.camera.Close(); err != nil {
		e.logger.Warn("failed to release camera", zap.Error(err))
	}
}
