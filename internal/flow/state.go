// Package flow implements the enrollment and verification journeys as
// mutex-guarded state machines. Recoverable failures are surfaced as state;
// only misuse (calling an operation in the wrong state) and validation
// problems are returned as errors.
package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kozaktomas/facegate/internal/capture"
	"github.com/kozaktomas/facegate/internal/credential"
	"github.com/kozaktomas/facegate/internal/extractor"
	"github.com/kozaktomas/facegate/internal/model"
)

// Reason explains why a step failed or a verification was rejected.
type Reason string

const (
	ReasonModelUnavailable      Reason = "ModelUnavailable"
	ReasonPermissionDenied      Reason = "PermissionDenied"
	ReasonDeviceUnavailable     Reason = "DeviceUnavailable"
	ReasonNoFaceDetected        Reason = "NoFaceDetected"
	ReasonMultipleFacesDetected Reason = "MultipleFacesDetected"
	ReasonAccountNotFound       Reason = "AccountNotFound"
	ReasonInvalidCredential     Reason = "InvalidCredential"
	ReasonBiometricMismatch     Reason = "BiometricMismatch"
	ReasonNoEnrolledBiometric   Reason = "NoEnrolledBiometric"
	ReasonInternal              Reason = "Internal"
)

// Recoverable reports whether the user can retry the step that produced r.
func (r Reason) Recoverable() bool {
	switch r {
	case ReasonModelUnavailable, ReasonPermissionDenied, ReasonDeviceUnavailable,
		ReasonNoFaceDetected, ReasonMultipleFacesDetected, ReasonBiometricMismatch:
		return true
	default:
		return false
	}
}

// ReasonFor maps an error from the capture path onto a Reason.
// Anything unrecognised is an internal error.
func ReasonFor(err error) Reason {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, model.ErrModelUnavailable):
		return ReasonModelUnavailable
	case errors.Is(err, capture.ErrPermissionDenied):
		return ReasonPermissionDenied
	case errors.Is(err, capture.ErrDeviceUnavailable):
		return ReasonDeviceUnavailable
	case errors.Is(err, extractor.ErrNoFaceDetected):
		return ReasonNoFaceDetected
	case errors.Is(err, extractor.ErrMultipleFacesDetected):
		return ReasonMultipleFacesDetected
	case errors.Is(err, credential.ErrNotFound):
		return ReasonAccountNotFound
	default:
		return ReasonInternal
	}
}

// Failure records the most recent failed step.
type Failure struct {
	Reason  Reason    `json:"reason"`
	Message string    `json:"message,omitempty"`
	At      time.Time `json:"at"`
}

func newFailure(reason Reason, err error, now time.Time) *Failure {
	f := &Failure{Reason: reason, At: now}
	if err != nil {
		f.Message = err.Error()
	}
	return f
}

var (
	// ErrInvalidState is returned when an operation is not allowed in the current state.
	ErrInvalidState = errors.New("operation not allowed in current state")
	// ErrAttemptsExhausted is returned by Retry once the biometric attempt budget is spent.
	ErrAttemptsExhausted = errors.New("biometric attempts exhausted")
)

func invalidState(op string, state fmt.Stringer) error {
	return fmt.Errorf("%w: %s in state %s", ErrInvalidState, op, state)
}

// ValidationError blocks a submission without changing state.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "missing or invalid fields: " + strings.Join(e.Fields, ", ")
}

// SuccessFunc is called once a flow reaches its terminal success state.
type SuccessFunc func(ctx context.Context, identifier string)

// ModelGate is the part of model.Gate the flows depend on.
type ModelGate interface {
	EnsureReady(ctx context.Context) (model.Model, error)
	Ready() bool
	Warm(ctx context.Context)
}

// DefaultMaxBiometricAttempts bounds verification captures that end in a mismatch.
const DefaultMaxBiometricAttempts = 3

// Deps are the collaborators shared by every flow instance.
type Deps struct {
	Store     credential.Store
	Hasher    credential.Hasher
	Gate      ModelGate
	Extractor *extractor.Extractor
	Logger    *zap.Logger
	OnSuccess SuccessFunc

	MaxBiometricAttempts int
	Now                  func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.Hasher == nil {
		d.Hasher = credential.NewBcryptHasher(0)
	}
	if d.Extractor == nil {
		d.Extractor = extractor.New(extractor.FailClosed)
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.MaxBiometricAttempts <= 0 {
		d.MaxBiometricAttempts = DefaultMaxBiometricAttempts
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

func (d Deps) success(ctx context.Context, identifier string) {
	if d.OnSuccess != nil {
		d.OnSuccess(ctx, identifier)
	}
}

// captureFace waits for the model, grabs one frame and extracts its descriptor.
func captureFace(ctx context.Context, gate ModelGate, camera *capture.Controller, ext *extractor.Extractor) (capture.Frame, *extractor.Result, error) {
	m, err := gate.EnsureReady(ctx)
	if err != nil {
		return capture.Frame{}, nil, err
	}
	frame, err := camera.CaptureFrame(ctx)
	if err != nil {
		return capture.Frame{}, nil, err
	}
	res, err := ext.ExtractFace(ctx, frame, m)
	if err != nil {
		camera.DiscardPending()
		return capture.Frame{}, nil, err
	}
	return frame, res, nil
}
