package flow

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kozaktomas/facegate/internal/capture"
	"github.com/kozaktomas/facegate/internal/credential"
	"github.com/kozaktomas/facegate/internal/extractor"
	"github.com/kozaktomas/facegate/internal/model"
	"github.com/kozaktomas/facegate/internal/model/modeltest"
)

func testImage(t *testing.T, shade uint8) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 8, 8))
	for i := range img.Pix {
		img.Pix[i] = shade
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode() error: %v", err)
	}
	return buf.Bytes()
}

type successRecorder struct {
	mu          sync.Mutex
	identifiers []string
}

func (r *successRecorder) record(_ context.Context, identifier string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.identifiers = append(r.identifiers, identifier)
}

func (r *successRecorder) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.identifiers...)
}

type testEnv struct {
	store   *credential.MemoryStore
	hasher  credential.Hasher
	model   *modeltest.StaticModel
	gate    *model.Gate
	success *successRecorder
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	m := modeltest.NewStaticModel()
	return &testEnv{
		store:   credential.NewMemoryStore(),
		hasher:  credential.NewBcryptHasher(4),
		model:   m,
		gate:    model.NewGate(modeltest.Loader(m), model.Source{Name: "static", Dim: 128}),
		success: &successRecorder{},
	}
}

func (e *testEnv) deps() Deps {
	return Deps{
		Store:     e.store,
		Hasher:    e.hasher,
		Gate:      e.gate,
		Extractor: extractor.New(extractor.FailClosed),
		OnSuccess: e.success.record,
	}
}

// enrollDirect stores an account without going through the enrollment flow.
func (e *testEnv) enrollDirect(t *testing.T, identifier, secret string, descriptor []float32) {
	t.Helper()
	hash, err := e.hasher.Hash(secret)
	if err != nil {
		t.Fatalf("Hash() error: %v", err)
	}
	rec := &credential.AccountRecord{Identifier: identifier, SecretHash: hash}
	if descriptor != nil {
		rec.FaceDescriptor = descriptor
	}
	if err := e.store.Put(context.Background(), rec); err != nil {
		t.Fatalf("Put() error: %v", err)
	}
}

func userDetails(identifier, secret string) Details {
	return Details{
		Identifier: identifier,
		Secret:     secret,
		Attributes: map[string]string{
			credential.AttrFullName: "Jana Novakova",
			credential.AttrPhone:    "+420123456789",
		},
	}
}

func TestReasonFor(t *testing.T) {
	tests := []struct {
		err      error
		expected Reason
	}{
		{nil, ""},
		{model.ErrModelUnavailable, ReasonModelUnavailable},
		{capture.ErrPermissionDenied, ReasonPermissionDenied},
		{capture.ErrDeviceUnavailable, ReasonDeviceUnavailable},
		{extractor.ErrNoFaceDetected, ReasonNoFaceDetected},
		{extractor.ErrMultipleFacesDetected, ReasonMultipleFacesDetected},
		{credential.ErrNotFound, ReasonAccountNotFound},
		{errors.New("descriptor length mismatch"), ReasonInternal},
	}

	for _, tt := range tests {
		if got := ReasonFor(tt.err); got != tt.expected {
			t.Errorf("ReasonFor(%v) = %q, want %q", tt.err, got, tt.expected)
		}
	}
}

func TestVerification_WrongSecretNeverTouchesCamera(t *testing.T) {
	env := newTestEnv(t)
	env.enrollDirect(t, "a@x.com", "pw1", modeltest.Descriptor(0.1))
	cam := capture.NewStaticProvider(testImage(t, 10))

	v := NewVerification(env.deps(), capture.NewController(cam, 0))
	if err := v.CheckCredentials(context.Background(), "a@x.com", "wrong"); err != nil {
		t.Fatalf("CheckCredentials() error: %v", err)
	}

	if v.State() != VerifyRejected || v.Rejection().Reason != ReasonInvalidCredential {
		t.Errorf("expected Rejected(InvalidCredential), got %s %+v", v.State(), v.Rejection())
	}
	if cam.Opened() != 0 {
		t.Error("expected camera never opened")
	}
	if err := v.OpenCamera(context.Background()); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState after rejection, got %v", err)
	}
}

func TestVerification_AccountNotFound(t *testing.T) {
	env := newTestEnv(t)
	v := NewVerification(env.deps(), capture.NewController(capture.NewStaticProvider(), 0))

	if err := v.CheckCredentials(context.Background(), "nobody@x.com", "pw1"); err != nil {
		t.Fatalf("CheckCredentials() error: %v", err)
	}
	if v.State() != VerifyRejected || v.Rejection().Reason != ReasonAccountNotFound {
		t.Errorf("expected Rejected(AccountNotFound), got %s %+v", v.State(), v.Rejection())
	}
}

func TestVerification_Decisions(t *testing.T) {
	d1 := modeltest.Descriptor(0.1)

	tests := []struct {
		name      string
		live      []float32
		wantState VerificationState
		wantHeld  bool
	}{
		{"distance 0.3 authenticates", modeltest.Offset(d1, 0.3), VerifyAuthenticated, false},
		{"identical authenticates", d1, VerifyAuthenticated, false},
		{"distance 0.9 is a mismatch", modeltest.Offset(d1, 0.9), VerifyRejected, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			env.enrollDirect(t, "A@X.com", "pw1", d1)
			frame := testImage(t, 20)
			env.model.SetFace(frame, tt.live)
			cam := capture.NewStaticProvider(frame)

			v := NewVerification(env.deps(), capture.NewController(cam, 0))
			ctx := context.Background()
			if err := v.CheckCredentials(ctx, "a@x.com", "pw1"); err != nil {
				t.Fatalf("CheckCredentials() error: %v", err)
			}
			if v.State() != VerifyCredentialsChecked {
				t.Fatalf("expected CredentialsChecked, got %s", v.State())
			}
			if err := v.OpenCamera(ctx); err != nil {
				t.Fatalf("OpenCamera() error: %v", err)
			}
			if err := v.Capture(ctx); err != nil {
				t.Fatalf("Capture() error: %v", err)
			}

			if v.State() != tt.wantState {
				t.Fatalf("expected %s, got %s (%+v)", tt.wantState, v.State(), v.Rejection())
			}
			if cam.Held() != tt.wantHeld {
				t.Errorf("camera held = %v, want %v", cam.Held(), tt.wantHeld)
			}

			calls := env.success.calls()
			if tt.wantState == VerifyAuthenticated {
				if len(calls) != 1 || calls[0] != "a@x.com" {
					t.Errorf("expected success hook for a@x.com, got %v", calls)
				}
			} else {
				if v.Rejection().Reason != ReasonBiometricMismatch {
					t.Errorf("expected BiometricMismatch, got %+v", v.Rejection())
				}
				if len(calls) != 0 {
					t.Errorf("expected no success hook, got %v", calls)
				}
			}
		})
	}
}

func TestVerification_MismatchRetryIsBounded(t *testing.T) {
	env := newTestEnv(t)
	d1 := modeltest.Descriptor(0.1)
	env.enrollDirect(t, "a@x.com", "pw1", d1)
	frame := testImage(t, 30)
	env.model.SetFace(frame, modeltest.Offset(d1, 0.9))
	cam := capture.NewStaticProvider(frame)

	deps := env.deps()
	deps.MaxBiometricAttempts = 2
	v := NewVerification(deps, capture.NewController(cam, 0))
	ctx := context.Background()
	_ = v.CheckCredentials(ctx, "a@x.com", "pw1")
	_ = v.OpenCamera(ctx)

	_ = v.Capture(ctx)
	if v.State() != VerifyRejected {
		t.Fatalf("expected Rejected, got %s", v.State())
	}
	if err := v.Retry(); err != nil {
		t.Fatalf("Retry() error: %v", err)
	}
	if v.State() != VerifyCameraReady || v.Identifier() != "a@x.com" {
		t.Fatalf("expected CameraReady for a@x.com, got %s", v.State())
	}

	_ = v.Capture(ctx)
	if err := v.Retry(); !errors.Is(err, ErrAttemptsExhausted) {
		t.Errorf("expected ErrAttemptsExhausted, got %v", err)
	}
	if cam.Held() {
		t.Error("expected camera released after last attempt")
	}
	if snap := v.Snapshot(); snap.Attempts != 2 || snap.AttemptsLeft != 0 || snap.Verdict == nil || snap.Verdict.Match {
		t.Errorf("unexpected snapshot: %+v", snap)
	}
}

func TestVerification_NoEnrolledBiometric(t *testing.T) {
	env := newTestEnv(t)
	env.enrollDirect(t, "a@x.com", "pw1", nil)
	frame := testImage(t, 40)
	env.model.SetFace(frame, modeltest.Descriptor(0.1))
	cam := capture.NewStaticProvider(frame)

	v := NewVerification(env.deps(), capture.NewController(cam, 0))
	ctx := context.Background()
	if err := v.CheckCredentials(ctx, "a@x.com", "pw1"); err != nil {
		t.Fatalf("CheckCredentials() error: %v", err)
	}
	if v.State() != VerifyCredentialsChecked {
		t.Fatalf("expected credentials to pass without descriptor, got %s", v.State())
	}
	_ = v.OpenCamera(ctx)
	_ = v.Capture(ctx)

	if v.State() != VerifyRejected || v.Rejection().Reason != ReasonNoEnrolledBiometric {
		t.Errorf("expected Rejected(NoEnrolledBiometric), got %s %+v", v.State(), v.Rejection())
	}
	if err := v.Retry(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected retry refused, got %v", err)
	}
	if cam.Held() {
		t.Error("expected camera released")
	}
	if len(env.success.calls()) != 0 {
		t.Error("expected no success hook")
	}
}

func TestVerification_NoFaceKeepsCredentialCheck(t *testing.T) {
	env := newTestEnv(t)
	d1 := modeltest.Descriptor(0.1)
	env.enrollDirect(t, "a@x.com", "pw1", d1)
	empty := testImage(t, 50)
	face := testImage(t, 60)
	env.model.Set(empty, &model.Detections{})
	env.model.SetFace(face, d1)
	cam := capture.NewStaticProvider(empty, face)

	v := NewVerification(env.deps(), capture.NewController(cam, 0))
	ctx := context.Background()
	_ = v.CheckCredentials(ctx, "a@x.com", "pw1")
	_ = v.OpenCamera(ctx)

	_ = v.Capture(ctx)
	if v.State() != VerifyCameraReady {
		t.Fatalf("expected CameraReady after no face, got %s", v.State())
	}
	if f := v.LastFailure(); f == nil || f.Reason != ReasonNoFaceDetected {
		t.Errorf("expected NoFaceDetected failure, got %+v", f)
	}
	if !cam.Held() {
		t.Error("expected camera to stay open")
	}

	_ = v.Capture(ctx)
	if v.State() != VerifyAuthenticated {
		t.Errorf("expected Authenticated on second capture, got %s", v.State())
	}
}

func TestVerification_CancelReturnsToCredentialsChecked(t *testing.T) {
	env := newTestEnv(t)
	env.enrollDirect(t, "a@x.com", "pw1", modeltest.Descriptor(0.1))
	cam := capture.NewStaticProvider(testImage(t, 70))

	v := NewVerification(env.deps(), capture.NewController(cam, 0))
	ctx := context.Background()
	_ = v.CheckCredentials(ctx, "a@x.com", "pw1")
	_ = v.OpenCamera(ctx)
	if !cam.Held() {
		t.Fatal("expected camera open")
	}

	if err := v.Cancel(); err != nil {
		t.Fatalf("Cancel() error: %v", err)
	}
	if v.State() != VerifyCredentialsChecked {
		t.Errorf("expected CredentialsChecked, got %s", v.State())
	}
	if cam.Held() {
		t.Error("expected camera released")
	}
}

func TestVerification_PermissionDenied(t *testing.T) {
	env := newTestEnv(t)
	env.enrollDirect(t, "a@x.com", "pw1", modeltest.Descriptor(0.1))
	cam := capture.NewStaticProvider()
	cam.AccessErr = capture.ErrPermissionDenied

	v := NewVerification(env.deps(), capture.NewController(cam, 0))
	ctx := context.Background()
	_ = v.CheckCredentials(ctx, "a@x.com", "pw1")
	if err := v.OpenCamera(ctx); err != nil {
		t.Fatalf("OpenCamera() error: %v", err)
	}
	if v.State() != VerifyCredentialsChecked {
		t.Errorf("expected CredentialsChecked, got %s", v.State())
	}
	if f := v.LastFailure(); f == nil || f.Reason != ReasonPermissionDenied {
		t.Errorf("expected PermissionDenied failure, got %+v", f)
	}
}

func TestEnrollment_CompleteThenVerify(t *testing.T) {
	env := newTestEnv(t)
	frame := testImage(t, 80)
	env.model.SetFace(frame, modeltest.Descriptor(0.25))
	cam := capture.NewStaticProvider(frame)
	ctx := context.Background()

	e := NewEnrollment(env.deps(), capture.NewController(cam, 0))
	if err := e.Begin(ctx); err != nil {
		t.Fatalf("Begin() error: %v", err)
	}
	if e.State() != EnrollCameraReady || !cam.Held() {
		t.Fatalf("expected CameraReady with camera open, got %s", e.State())
	}

	if err := e.Capture(ctx); err != nil {
		t.Fatalf("Capture() error: %v", err)
	}
	if e.State() != EnrollDescriptorObtained {
		t.Fatalf("expected DescriptorObtained, got %s (%+v)", e.State(), e.LastFailure())
	}
	if kept, ok := e.Frame(); !ok || !bytes.Equal(kept.Data, frame) {
		t.Error("expected captured frame to be retained")
	}
	if snap := e.Snapshot(); len(snap.FaceBox) != 4 || !snap.HasDescriptor {
		t.Errorf("unexpected snapshot: %+v", snap)
	}

	if err := e.Proceed(); err != nil {
		t.Fatalf("Proceed() error: %v", err)
	}
	if e.State() != EnrollDetailsPending || cam.Held() {
		t.Fatalf("expected DetailsPending with camera released, got %s", e.State())
	}

	details := userDetails("A@X.com", "pw1")
	delete(details.Attributes, credential.AttrPhone)
	err := e.Submit(ctx, details)
	var verr *ValidationError
	if !errors.As(err, &verr) || len(verr.Fields) != 1 || verr.Fields[0] != credential.AttrPhone {
		t.Fatalf("expected validation error for phone, got %v", err)
	}
	if e.State() != EnrollDetailsPending {
		t.Errorf("expected state unchanged after validation error, got %s", e.State())
	}

	if err := e.Submit(ctx, userDetails("A@X.com", "pw1")); err != nil {
		t.Fatalf("Submit() error: %v", err)
	}
	if e.State() != EnrollComplete {
		t.Fatalf("expected Complete, got %s", e.State())
	}
	if calls := env.success.calls(); len(calls) != 1 || calls[0] != "a@x.com" {
		t.Errorf("expected success hook for a@x.com, got %v", calls)
	}

	rec, err := env.store.Get(ctx, "a@x.com")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if rec.SecretHash == "pw1" || !env.hasher.Verify(rec.SecretHash, "pw1") {
		t.Error("expected hashed secret")
	}
	if rec.DisplayAttributes[credential.RoleAttribute] != string(credential.RoleUser) {
		t.Errorf("expected role attribute, got %v", rec.DisplayAttributes)
	}

	// The same image verifies against the freshly enrolled account.
	verifyCam := capture.NewStaticProvider(frame)
	v := NewVerification(env.deps(), capture.NewController(verifyCam, 0))
	_ = v.CheckCredentials(ctx, "a@x.com", "pw1")
	_ = v.OpenCamera(ctx)
	_ = v.Capture(ctx)
	if v.State() != VerifyAuthenticated {
		t.Errorf("expected Authenticated, got %s (%+v)", v.State(), v.Rejection())
	}
}

func TestEnrollment_SubmitValidation(t *testing.T) {
	tests := []struct {
		name    string
		details Details
		fields  []string
	}{
		{"missing email", Details{Secret: "pw1", Attributes: map[string]string{credential.AttrFullName: "J", credential.AttrPhone: "1"}}, []string{"email"}},
		{"missing password", Details{Identifier: "a@x.com", Attributes: map[string]string{credential.AttrFullName: "J", credential.AttrPhone: "1"}}, []string{"password"}},
		{"company fields", Details{Identifier: "c@x.com", Secret: "pw", Role: "company", Attributes: map[string]string{credential.AttrCompanyName: "ACME"}}, []string{credential.AttrCity, credential.AttrIndustry}},
		{"unknown role", Details{Identifier: "a@x.com", Secret: "pw", Role: "admin"}, []string{credential.RoleAttribute}},
		{"password too long", Details{Identifier: "a@x.com", Secret: strings.Repeat("p", credential.MaxSecretLength+1), Attributes: map[string]string{credential.AttrFullName: "J", credential.AttrPhone: "1"}}, []string{"password"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			frame := testImage(t, 90)
			env.model.SetFace(frame, modeltest.Descriptor(0.2))
			e := NewEnrollment(env.deps(), capture.NewController(capture.NewStaticProvider(frame), 0))
			ctx := context.Background()
			_ = e.Begin(ctx)
			_ = e.Capture(ctx)
			_ = e.Proceed()

			err := e.Submit(ctx, tt.details)
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %v", err)
			}
			if len(verr.Fields) != len(tt.fields) {
				t.Fatalf("fields = %v, want %v", verr.Fields, tt.fields)
			}
			for i := range tt.fields {
				if verr.Fields[i] != tt.fields[i] {
					t.Errorf("fields = %v, want %v", verr.Fields, tt.fields)
				}
			}
			if env.store.Len() != 0 {
				t.Error("expected nothing stored")
			}
		})
	}
}

func TestEnrollment_SubmitRequiresDetailsPending(t *testing.T) {
	env := newTestEnv(t)
	e := NewEnrollment(env.deps(), capture.NewController(capture.NewStaticProvider(), 0))
	if err := e.Submit(context.Background(), userDetails("a@x.com", "pw1")); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}
	if err := e.Proceed(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState, got %v", err)
	}
}

func TestEnrollment_RecoverableFailures(t *testing.T) {
	tests := []struct {
		name   string
		det    *model.Detections
		reason Reason
	}{
		{"no face", &model.Detections{}, ReasonNoFaceDetected},
		{"two faces", &model.Detections{FacesCount: 2, Faces: []model.Face{
			{Descriptor: modeltest.Descriptor(0.1), BBox: []float64{0, 0, 10, 10}, DetScore: 0.9},
			{Descriptor: modeltest.Descriptor(0.2), BBox: []float64{50, 50, 60, 60}, DetScore: 0.8},
		}}, ReasonMultipleFacesDetected},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			bad := testImage(t, 100)
			good := testImage(t, 110)
			env.model.Set(bad, tt.det)
			env.model.SetFace(good, modeltest.Descriptor(0.3))
			cam := capture.NewStaticProvider(bad, good)
			e := NewEnrollment(env.deps(), capture.NewController(cam, 0))
			ctx := context.Background()
			_ = e.Begin(ctx)

			if err := e.Capture(ctx); err != nil {
				t.Fatalf("Capture() error: %v", err)
			}
			if e.State() != EnrollCameraReady {
				t.Fatalf("expected CameraReady, got %s", e.State())
			}
			if f := e.LastFailure(); f == nil || f.Reason != tt.reason {
				t.Errorf("expected %s failure, got %+v", tt.reason, f)
			}
			if _, ok := e.Frame(); ok {
				t.Error("expected failed frame discarded")
			}
			if !cam.Held() {
				t.Error("expected camera to stay open")
			}

			_ = e.Capture(ctx)
			if e.State() != EnrollDescriptorObtained || e.LastFailure() != nil {
				t.Errorf("expected DescriptorObtained after retry, got %s", e.State())
			}
		})
	}
}

func TestEnrollment_ModelUnavailableIsRetryable(t *testing.T) {
	env := newTestEnv(t)
	frame := testImage(t, 120)
	env.model.SetFace(frame, modeltest.Descriptor(0.3))

	var fail sync.Once
	failFirst := model.LoaderFunc(func(ctx context.Context, s model.Source) (model.Model, error) {
		var err error
		fail.Do(func() { err = errors.New("weights missing") })
		if err != nil {
			return nil, err
		}
		return env.model, nil
	})
	deps := env.deps()
	deps.Gate = model.NewGate(failFirst, model.Source{Name: "static"})

	e := NewEnrollment(deps, capture.NewController(capture.NewStaticProvider(frame), 0))
	ctx := context.Background()
	_ = e.Begin(ctx)

	// Begin warms the gate in the background; wait for the first load to fail.
	waitFor(t, func() bool {
		status, _ := deps.Gate.(*model.Gate).Status()
		return status == model.StatusFailed
	})
	if e.CaptureEnabled() {
		t.Error("expected capture disabled while model is not ready")
	}

	_ = e.Capture(ctx)
	if e.State() != EnrollDescriptorObtained {
		t.Fatalf("expected capture to reload the model, got %s (%+v)", e.State(), e.LastFailure())
	}
}

func TestEnrollment_ModelUnavailableFailure(t *testing.T) {
	env := newTestEnv(t)
	deps := env.deps()
	deps.Gate = model.NewGate(modeltest.FailingLoader(errors.New("offline")), model.Source{Name: "static"})
	cam := capture.NewStaticProvider(testImage(t, 130))

	e := NewEnrollment(deps, capture.NewController(cam, 0))
	ctx := context.Background()
	_ = e.Begin(ctx)
	_ = e.Capture(ctx)

	if e.State() != EnrollCameraReady {
		t.Fatalf("expected CameraReady, got %s", e.State())
	}
	if f := e.LastFailure(); f == nil || f.Reason != ReasonModelUnavailable {
		t.Errorf("expected ModelUnavailable, got %+v", f)
	}
	if !cam.Held() {
		t.Error("expected camera to stay open")
	}
}

func TestEnrollment_PermissionDeniedAtBegin(t *testing.T) {
	env := newTestEnv(t)
	cam := capture.NewStaticProvider()
	cam.AccessErr = capture.ErrPermissionDenied

	e := NewEnrollment(env.deps(), capture.NewController(cam, 0))
	if err := e.Begin(context.Background()); err != nil {
		t.Fatalf("Begin() error: %v", err)
	}
	if e.State() != EnrollCredentialsPending {
		t.Errorf("expected CredentialsPending, got %s", e.State())
	}
	if f := e.LastFailure(); f == nil || f.Reason != ReasonPermissionDenied {
		t.Errorf("expected PermissionDenied, got %+v", f)
	}
}

func TestEnrollment_InternalErrorAborts(t *testing.T) {
	env := newTestEnv(t)
	frame := testImage(t, 140)
	env.model.Set(frame, &model.Detections{FacesCount: 1, Faces: []model.Face{{Descriptor: make([]float32, 64), BBox: []float64{0, 0, 4, 4}}}})
	cam := capture.NewStaticProvider(frame)

	e := NewEnrollment(env.deps(), capture.NewController(cam, 0))
	ctx := context.Background()
	_ = e.Begin(ctx)
	_ = e.Capture(ctx)

	if e.State() != EnrollFailed {
		t.Fatalf("expected Failed, got %s", e.State())
	}
	if f := e.LastFailure(); f == nil || f.Reason != ReasonInternal {
		t.Errorf("expected Internal, got %+v", f)
	}
	if cam.Held() {
		t.Error("expected camera released")
	}
}

func TestEnrollment_Cancel(t *testing.T) {
	env := newTestEnv(t)
	cam := capture.NewStaticProvider(testImage(t, 150))
	e := NewEnrollment(env.deps(), capture.NewController(cam, 0))
	_ = e.Begin(context.Background())

	if err := e.Cancel(); err != nil {
		t.Fatalf("Cancel() error: %v", err)
	}
	if e.State() != EnrollCredentialsPending {
		t.Errorf("expected CredentialsPending, got %s", e.State())
	}
	if cam.Held() {
		t.Error("expected camera released")
	}
	if err := e.Cancel(); !errors.Is(err, ErrInvalidState) {
		t.Errorf("expected ErrInvalidState on second cancel, got %v", err)
	}
}

// blockingModel blocks until the capture context is cancelled.
type blockingModel struct {
	started chan struct{}
	once    sync.Once
}

func (m *blockingModel) Name() string { return "blocking" }

func (m *blockingModel) DetectAndDescribe(ctx context.Context, image []byte) (*model.Detections, error) {
	m.once.Do(func() { close(m.started) })
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestEnrollment_CancelDuringCapture(t *testing.T) {
	env := newTestEnv(t)
	bm := &blockingModel{started: make(chan struct{})}
	deps := env.deps()
	deps.Gate = model.NewGate(modeltest.Loader(bm), model.Source{Name: "blocking"})
	cam := capture.NewStaticProvider(testImage(t, 160))

	e := NewEnrollment(deps, capture.NewController(cam, 0))
	ctx := context.Background()
	_ = e.Begin(ctx)

	done := make(chan error, 1)
	go func() { done <- e.Capture(ctx) }()

	select {
	case <-bm.started:
	case <-time.After(time.Second):
		t.Fatal("capture did not start")
	}
	if e.State() != EnrollCapturing {
		t.Fatalf("expected Capturing, got %s", e.State())
	}

	if err := e.Cancel(); err != nil {
		t.Fatalf("Cancel() error: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Capture() error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("capture did not stop after cancel")
	}

	if e.State() != EnrollCredentialsPending {
		t.Errorf("expected CredentialsPending, got %s", e.State())
	}
	if cam.Held() {
		t.Error("expected camera released")
	}
}

func TestEnrollment_ReenrollmentOverwrites(t *testing.T) {
	env := newTestEnv(t)
	first := testImage(t, 170)
	second := testImage(t, 180)
	env.model.SetFace(first, modeltest.Descriptor(0.1))
	env.model.SetFace(second, modeltest.Descriptor(0.9))
	ctx := context.Background()

	for _, frame := range [][]byte{first, second} {
		e := NewEnrollment(env.deps(), capture.NewController(capture.NewStaticProvider(frame), 0))
		_ = e.Begin(ctx)
		_ = e.Capture(ctx)
		_ = e.Proceed()
		if err := e.Submit(ctx, userDetails("a@x.com", "pw1")); err != nil {
			t.Fatalf("Submit() error: %v", err)
		}
	}
	if env.store.Len() != 1 {
		t.Fatalf("expected 1 record, got %d", env.store.Len())
	}

	verify := func(frame []byte) VerificationState {
		v := NewVerification(env.deps(), capture.NewController(capture.NewStaticProvider(frame), 0))
		_ = v.CheckCredentials(ctx, "a@x.com", "pw1")
		_ = v.OpenCamera(ctx)
		_ = v.Capture(ctx)
		return v.State()
	}
	if got := verify(second); got != VerifyAuthenticated {
		t.Errorf("expected new face to authenticate, got %s", got)
	}
	if got := verify(first); got != VerifyRejected {
		t.Errorf("expected old face to be rejected, got %s", got)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
