package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/kozaktomas/facegate/internal/capture"
	"github.com/kozaktomas/facegate/internal/flow"
	"github.com/kozaktomas/facegate/internal/logging"
	"github.com/kozaktomas/facegate/internal/web/middleware"
)

// FlowOptions are shared by the enrollment and verification handlers.
type FlowOptions struct {
	Deps flow.Deps
	// Camera is the server-side frame source. When nil, every flow gets its
	// own inbox and frames are uploaded with the capture request.
	Camera         capture.Provider
	MaxFrameSize   int
	MaxFramePixels int
	IdleTimeout    time.Duration
	Sessions       *middleware.SessionManager
	Logger         *zap.Logger
}

// newCamera builds the per-flow camera controller and, in upload mode, its inbox.
func (o FlowOptions) newCamera() (*capture.Controller, *capture.Inbox) {
	if o.Camera != nil {
		return capture.NewController(o.Camera, o.MaxFrameSize, capture.WithMaxPixels(o.MaxFramePixels)), nil
	}
	inbox := capture.NewInbox()
	return capture.NewController(inbox, o.MaxFrameSize, capture.WithMaxPixels(o.MaxFramePixels)), inbox
}

// sessionResponse carries a freshly issued session next to a flow snapshot.
type sessionResponse struct {
	Session *middleware.Session `json:"session"`
	Token   string              `json:"token"`
}

// issueSession signs a session for identifier and sets the cookie.
func (o FlowOptions) issueSession(w http.ResponseWriter, identifier string) (*sessionResponse, error) {
	session, token, err := o.Sessions.Issue(identifier)
	if err != nil {
		return nil, err
	}
	o.Sessions.SetSessionCookie(w, token, session)
	return &sessionResponse{Session: session, Token: token}, nil
}

// submitFrame pushes an uploaded frame into the flow's inbox. It reports
// false after writing an error response.
func submitFrame(w http.ResponseWriter, r *http.Request, inbox *capture.Inbox) bool {
	data, err := readFrame(w, r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return false
	}
	switch {
	case data == nil:
		return true
	case inbox == nil:
		respondError(w, http.StatusBadRequest, "frames come from the server camera; do not upload")
		return false
	default:
		inbox.Submit(data)
		return true
	}
}

func (o FlowOptions) logger(operation, id string) *zap.Logger {
	return logging.WithOperation(logging.OrNop(o.Logger), operation, id)
}

func (o FlowOptions) idleTimeout() time.Duration {
	if o.IdleTimeout > 0 {
		return o.IdleTimeout
	}
	return flow.DefaultIdleTimeout
}

// janitorInterval is how often idle flows are swept.
const janitorInterval = time.Minute

type runner interface {
	Run(ctx context.Context, interval time.Duration)
}

// RunJanitors expires idle flows until ctx is done, then closes every flow.
func RunJanitors(ctx context.Context, handlers ...runner) {
	for _, h := range handlers {
		go h.Run(ctx, janitorInterval)
	}
}
