package handlers

import (
	"net/http"

	"github.com/kozaktomas/facegate/internal/config"
	"github.com/kozaktomas/facegate/internal/facematch"
)

// Camera modes reported to clients.
const (
	CameraModeUpload    = "upload"
	CameraModeSnapshot  = "snapshot"
	CameraModeDirectory = "directory"
)

// ConfigHandler handles configuration endpoints
type ConfigHandler struct {
	config *config.Config
}

// NewConfigHandler creates a new config handler
func NewConfigHandler(cfg *config.Config) *ConfigHandler {
	return &ConfigHandler{
		config: cfg,
	}
}

// ConfigResponse represents the configuration response
type ConfigResponse struct {
	Model                string  `json:"model"`
	DescriptorLength     int     `json:"descriptor_length"`
	MatchThreshold       float64 `json:"match_threshold"`
	MultiFacePolicy      string  `json:"multi_face_policy"`
	MaxBiometricAttempts int     `json:"max_biometric_attempts"`
	CameraMode           string  `json:"camera_mode"`
	MaxFrameSize         int     `json:"max_frame_size"`
	MaxUploadBytes       int     `json:"max_upload_bytes"`
}

// CameraMode derives where frames come from.
func CameraMode(cfg *config.Config) string {
	switch {
	case cfg.Camera.URL != "":
		return CameraModeSnapshot
	case cfg.Camera.Dir != "":
		return CameraModeDirectory
	default:
		return CameraModeUpload
	}
}

// Get returns the client-relevant configuration
func (h *ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, ConfigResponse{
		Model:                h.config.Embedding.Model,
		DescriptorLength:     facematch.DescriptorLength,
		MatchThreshold:       facematch.MatchThreshold,
		MultiFacePolicy:      h.config.Policy.MultiFace,
		MaxBiometricAttempts: h.config.Policy.MaxBiometricAttempts,
		CameraMode:           CameraMode(h.config),
		MaxFrameSize:         h.config.Camera.MaxSize,
		MaxUploadBytes:       MaxUploadSize,
	})
}
