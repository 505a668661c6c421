package embedding

import (
	"context"

	"github.com/kozaktomas/facegate/internal/model"
)

// FaceModel is a model loaded on the embedding server.
type FaceModel struct {
	client *Client
	name   string
}

// Name returns the model name reported by the server.
func (m *FaceModel) Name() string {
	return m.name
}

// DetectAndDescribe posts image to /embed/face and converts the response.
func (m *FaceModel) DetectAndDescribe(ctx context.Context, image []byte) (*model.Detections, error) {
	resp, err := m.client.ComputeFaceEmbeddings(ctx, image)
	if err != nil {
		return nil, err
	}

	out := &model.Detections{
		FacesCount: resp.FacesCount,
		Faces:      make([]model.Face, 0, len(resp.Faces)),
	}
	for _, f := range resp.Faces {
		out.Faces = append(out.Faces, model.Face{
			Descriptor: f.Embedding,
			BBox:       f.BBox,
			DetScore:   f.DetScore,
		})
	}
	if out.FacesCount < len(out.Faces) {
		out.FacesCount = len(out.Faces)
	}
	return out, nil
}
