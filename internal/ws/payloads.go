package ws

import "points_service/internal/domain"

type Envelope struct {
	Type string `json:"type"`
}

// server → client
type PointsPayload struct {
	Type  string             `json:"type"`
	Event *domain.PointEvent `json:"event"`
}
