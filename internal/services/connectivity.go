package services

import (
	"context"

	"parallax-connect/internal/parallax"
)

// Connectivity answers whether the inference backend is reachable, used
// to fail a turn fast instead of letting a generation call time out.
type Connectivity interface {
	HasInternetConnection(ctx context.Context) bool
}

type ParallaxConnectivity struct {
	client parallax.Client
}

func NewParallaxConnectivity(client parallax.Client) *ParallaxConnectivity {
	return &ParallaxConnectivity{client: client}
}

func (c *ParallaxConnectivity) HasInternetConnection(ctx context.Context) bool {
	return c.client.CheckConnection(ctx)
}
