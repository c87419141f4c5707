package tagger

import (
	"context"
	"fmt"
	"os"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"google.golang.org/api/option"
	"google.golang.org/genai"
	"k8s.io/klog/v2"
)

// Clients holds the two shared remote-service clients. Both are created once
// and used read-only by every worker; neither is rebuilt per job.
type Clients struct {
	Vision *vision.ImageAnnotatorClient
	GenAI  *genai.Client
}

// NewClients initializes the vision and generative clients from the
// configured service-account file.
func NewClients(ctx context.Context, cfg *Config) (*Clients, error) {
	vc, err := vision.NewImageAnnotatorClient(ctx, option.WithCredentialsFile(cfg.CredentialsPath))
	if err != nil {
		return nil, fmt.Errorf("vision client: %w", err)
	}

	// The genai SDK picks credentials up through ADC.
	if err := os.Setenv("GOOGLE_APPLICATION_CREDENTIALS", cfg.CredentialsPath); err != nil {
		_ = vc.Close()
		return nil, fmt.Errorf("set credentials env: %w", err)
	}
	gc, err := genai.NewClient(ctx, &genai.ClientConfig{
		Backend:  genai.BackendVertexAI,
		Project:  cfg.Project,
		Location: cfg.Location,
	})
	if err != nil {
		_ = vc.Close()
		return nil, fmt.Errorf("genai client: %w", err)
	}

	klog.V(1).Infof("initialized vision and genai clients for project %s", cfg.Project)
	return &Clients{Vision: vc, GenAI: gc}, nil
}

// Close releases the underlying connections.
func (c *Clients) Close() {
	if c.Vision != nil {
		if err := c.Vision.Close(); err != nil {
			klog.Errorf("closing vision client: %v", err)
		}
	}
}
