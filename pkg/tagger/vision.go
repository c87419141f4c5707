package tagger

import (
	"context"
	"fmt"
	"time"

	visionpb "cloud.google.com/go/vision/v2/apiv1/visionpb"
	gax "github.com/googleapis/gax-go/v2"
	"k8s.io/klog/v2"
)

// visionMaxResults caps per-feature annotation counts.
const visionMaxResults = 50

// imageAnnotator is the slice of vision.ImageAnnotatorClient the adapter
// needs; tests substitute a stub.
type imageAnnotator interface {
	BatchAnnotateImages(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest, opts ...gax.CallOption) (*visionpb.BatchAnnotateImagesResponse, error)
}

// VisionAnnotator wraps the vision service with bounded retry. Annotation is
// best-effort context for the generative call: exhausted retries produce an
// all-empty VisionResult, never an error.
type VisionAnnotator struct {
	client  imageAnnotator
	retries int
	delay   time.Duration
	timeout time.Duration
	calls   *CallLog
}

// NewVisionAnnotator builds an adapter around an annotation client. The
// client is shared read-only across workers. Retries below 1 are clamped so
// the call loop always runs at least once.
func NewVisionAnnotator(client imageAnnotator, cfg *Config, calls *CallLog) *VisionAnnotator {
	return &VisionAnnotator{
		client:  client,
		retries: max(cfg.Retries, 1),
		delay:   cfg.RetryDelay,
		timeout: cfg.CallTimeout,
		calls:   calls,
	}
}

// Annotate requests label, web-entity, color, object and landmark detection
// for one image in a single batched call.
func (v *VisionAnnotator) Annotate(ctx context.Context, img []byte) *VisionResult {
	var lastErr error
	for attempt := 1; attempt <= v.retries; attempt++ {
		start := time.Now()
		res, err := v.annotateOnce(ctx, img)
		v.calls.Record("vision", time.Since(start), err)
		if err == nil {
			return res
		}

		lastErr = err
		klog.Warningf("vision attempt %d/%d failed: %v", attempt, v.retries, err)
		if attempt < v.retries {
			sleepBackoff(ctx, v.delay, attempt)
		}
	}

	klog.Errorf("vision annotation exhausted %d attempts: %v", v.retries, lastErr)
	return &VisionResult{}
}

func (v *VisionAnnotator) annotateOnce(ctx context.Context, img []byte) (*VisionResult, error) {
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()

	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{{
			Image: &visionpb.Image{Content: img},
			Features: []*visionpb.Feature{
				{Type: visionpb.Feature_LABEL_DETECTION, MaxResults: visionMaxResults},
				{Type: visionpb.Feature_WEB_DETECTION, MaxResults: visionMaxResults},
				{Type: visionpb.Feature_IMAGE_PROPERTIES},
				{Type: visionpb.Feature_OBJECT_LOCALIZATION, MaxResults: visionMaxResults},
				{Type: visionpb.Feature_LANDMARK_DETECTION, MaxResults: visionMaxResults},
			},
		}},
	}

	resp, err := v.client.BatchAnnotateImages(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("batch annotate: %w", err)
	}
	if len(resp.Responses) == 0 || resp.Responses[0] == nil {
		return &VisionResult{}, nil
	}

	r := resp.Responses[0]
	if r.Error != nil && r.Error.Message != "" {
		return nil, fmt.Errorf("annotate error: %s", r.Error.Message)
	}

	return visionResultFromResponse(r), nil
}

func visionResultFromResponse(r *visionpb.AnnotateImageResponse) *VisionResult {
	out := &VisionResult{}

	for _, l := range r.LabelAnnotations {
		out.Labels = append(out.Labels, Label{Description: l.Description, Score: l.Score})
	}

	if wd := r.WebDetection; wd != nil {
		for _, e := range wd.WebEntities {
			if e.Description != "" {
				out.WebEntities = append(out.WebEntities, e.Description)
			}
		}
	}

	if props := r.ImagePropertiesAnnotation; props != nil && props.DominantColors != nil {
		for _, c := range props.DominantColors.Colors {
			if c.Color == nil {
				continue
			}
			out.Colors = append(out.Colors, fmt.Sprintf("#%02x%02x%02x",
				int(c.Color.Red), int(c.Color.Green), int(c.Color.Blue)))
		}
	}

	for _, o := range r.LocalizedObjectAnnotations {
		out.Objects = append(out.Objects, o.Name)
	}

	for _, l := range r.LandmarkAnnotations {
		if l.Description != "" {
			out.Landmarks = append(out.Landmarks, l.Description)
		}
	}

	return out
}

// sleepBackoff waits delay*attempt, or less if the context ends first.
func sleepBackoff(ctx context.Context, delay time.Duration, attempt int) {
	t := time.NewTimer(delay * time.Duration(attempt))
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
