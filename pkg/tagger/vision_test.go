package tagger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	visionpb "cloud.google.com/go/vision/v2/apiv1/visionpb"
	gax "github.com/googleapis/gax-go/v2"
)

type stubAnnotator struct {
	mu    sync.Mutex
	calls int
	resp  *visionpb.BatchAnnotateImagesResponse
	err   error
}

func (s *stubAnnotator) BatchAnnotateImages(_ context.Context, _ *visionpb.BatchAnnotateImagesRequest, _ ...gax.CallOption) (*visionpb.BatchAnnotateImagesResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return s.resp, s.err
}

func (s *stubAnnotator) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func TestAnnotateMapsResponse(t *testing.T) {
	stub := &stubAnnotator{
		resp: &visionpb.BatchAnnotateImagesResponse{
			Responses: []*visionpb.AnnotateImageResponse{{
				LabelAnnotations: []*visionpb.EntityAnnotation{
					{Description: "beach", Score: 0.97},
					{Description: "sand", Score: 0.81},
				},
				LocalizedObjectAnnotations: []*visionpb.LocalizedObjectAnnotation{
					{Name: "Umbrella", Score: 0.7},
				},
				LandmarkAnnotations: []*visionpb.EntityAnnotation{
					{Description: "Copacabana"},
				},
			}},
		},
	}
	v := NewVisionAnnotator(stub, testGenConfig(LangEnglish), nil)

	res := v.Annotate(context.Background(), []byte("img"))
	if len(res.Labels) != 2 || res.Labels[0].Description != "beach" {
		t.Errorf("labels = %+v", res.Labels)
	}
	if len(res.Objects) != 1 || res.Objects[0] != "Umbrella" {
		t.Errorf("objects = %+v", res.Objects)
	}
	if len(res.Landmarks) != 1 || res.Landmarks[0] != "Copacabana" {
		t.Errorf("landmarks = %+v", res.Landmarks)
	}
}

func TestAnnotateExhaustedRetriesReturnsEmpty(t *testing.T) {
	stub := &stubAnnotator{err: errors.New("deadline exceeded")}
	cfg := testGenConfig(LangEnglish)
	cfg.Retries = 3
	cfg.RetryDelay = time.Millisecond
	v := NewVisionAnnotator(stub, cfg, nil)

	res := v.Annotate(context.Background(), []byte("img"))
	if stub.callCount() != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", stub.callCount())
	}
	// Annotation is best-effort: the result is present and all-empty.
	if res == nil {
		t.Fatal("VisionResult must never be nil")
	}
	if len(res.Labels) != 0 || len(res.WebEntities) != 0 || len(res.Objects) != 0 {
		t.Errorf("expected an all-empty result, got %+v", res)
	}
}

func TestAnnotateClampsZeroRetries(t *testing.T) {
	stub := &stubAnnotator{err: errors.New("boom")}
	cfg := testGenConfig(LangEnglish)
	cfg.Retries = 0
	v := NewVisionAnnotator(stub, cfg, nil)

	res := v.Annotate(context.Background(), []byte("img"))
	if stub.callCount() != 1 {
		t.Fatalf("expected one attempt, got %d", stub.callCount())
	}
	if res == nil {
		t.Fatal("VisionResult must never be nil")
	}
}

func TestAnnotateRecordsCalls(t *testing.T) {
	stub := &stubAnnotator{err: errors.New("boom")}
	cfg := testGenConfig(LangEnglish)
	cfg.Retries = 2
	cfg.RetryDelay = time.Millisecond
	calls := NewCallLog()
	v := NewVisionAnnotator(stub, cfg, calls)

	v.Annotate(context.Background(), []byte("img"))
	st := calls.Stats()["vision"]
	if st.Calls != 2 || st.Failures != 2 {
		t.Errorf("call log = %+v", st)
	}
}
