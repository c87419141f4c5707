package tagger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"google.golang.org/genai"
	"k8s.io/klog/v2"
)

// generativeModel is the slice of genai.Client.Models the adapter needs;
// tests substitute a stub.
type generativeModel interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Generator wraps the generative model with bounded retry and multi-strategy
// response parsing. It always returns a valid TagRecord: exhausted retries
// degrade to the fixed default record with the error preserved under
// error_gemini.
type Generator struct {
	model   generativeModel
	name    string
	lang    string
	retries int
	delay   time.Duration
	timeout time.Duration
	calls   *CallLog
}

// NewGenerator builds an adapter around a generative client. The client is
// shared read-only across workers. Retries below 1 are clamped so the call
// loop always runs at least once.
func NewGenerator(model generativeModel, cfg *Config, calls *CallLog) *Generator {
	return &Generator{
		model:   model,
		name:    cfg.Model,
		lang:    cfg.Lang,
		retries: max(cfg.Retries, 1),
		delay:   cfg.RetryDelay,
		timeout: cfg.CallTimeout,
		calls:   calls,
	}
}

var systemInstructions = map[string]string{
	LangFrench: "Tu es un expert en analyse d'images et en rédaction de métadonnées. " +
		"Réponds toujours en français et uniquement avec l'objet JSON demandé, sans texte autour.",
	LangEnglish: "You are an expert in image analysis and metadata writing. " +
		"Always answer in English and only with the requested JSON object, no surrounding text.",
}

var promptTemplates = map[string]string{
	LangFrench: `Analyse cette image et retourne un objet JSON avec exactement ces champs :
{
  "title": "Titre (3-7 mots)",
  "description": "Description détaillée",
  "comment": "Interprétation poétique, philosophique ou artistique (3-5 phrases)",
  "story": "Petite histoire ou texte d'ambiance plus long (optionnel)",
  "main_genre": "Genre principal",
  "secondary_genre": "Sous-genre",
  "content_keywords": ["ce qui est représenté"],
  "technical_characteristics": ["style, technique, rendu"]
}`,
	LangEnglish: `Analyze this image and return a JSON object with exactly these fields:
{
  "title": "Title (3-7 words)",
  "description": "Detailed description",
  "comment": "Poetic, philosophical or artistic interpretation (3-5 sentences)",
  "story": "Longer mood-setting story (optional)",
  "main_genre": "Main genre",
  "secondary_genre": "Sub-genre",
  "content_keywords": ["what is depicted"],
  "technical_characteristics": ["style, technique, rendering"]
}`,
}

var commentPrompts = map[string]string{
	LangFrench:  "Écris un court commentaire poétique ou artistique (3-5 phrases) inspiré par cette image. Réponds avec le texte seul, sans JSON.",
	LangEnglish: "Write a short poetic or artistic comment (3-5 sentences) inspired by this image. Answer with the text alone, no JSON.",
}

// Generate produces a validated TagRecord for an image, grounding the prompt
// with the vision annotations.
func (g *Generator) Generate(ctx context.Context, img *NormalizedImage, vr *VisionResult) *TagRecord {
	prompt := g.buildPrompt(vr)

	var lastErr error
	for attempt := 1; attempt <= g.retries; attempt++ {
		start := time.Now()
		text, err := g.generateOnce(ctx, prompt, img)
		g.calls.Record("gemini", time.Since(start), err)

		if err == nil {
			fields, perr := parseModelJSON(text)
			if perr == nil {
				rec := tagRecordFromFields(fields)
				if rec.Title != "" && rec.Description != "" {
					if rec.Comment == "" {
						rec.Comment = g.generateComment(ctx, img)
					}
					return repairTagRecord(rec, g.lang)
				}
				perr = errors.New("response missing title or description")
			}
			err = perr
		}

		lastErr = err
		klog.Warningf("gemini attempt %d/%d failed: %v", attempt, g.retries, err)
		if attempt < g.retries {
			sleepBackoff(ctx, g.delay, attempt)
		}
	}

	klog.Errorf("gemini generation exhausted %d attempts: %v", g.retries, lastErr)
	return defaultTagRecord(g.lang, lastErr.Error())
}

func (g *Generator) buildPrompt(vr *VisionResult) string {
	var b strings.Builder
	b.WriteString(promptTemplates[g.lang])

	ctxLines := []string{}
	if len(vr.Labels) > 0 {
		ls := make([]string, 0, len(vr.Labels))
		for _, l := range vr.Labels {
			ls = append(ls, l.Description)
		}
		ctxLines = append(ctxLines, "Labels: "+strings.Join(ls, ", "))
	}
	if len(vr.Objects) > 0 {
		ctxLines = append(ctxLines, "Objects: "+strings.Join(vr.Objects, ", "))
	}
	if len(vr.Landmarks) > 0 {
		ctxLines = append(ctxLines, "Landmarks: "+strings.Join(vr.Landmarks, ", "))
	}
	if len(vr.WebEntities) > 0 {
		ctxLines = append(ctxLines, "Web entities: "+strings.Join(vr.WebEntities, ", "))
	}

	if len(ctxLines) > 0 {
		b.WriteString("\n\nContext from a vision analysis of the same image:\n")
		b.WriteString(strings.Join(ctxLines, "\n"))
	}
	return b.String()
}

func (g *Generator) generateOnce(ctx context.Context, prompt string, img *NormalizedImage) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	parts := []*genai.Part{
		genai.NewPartFromText(prompt),
		genai.NewPartFromBytes(img.Bytes, img.MimeType),
	}
	cfg := &genai.GenerateContentConfig{
		Temperature:       genai.Ptr[float32](0.7),
		SystemInstruction: genai.NewContentFromText(systemInstructions[g.lang], genai.RoleUser),
	}

	resp, err := g.model.GenerateContent(ctx, g.name,
		[]*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}, cfg)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return "", errors.New("empty model response")
	}
	return text, nil
}

// generateComment issues the secondary instruction-only call used when the
// main response lacked a comment. It is best-effort and never retried; on
// failure the comment simply stays empty.
func (g *Generator) generateComment(ctx context.Context, img *NormalizedImage) string {
	start := time.Now()
	text, err := g.generateOnce(ctx, commentPrompts[g.lang], img)
	g.calls.Record("gemini", time.Since(start), err)
	if err != nil {
		klog.V(1).Infof("secondary comment call failed: %v", err)
		return ""
	}
	return strings.TrimSpace(text)
}

var fencedBlockRe = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*(.*?)```")

// parseModelJSON extracts the JSON object from a raw model response. The
// strategies are tried in a fixed order, falling through on failure:
// the last top-level {...} span, then a fenced code block, then the whole
// text with fence markers stripped.
func parseModelJSON(text string) (map[string]any, error) {
	try := func(s string) map[string]any {
		var m map[string]any
		if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &m); err != nil {
			return nil
		}
		return m
	}

	if start := strings.Index(text, "{"); start >= 0 {
		if end := strings.LastIndex(text, "}"); end > start {
			if m := try(text[start : end+1]); m != nil {
				return m, nil
			}
		}
	}

	if sub := fencedBlockRe.FindStringSubmatch(text); sub != nil {
		if m := try(sub[1]); m != nil {
			return m, nil
		}
	}

	stripped := strings.NewReplacer("```json", "", "```", "").Replace(text)
	if m := try(stripped); m != nil {
		return m, nil
	}

	return nil, errors.New("no parseable JSON object in response")
}

// tagRecordFromFields maps a loosely-typed response object into a TagRecord.
// Repair and fallback substitution happen in repairTagRecord.
func tagRecordFromFields(fields map[string]any) *TagRecord {
	rec := &TagRecord{
		Title:                    stringFromAny(fields["title"]),
		Description:              stringFromAny(fields["description"]),
		Comment:                  stringFromAny(fields["comment"]),
		Story:                    stringFromAny(fields["story"]),
		MainGenre:                stringFromAny(fields["main_genre"]),
		SecondaryGenre:           stringFromAny(fields["secondary_genre"]),
		ContentKeywords:          stringsFromAny(fields["content_keywords"]),
		TechnicalCharacteristics: stringsFromAny(fields["technical_characteristics"]),
	}

	// Older model revisions answered with a flat "keywords" list.
	if len(rec.ContentKeywords) == 0 {
		rec.ContentKeywords = stringsFromAny(fields["keywords"])
	}
	return rec
}
