// Package artifact renders approved letters into verifiable workbook documents.
package artifact

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/garyjia/letter-approval/internal/domain/apperr"
	"github.com/garyjia/letter-approval/internal/domain/entity"
)

// ContentType is the MIME type of generated artifacts
const ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// Options are the fixed header values printed on every artifact
type Options struct {
	Institution string
	Department  string
	City        string
}

// DefaultOptions returns the stock letterhead
func DefaultOptions() Options {
	return Options{
		Institution: "Veltech University",
		Department:  "Department of Computer Science",
		City:        "Chennai, Tamil Nadu",
	}
}

// Input is everything needed to render one letter
type Input struct {
	Letter    *entity.Letter
	Submitter *entity.Actor
	// Actors resolves step approver ids to display names; missing entries
	// fall back to the id.
	Actors map[string]*entity.Actor
}

// Artifact is a rendered document
type Artifact struct {
	DocumentID         string              `json:"document_id"`
	VerificationMarker string              `json:"verification_marker"`
	Kind               entity.ArtifactKind `json:"kind"`
	GeneratedAt        time.Time           `json:"generated_at"`
	Content            []byte              `json:"-"`
}

// FileName is the suggested download name
func (a *Artifact) FileName() string {
	return a.DocumentID + ".xlsx"
}

// Generator renders artifacts. It has no mutable state after construction.
type Generator struct {
	opts      Options
	marker    Marker
	logger    *zap.Logger
	now       func() time.Time
	newSuffix func() string
}

// GeneratorOption configures a Generator
type GeneratorOption func(*Generator)

// WithClock replaces time.Now
func WithClock(now func() time.Time) GeneratorOption {
	return func(g *Generator) {
		g.now = now
	}
}

// WithSuffixSource replaces the random document id suffix
func WithSuffixSource(f func() string) GeneratorOption {
	return func(g *Generator) {
		g.newSuffix = f
	}
}

// NewGenerator creates a generator
func NewGenerator(opts Options, marker Marker, logger *zap.Logger, genOpts ...GeneratorOption) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	g := &Generator{
		opts:      opts,
		marker:    marker,
		logger:    logger,
		now:       time.Now,
		newSuffix: randomSuffix,
	}
	for _, opt := range genOpts {
		opt(g)
	}
	return g
}

// Marker exposes the configured marker so verifiers can recompute it
func (g *Generator) Marker() Marker {
	return g.marker
}

// Generate renders a Clean or Signed artifact. Every call mints a new
// document id.
func (g *Generator) Generate(in *Input, kind entity.ArtifactKind) (*Artifact, error) {
	const op = "artifact.Generate"

	if in == nil || in.Letter == nil {
		return nil, apperr.Validation(op, "letter is required")
	}
	if !kind.IsValid() {
		return nil, apperr.Validation(op, "unknown artifact kind %q", kind)
	}

	signer, err := SignerFor(in.Letter, kind)
	if err != nil {
		return nil, err
	}

	now := g.now().UTC()
	art := &Artifact{
		DocumentID:  g.documentID(now),
		Kind:        kind,
		GeneratedAt: now,
	}
	art.VerificationMarker = g.marker.Compute(art.DocumentID, signer.ApproverName, signer.SignedAt)

	content, err := render(g.opts, in, art)
	if err != nil {
		g.logger.Error("Failed to render artifact",
			zap.String("letter_id", in.Letter.ID),
			zap.String("kind", string(kind)),
			zap.Error(err))
		return nil, fmt.Errorf("failed to render artifact: %w", err)
	}
	art.Content = content

	g.logger.Info("Artifact generated",
		zap.String("letter_id", in.Letter.ID),
		zap.String("document_id", art.DocumentID),
		zap.String("kind", string(kind)),
		zap.Int("size", len(content)))

	return art, nil
}

// SignerFor returns the signature record a marker is bound to: the final
// signature for Signed artifacts, the last approval for Clean ones.
func SignerFor(letter *entity.Letter, kind entity.ArtifactKind) (*entity.SignatureRecord, error) {
	const op = "artifact.SignerFor"

	switch kind {
	case entity.ArtifactSigned:
		final := letter.FinalSignature()
		if letter.Status != entity.StatusSigned || final == nil {
			return nil, apperr.NotFound(op, "letter %s has no final signature", letter.ID)
		}
		return final, nil

	case entity.ArtifactClean:
		if letter.Status != entity.StatusApproved && letter.Status != entity.StatusSigned {
			return nil, apperr.State(op, "letter %s is %s, not approved", letter.ID, letter.Status)
		}
		for i := len(letter.Signatures) - 1; i >= 0; i-- {
			if !letter.Signatures[i].IsFinal {
				return &letter.Signatures[i], nil
			}
		}
		return nil, apperr.NotFound(op, "letter %s has no approval record", letter.ID)
	}
	return nil, apperr.Validation(op, "unknown artifact kind %q", kind)
}

func (g *Generator) documentID(now time.Time) string {
	return fmt.Sprintf("DOC-%s-%s", now.Format("20060102150405"), g.newSuffix())
}

func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
