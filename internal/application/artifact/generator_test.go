package artifact

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/garyjia/letter-approval/internal/domain/apperr"
	"github.com/garyjia/letter-approval/internal/domain/entity"
)

var genTime = time.Date(2026, 3, 5, 14, 30, 0, 0, time.UTC)

func pngBytes(w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	img.Set(0, 0, color.Black)
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

func signedLetter() *entity.Letter {
	day := func(d int) *time.Time {
		t := time.Date(2026, 3, d, 10, 0, 0, 0, time.UTC)
		return &t
	}
	return &entity.Letter{
		ID:          "L1",
		Title:       "Leave request",
		Body:        "Dear Sir,\n  I request leave for two days.  \nThank you.",
		SubmitterID: "S",
		Status:      entity.StatusSigned,
		Steps: []entity.WorkflowStep{
			{Position: 0, Kind: entity.StepKindMentor, ApproverID: "M", CompletedAt: day(2)},
			{Position: 1, Kind: entity.StepKindDean, ApproverID: "D", CompletedAt: day(3)},
		},
		Signatures: []entity.SignatureRecord{
			{ApproverID: "M", ApproverName: "Mentor", StepKind: entity.StepKindMentor, SignedAt: *day(2)},
			{ApproverID: "D", ApproverName: "Dean", Designation: "dean", StepKind: entity.StepKindDean, Image: pngBytes(240, 100), SignedAt: *day(3)},
			{ApproverID: "D", ApproverName: "Dean", Designation: "dean", StepKind: entity.StepKindDean, Image: pngBytes(240, 100), IsFinal: true, SignedAt: *day(4)},
		},
		CreatedAt: *day(1),
	}
}

func input(l *entity.Letter) *Input {
	return &Input{
		Letter:    l,
		Submitter: &entity.Actor{ID: "S", Name: "Student"},
		Actors: map[string]*entity.Actor{
			"M": {ID: "M", Name: "Mentor"},
			"D": {ID: "D", Name: "Dean"},
		},
	}
}

func newTestGenerator(t *testing.T) *Generator {
	t.Helper()
	m, err := NewMarker(MarkerLegacy, nil)
	require.NoError(t, err)
	return NewGenerator(DefaultOptions(), m, nil,
		WithClock(func() time.Time { return genTime }),
		WithSuffixSource(func() string { return "abcdef12" }))
}

func openWorkbook(t *testing.T, content []byte) *excelize.File {
	t.Helper()
	f, err := excelize.OpenReader(bytes.NewReader(content))
	require.NoError(t, err)
	t.Cleanup(func() { _ = f.Close() })
	return f
}

func findRow(rows [][]string, first string) int {
	for i, r := range rows {
		if len(r) > 0 && r[0] == first {
			return i
		}
	}
	return -1
}

func TestGenerate_Signed(t *testing.T) {
	g := newTestGenerator(t)
	l := signedLetter()

	art, err := g.Generate(input(l), entity.ArtifactSigned)
	require.NoError(t, err)

	assert.Equal(t, "DOC-20260305143000-abcdef12", art.DocumentID)
	assert.Equal(t, g.Marker().Compute(art.DocumentID, "Dean", l.Signatures[2].SignedAt), art.VerificationMarker)
	assert.Equal(t, "DOC-20260305143000-abcdef12.xlsx", art.FileName())

	f := openWorkbook(t, art.Content)
	a1, err := f.GetCellValue(sheetName, "A1")
	require.NoError(t, err)
	assert.Equal(t, "Veltech University", a1)

	a4, _ := f.GetCellValue(sheetName, "A4")
	assert.Equal(t, "March 05, 2026", a4)

	page, err := f.GetPageLayout(sheetName)
	require.NoError(t, err)
	require.NotNil(t, page.Size)
	assert.Equal(t, paperA4, *page.Size)
	require.NotNil(t, page.FitToHeight)
	assert.Equal(t, 1, *page.FitToHeight)

	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, findRow(rows, "APPROVED"), 0, "watermark banner")
	assert.GreaterOrEqual(t, findRow(rows, "I request leave for two days."), 0, "body lines are trimmed")

	sigRow := findRow(rows, "Signatures")
	require.GreaterOrEqual(t, sigRow, 0)

	// first record has no image so its name is printed in the image slot
	imageRow := rows[sigRow+1]
	assert.Equal(t, "Mentor", imageRow[0])

	cell, _ := excelize.CoordinatesToCellName(3, sigRow+2)
	pics, err := f.GetPictures(sheetName, cell)
	require.NoError(t, err)
	require.Len(t, pics, 1)
	assert.Equal(t, ".png", pics[0].Extension)

	assert.Equal(t, "Dean", rows[sigRow+2][2])
	assert.Equal(t, "dean", rows[sigRow+3][2])
	assert.Equal(t, "Date: Mar 03, 2026", rows[sigRow+4][2])

	docRow := findRow(rows, "Document ID")
	require.GreaterOrEqual(t, docRow, 0)
	assert.Equal(t, art.DocumentID, rows[docRow][1])
	assert.Equal(t, art.VerificationMarker, rows[docRow+1][1])

	props, err := f.GetDocProps()
	require.NoError(t, err)
	assert.Equal(t, art.DocumentID, props.Identifier)
}

func TestGenerate_Clean(t *testing.T) {
	g := newTestGenerator(t)
	l := signedLetter()
	l.Status = entity.StatusApproved
	l.Signatures = l.Signatures[:2]

	art, err := g.Generate(input(l), entity.ArtifactClean)
	require.NoError(t, err)
	assert.Equal(t, g.Marker().Compute(art.DocumentID, "Dean", l.Signatures[1].SignedAt), art.VerificationMarker)

	f := openWorkbook(t, art.Content)
	rows, err := f.GetRows(sheetName)
	require.NoError(t, err)

	assert.Equal(t, -1, findRow(rows, "APPROVED"))
	assert.Equal(t, -1, findRow(rows, "Signatures"))
	pathRow := findRow(rows, "Approval Path")
	require.GreaterOrEqual(t, pathRow, 0)
	assert.Equal(t, []string{"1. mentor", "Mentor", "Approved Mar 02, 2026"}, rows[pathRow+1])
}

func TestGenerate_FreshDocumentIDPerCall(t *testing.T) {
	m, _ := NewMarker(MarkerLegacy, nil)
	g := NewGenerator(DefaultOptions(), m, nil)
	in := input(signedLetter())

	a, err := g.Generate(in, entity.ArtifactSigned)
	require.NoError(t, err)
	b, err := g.Generate(in, entity.ArtifactSigned)
	require.NoError(t, err)

	pattern := regexp.MustCompile(`^DOC-\d{14}-[0-9a-f]{8}$`)
	assert.Regexp(t, pattern, a.DocumentID)
	assert.NotEqual(t, a.DocumentID, b.DocumentID)
	assert.NotEqual(t, a.VerificationMarker, b.VerificationMarker)
}

func TestGenerate_Preconditions(t *testing.T) {
	g := newTestGenerator(t)

	approved := signedLetter()
	approved.Status = entity.StatusApproved
	approved.Signatures = approved.Signatures[:2]
	_, err := g.Generate(input(approved), entity.ArtifactSigned)
	assert.ErrorIs(t, err, apperr.ErrNotFound)

	for _, status := range []entity.Status{entity.StatusPending, entity.StatusRejected} {
		l := signedLetter()
		l.Status = status
		_, err := g.Generate(input(l), entity.ArtifactClean)
		assert.ErrorIs(t, err, apperr.ErrState, string(status))
	}

	_, err = g.Generate(input(signedLetter()), entity.ArtifactKind("draft"))
	assert.ErrorIs(t, err, apperr.ErrValidation)

	_, err = g.Generate(nil, entity.ArtifactClean)
	assert.ErrorIs(t, err, apperr.ErrValidation)
}

func TestSignerFor(t *testing.T) {
	l := signedLetter()

	s, err := SignerFor(l, entity.ArtifactSigned)
	require.NoError(t, err)
	assert.True(t, s.IsFinal)

	s, err = SignerFor(l, entity.ArtifactClean)
	require.NoError(t, err)
	assert.False(t, s.IsFinal)
	assert.Equal(t, "D", s.ApproverID)

	l.Status = entity.StatusApproved
	l.Signatures = nil
	_, err = SignerFor(l, entity.ArtifactClean)
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestImageInfo(t *testing.T) {
	ext, w, h, ok := imageInfo(pngBytes(3, 2))
	assert.True(t, ok)
	assert.Equal(t, ".png", ext)
	assert.Equal(t, 3, w)
	assert.Equal(t, 2, h)

	_, _, _, ok = imageInfo([]byte("nope"))
	assert.False(t, ok)
}
