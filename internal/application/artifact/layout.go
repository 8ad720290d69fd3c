package artifact

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/garyjia/letter-approval/internal/domain/entity"
)

// Workbook skeleton
const (
	sheetName = "Letter"
	lastCol   = "F"

	signatureWidthPx  = 120
	signatureHeightPx = 50
	signatureRowPt    = 40

	letterheadDate = "January 02, 2006"
	shortDate      = "Jan 02, 2006"
)

type styles struct {
	title     int
	label     int
	section   int
	watermark int
	cursive   int
	footer    int
}

// sheet appends rows top to bottom and keeps the first error
type sheet struct {
	f   *excelize.File
	row int
	err error
}

func (s *sheet) cell(col string) string {
	return fmt.Sprintf("%s%d", col, s.row)
}

func (s *sheet) set(col string, value interface{}, style int) {
	if s.err != nil {
		return
	}
	cell := s.cell(col)
	if s.err = s.f.SetCellValue(sheetName, cell, value); s.err != nil {
		s.err = fmt.Errorf("set %s: %w", cell, s.err)
		return
	}
	if style != 0 {
		if s.err = s.f.SetCellStyle(sheetName, cell, cell, style); s.err != nil {
			s.err = fmt.Errorf("style %s: %w", cell, s.err)
		}
	}
}

func (s *sheet) labeled(label string, value interface{}, st *styles) {
	s.set("A", label, st.label)
	s.set("B", value, 0)
	s.row++
}

func (s *sheet) skip(n int) {
	s.row += n
}

// paperA4 is the OOXML paper size code for A4
const paperA4 = 9

// setA4Page prints the letter as a single portrait A4 page
func setA4Page(f *excelize.File) error {
	size, orientation, one := paperA4, "portrait", 1
	fit := true
	if err := f.SetSheetProps(sheetName, &excelize.SheetPropsOptions{FitToPage: &fit}); err != nil {
		return fmt.Errorf("set sheet props: %w", err)
	}
	if err := f.SetPageLayout(sheetName, &excelize.PageLayoutOptions{
		Size:        &size,
		Orientation: &orientation,
		FitToWidth:  &one,
		FitToHeight: &one,
	}); err != nil {
		return fmt.Errorf("set page layout: %w", err)
	}
	return nil
}

func render(opts Options, in *Input, art *Artifact) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return nil, fmt.Errorf("rename sheet: %w", err)
	}
	if err := f.SetColWidth(sheetName, "A", lastCol, 22); err != nil {
		return nil, fmt.Errorf("set column width: %w", err)
	}
	if err := setA4Page(f); err != nil {
		return nil, err
	}

	st, err := newStyles(f)
	if err != nil {
		return nil, err
	}

	letter := in.Letter
	signed := art.Kind == entity.ArtifactSigned
	s := &sheet{f: f, row: 1}

	// Letterhead
	s.set("A", opts.Institution, st.title)
	s.skip(1)
	s.set("A", opts.Department, 0)
	s.skip(1)
	s.set("A", opts.City, 0)
	s.skip(1)
	s.set("A", art.GeneratedAt.Format(letterheadDate), 0)
	s.skip(2)

	// Metadata
	s.labeled("Subject", letter.Title, st)
	s.labeled("From", displayName(in.Submitter, letter.SubmitterID), st)
	s.labeled("Submitted", letter.CreatedAt.Format(shortDate), st)
	if approvedAt := approvalTime(letter); !approvedAt.IsZero() {
		s.labeled("Approved", approvedAt.Format(shortDate), st)
	}
	s.labeled("Status", string(letter.Status), st)
	s.skip(1)

	if signed {
		s.writeWatermark(st)
	}

	// Body, line by line
	for _, line := range strings.Split(letter.Body, "\n") {
		s.set("A", strings.TrimSpace(line), 0)
		s.skip(1)
	}
	s.skip(1)

	// Approval path
	s.set("A", "Approval Path", st.section)
	s.skip(1)
	for i, step := range letter.Steps {
		s.set("A", fmt.Sprintf("%d. %s", i+1, step.Kind), 0)
		s.set("B", displayName(in.Actors[step.ApproverID], step.ApproverID), 0)
		if step.CompletedAt != nil {
			s.set("C", "Approved "+step.CompletedAt.Format(shortDate), 0)
		} else {
			s.set("C", "-", 0)
		}
		s.skip(1)
	}
	s.skip(1)

	if signed {
		s.writeSignatures(letter.Signatures, st)
	}

	// Footer
	s.set("A", "Document ID", st.footer)
	s.set("B", art.DocumentID, st.footer)
	s.skip(1)
	s.set("A", "Verification", st.footer)
	s.set("B", art.VerificationMarker, st.footer)
	s.skip(1)
	s.set("A", "Generated", st.footer)
	s.set("B", art.GeneratedAt.Format(time.RFC3339), st.footer)

	if s.err != nil {
		return nil, s.err
	}

	hf := &excelize.HeaderFooterOptions{
		OddFooter: fmt.Sprintf("&LDocument ID: %s&RVerification: %s", art.DocumentID, art.VerificationMarker),
	}
	if signed {
		hf.OddHeader = "&C&\"-,Bold\"&24APPROVED"
	}
	if err := f.SetHeaderFooter(sheetName, hf); err != nil {
		return nil, fmt.Errorf("set header/footer: %w", err)
	}

	if err := f.SetDocProps(&excelize.DocProperties{
		Title:       letter.Title,
		Creator:     opts.Institution,
		Identifier:  art.DocumentID,
		Description: art.VerificationMarker,
		Created:     art.GeneratedAt.Format(time.RFC3339),
	}); err != nil {
		return nil, fmt.Errorf("set doc props: %w", err)
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *sheet) writeWatermark(st *styles) {
	if s.err != nil {
		return
	}
	from, to := s.cell("A"), s.cell(lastCol)
	if s.err = s.f.MergeCell(sheetName, from, to); s.err != nil {
		return
	}
	s.set("A", "APPROVED", st.watermark)
	if s.err == nil {
		s.err = s.f.SetRowHeight(sheetName, s.row, 36)
	}
	s.skip(2)
}

// writeSignatures lays signature blocks side by side, two columns apart:
// image (or the name in a cursive face), then name, designation and date.
func (s *sheet) writeSignatures(records []entity.SignatureRecord, st *styles) {
	s.set("A", "Signatures", st.section)
	s.skip(1)
	if s.err != nil || len(records) == 0 {
		return
	}

	if s.err = s.f.SetRowHeight(sheetName, s.row, signatureRowPt); s.err != nil {
		return
	}

	for i, rec := range records {
		col, err := excelize.ColumnNumberToName(1 + i*2)
		if err != nil {
			s.err = err
			return
		}

		s.writeSignatureImage(col, rec, st)
		s.row++
		s.set(col, rec.ApproverName, 0)
		s.row++
		s.set(col, designationOf(rec), 0)
		s.row++
		s.set(col, "Date: "+rec.SignedAt.Format(shortDate), 0)
		s.row -= 3
	}
	s.skip(5)
}

func (s *sheet) writeSignatureImage(col string, rec entity.SignatureRecord, st *styles) {
	if s.err != nil {
		return
	}
	ext, w, h, ok := imageInfo(rec.Image)
	if !ok {
		s.set(col, rec.ApproverName, st.cursive)
		return
	}

	cell := s.cell(col)
	s.err = s.f.AddPictureFromBytes(sheetName, cell, &excelize.Picture{
		Extension: ext,
		File:      rec.Image,
		Format: &excelize.GraphicOptions{
			AltText:     "Signature of " + rec.ApproverName,
			ScaleX:      float64(signatureWidthPx) / float64(w),
			ScaleY:      float64(signatureHeightPx) / float64(h),
			Positioning: "oneCell",
		},
	})
	if s.err != nil {
		s.err = fmt.Errorf("embed signature at %s: %w", cell, s.err)
	}
}

func newStyles(f *excelize.File) (*styles, error) {
	st := &styles{}
	defs := []struct {
		dst   *int
		style *excelize.Style
	}{
		{&st.title, &excelize.Style{Font: &excelize.Font{Bold: true, Size: 14}}},
		{&st.label, &excelize.Style{Font: &excelize.Font{Bold: true}}},
		{&st.section, &excelize.Style{Font: &excelize.Font{Bold: true, Size: 12, Underline: "single"}}},
		{&st.watermark, &excelize.Style{
			Font:      &excelize.Font{Bold: true, Size: 28, Color: "#2E7D32"},
			Alignment: &excelize.Alignment{Horizontal: "center", Vertical: "center"},
			Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#E8F5E9"}},
		}},
		{&st.cursive, &excelize.Style{Font: &excelize.Font{Italic: true, Family: "Times New Roman", Size: 20}}},
		{&st.footer, &excelize.Style{Font: &excelize.Font{Size: 9, Color: "#555555"}}},
	}

	for i, d := range defs {
		id, err := f.NewStyle(d.style)
		if err != nil {
			return nil, fmt.Errorf("create style %d: %w", i, err)
		}
		*d.dst = id
	}
	return st, nil
}

func imageInfo(b []byte) (ext string, width, height int, ok bool) {
	if len(b) == 0 {
		return "", 0, 0, false
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(b))
	if err != nil || cfg.Width == 0 || cfg.Height == 0 {
		return "", 0, 0, false
	}
	switch format {
	case "jpeg":
		ext = ".jpg"
	default:
		ext = "." + format
	}
	return ext, cfg.Width, cfg.Height, true
}

func displayName(a *entity.Actor, fallback string) string {
	if a != nil && a.Name != "" {
		return a.Name
	}
	return fallback
}

func designationOf(rec entity.SignatureRecord) string {
	if rec.Designation != "" {
		return rec.Designation
	}
	return string(rec.StepKind)
}

// approvalTime is when the last step was approved, zero if it never was
func approvalTime(l *entity.Letter) time.Time {
	if l.Status != entity.StatusApproved && l.Status != entity.StatusSigned {
		return time.Time{}
	}
	if last := l.LastStep(); last != nil && last.CompletedAt != nil {
		return *last.CompletedAt
	}
	return time.Time{}
}
