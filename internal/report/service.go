package report

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/signintech/gopdf"
	"go.uber.org/zap"

	"respira-triage/internal/episode"
	"respira-triage/internal/triage"
)

// DocumentSender is the slice of the messaging gateway the report needs.
type DocumentSender interface {
	SendDocument(ctx context.Context, chatID int64, filename string, content []byte, caption string) error
}

// Service renders the triage review summary as a PDF and delivers it to the
// doctor channel when a case is approved.
type Service struct {
	sender       DocumentSender
	doctorChatID int64
	fontPath     string
	logger       *zap.Logger
}

// Common locations of DejaVuSans across the base images we deploy on.
var defaultFontPaths = []string{
	"/usr/share/fonts/ttf-dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
}

func NewService(sender DocumentSender, doctorChatID int64, fontPath string, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		sender:       sender,
		doctorChatID: doctorChatID,
		fontPath:     fontPath,
		logger:       logger,
	}
}

// Case bundles everything the review summary shows.
type Case struct {
	Episode    *episode.Episode
	User       *episode.User
	Evaluation *triage.Evaluation
	Approval   *triage.Approval
}

// Send renders and delivers the review report. A missing doctor chat id turns
// the call into a no-op so approval never fails on reporting config.
func (s *Service) Send(ctx context.Context, c Case) error {
	if s.doctorChatID == 0 {
		return nil
	}
	content, err := s.Render(c)
	if err != nil {
		return err
	}
	filename := fmt.Sprintf("triage_%s.pdf", c.Episode.ID)
	caption := fmt.Sprintf("Triage review for episode %s", c.Episode.ID)
	if err := s.sender.SendDocument(ctx, s.doctorChatID, filename, content, caption); err != nil {
		return fmt.Errorf("deliver review report: %w", err)
	}
	s.logger.Info("review report delivered",
		zap.String("episode_id", c.Episode.ID.String()),
		zap.Int64("chat_id", s.doctorChatID))
	return nil
}

// Render produces the PDF bytes for the case summary.
func (s *Service) Render(c Case) ([]byte, error) {
	pdf := gopdf.GoPdf{}
	pdf.Start(gopdf.Config{PageSize: *gopdf.PageSizeA4})
	pdf.AddPage()

	if err := s.loadFont(&pdf); err != nil {
		return nil, err
	}

	if err := pdf.SetFont("DejaVu", "", 20); err != nil {
		return nil, err
	}
	pdf.Cell(nil, "Respiratory Triage Review")
	pdf.Br(30)

	if err := pdf.SetFont("DejaVu", "", 12); err != nil {
		return nil, err
	}
	pdf.Cell(nil, fmt.Sprintf("Date: %s", time.Now().UTC().Format("02 Jan 2006 15:04 UTC")))
	pdf.Br(15)
	pdf.Cell(nil, fmt.Sprintf("Episode: %s", c.Episode.ID))
	pdf.Br(15)
	if c.User != nil {
		patient := c.User.Name
		if patient == "" {
			patient = c.User.ID.String()
		}
		if c.User.Phone != "" {
			patient += " (" + c.User.Phone + ")"
		}
		pdf.Cell(nil, "Patient: "+patient)
		pdf.Br(15)
	}
	pdf.Cell(nil, fmt.Sprintf("Status: %s", c.Episode.Status))
	pdf.Br(25)

	if err := s.severitySection(&pdf, c.Evaluation, c.Approval); err != nil {
		return nil, err
	}
	if err := s.symptomSection(&pdf, c.Episode.Metadata); err != nil {
		return nil, err
	}
	if err := s.imageSection(&pdf, c.Episode.Metadata); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if _, err := pdf.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("write pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func (s *Service) loadFont(pdf *gopdf.GoPdf) error {
	paths := defaultFontPaths
	if s.fontPath != "" {
		paths = append([]string{s.fontPath}, paths...)
	}
	var lastErr error
	for _, path := range paths {
		if err := pdf.AddTTFFont("DejaVu", path); err == nil {
			return nil
		} else {
			lastErr = err
		}
	}
	return fmt.Errorf("load report font: %w", lastErr)
}

func (s *Service) severitySection(pdf *gopdf.GoPdf, eval *triage.Evaluation, approval *triage.Approval) error {
	if err := pdf.SetFont("DejaVu", "", 14); err != nil {
		return err
	}
	pdf.Cell(nil, "Severity")
	pdf.Br(15)
	if err := pdf.SetFont("DejaVu", "", 11); err != nil {
		return err
	}

	if eval == nil || eval.SeverityScore == nil {
		pdf.Cell(nil, "- No combined score could be computed.")
		pdf.Br(15)
	} else {
		pdf.Cell(nil, fmt.Sprintf("- Combined score: %.2f (%s)", *eval.SeverityScore, classLabel(eval.SeverityClass)))
		pdf.Br(12)
		pdf.Cell(nil, fmt.Sprintf("- Image weight alpha: %.2f, thresholds: %.2f / %.2f",
			eval.Components.Alpha, eval.Components.Thresholds[0], eval.Components.Thresholds[1]))
		pdf.Br(12)
		pdf.Cell(nil, "- Image sub-score: "+scoreLabel(eval.Components.ImageScore))
		pdf.Br(12)
		pdf.Cell(nil, "- Symptom sub-score: "+scoreLabel(eval.Components.SymptomScore))
		pdf.Br(12)
		if eval.Components.UsedFallback {
			pdf.Cell(nil, "- Single-input fallback was used.")
			pdf.Br(12)
		}
	}
	if approval != nil {
		line := fmt.Sprintf("- Approved by %s as %s", approval.DoctorID, approval.SeverityClass)
		if approval.OverrideApplied {
			line += " (manual override)"
		}
		pdf.Cell(nil, line)
		pdf.Br(12)
	}
	pdf.Br(10)
	return nil
}

func (s *Service) symptomSection(pdf *gopdf.GoPdf, m triage.Metadata) error {
	if err := pdf.SetFont("DejaVu", "", 14); err != nil {
		return err
	}
	pdf.Cell(nil, "Reported symptoms")
	pdf.Br(15)
	if err := pdf.SetFont("DejaVu", "", 11); err != nil {
		return err
	}

	if m.LastSymptomExtraction == nil {
		pdf.Cell(nil, "- Nothing collected.")
		pdf.Br(15)
		return nil
	}
	fields := m.LastSymptomExtraction.Fields
	pdf.Cell(nil, "- Fever: "+boolLabel(fields.FeverStatus))
	pdf.Br(12)
	pdf.Cell(nil, "- Cough duration: "+daysLabel(fields.OnsetDays))
	pdf.Br(12)
	pdf.Cell(nil, "- Shortness of breath: "+boolLabel(fields.Dyspnea))
	pdf.Br(12)
	pdf.Cell(nil, "- Chronic conditions: "+boolLabel(fields.Comorbidity))
	pdf.Br(20)
	return nil
}

func (s *Service) imageSection(pdf *gopdf.GoPdf, m triage.Metadata) error {
	if err := pdf.SetFont("DejaVu", "", 14); err != nil {
		return err
	}
	pdf.Cell(nil, "Sputum image")
	pdf.Br(15)
	if err := pdf.SetFont("DejaVu", "", 11); err != nil {
		return err
	}

	v := m.LastVisionAnalysis
	if v == nil {
		pdf.Cell(nil, "- No image was provided.")
		pdf.Br(15)
		return nil
	}
	pdf.Cell(nil, "- Category: "+v.SputumCategory)
	pdf.Br(12)
	pdf.Cell(nil, "- Image score: "+scoreLabel(v.SeverityImageScore))
	pdf.Br(12)
	if len(v.Markers) > 0 {
		names := make([]string, 0, len(v.Markers))
		for name := range v.Markers {
			names = append(names, name)
		}
		sort.Strings(names)
		parts := make([]string, 0, len(names))
		for _, name := range names {
			parts = append(parts, fmt.Sprintf("%s %.2f", name, v.Markers[name].Confidence))
		}
		for _, line := range wrap(pdf, "- Markers: "+strings.Join(parts, ", ")) {
			pdf.Cell(nil, line)
			pdf.Br(12)
		}
	}
	if v.Summary != "" {
		for _, line := range wrap(pdf, "- Notes: "+v.Summary) {
			pdf.Cell(nil, line)
			pdf.Br(12)
		}
	}
	return nil
}

func wrap(pdf *gopdf.GoPdf, text string) []string {
	lines, err := pdf.SplitText(text, 500)
	if err != nil {
		return []string{text}
	}
	return lines
}

func classLabel(class *triage.SeverityClass) string {
	if class == nil {
		return "unclassified"
	}
	return string(*class)
}

func scoreLabel(score *float64) string {
	if score == nil {
		return "not available"
	}
	return fmt.Sprintf("%.2f", *score)
}

func boolLabel(v *bool) string {
	switch {
	case v == nil:
		return "unknown"
	case *v:
		return "yes"
	default:
		return "no"
	}
}

func daysLabel(days *float64) string {
	if days == nil {
		return "unknown"
	}
	return fmt.Sprintf("%.0f day(s)", *days)
}
