package incidents

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"incident-engine/core/redact"
	"incident-engine/core/utils"

	"github.com/gofrs/uuid/v5"
)

const (
	reportStampLayout   = "20060102T150405Z"
	reportTraceCap      = 30000
	reportMessageCap    = 2400
	reportHypothesisCap = 1500
	reportIDCap         = 160

	attemptsMaxItems = 8
	attemptsItemCap  = 120
	attemptsListCap  = 1200
	attemptsTextCap  = 800

	baseHypothesis = "Falha intermitente na captura de asset do iOS ou incompatibilidade de representacao do arquivo."
	nextSteps      = "validar reproducoes no iOS real, revisar fallback de picker e acompanhar incidente por 24h."
	noAttempts     = "Sem detalhes adicionais de tentativas."
)

// ReportInput is everything a report needs about the escalating occurrence.
type ReportInput struct {
	Fingerprint string
	Level       int
	Count       int
	ErrorType   string
	Message     string
	Stack       string
	Context     map[string]any
	TraceID     string
	RequestID   string
	RunID       string
	At          time.Time
}

// ReportWriter renders markdown incident reports into Dir.
type ReportWriter struct {
	Dir           string
	WindowMinutes int
	logger        *utils.Logger
}

func NewReportWriter(dir string, windowMinutes int, logger *utils.Logger) *ReportWriter {
	return &ReportWriter{Dir: dir, WindowMinutes: windowMinutes, logger: logger}
}

// Write creates a new report file and returns its path. Existing files are
// never overwritten.
func (w *ReportWriter) Write(in ReportInput) (string, error) {
	if w == nil || strings.TrimSpace(w.Dir) == "" {
		return "", errors.New("reports dir is not configured")
	}
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create reports dir: %w", err)
	}
	at := utils.NormalizeTime(in.At)
	base := fmt.Sprintf("incident-%s-%s", in.Fingerprint, at.Format(reportStampLayout))
	body := []byte(w.render(in, at))

	path := filepath.Join(w.Dir, base+".md")
	err := writeExclusive(path, body)
	if errors.Is(err, os.ErrExist) {
		suffix, idErr := uuid.NewV4()
		if idErr != nil {
			return "", fmt.Errorf("report suffix: %w", idErr)
		}
		path = filepath.Join(w.Dir, base+"-"+suffix.String()[:8]+".md")
		err = writeExclusive(path, body)
	}
	if err != nil {
		return "", err
	}
	if w.logger != nil {
		w.logger.Printf("incident report written fingerprint=%s level=%d path=%s", in.Fingerprint, in.Level, path)
	}
	return filepath.ToSlash(path), nil
}

func writeExclusive(path string, body []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.Write(body); err != nil {
		_ = f.Close()
		return fmt.Errorf("write report: %w", err)
	}
	return f.Close()
}

func (w *ReportWriter) render(in ReportInput, at time.Time) string {
	status := "investigating"
	if in.Level >= LevelCritical {
		status = "critical_open"
	}
	lines := []string{
		"# Relatorio de Incidente",
		"",
		"- horario: " + utils.FormatTimestamp(at),
		"- fingerprint: " + in.Fingerprint,
		fmt.Sprintf("- frequencia: %d ocorrencias nos ultimos %d minutos", in.Count, w.WindowMinutes),
		"- impacto: " + impactForLevel(in.Level),
		"- hipotese: " + redact.Clip(hypothesisFor(in.ErrorType), reportHypothesisCap),
		"- tentativas feitas: " + attemptsText(in.Context),
		"- proximos passos: " + nextSteps,
		"- status: " + status,
		"",
		"## Ultimo Evento",
		"- trace_id: " + redact.Clip(orDash(in.TraceID), reportIDCap),
		"- request_id: " + redact.Clip(orDash(in.RequestID), reportIDCap),
		"- run_id: " + redact.Clip(orDash(in.RunID), reportIDCap),
		"- erro: " + redact.Clip(in.Message, reportMessageCap),
	}
	if in.Level >= LevelCritical {
		lines = append(lines, "", "## Trace Completo", "```text", redact.Clip(in.Stack, reportTraceCap), "```")
	}
	return strings.Join(lines, "\n") + "\n"
}

func impactForLevel(level int) string {
	switch {
	case level >= LevelCritical:
		return "Critico: erro recorrente com alta probabilidade de impactar operacao e upload."
	case level >= LevelHigh:
		return "Alto: erro recorrente confirmado com impacto direto na experiencia do usuario."
	case level >= LevelRepeat:
		return "Moderado: repeticao detectada dentro da janela de observacao."
	default:
		return "Baixo: evento isolado dentro da janela."
	}
}

func hypothesisFor(errorType string) string {
	lower := strings.ToLower(errorType)
	hypothesis := baseHypothesis
	switch {
	case strings.Contains(lower, "timeout"):
		hypothesis = "Dependencia lenta ou indisponivel excedendo o tempo limite da etapa."
	case strings.Contains(lower, "connection") || strings.Contains(lower, "network"):
		hypothesis = "Instabilidade de rede entre o cliente e a API ou entre a API e o storage."
	}
	if errorType == "" {
		return hypothesis
	}
	return hypothesis + " Tipo observado: " + errorType + "."
}

func attemptsText(ctx map[string]any) string {
	if failures, ok := ctx["failures"].([]any); ok && len(failures) > 0 {
		if len(failures) > attemptsMaxItems {
			failures = failures[:attemptsMaxItems]
		}
		parts := make([]string, 0, len(failures))
		for _, item := range failures {
			parts = append(parts, redact.Text(item, attemptsItemCap))
		}
		return redact.Clip(strings.Join(parts, ", "), attemptsListCap)
	}
	for _, key := range []string{"reason", "message"} {
		if text := redact.Text(ctx[key], attemptsTextCap); text != "" {
			return text
		}
	}
	return noAttempts
}

func orDash(v string) string {
	if strings.TrimSpace(v) == "" {
		return "-"
	}
	return v
}
