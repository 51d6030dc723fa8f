package progress

import "strings"

// Lines the runner itself emits.
const (
	LinePreparing   = "Preparando…"
	LineDownloading = "Descargando…"
	LineCompleted   = "Completado"
	LineBotHint     = "Hint: YouTube exige verificación anti-bot. Si aparece este aviso, reintenta más tarde o inicia sesión en YouTube en tu navegador."
)

var minimalPrefixes = []string{
	LinePreparing,
	"Encontradas ",
	"Destino:",
	LineDownloading,
	"Descargado",
	LineCompleted,
}

// Filter decides which lines are kept for a job. It is a pure function of the
// line and the verbosity flag.
type Filter struct {
	Verbose bool
}

// Live reports whether line goes to the live job log.
func (f Filter) Live(line string) bool {
	return f.Verbose || Minimal(line)
}

// Archive reports whether line goes to the job log file written on failure.
func (f Filter) Archive(line string) bool {
	if f.Verbose {
		return true
	}
	s := strings.TrimSpace(line)
	switch {
	case strings.HasPrefix(s, "[debug]"), strings.HasPrefix(s, "[info]"):
		return false
	case strings.HasPrefix(s, "[youtube]"),
		strings.HasPrefix(s, "ERROR:"),
		strings.HasPrefix(s, "WARN:"),
		strings.HasPrefix(s, "[cookies]"):
		return true
	}
	return Minimal(s)
}

// Minimal reports whether line belongs to the short, non-verbose view.
func Minimal(line string) bool {
	s := strings.TrimSpace(line)
	for _, p := range minimalPrefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	if IsTrackMarker(s) {
		return true
	}
	return strings.Contains(s, "Saltado")
}
