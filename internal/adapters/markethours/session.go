package markethours

// session.go: horario de la bolsa de Indonesia (IDX).
//
// Sesiones regulares en hora de Jakarta (WIB, UTC+7):
//   - lunes a jueves: 09:00–12:00 y 13:30–15:50
//   - viernes:        09:00–11:30 y 14:00–15:50
//
// Fines de semana y festivos cerrados. Los festivos vienen de config.

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alejandrodnm/posmon/internal/ports"
)

const (
	defaultTimezone = "Asia/Jakarta"
	dateLayout      = "2006-01-02"
)

// wib es el fallback si la base de zonas horarias no está disponible.
var wib = time.FixedZone("WIB", 7*60*60)

// window es un intervalo [start, end) en minutos desde medianoche.
type window struct {
	start, end int
}

func (w window) contains(minute int) bool {
	return minute >= w.start && minute < w.end
}

// Config describe el calendario. Sessions vacío usa el horario IDX por defecto.
// Las claves de Sessions son días en inglés ("monday") y los valores rangos "HH:MM-HH:MM".
type Config struct {
	Timezone string              `yaml:"timezone"`
	Sessions map[string][]string `yaml:"sessions"`
	Holidays []string            `yaml:"holidays"` // YYYY-MM-DD
}

// Calendar implementa ports.MarketHoursPolicy.
type Calendar struct {
	loc      *time.Location
	sessions map[time.Weekday][]window
	holidays map[string]struct{}
}

var _ ports.MarketHoursPolicy = (*Calendar)(nil)

// New construye el calendario a partir de la config.
func New(cfg Config) (*Calendar, error) {
	tz := cfg.Timezone
	if tz == "" {
		tz = defaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		if tz != defaultTimezone {
			return nil, fmt.Errorf("markethours.New: load timezone %q: %w", tz, err)
		}
		slog.Warn("tzdata unavailable, using fixed WIB offset", "timezone", tz, "err", err)
		loc = wib
	}

	sessions := defaultSessions()
	if len(cfg.Sessions) > 0 {
		sessions, err = parseSessions(cfg.Sessions)
		if err != nil {
			return nil, err
		}
	}

	holidays := make(map[string]struct{}, len(cfg.Holidays))
	for _, h := range cfg.Holidays {
		d, err := time.Parse(dateLayout, strings.TrimSpace(h))
		if err != nil {
			return nil, fmt.Errorf("markethours.New: holiday %q: %w", h, err)
		}
		holidays[d.Format(dateLayout)] = struct{}{}
	}

	return &Calendar{loc: loc, sessions: sessions, holidays: holidays}, nil
}

// IsOpen devuelve true si now cae dentro de una sesión de un día hábil.
func (c *Calendar) IsOpen(now time.Time) bool {
	local := now.In(c.loc)
	if _, ok := c.holidays[local.Format(dateLayout)]; ok {
		return false
	}
	minute := local.Hour()*60 + local.Minute()
	for _, w := range c.sessions[local.Weekday()] {
		if w.contains(minute) {
			return true
		}
	}
	return false
}

// Location devuelve la zona horaria del mercado.
func (c *Calendar) Location() *time.Location {
	return c.loc
}

// AlwaysOpen es la política para entornos sin horario (tests, mercados 24/7).
type AlwaysOpen struct{}

// IsOpen siempre true.
func (AlwaysOpen) IsOpen(time.Time) bool { return true }

func defaultSessions() map[time.Weekday][]window {
	regular := []window{{9 * 60, 12 * 60}, {13*60 + 30, 15*60 + 50}}
	friday := []window{{9 * 60, 11*60 + 30}, {14 * 60, 15*60 + 50}}
	return map[time.Weekday][]window{
		time.Monday:    regular,
		time.Tuesday:   regular,
		time.Wednesday: regular,
		time.Thursday:  regular,
		time.Friday:    friday,
	}
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

func parseSessions(raw map[string][]string) (map[time.Weekday][]window, error) {
	out := make(map[time.Weekday][]window, len(raw))
	for day, ranges := range raw {
		wd, ok := weekdays[strings.ToLower(strings.TrimSpace(day))]
		if !ok {
			return nil, fmt.Errorf("markethours: unknown weekday %q", day)
		}
		for _, r := range ranges {
			w, err := parseWindow(r)
			if err != nil {
				return nil, fmt.Errorf("markethours: %s: %w", day, err)
			}
			out[wd] = append(out[wd], w)
		}
	}
	return out, nil
}

// parseWindow parsea "HH:MM-HH:MM".
func parseWindow(s string) (window, error) {
	from, to, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return window{}, fmt.Errorf("invalid session %q: want HH:MM-HH:MM", s)
	}
	start, err := parseClock(from)
	if err != nil {
		return window{}, fmt.Errorf("invalid session %q: %w", s, err)
	}
	end, err := parseClock(to)
	if err != nil {
		return window{}, fmt.Errorf("invalid session %q: %w", s, err)
	}
	if end <= start {
		return window{}, fmt.Errorf("invalid session %q: end before start", s)
	}
	return window{start: start, end: end}, nil
}

func parseClock(s string) (int, error) {
	t, err := time.Parse("15:04", strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	return t.Hour()*60 + t.Minute(), nil
}
