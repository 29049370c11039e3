package config

import (
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/alejandrodnm/posmon/internal/domain"
)

// ThresholdFile sirve los umbrales de anomalía desde un YAML que se relee
// cuando cambia su mtime. Implementa ports.ThresholdSource.
//
// Formato:
//
//	price_change_pct: 5
//	volume_multiplier: 3
//
// Un valor 0 desactiva ese chequeo. Si el archivo no existe o no parsea se
// mantienen los últimos umbrales válidos.
type ThresholdFile struct {
	path string

	mu      sync.Mutex
	current domain.AnomalyThresholds
	modTime time.Time
}

// NewThresholdFile crea la fuente con fallback como valor inicial y hace una
// primera lectura. path vacío sirve siempre fallback.
func NewThresholdFile(path string, fallback domain.AnomalyThresholds) *ThresholdFile {
	t := &ThresholdFile{path: path, current: fallback}
	if path != "" {
		t.mu.Lock()
		t.reloadLocked()
		t.mu.Unlock()
	}
	return t
}

// AnomalyThresholds devuelve los umbrales vigentes, recargando si el archivo cambió.
func (t *ThresholdFile) AnomalyThresholds() domain.AnomalyThresholds {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.path != "" {
		t.reloadLocked()
	}
	return t.current
}

func (t *ThresholdFile) reloadLocked() {
	info, err := os.Stat(t.path)
	if err != nil {
		if !t.modTime.IsZero() {
			slog.Warn("thresholds file unavailable, keeping last values", "path", t.path, "err", err)
			t.modTime = time.Time{}
		}
		return
	}
	if info.ModTime().Equal(t.modTime) {
		return
	}

	th, err := readThresholds(t.path)
	if err != nil {
		slog.Warn("thresholds file invalid, keeping last values", "path", t.path, "err", err)
		t.modTime = info.ModTime() // no reintentar hasta el próximo cambio
		return
	}
	t.current = th
	t.modTime = info.ModTime()
	slog.Info("anomaly thresholds loaded",
		"path", t.path,
		"price_change_pct", th.PriceChangePct,
		"volume_multiplier", th.VolumeMultiplier,
	)
}

func readThresholds(path string) (domain.AnomalyThresholds, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.AnomalyThresholds{}, fmt.Errorf("read: %w", err)
	}
	var th domain.AnomalyThresholds
	if err := yaml.Unmarshal(data, &th); err != nil {
		return domain.AnomalyThresholds{}, fmt.Errorf("parse YAML: %w", err)
	}
	if th.PriceChangePct < 0 || th.VolumeMultiplier < 0 {
		return domain.AnomalyThresholds{}, fmt.Errorf("thresholds must be >= 0")
	}
	return th, nil
}
