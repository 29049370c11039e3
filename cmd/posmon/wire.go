package main

import (
	"fmt"
	"time"

	"github.com/alejandrodnm/posmon/config"
	"github.com/alejandrodnm/posmon/internal/adapters/marketdata"
	"github.com/alejandrodnm/posmon/internal/adapters/markethours"
	"github.com/alejandrodnm/posmon/internal/adapters/narrative"
	"github.com/alejandrodnm/posmon/internal/adapters/notify"
	"github.com/alejandrodnm/posmon/internal/domain"
	"github.com/alejandrodnm/posmon/internal/monitor"
	"github.com/alejandrodnm/posmon/internal/ports"
)

type components struct {
	engine *monitor.Engine
	loop   *monitor.Loop
}

// buildComponents traduce la config a adapters y arma el engine y el loop.
func buildComponents(cfg *config.Config, store ports.PositionStore, console *notify.Console, broadcaster ports.BroadcastSink) (*components, error) {
	market, err := marketdata.NewClient(marketdata.Config{
		BaseURL:     cfg.MarketData.BaseURL,
		APIKey:      cfg.MarketData.APIKey,
		RatePerSec:  cfg.MarketData.RatePerSec,
		Concurrency: cfg.MarketData.Concurrency,
		Timeout:     time.Duration(cfg.MarketData.TimeoutSeconds) * time.Second,
	})
	if err != nil {
		return nil, err
	}

	var hours ports.MarketHoursPolicy = markethours.AlwaysOpen{}
	if cfg.MarketHours.Enabled {
		cal, err := markethours.New(markethours.Config{
			Timezone: cfg.MarketHours.Timezone,
			Sessions: cfg.MarketHours.Sessions,
			Holidays: cfg.MarketHours.Holidays,
		})
		if err != nil {
			return nil, err
		}
		hours = cal
	}

	sinks := notify.Multi{}
	if cfg.Notify.Console {
		sinks = append(sinks, console)
	}
	if cfg.Notify.WebhookURL != "" {
		wh, err := notify.NewWebhook(notify.WebhookConfig{
			URL:        cfg.Notify.WebhookURL,
			Field:      cfg.Notify.WebhookField,
			RatePerSec: cfg.Notify.RatePerSec,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, wh)
	}

	var enricher ports.NarrativeEnricher
	if cfg.Narrative.URL != "" {
		nc, err := narrative.NewClient(narrative.Config{
			URL:      cfg.Narrative.URL,
			APIKey:   cfg.Narrative.APIKey,
			Timeout:  time.Duration(cfg.Narrative.RequestTimeoutMS) * time.Millisecond,
			MaxChars: cfg.Narrative.MaxChars,
		})
		if err != nil {
			return nil, err
		}
		enricher = nc
	}

	rules, err := statusRules(cfg.Monitor)
	if err != nil {
		return nil, err
	}

	engineCfg := monitor.DefaultConfig()
	engineCfg.Updater = monitor.UpdaterConfig{
		Rules:      rules,
		BatchSize:  cfg.Monitor.BatchSize,
		BatchDelay: cfg.BatchDelay(),
	}
	engineCfg.CooldownWindow = cfg.Cooldown()
	engineCfg.Narrative = monitor.BestEffortConfig{
		Attempts:  cfg.Narrative.Attempts,
		BaseDelay: time.Duration(cfg.Narrative.BackoffMS) * time.Millisecond,
		Timeout:   time.Duration(cfg.Narrative.TimeoutSeconds) * time.Second,
	}

	thresholds := config.NewThresholdFile(cfg.Anomaly.ThresholdsFile, domain.AnomalyThresholds{
		PriceChangePct:   cfg.Anomaly.PriceChangePct,
		VolumeMultiplier: cfg.Anomaly.VolumeMultiplier,
	})

	deps := monitor.Deps{
		Store:       store,
		Market:      market,
		Thresholds:  thresholds,
		Broadcaster: broadcaster,
		Narrative:   enricher,
	}
	if len(sinks) > 0 {
		deps.Notifier = sinks
	}

	engine := monitor.NewEngine(engineCfg, deps)
	loop := monitor.NewLoop(monitor.LoopConfig{
		Interval:  cfg.Interval(),
		Heartbeat: cfg.Heartbeat(),
	}, engine, hours, broadcaster)

	return &components{engine: engine, loop: loop}, nil
}

func statusRules(m config.MonitorConfig) (monitor.StatusRules, error) {
	rules := monitor.DefaultStatusRules()
	rules.EntryTolerancePct = m.EntryTolerancePct
	rules.StalePendingDays = m.StalePendingDays
	switch monitor.LimitEntryPolicy(m.LimitEntry) {
	case monitor.LimitEntryWithhold, monitor.LimitEntryOnTouch:
		rules.LimitEntry = monitor.LimitEntryPolicy(m.LimitEntry)
	default:
		return rules, fmt.Errorf("unknown limit entry policy %q", m.LimitEntry)
	}
	return rules, nil
}
