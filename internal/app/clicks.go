package app

import (
	"github.com/elga-io/corgi/internal/accounting"
	"github.com/elga-io/corgi/internal/config"
	"github.com/elga-io/corgi/internal/events"
)

// ClickPublisher picks the stream when analytics run in stream mode and
// Redis is up, and writes counts straight to the store otherwise. It is
// built once per App.
func (a *App) ClickPublisher() events.Publisher {
	a.clicksOnce.Do(func() {
		if a.Config.Analytics.Mode == config.AnalyticsStream && a.Redis != nil {
			a.clicks = events.NewClickProducer(a.Redis, a.Config.Redis.StreamName, a.Config.Redis.StreamMaxLen)
			return
		}
		a.Log.Info("Recording clicks directly in the store")
		a.clicks = events.NewStorePublisher(a.Store)
	})
	return a.clicks
}

func (a *App) NewRecorder() *accounting.Recorder {
	cfg := a.Config.Analytics
	return accounting.NewRecorder(a.ClickPublisher(), accounting.RecorderConfig{
		QueueSize:      cfg.QueueSize,
		Workers:        cfg.Workers,
		PublishTimeout: cfg.PublishTimeout,
		MaxRetries:     cfg.MaxRetries,
	}, a.Log.With("component", "clicks"))
}
