package config

import (
	"testing"
	"time"
)

func TestGetConfigDefaults(t *testing.T) {
	conf := GetConfig(nil)

	if conf.Server.Port != 5000 {
		t.Errorf("default server port = %d, want 5000", conf.Server.Port)
	}
	if conf.Worker.BaseURL != "http://localhost:8500" {
		t.Errorf("default worker base URL = %q", conf.Worker.BaseURL)
	}
	if conf.Generation.DefaultScheduler != "DPMSolverMultistep" {
		t.Errorf("default scheduler = %q", conf.Generation.DefaultScheduler)
	}
	if conf.Generation.DefaultWidth != 1024 || conf.Generation.DefaultHeight != 1024 {
		t.Errorf("default dimensions %dx%d, want 1024x1024",
			conf.Generation.DefaultWidth, conf.Generation.DefaultHeight)
	}
	if conf.Generation.MaxOutputs != 4 {
		t.Errorf("default max outputs = %d, want 4", conf.Generation.MaxOutputs)
	}
	if conf.Adapter.CacheDirectory != "trained-models" {
		t.Errorf("default adapter cache dir = %q", conf.Adapter.CacheDirectory)
	}
}

func TestDurationHelpers(t *testing.T) {
	c := Config{}
	c.Worker.RequestTimeout = "2m"
	c.Adapter.DownloadTimeout = "90s"
	c.Redis.PredictionTTL = "1h"

	if got := c.WorkerRequestTimeout(); got != 2*time.Minute {
		t.Errorf("WorkerRequestTimeout = %v", got)
	}
	if got := c.AdapterDownloadTimeout(); got != 90*time.Second {
		t.Errorf("AdapterDownloadTimeout = %v", got)
	}
	if got := c.PredictionTTL(); got != time.Hour {
		t.Errorf("PredictionTTL = %v", got)
	}
}

func TestDurationHelpersFallBack(t *testing.T) {
	c := Config{}
	c.Worker.RequestTimeout = "not a duration"

	if got := c.WorkerRequestTimeout(); got != 10*time.Minute {
		t.Errorf("fallback WorkerRequestTimeout = %v, want 10m", got)
	}
	if got := c.AdapterDownloadTimeout(); got != 5*time.Minute {
		t.Errorf("fallback AdapterDownloadTimeout = %v, want 5m", got)
	}
	if got := c.PredictionTTL(); got != 24*time.Hour {
		t.Errorf("fallback PredictionTTL = %v, want 24h", got)
	}
}
