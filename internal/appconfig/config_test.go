package appconfig

import "testing"

func TestDefaultConfigReportsGeometry(t *testing.T) {
	cfg, err := DefaultConfig()
	if err != nil {
		t.Fatalf("default config: %v", err)
	}
	if !cfg.Console.ReportGeometry {
		t.Fatalf("expected geometry reporting to default on")
	}
	if cfg.API.SubscribePath != "/ws/subscribe" {
		t.Fatalf("unexpected subscribe path %q", cfg.API.SubscribePath)
	}
}
