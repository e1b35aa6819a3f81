package main

import (
	"testing"
	"time"
)

func TestApplyEnvOverrides_Basic(t *testing.T) {
	base := validConfig()
	t.Setenv("I2CCAN_BAUD", "230400")
	t.Setenv("I2CCAN_ADDRESS", "0x30")
	t.Setenv("I2CCAN_REVISION", "2")
	t.Setenv("I2CCAN_MDNS_ENABLE", "true")
	t.Setenv("I2CCAN_SERIAL_READ_TIMEOUT", "100ms")
	t.Setenv("I2CCAN_LOG_METRICS_INTERVAL", "5s")
	t.Setenv("I2CCAN_MQTT_BROKER", "tcp://broker:1883")
	set := map[string]struct{}{}
	if err := applyEnvOverrides(base, set); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if base.baud != 230400 {
		t.Fatalf("expected baud override, got %d", base.baud)
	}
	if base.address != 0x30 || base.revision != 2 {
		t.Fatalf("address=0x%X revision=%d", base.address, base.revision)
	}
	if !base.mdnsEnable {
		t.Fatalf("expected mdnsEnable true")
	}
	if base.serialReadTO != 100*time.Millisecond {
		t.Fatalf("expected serialReadTO 100ms got %v", base.serialReadTO)
	}
	if base.logMetricsEvery != 5*time.Second {
		t.Fatalf("expected logMetricsEvery 5s got %v", base.logMetricsEvery)
	}
	if base.mqttBroker != "tcp://broker:1883" {
		t.Fatalf("mqttBroker=%q", base.mqttBroker)
	}
	if _, ok := set["address"]; !ok {
		t.Fatalf("env override not recorded as explicit")
	}
}

func TestApplyEnvOverrides_FlagPrecedence(t *testing.T) {
	base := &appConfig{baud: 115200}
	t.Setenv("I2CCAN_BAUD", "230400")
	// Simulate user passed -baud flag (so env should be ignored)
	if err := applyEnvOverrides(base, map[string]struct{}{"baud": {}}); err != nil {
		t.Fatalf("err: %v", err)
	}
	if base.baud != 115200 {
		t.Fatalf("expected baud unchanged 115200 got %d", base.baud)
	}
}

func TestApplyEnvOverrides_BadValues(t *testing.T) {
	cases := map[string]string{
		"I2CCAN_HUB_BUFFER":        "notint",
		"I2CCAN_HANDSHAKE_TIMEOUT": "soon",
		"I2CCAN_LOOPBACK":          "maybe",
	}
	for k, v := range cases {
		t.Run(k, func(t *testing.T) {
			t.Setenv(k, v)
			if err := applyEnvOverrides(validConfig(), map[string]struct{}{}); err == nil {
				t.Fatalf("expected error for %s=%s", k, v)
			}
		})
	}
}
