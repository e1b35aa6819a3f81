package main

import (
	"testing"
	"time"
)

func validConfig() *appConfig {
	return &appConfig{
		revision: 1, address: 0x25, canBitrate: 500000, bufCapacity: 32, bufPolicy: "evict-oldest",
		backend: "serial", serialDev: "/dev/null", baud: 115200, serialReadTO: 10 * time.Millisecond,
		canIf: "can0", listenAddr: ":20100", maxClients: 0, handshakeTO: time.Second, clientReadTO: time.Second,
		hubBuffer: 8, hubPolicy: "drop", mqttTopic: "i2ccan", logFormat: "text", logLevel: "info",
	}
}

func TestConfigValidate_OK(t *testing.T) {
	if err := validConfig().validate(); err != nil {
		t.Fatalf("expected ok got %v", err)
	}
	c := validConfig()
	c.backend, c.revision, c.bufPolicy = "none", 2, "reject"
	if err := c.validate(); err != nil {
		t.Fatalf("expected ok got %v", err)
	}
}

func TestConfigValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*appConfig)
	}{
		{"badFormat", func(c *appConfig) { c.logFormat = "xx" }},
		{"badLevel", func(c *appConfig) { c.logLevel = "nope" }},
		{"badBackend", func(c *appConfig) { c.backend = "x" }},
		{"badPolicy", func(c *appConfig) { c.hubPolicy = "x" }},
		{"badBufPolicy", func(c *appConfig) { c.bufPolicy = "x" }},
		{"badRevision", func(c *appConfig) { c.revision = 3 }},
		{"reservedAddress", func(c *appConfig) { c.address = 0x03 }},
		{"highAddress", func(c *appConfig) { c.address = 0x78 }},
		{"hugeAddress", func(c *appConfig) { c.address = 0x125 }},
		{"badBitrate", func(c *appConfig) { c.canBitrate = 12345 }},
		{"badBuffer", func(c *appConfig) { c.bufCapacity = 0 }},
		{"badHubBuf", func(c *appConfig) { c.hubBuffer = 0 }},
		{"badBaud", func(c *appConfig) { c.baud = 0 }},
		{"badSerialTO", func(c *appConfig) { c.serialReadTO = 0 }},
		{"badHandshakeTO", func(c *appConfig) { c.handshakeTO = 0 }},
		{"badClientReadTO", func(c *appConfig) { c.clientReadTO = 0 }},
		{"badMaxClients", func(c *appConfig) { c.maxClients = -1 }},
		{"emptyTopic", func(c *appConfig) { c.mqttBroker = "tcp://b:1883"; c.mqttTopic = "" }},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			base := validConfig()
			tc.mod(base)
			if err := base.validate(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}
