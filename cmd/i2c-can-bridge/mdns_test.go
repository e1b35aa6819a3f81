package main

import (
	"context"
	"slices"
	"testing"
)

func TestStartMDNSDisabled(t *testing.T) {
	cleanup, err := startMDNS(context.Background(), &appConfig{}, 0x25, 20100)
	if err != nil || cleanup == nil {
		t.Fatalf("cleanup=%v err=%v", cleanup == nil, err)
	}
	cleanup()
}

func TestMDNSTXT(t *testing.T) {
	txt := mdnsTXT(&appConfig{backend: "socketcan", revision: 2}, 0x25)
	for _, want := range []string{"backend=socketcan", "rev=2", "addr=0x25"} {
		if !slices.Contains(txt, want) {
			t.Errorf("missing %q in %v", want, txt)
		}
	}
}
