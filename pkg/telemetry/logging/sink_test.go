package logging

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"mercator-hq/parley/pkg/negotiation"
	"mercator-hq/parley/pkg/policy"
)

func TestLogSink_Events(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(Config{Level: "debug", Writer: &buf})
	if err != nil {
		t.Fatal(err)
	}

	gen := negotiation.GeneratorFunc(func(_ context.Context, _ negotiation.Request, fb []policy.Violation) (string, error) {
		if len(fb) == 0 {
			return "sudo rm -rf /tmp/x", nil
		}
		return "echo ok", nil
	})
	sink := NewLogSink(logger)
	sink.IncludeArtifacts = true
	n, err := negotiation.New(negotiation.Options{Generator: gen, Sink: sink})
	if err != nil {
		t.Fatal(err)
	}

	record := n.Negotiate(context.Background(), negotiation.NewRequest("req-7", "cleanup", nil))

	var events []map[string]interface{}
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var m map[string]interface{}
		if err := json.Unmarshal(scanner.Bytes(), &m); err != nil {
			t.Fatalf("invalid log line %q: %v", scanner.Text(), err)
		}
		if m["component"] == "negotiation" {
			events = append(events, m)
		}
	}

	wantMsgs := []string{
		"negotiation started",
		"attempt rejected",
		"attempt artifact",
		"attempt passed validation",
		"attempt artifact",
		"negotiation approved",
	}
	if len(events) != len(wantMsgs) {
		t.Fatalf("got %d events, want %d: %v", len(events), len(wantMsgs), events)
	}
	for i, want := range wantMsgs {
		if events[i]["msg"] != want {
			t.Errorf("event %d = %v, want %q", i, events[i]["msg"], want)
		}
		if events[i]["negotiation_id"] != record.NegotiationID {
			t.Errorf("event %d negotiation_id = %v", i, events[i]["negotiation_id"])
		}
		if events[i]["request_id"] != "req-7" {
			t.Errorf("event %d request_id = %v", i, events[i]["request_id"])
		}
	}
	if events[1]["attempt"] != float64(1) || events[3]["attempt"] != float64(2) {
		t.Errorf("attempt numbers = %v, %v", events[1]["attempt"], events[3]["attempt"])
	}
}
