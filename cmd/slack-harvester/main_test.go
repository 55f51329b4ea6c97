package main

import (
	"flag"
	"reflect"
	"testing"
	"time"

	"github.com/zerobugdebug/slack-harvester/internal/paginate"
)

func TestParseSince(t *testing.T) {
	now := time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"", "", false},
		{"0", "", false},
		{"1714651200.000100", "1714651200.000100", false},
		{"2024-05-02T10:00:00Z", "1714644000.000000", false},
		{"2024-05-01", "1714521600.000000", false},
		{"24h", "1714564800.000000", false},
		{"yesterday", "", true},
		{"-5h", "", true},
	}
	for _, tt := range tests {
		got, err := parseSince(tt.in, now)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseSince(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseSince(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSplitList(t *testing.T) {
	if got := splitList(" C1, ,C2,"); !reflect.DeepEqual(got, []string{"C1", "C2"}) {
		t.Fatalf("splitList = %v", got)
	}
	if got := splitList(""); got != nil {
		t.Fatalf("splitList(\"\") = %v", got)
	}
}

func TestLimitFlag(t *testing.T) {
	if limitFlag(-1) != paginate.Unlimited {
		t.Error("-1 should mean unlimited")
	}
	if n, ok := limitFlag(0).Value(); !ok || n != 0 {
		t.Errorf("limitFlag(0) = %d, %v", n, ok)
	}
}

func TestCommandsRegisterFlags(t *testing.T) {
	for name, cmd := range commands {
		fs := flag.NewFlagSet(name, flag.ContinueOnError)
		if run := cmd(fs); run == nil {
			t.Errorf("%s returned no runner", name)
		}
		if err := fs.Parse(nil); err != nil {
			t.Errorf("%s: %v", name, err)
		}
	}
}

func TestCheckFormat(t *testing.T) {
	for _, f := range []string{"csv", "json"} {
		if err := checkFormat(f); err != nil {
			t.Errorf("checkFormat(%q) = %v", f, err)
		}
	}
	if checkFormat("xml") == nil {
		t.Error("xml should be rejected")
	}
}
