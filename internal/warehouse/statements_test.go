package warehouse

import (
	"testing"
	"time"

	"warehouse-relay/internal/models"
)

func TestMapStatus(t *testing.T) {
	cases := []struct {
		native string
		want   models.ExecutionState
	}{
		{"SUCCESS", models.StateSucceeded},
		{"success", models.StateSucceeded},
		{"FAILED_WITH_ERROR", models.StateFailed},
		{"FAILED_WITH_INCIDENT", models.StateFailed},
		{"ABORTED", models.StateFailed},
		{"RUNNING", models.StateRunning},
		{"QUEUED", models.StateRunning},
		{"RESUMING_WAREHOUSE", models.StateRunning},
		{"BLOCKED", models.StateRunning},
	}
	for _, c := range cases {
		if got := mapStatus(c.native); got != c.want {
			t.Fatalf("mapStatus(%q) = %s, want %s", c.native, got, c.want)
		}
	}
}

func TestRenderValue(t *testing.T) {
	ts := time.Date(2026, 9, 1, 12, 0, 0, 0, time.UTC)
	cases := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"emea", "emea"},
		{[]byte("raw"), "raw"},
		{int64(42), "42"},
		{3.5, "3.5"},
		{true, "true"},
		{ts, "2026-09-01T12:00:00Z"},
	}
	for _, c := range cases {
		if got := renderValue(c.in); got != c.want {
			t.Fatalf("renderValue(%v) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestValidIdentifier(t *testing.T) {
	for _, ok := range []string{"daily_sales_view", "ANALYTICS.PUBLIC.daily_sales", "v$1"} {
		if !validIdentifier(ok) {
			t.Fatalf("%q should be a valid identifier", ok)
		}
	}
	for _, bad := range []string{"", "1view", "t; drop table x", "a b", "x'--"} {
		if validIdentifier(bad) {
			t.Fatalf("%q should be rejected", bad)
		}
	}
}
