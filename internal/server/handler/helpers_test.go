package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alanyoungcy/assertmarket/internal/domain"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{domain.ErrInputInvalid, http.StatusBadRequest},
		{fmt.Errorf("market: x: %w", domain.ErrNotFound), http.StatusNotFound},
		{domain.ErrStateConflict, http.StatusConflict},
		{domain.ErrAlreadyExists, http.StatusConflict},
		{domain.ErrUnauthorized, http.StatusForbidden},
		{domain.ErrInsufficientOutput, http.StatusUnprocessableEntity},
		{domain.ErrInsufficientBalance, http.StatusUnprocessableEntity},
		{domain.ErrUnderflow, http.StatusUnprocessableEntity},
		{domain.ErrOverflow, http.StatusUnprocessableEntity},
		{domain.ErrRateLimited, http.StatusTooManyRequests},
		{errors.New("connection reset"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    uint64
		wantErr bool
	}{
		{"1000", 1000, false},
		{" 0 ", 0, false},
		{"0x10", 16, false},
		{"", 0, true},
		{"-1", 0, true},
		{"1.5", 0, true},
		{"115792089237316195423570985008687907853269984665640564039457584007913129639936", 0, true},
	}
	for _, tt := range tests {
		got, err := parseAmount(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseAmount(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if err == nil && got.Uint64() != tt.want {
			t.Errorf("parseAmount(%q) = %s, want %d", tt.in, got.Dec(), tt.want)
		}
	}
}

func TestParseSide(t *testing.T) {
	for in, want := range map[string]domain.Side{
		"1": domain.SideOutcome1, "outcome1": domain.SideOutcome1,
		"2": domain.SideOutcome2, "Outcome2": domain.SideOutcome2,
	} {
		if got, err := parseSide(in); err != nil || got != want {
			t.Errorf("parseSide(%q) = %d, %v", in, got, err)
		}
	}
	for _, in := range []string{"", "0", "3", "yes"} {
		if _, err := parseSide(in); err == nil {
			t.Errorf("parseSide(%q) accepted", in)
		}
	}
}

func TestSideParam_UnmarshalJSON(t *testing.T) {
	for _, in := range []string{`1`, `"1"`, `"outcome1"`} {
		var s sideParam
		if err := s.UnmarshalJSON([]byte(in)); err != nil || domain.Side(s) != domain.SideOutcome1 {
			t.Errorf("UnmarshalJSON(%s) = %d, %v", in, s, err)
		}
	}
}

func TestParseHash(t *testing.T) {
	good := "0x" + "ab" + "00000000000000000000000000000000000000000000000000000000000000"
	if _, err := parseHash(good); err != nil {
		t.Errorf("parseHash(%q): %v", good, err)
	}
	for _, bad := range []string{"", "0x12", "ab00", good + "00"} {
		if _, err := parseHash(bad); err == nil {
			t.Errorf("parseHash(%q) accepted", bad)
		}
	}
}

func TestParseListOpts(t *testing.T) {
	r := httptest.NewRequest("GET", "/api/events?limit=9999&offset=3&since=2026-03-01T00:00:00Z", nil)
	opts, err := parseListOpts(r)
	if err != nil {
		t.Fatal(err)
	}
	if opts.Limit != 500 || opts.Offset != 3 || opts.Since == nil || opts.Until != nil {
		t.Errorf("opts = %+v", opts)
	}

	r = httptest.NewRequest("GET", "/api/events?until=yesterday", nil)
	if _, err := parseListOpts(r); err == nil {
		t.Error("malformed until accepted")
	}
}
