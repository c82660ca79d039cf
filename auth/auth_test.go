package auth

import (
	"testing"
	"time"
)

func TestHasPremium(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(time.Hour)
	past := now.Add(-time.Hour)

	cases := []struct {
		name string
		ctx  Context
		want bool
	}{
		{"not premium", Context{}, false},
		{"premium without expiry", Context{IsPremiumActive: true}, true},
		{"premium not yet expired", Context{IsPremiumActive: true, PremiumExpiry: &future}, true},
		{"premium expired", Context{IsPremiumActive: true, PremiumExpiry: &past}, false},
		{"expiry without flag", Context{PremiumExpiry: &future}, false},
	}
	for _, tc := range cases {
		if got := tc.ctx.HasPremium(now); got != tc.want {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, got)
		}
	}
}

func TestIsAdmin(t *testing.T) {
	if !(Context{Role: "admin"}).IsAdmin() {
		t.Error("expected admin")
	}
	if (Context{Role: "customer"}).IsAdmin() {
		t.Error("expected customer not to be admin")
	}
}
