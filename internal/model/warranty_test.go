package model

import (
	"testing"
	"time"
)

func TestExpiryDateCalendarArithmetic(t *testing.T) {
	tests := []struct {
		name     string
		purchase time.Time
		months   int
		want     time.Time
	}{
		{
			name:     "twelve months",
			purchase: time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC),
			months:   12,
			want:     time.Date(2025, 1, 15, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "one month",
			purchase: time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC),
			months:   1,
			want:     time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "month-end overflow rolls forward",
			purchase: time.Date(2024, 1, 31, 0, 0, 0, 0, time.UTC),
			months:   1,
			want:     time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC),
		},
		{
			name:     "24 months across leap day",
			purchase: time.Date(2023, 2, 28, 0, 0, 0, 0, time.UTC),
			months:   24,
			want:     time.Date(2025, 2, 28, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := Warranty{PurchaseDate: tt.purchase, DurationMonths: tt.months}
			if got := w.ExpiryDate(); !got.Equal(tt.want) {
				t.Errorf("ExpiryDate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDaysUntilExpiry(t *testing.T) {
	expiry := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name string
		now  time.Time
		want int
	}{
		{"thirty days out", time.Date(2025, 5, 2, 0, 0, 0, 0, time.UTC), 30},
		{"partial day rounds up", time.Date(2025, 5, 2, 18, 30, 0, 0, time.UTC), 30},
		{"seven days out", time.Date(2025, 5, 25, 0, 0, 0, 0, time.UTC), 7},
		{"expiry day", time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), 0},
		{"one day after", time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC), -1},
		{"well past", time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC), -30},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DaysUntilExpiry(expiry, tt.now); got != tt.want {
				t.Errorf("DaysUntilExpiry() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestAlertKindFor(t *testing.T) {
	tests := []struct {
		days   int
		want   AlertKind
		wantOK bool
	}{
		{31, "", false},
		{30, AlertThirtyDay, true},
		{29, "", false},
		{8, "", false},
		{7, AlertSevenDay, true},
		{6, "", false},
		{1, "", false},
		{0, AlertExpiryDay, true},
		{-1, AlertExpired, true},
		{-365, AlertExpired, true},
	}

	for _, tt := range tests {
		got, ok := AlertKindFor(tt.days)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("AlertKindFor(%d) = (%q, %v), want (%q, %v)", tt.days, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestClaimStatusTerminal(t *testing.T) {
	terminal := map[ClaimStatus]bool{
		ClaimPending:    false,
		ClaimInProgress: false,
		ClaimApproved:   false,
		ClaimRejected:   true,
		ClaimCompleted:  true,
	}
	for status, want := range terminal {
		if got := status.Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", status, got, want)
		}
	}
}

func TestValidClaimStatus(t *testing.T) {
	for _, s := range []ClaimStatus{ClaimPending, ClaimInProgress, ClaimApproved, ClaimRejected, ClaimCompleted} {
		if !ValidClaimStatus(s) {
			t.Errorf("expected %q to be valid", s)
		}
	}
	if ValidClaimStatus("escalated") {
		t.Error("expected unknown status to be invalid")
	}
}

func TestFallbackVerdict(t *testing.T) {
	v := FallbackVerdict()
	if v.Severity != SeverityMedium {
		t.Errorf("fallback severity = %q, want medium", v.Severity)
	}
	if !v.RecommendClaim {
		t.Error("fallback must recommend filing a claim")
	}
	if v.Reasoning == "" {
		t.Error("fallback reasoning must explain the automatic analysis failed")
	}
}
