package features

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/corridorsec/harrier/internal/domain"
)

func testProfile() *domain.CorridorProfile {
	return &domain.CorridorProfile{
		Corridor: "GBP_NGN",
		Tier:     3,
		Version:  "2026-W34",
		Amount: domain.AmountDistribution{
			Median: 200,
			P25:    120,
			P75:    400,
			P95:    1200,
			P99:    3000,
		},
		Velocity: domain.VelocityDistribution{
			Median24h: 2,
			P9524h:    6,
		},
		Temporal: domain.TemporalPatterns{
			PeakHours: []int{9, 10, 11, 12, 13, 14, 15, 16, 17},
			PeakDays:  []int{1, 2, 3, 4, 5},
		},
		AvgBeneficiariesPerSender: 2.5,
		AvgDeviceChangeRate:       0.05,
	}
}

func TestVelocityScore(t *testing.T) {
	profile := testProfile() // median 2

	tests := []struct {
		name  string
		count int64
		want  float64
	}{
		{"Zero", 0, 0.0},
		{"BelowMedian", 1, 0.0},
		{"AtMedian", 2, 0.0},
		{"DoubleMedian", 4, 0.25},
		{"TripleMedian", 6, 0.5},
		{"FiveTimesMedian", 10, 1.0},
		{"BeyondSaturation", 40, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := VelocityScore(tt.count, profile)
			if !closeTo(got, tt.want) {
				t.Errorf("VelocityScore(%d) = %v, want %v", tt.count, got, tt.want)
			}
		})
	}
}

func TestVelocityScore_ZeroMedian(t *testing.T) {
	profile := testProfile()
	profile.Velocity.Median24h = 0

	if got := VelocityScore(100, profile); got != 0 {
		t.Errorf("Expected 0 for a profile without velocity data, got %v", got)
	}
}

func TestAmountDeviationScore(t *testing.T) {
	profile := testProfile() // median 200, p95 1200

	tests := []struct {
		name   string
		amount float64
		want   float64
	}{
		{"BelowMedian", 100, 0.0},
		{"AtMedian", 200, 0.0},
		{"MidwayToP95", 700, 0.25},
		{"AtP95", 1200, 0.5},
		{"HalfAgainBeyondP95", 1800, 0.5 + 600.0/1200.0},
		{"Saturated", 5000, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := AmountDeviationScore(tt.amount, profile)
			if !closeTo(got, tt.want) {
				t.Errorf("AmountDeviationScore(%v) = %v, want %v", tt.amount, got, tt.want)
			}
		})
	}
}

func TestAmountDeviationScore_HighValueCorridor(t *testing.T) {
	profile := testProfile()
	profile.Amount.Median = 350
	profile.Amount.P95 = 2500

	got := AmountDeviationScore(500, profile)
	want := 150.0 / 2150.0 * 0.5
	if !closeTo(got, want) {
		t.Errorf("AmountDeviationScore(500) = %v, want %v", got, want)
	}
}

func TestAmountDeviationScore_ContinuousAtP95(t *testing.T) {
	profile := testProfile()

	below := AmountDeviationScore(1199.99, profile)
	at := AmountDeviationScore(1200, profile)
	above := AmountDeviationScore(1200.01, profile)

	if below > at || at > above {
		t.Errorf("Score must be monotonic around p95: %v, %v, %v", below, at, above)
	}
	if at != 0.5 {
		t.Errorf("Score at p95 must be exactly 0.5, got %v", at)
	}
}

func TestBeneficiaryNoveltyScore(t *testing.T) {
	profile := testProfile() // avg 2.5 beneficiaries per sender

	tests := []struct {
		name          string
		beneficiaries []string
		beneficiary   string
		want          float64
	}{
		{"KnownBeneficiary", []string{"ben-1", "ben-2"}, "ben-2", 0.0},
		{"UnknownEstablishingSender", []string{"ben-1", "ben-2"}, "ben-9", 0.3},
		{"UnknownEstablishedSender", []string{"ben-1", "ben-2", "ben-3"}, "ben-9", 0.7},
		{"UnknownFreshSender", nil, "ben-9", 0.3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hist := &domain.SenderHistorySnapshot{
				SenderID:      "sender-1",
				Beneficiaries: tt.beneficiaries,
			}
			got := BeneficiaryNoveltyScore(hist, tt.beneficiary, profile)
			if got != tt.want {
				t.Errorf("BeneficiaryNoveltyScore() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDeviceConsistencyScore(t *testing.T) {
	profile := testProfile() // avg change rate 0.05

	tests := []struct {
		name        string
		devices     []string
		ageDays     int
		fingerprint string
		want        float64
	}{
		{"KnownDevice", []string{"dev-1", "dev-2"}, 100, "dev-1", 0.0},
		// 3 devices over 100 days = 0.03/day, below 2x corridor average
		{"UnknownDeviceStableSender", []string{"dev-1", "dev-2", "dev-3"}, 100, "dev-9", 0.4},
		// 3 devices over 10 days = 0.3/day, well above 2x corridor average
		{"UnknownDeviceChurningSender", []string{"dev-1", "dev-2", "dev-3"}, 10, "dev-9", 0.9},
		// Age clamps to 1 day: 2 devices/day
		{"UnknownDeviceBrandNewAccount", []string{"dev-1", "dev-2"}, 0, "dev-9", 0.9},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			hist := &domain.SenderHistorySnapshot{
				SenderID:       "sender-1",
				Devices:        tt.devices,
				AccountAgeDays: tt.ageDays,
			}
			got := DeviceConsistencyScore(hist, tt.fingerprint, profile)
			if got != tt.want {
				t.Errorf("DeviceConsistencyScore() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestTemporalAnomalyScore(t *testing.T) {
	profile := testProfile() // peak hours 9-17, peak days Mon-Fri

	tests := []struct {
		name string
		ts   time.Time
		want float64
	}{
		// Wednesday at 11:00
		{"PeakHourPeakDay", time.Date(2026, 8, 26, 11, 0, 0, 0, time.UTC), 0.0},
		// Wednesday at 03:00
		{"OffHourPeakDay", time.Date(2026, 8, 26, 3, 0, 0, 0, time.UTC), 0.3},
		// Sunday at 11:00
		{"PeakHourOffDay", time.Date(2026, 8, 30, 11, 0, 0, 0, time.UTC), 0.2},
		// Sunday at 03:00
		{"OffHourOffDay", time.Date(2026, 8, 30, 3, 0, 0, 0, time.UTC), 0.5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TemporalAnomalyScore(tt.ts, profile)
			if !closeTo(got, tt.want) {
				t.Errorf("TemporalAnomalyScore(%v) = %v, want %v", tt.ts, got, tt.want)
			}
		})
	}
}

// stubHistory returns a fixed snapshot or error.
type stubHistory struct {
	snapshot *domain.SenderHistorySnapshot
	err      error
}

func (s *stubHistory) Get(ctx context.Context, senderID string) (*domain.SenderHistorySnapshot, error) {
	return s.snapshot, s.err
}

func stubVelocity(count int64, err error) domain.VelocityGetter {
	return func(ctx context.Context, senderID string, window time.Duration) (int64, error) {
		return count, err
	}
}

func testDefaults() domain.FeatureDefaults {
	return domain.FeatureDefaults{
		Velocity:           0.0,
		BeneficiaryNovelty: 0.3,
		DeviceConsistency:  0.4,
	}
}

func testTransaction() *domain.Transaction {
	return &domain.Transaction{
		ID:                "tx-1",
		SenderID:          "sender-1",
		BeneficiaryID:     "ben-1",
		Corridor:          "GBP_NGN",
		Amount:            decimal.NewFromInt(200),
		Currency:          "GBP",
		Timestamp:         time.Date(2026, 8, 26, 11, 0, 0, 0, time.UTC),
		DeviceFingerprint: "dev-1",
	}
}

func TestExtract_AllDependenciesHealthy(t *testing.T) {
	hist := &stubHistory{snapshot: &domain.SenderHistorySnapshot{
		SenderID:       "sender-1",
		Beneficiaries:  []string{"ben-1"},
		Devices:        []string{"dev-1"},
		AccountAgeDays: 90,
	}}
	extractor := New(hist, stubVelocity(1, nil), testDefaults(), 100*time.Millisecond)

	fv := extractor.Extract(context.Background(), testTransaction(), testProfile())

	for name, fs := range map[string]domain.FeatureScore{
		"velocity":            fv.Velocity,
		"amount_deviation":    fv.AmountDeviation,
		"beneficiary_novelty": fv.BeneficiaryNovelty,
		"device_consistency":  fv.DeviceConsistency,
		"temporal_anomaly":    fv.TemporalAnomaly,
	} {
		if fs.Value != 0 {
			t.Errorf("Expected quiet %s for an in-pattern transaction, got %v", name, fs.Value)
		}
		if fs.Degraded {
			t.Errorf("Feature %s should not be degraded", name)
		}
	}
}

func TestExtract_HistoryUnavailable(t *testing.T) {
	hist := &stubHistory{err: errors.New("connection refused")}
	extractor := New(hist, stubVelocity(1, nil), testDefaults(), 100*time.Millisecond)

	fv := extractor.Extract(context.Background(), testTransaction(), testProfile())

	if !fv.BeneficiaryNovelty.Degraded || fv.BeneficiaryNovelty.Value != 0.3 {
		t.Errorf("Expected degraded beneficiary_novelty default 0.3, got %+v", fv.BeneficiaryNovelty)
	}
	if !fv.DeviceConsistency.Degraded || fv.DeviceConsistency.Value != 0.4 {
		t.Errorf("Expected degraded device_consistency default 0.4, got %+v", fv.DeviceConsistency)
	}

	// Velocity and the pure features are unaffected
	if fv.Velocity.Degraded {
		t.Error("Velocity should not be degraded when only history fails")
	}
	if fv.AmountDeviation.Degraded || fv.TemporalAnomaly.Degraded {
		t.Error("Pure features can never be degraded")
	}
}

func TestExtract_VelocityUnavailable(t *testing.T) {
	hist := &stubHistory{snapshot: &domain.SenderHistorySnapshot{
		SenderID:       "sender-1",
		Beneficiaries:  []string{"ben-1"},
		Devices:        []string{"dev-1"},
		AccountAgeDays: 90,
	}}
	extractor := New(hist, stubVelocity(0, errors.New("redis down")), testDefaults(), 100*time.Millisecond)

	fv := extractor.Extract(context.Background(), testTransaction(), testProfile())

	if !fv.Velocity.Degraded || fv.Velocity.Value != 0 {
		t.Errorf("Expected degraded velocity default 0, got %+v", fv.Velocity)
	}
	if fv.BeneficiaryNovelty.Degraded || fv.DeviceConsistency.Degraded {
		t.Error("History features should not be degraded when only velocity fails")
	}
}

func TestExtract_NilDependencies(t *testing.T) {
	extractor := New(nil, nil, testDefaults(), 100*time.Millisecond)

	fv := extractor.Extract(context.Background(), testTransaction(), testProfile())

	sources := fv.DegradedSources()
	if len(sources) != 3 {
		t.Fatalf("Expected 3 degraded features with no dependencies wired, got %v", sources)
	}
}

func TestExtract_SlowDependencyTimesOut(t *testing.T) {
	slow := domain.VelocityGetter(func(ctx context.Context, senderID string, window time.Duration) (int64, error) {
		select {
		case <-time.After(time.Second):
			return 50, nil
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	})
	hist := &stubHistory{snapshot: &domain.SenderHistorySnapshot{SenderID: "sender-1"}}
	extractor := New(hist, slow, testDefaults(), 10*time.Millisecond)

	start := time.Now()
	fv := extractor.Extract(context.Background(), testTransaction(), testProfile())
	elapsed := time.Since(start)

	if !fv.Velocity.Degraded {
		t.Error("Expected degraded velocity after lookup timeout")
	}
	if elapsed > 500*time.Millisecond {
		t.Errorf("Extract took %v, lookup timeout did not bound the slow dependency", elapsed)
	}
}

func closeTo(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < 1e-9
}
