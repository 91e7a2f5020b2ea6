package units

import (
	"math"
	"testing"
)

const halfScale24 = 1 << 22 // 1.25 V on the 24-bit ADC

func TestRawVoltage(t *testing.T) {
	tests := []struct {
		name     string
		raw      int32
		bits     int
		expected float64
	}{
		{"zero", 0, ADCBits24, 0},
		{"half scale 24-bit", halfScale24, ADCBits24, 1.25},
		{"negative half scale 24-bit", -halfScale24, ADCBits24, -1.25},
		{"full scale 24-bit", 1 << 23, ADCBits24, 2.5},
		{"half scale 10-bit", 512, ADCBits10, 1.25},
		{"one count 10-bit", 1, ADCBits10, 2.5 / 1024},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := RawVoltage(tt.raw, tt.bits)
			if math.Abs(got-tt.expected) > 1e-12 {
				t.Errorf("RawVoltage(%d, %d) = %f, want %f", tt.raw, tt.bits, got, tt.expected)
			}
		})
	}
}

func TestChannelConversions(t *testing.T) {
	tests := []struct {
		name     string
		conv     func(int32) float64
		raw      int32
		expected float64
	}{
		{"sled current", SledCurrentMA, halfScale24, 137.5},
		{"tec current", TecCurrentMA, halfScale24, 65.714285714},
		{"tec current at bias point", TecCurrentMA, int32(math.Round((tecMidRail + tecOffset) / ReferenceVoltage * (1 << 23))), 0},
		{"sled power", SledPowerUW, halfScale24, 472.478147886},
		{"sagnac voltage", SagnacV, halfScale24, 1.2186481683},
		{"sagnac power", SagnacPowerUW, halfScale24, 76.165510519},
		{"supply voltage", SupplyVoltage, halfScale24, 2.5},
		{"passthrough", Passthrough, 1234, 1234},
		{"10-bit voltage", Voltage10, 256, 0.625},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.conv(tt.raw)
			if math.Abs(got-tt.expected) > 1e-3 {
				t.Errorf("conversion of %d = %.9f, want %.9f", tt.raw, got, tt.expected)
			}
		})
	}
}

func TestThermistorTempC(t *testing.T) {
	t.Run("divider midpoint is 25C", func(t *testing.T) {
		// At half reference the thermistor equals RRef == Rto.
		for name, got := range map[string]float64{
			"sled":  SledTempC(halfScale24),
			"opamp": OpAmpTempC(halfScale24),
			"case":  CaseTempC(512),
		} {
			if math.Abs(got-25.0) > 1e-9 {
				t.Errorf("%s temp = %f, want 25", name, got)
			}
		}
	})

	t.Run("cold reading", func(t *testing.T) {
		// 0.5 V -> R = 40k -> below 0 C for beta 3950.
		raw := int32(1677721)
		got := SledTempC(raw)
		if math.Abs(got-(-3.2157)) > 1e-3 {
			t.Errorf("SledTempC(%d) = %f, want about -3.2157", raw, got)
		}
	})

	t.Run("zero voltage yields sentinel", func(t *testing.T) {
		for name, got := range map[string]float64{
			"sled":  SledTempC(0),
			"opamp": OpAmpTempC(0),
			"case":  CaseTempC(0),
		} {
			if got != TempUnavailable {
				t.Errorf("%s temp at zero volts = %f, want %f", name, got, TempUnavailable)
			}
			if !IsTempUnavailable(got) {
				t.Errorf("%s: IsTempUnavailable(%f) = false", name, got)
			}
		}
	})

	t.Run("non-positive resistance yields sentinel", func(t *testing.T) {
		if got := SledTempC(1 << 23); got != TempUnavailable {
			t.Errorf("full-scale reading = %f, want sentinel", got)
		}
		if got := SledTempC(-halfScale24); got != TempUnavailable {
			t.Errorf("negative reading = %f, want sentinel", got)
		}
	})

	t.Run("real readings are not the sentinel", func(t *testing.T) {
		if IsTempUnavailable(SledTempC(halfScale24)) {
			t.Error("25C reading flagged unavailable")
		}
	})
}

func TestDerivedTransferFunctions(t *testing.T) {
	if got := PhotoCurrentUA(0.8); math.Abs(got-1e6) > 1e-6 {
		t.Errorf("PhotoCurrentUA(0.8) = %f, want 1e6", got)
	}
	if got := TargetSagPowerV(0.8); math.Abs(got-100) > 1e-9 {
		t.Errorf("TargetSagPowerV(0.8) = %f, want 100", got)
	}
}

func TestInverseConversions(t *testing.T) {
	for _, mA := range []float64{0, 50, 137.5, 300, 500} {
		if got := SledCurrentMA(SledCurrentCounts(mA)); math.Abs(got-mA) > 1e-3 {
			t.Errorf("SledCurrentMA(SledCurrentCounts(%v)) = %v", mA, got)
		}
	}

	tests := []struct {
		name string
		th   Thermistor
		tol  float64
	}{
		{"sled 24-bit", SledThermistor, 0.01},
		{"op-amp 24-bit", OpAmpThermistor, 0.01},
		{"case 10-bit", CaseThermistor, 0.2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, c := range []float64{0, 10, 25, 40, 50} {
				got := ThermistorTempC(ThermistorCounts(c, tt.th), tt.th)
				if math.Abs(got-c) > tt.tol {
					t.Errorf("round trip of %v C = %v", c, got)
				}
			}
		})
	}
}
