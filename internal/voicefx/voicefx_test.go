package voicefx_test

import (
	"errors"
	"testing"

	"veil/internal/services"
	"veil/internal/voicefx"
)

func TestParseEffect(t *testing.T) {
	cases := []struct {
		input   string
		want    voicefx.Effect
		wantErr bool
	}{
		{"deep", voicefx.EffectDeep, false},
		{" Light ", voicefx.EffectLight, false},
		{"DEEP", voicefx.EffectDeep, false},
		{"squeaky", "", true},
		{"", "", true},
	}
	for _, tc := range cases {
		got, err := voicefx.ParseEffect(tc.input)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseEffect(%q): expected error", tc.input)
			} else if !errors.Is(err, services.ErrMalformedInput) {
				t.Errorf("ParseEffect(%q): expected malformed-input marker, got %v", tc.input, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseEffect(%q): %v", tc.input, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseEffect(%q): expected %q, got %q", tc.input, tc.want, got)
		}
	}
}

func TestDeepFilters(t *testing.T) {
	filters := voicefx.Filters(voicefx.EffectDeep)
	want := []string{"asetrate=44100*0.89", "aresample=44100", "atempo=1.12"}
	if len(filters) != len(want) {
		t.Fatalf("expected %d filters, got %d", len(want), len(filters))
	}
	for i := range want {
		if filters[i] != want[i] {
			t.Fatalf("filter %d: expected %q, got %q", i, want[i], filters[i])
		}
	}
}

func TestLightFiltersAreInverse(t *testing.T) {
	filters := voicefx.Filters(voicefx.EffectLight)
	if filters[0] != "asetrate=44100*1.12" {
		t.Fatalf("expected raised rate, got %q", filters[0])
	}
	if filters[2] != "atempo=0.89" {
		t.Fatalf("expected compensating tempo, got %q", filters[2])
	}
}
