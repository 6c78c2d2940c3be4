package types

import (
	"reflect"
	"testing"
)

func TestPokeFitsKeepsInsertionOrder(t *testing.T) {
	fits := NewPokeFits()
	fits.Add("3", FitParams{Slope: 4.2, Intercept: 12})
	fits.Add("1", FitParams{Slope: 3.9, Intercept: -0.5})
	fits.Add("left", FitParams{Slope: 5, Intercept: 0})
	if got := fits.Pokes; !reflect.DeepEqual(got, []string{"3", "1", "left"}) {
		t.Fatalf("poke order = %v", got)
	}
	if fits.Len() != 3 {
		t.Fatalf("Len = %d, want 3", fits.Len())
	}
	p, ok := fits.Get("1")
	if !ok || p.Slope != 3.9 || p.Intercept != -0.5 {
		t.Fatalf("Get(1) = %+v, %v", p, ok)
	}
	if _, ok := fits.Get("missing"); ok {
		t.Fatalf("Get(missing) should report absence")
	}
}

func TestPokeFitsAddReplacesInPlace(t *testing.T) {
	fits := NewPokeFits()
	fits.Add("a", FitParams{Slope: 1, Intercept: 1})
	fits.Add("b", FitParams{Slope: 2, Intercept: 2})
	fits.Add("a", FitParams{Slope: 9, Intercept: 9})
	if got := fits.Pokes; !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("re-adding must not duplicate or reorder, got %v", got)
	}
	p, _ := fits.Get("a")
	if p.Slope != 9 || p.Intercept != 9 {
		t.Fatalf("re-add did not replace params: %+v", p)
	}
}

func TestPokeOrderFirstAppearance(t *testing.T) {
	events := []CalibrationEvent{
		{Poke: "2"}, {Poke: "5"}, {Poke: "2"}, {Poke: "1"}, {Poke: "5"},
	}
	if got := PokeOrder(events); !reflect.DeepEqual(got, []string{"2", "5", "1"}) {
		t.Fatalf("PokeOrder = %v", got)
	}
}
