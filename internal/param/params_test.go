package param

import (
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"gopkg.in/yaml.v3"
)

func TestSetOverwritesInPlace(t *testing.T) {
	p := New().
		SetName(EverID, "1").
		SetSlot(PageCategory, 2, "shoes").
		SetName(EverID, "2")

	if p.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", p.Len())
	}
	if v, _ := p.Get(Named(EverID)); v != "2" {
		t.Errorf("EverID = %q, want 2", v)
	}
	keys := p.Keys()
	if keys[0] != Named(EverID) || keys[1] != Slot(PageCategory, 2) {
		t.Errorf("key order changed: %v", keys)
	}
}

func TestSlotKeysAreDistinct(t *testing.T) {
	p := New().
		SetSlot(Action, 1, "grey").
		SetSlot(Action, 2, "pos3").
		SetSlot(Page, 1, "green")

	if p.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", p.Len())
	}
	if p.Contains(Slot(Page, 2)) {
		t.Error("unexpected Page slot 2")
	}
}

func TestMergeLastWriterWins(t *testing.T) {
	a := New().SetSlot(Page, 1, "a1").SetSlot(Page, 2, "a2")
	b := New().SetSlot(Page, 2, "b2").SetSlot(Page, 3, "")

	a.Merge(b)

	want := map[string]string{"cp1": "a1", "cp2": "b2", "cp3": ""}
	got := a.Map()
	if len(got) != len(want) {
		t.Fatalf("Map() = %v", got)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("%s = %q, want %q", k, got[k], v)
		}
	}

	a.Merge(nil)
	if a.Len() != 3 {
		t.Error("merging nil changed the container")
	}
}

func TestApplyMapping(t *testing.T) {
	p := New().
		SetSlot(Page, 1, "appVersion").
		SetSlot(Page, 2, "static").
		SetSlot(Session, 1, "connectionType")

	p.ApplyMapping(map[string]string{
		"appVersion":     "4.0.1",
		"connectionType": "WIFI",
		"unused":         "x",
	})

	for k, want := range map[Key]string{
		Slot(Page, 1):    "4.0.1",
		Slot(Page, 2):    "static",
		Slot(Session, 1): "WIFI",
	} {
		if got, _ := p.Get(k); got != want {
			t.Errorf("%s = %q, want %q", k, got, want)
		}
	}
}

func TestParseKey(t *testing.T) {
	tests := []struct {
		in      string
		want    Key
		wantErr bool
	}{
		{in: "eid", want: Named(EverID)},
		{in: "X-WT-UA", want: Named(UserAgent)},
		{in: "cg2", want: Slot(PageCategory, 2)},
		{in: "uc12", want: Slot(Customer, 12)},
		{in: "cd", want: Named(CustomerID)},
		{in: "cg0", wantErr: true},
		{in: "cgx", wantErr: true},
		{in: "zz1", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseKey(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("ParseKey(%q) expected error", tt.in)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseKey(%q) error = %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("ParseKey(%q) = %v, want %v", tt.in, got, tt.want)
			}
			if got.Wire() != tt.in {
				t.Errorf("Wire() = %q, want %q", got.Wire(), tt.in)
			}
		})
	}
}

func TestEncodeEscapesAndSkips(t *testing.T) {
	p := New().
		SetName(ActivityName, "Main").
		SetSlot(PageCategory, 1, "Herren & Damen").
		SetName(UserAgent, "Tracking Library 4.0")

	got := p.Encode(func(k Key) bool { return k == Named(ActivityName) })
	want := "cg1=Herren+%26+Damen&X-WT-UA=Tracking+Library+4.0"
	if got != want {
		t.Errorf("Encode() = %q, want %q", got, want)
	}
}

func TestUnmarshalYAMLKeepsOrder(t *testing.T) {
	doc := "cp3: third\ncg1: first\neid: \"42\"\n"
	var p Params
	if err := yaml.Unmarshal([]byte(doc), &p); err != nil {
		t.Fatalf("Unmarshal error = %v", err)
	}
	keys := p.Keys()
	if len(keys) != 3 || keys[0].Wire() != "cp3" || keys[2].Wire() != "eid" {
		t.Errorf("unexpected keys %v", keys)
	}

	out, err := yaml.Marshal(p)
	if err != nil {
		t.Fatalf("Marshal error = %v", err)
	}
	if !strings.HasPrefix(string(out), "cp3:") {
		t.Errorf("Marshal lost order: %q", out)
	}
}

func TestUnmarshalYAMLRejectsUnknownKey(t *testing.T) {
	var p Params
	if err := yaml.Unmarshal([]byte("nope: 1\n"), &p); err == nil {
		t.Fatal("expected error for unknown key")
	}
}

func TestFromMapSorted(t *testing.T) {
	p, err := FromMap(map[string]string{"cp2": "b", "cg1": "a", "ct": "click"})
	if err != nil {
		t.Fatalf("FromMap error = %v", err)
	}
	if got := p.Encode(nil); got != "cg1=a&cp2=b&ct=click" {
		t.Errorf("Encode() = %q", got)
	}
}

func TestMergePrecedenceProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("later layer wins on every shared slot", prop.ForAll(
		func(lower, upper []string) bool {
			a, b := New(), New()
			for i, v := range lower {
				a.SetSlot(Page, i+1, v)
			}
			for i, v := range upper {
				b.SetSlot(Page, i+1, v)
			}
			a.Merge(b)
			for i := range lower {
				got, _ := a.Get(Slot(Page, i+1))
				if i < len(upper) {
					if got != upper[i] {
						return false
					}
				} else if got != lower[i] {
					return false
				}
			}
			return a.Len() == max(len(lower), len(upper))
		},
		gen.SliceOf(gen.AlphaString()),
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
