package paint

import "testing"

func TestParseLoop(t *testing.T) {
	tests := []struct {
		in   string
		want Loop
	}{
		{"", Once},
		{"once", Once},
		{"ONCE", Once},
		{"3", Loop{Times: 3}},
		{"forever", Loop{Forever: true}},
		{"infinite", Loop{Forever: true}},
		{"Infinity", Loop{Forever: true}},
		{"24/7", Loop{Forever: true}},
	}
	for _, tt := range tests {
		got, err := ParseLoop(tt.in)
		if err != nil {
			t.Errorf("ParseLoop(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLoop(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}

	for _, in := range []string{"0", "-2", "twice"} {
		if _, err := ParseLoop(in); err == nil {
			t.Errorf("ParseLoop(%q) succeeded", in)
		}
	}
}

func TestLoop_More(t *testing.T) {
	l := Loop{Times: 2}
	if !l.More(1) || !l.More(2) || l.More(3) {
		t.Fatal("two passes expected")
	}
	if !l.Last(2) || l.Last(1) {
		t.Fatal("pass 2 is last")
	}
	f := Loop{Forever: true}
	if !f.More(1000) || f.Last(1000) {
		t.Fatal("forever never ends")
	}
}
