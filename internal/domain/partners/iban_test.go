package partners

import "testing"

func TestValidIBAN(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{"DE89370400440532013000", true},
		{"GB82WEST12345698765432", true},
		{"FR1420041010050500013M02606", true},
		{"de89 3704 0044 0532 0130 00", true},
		{"DE89370400440532013001", false},
		{"GB82WEST12345698765431", false},
		{"DE8937040044", false},
		{"DE89-3704-0044-0532-0130-00", false},
		{"", false},
	}

	for _, c := range cases {
		if got := ValidIBAN(c.in); got != c.want {
			t.Errorf("ValidIBAN(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}
