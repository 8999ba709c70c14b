package symbols

import "testing"

func TestToKucoinContract(t *testing.T) {
	cases := map[string]string{
		"BTC": "XBTUSDTM",
		"ETH": "ETHUSDTM",
		"sol": "SOLUSDTM",
	}
	for in, want := range cases {
		if got := ToKucoinContract(in); got != want {
			t.Errorf("ToKucoinContract(%q) = %q, want %q", in, got, want)
		}
	}
}
