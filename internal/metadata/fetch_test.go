package metadata

import "testing"

func TestExtractContentHash(t *testing.T) {
	cases := []struct {
		uri     string
		want    string
		wantOK  bool
	}{
		{"https://ipfs.io/ipfs/Qm123abc", "Qm123abc", true},
		{"https://ipfs.io/ipfs/Qm123abc?x=1", "Qm123abc", true},
		{"ipfs://Qm456def", "Qm456def", true},
		{"ipfs://Qm456def#frag", "Qm456def", true},
		{"https://gateway.example.com/ipfs/Qm789?x=1", "Qm789", true},
		{"https://example.com/not-ipfs", "", false},
	}
	for _, c := range cases {
		got, ok := extractContentHash(c.uri)
		if ok != c.wantOK || got != c.want {
			t.Errorf("extractContentHash(%q) = (%q, %v), want (%q, %v)", c.uri, got, ok, c.want, c.wantOK)
		}
	}
}
