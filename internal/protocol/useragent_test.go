package protocol

import "testing"

var testPatterns = []string{`^/?([A-Za-z][\w.-]*):(\d+)\.(\d+)\.(\d+)`}

func TestAgentParserParse(t *testing.T) {
	parser, err := NewAgentParser(testPatterns)
	if err != nil {
		t.Fatalf("NewAgentParser: %v", err)
	}

	tests := []struct {
		agent       string
		wantName    string
		wantVersion string
		wantOK      bool
	}{
		{"/pixd:1.18.0/", "pixd", "1.18.0", true},
		{"/pix-qt:0.9.12/", "pix-qt", "0.9.12", true},
		{"pixd:1.18.0", "pixd", "1.18.0", true}, // no slash wrapping
		{"/pixd:1.18.0(linux)/", "pixd", "1.18.0", true},
		{"", "", "", false},
		{"/garbage/", "", "", false},
		{"/:1.2.3/", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.agent, func(t *testing.T) {
			name, version, ok := parser.Parse(tt.agent)
			if ok != tt.wantOK {
				t.Fatalf("Parse(%q) ok = %v, want %v", tt.agent, ok, tt.wantOK)
			}
			if name != tt.wantName || version != tt.wantVersion {
				t.Errorf("Parse(%q) = %q %q, want %q %q", tt.agent, name, version, tt.wantName, tt.wantVersion)
			}
		})
	}
}

func TestNewAgentParserRejectsBadPatterns(t *testing.T) {
	if _, err := NewAgentParser([]string{"(unclosed"}); err == nil {
		t.Error("invalid regexp accepted")
	}
	if _, err := NewAgentParser([]string{`(\w+):(\d+)`}); err == nil {
		t.Error("pattern without version capture groups accepted")
	}
}

func TestCompareVersions(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"1.18.0", "1.18.0", 0},
		{"1.18", "1.18.0", 0}, // missing segments count as zero
		{"1.18.1", "1.18.0", 1},
		{"1.17.9", "1.18.0", -1},
		{"2.0.0", "1.99.99", 1},
		{"0.9.0", "1.0.0", -1},
		{"1.18.0.1", "1.18.0", 1},
	}

	for _, tt := range tests {
		if got := CompareVersions(tt.a, tt.b); got != tt.want {
			t.Errorf("CompareVersions(%q, %q) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestIsCurrentVersion(t *testing.T) {
	tests := []struct {
		parsed, current string
		want            bool
	}{
		{"1.18.0", "1.18.0", true},
		{"1.19.0", "1.18.0", true}, // ahead still counts as current
		{"1.17.2", "1.18.0", false},
		{"", "1.18.0", false},
		{"1.18.0", "", false},
	}

	for _, tt := range tests {
		if got := IsCurrentVersion(tt.parsed, tt.current); got != tt.want {
			t.Errorf("IsCurrentVersion(%q, %q) = %v, want %v", tt.parsed, tt.current, got, tt.want)
		}
	}
}
