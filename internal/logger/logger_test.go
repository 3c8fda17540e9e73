package logger

import "testing"

func TestNew(t *testing.T) {
	cases := []struct {
		level   string
		format  Format
		wantErr bool
	}{
		{"", "", false},
		{"debug", FormatConsole, false},
		{"WARN", FormatJSON, false},
		{"loud", FormatJSON, true},
		{"info", "xml", true},
	}
	for _, c := range cases {
		log, err := New(c.level, c.format)
		if (err != nil) != c.wantErr {
			t.Fatalf("New(%q, %q) err = %v, wantErr %v", c.level, c.format, err, c.wantErr)
		}
		if err == nil && log == nil {
			t.Fatalf("New(%q, %q) returned nil logger", c.level, c.format)
		}
	}
}
