package repl

import (
	"reflect"
	"testing"
)

func TestCompleter_Complete(t *testing.T) {
	c := NewCompleter()

	tests := []struct {
		name   string
		prefix string
		want   []string
	}{
		{"exact", "CREATE", []string{"CREATE"}},
		{"lower case", "cr", []string{"CREATE"}},
		{"shared prefix", "R", []string{"RD", "RT", "RI"}},
		{"E prefix", "e", []string{"ET", "EI", "EXIT"}},
		{"help", "he", []string{"HELP"}},
		{"no match", "session", nil},
		{"empty prefix", "", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Complete(tt.prefix)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Complete(%q) = %v, want %v", tt.prefix, got, tt.want)
			}
		})
	}
}

func TestCompleter_CoversCommands(t *testing.T) {
	c := NewCompleter()
	for name := range commands {
		if got := c.Complete(name); len(got) == 0 || got[0] != name {
			t.Errorf("command %s is not completed", name)
		}
	}
}
