package event

import "testing"

func TestTypeString(t *testing.T) {
	tests := []struct {
		typ  Type
		want string
	}{
		{Added, "Added"},
		{Modified, "Modified"},
		{Deleted, "Deleted"},
		{Bookmark, "Bookmark"},
		{Error, "Error"},
		{Type(99), "Unknown"},
	}
	for _, tt := range tests {
		if got := tt.typ.String(); got != tt.want {
			t.Errorf("Type(%d).String() = %q, want %q", tt.typ, got, tt.want)
		}
	}
}
