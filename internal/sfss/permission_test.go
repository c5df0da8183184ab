package sfss

import "testing"

func TestCheckPermission(t *testing.T) {
	cases := []struct {
		owner int32
		path  string
		want  bool
	}{
		{3, "/A3", true},
		{3, "/A3/file.txt", true},
		{3, "/A30", false},
		{3, "/A0", true},
		{3, "/A0/shared.txt", true},
		{3, "/A00", false},
		{3, "/A4", false},
		{3, "/A4/file.txt", false},
	}
	for _, c := range cases {
		if got := checkPermission(c.owner, c.path); got != c.want {
			t.Errorf("checkPermission(%d, %q) = %v, want %v", c.owner, c.path, got, c.want)
		}
	}
}
