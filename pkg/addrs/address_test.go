package addrs

import "testing"

func TestParse_Singleton(t *testing.T) {
	addr, err := Parse("compute.instance.web")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if addr.Type != "compute.instance" {
		t.Errorf("Expected type compute.instance, got %s", addr.Type)
	}
	if addr.Name != "web" {
		t.Errorf("Expected name web, got %s", addr.Name)
	}
	if addr.Index != NoIndex {
		t.Errorf("Expected NoIndex, got %d", addr.Index)
	}
}

func TestParse_Indexed(t *testing.T) {
	addr, err := Parse("compute.instance.web[2]")
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}

	if addr.Index != 2 {
		t.Errorf("Expected index 2, got %d", addr.Index)
	}
	if addr.String() != "compute.instance.web[2]" {
		t.Errorf("Round trip mismatch: %s", addr.String())
	}
}

func TestParse_Invalid(t *testing.T) {
	cases := []string{
		"",
		"justonename",
		"type.",
		".name",
		"type.name[",
		"type.name[x]",
		"type.name[-1]",
	}

	for _, c := range cases {
		if _, err := Parse(c); err == nil {
			t.Errorf("Expected error for %q, got none", c)
		}
	}
}

func TestString_Roundtrip(t *testing.T) {
	for _, addr := range []Resource{
		New("net.vpc", "main"),
		NewIndexed("compute.instance", "web", 0),
	} {
		parsed, err := Parse(addr.String())
		if err != nil {
			t.Fatalf("Parse(%q): %v", addr.String(), err)
		}
		if parsed != addr {
			t.Errorf("Round trip mismatch: %v != %v", parsed, addr)
		}
	}
}

func TestSort_CanonicalOrder(t *testing.T) {
	rs := []Resource{
		NewIndexed("compute.instance", "web", 1),
		New("net.vpc", "main"),
		NewIndexed("compute.instance", "web", 0),
		New("compute.instance", "db"),
	}

	Sort(rs)

	want := []string{
		"compute.instance.db",
		"compute.instance.web[0]",
		"compute.instance.web[1]",
		"net.vpc.main",
	}
	for i, w := range want {
		if rs[i].String() != w {
			t.Errorf("Position %d: expected %s, got %s", i, w, rs[i])
		}
	}
}
