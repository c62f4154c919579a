package vox

import "testing"

func TestParseAddrV4(t *testing.T) {
	a, err := ParseAddr("127.0.0.1:8080")
	if err != nil {
		t.Fatalf("ParseAddr: %v", err)
	}
	if a.Family() != FamilyV4 {
		t.Errorf("Family() = %v, want FamilyV4", a.Family())
	}
	if a.Port() != 8080 {
		t.Errorf("Port() = %d, want 8080", a.Port())
	}
	if len(a.Bytes()) != 4 {
		t.Errorf("Bytes() length = %d, want 4", len(a.Bytes()))
	}
	if a.String() != "127.0.0.1:8080" {
		t.Errorf("String() = %q, want %q", a.String(), "127.0.0.1:8080")
	}
}

func TestParseAddrV6(t *testing.T) {
	a, err := ParseAddr("[::1]:443")
	if err != nil {
		t.Fatalf("ParseAddr: %v", err)
	}
	if a.Family() != FamilyV6 {
		t.Errorf("Family() = %v, want FamilyV6", a.Family())
	}
	if len(a.Bytes()) != 16 {
		t.Errorf("Bytes() length = %d, want 16", len(a.Bytes()))
	}
}

func TestParseAddrInvalid(t *testing.T) {
	if _, err := ParseAddr("not-an-address"); err == nil {
		t.Error("expected an error for a malformed address")
	}
	if _, err := ParseAddr("example.com:80"); err == nil {
		t.Error("expected an error for a hostname (ParseAddr takes literals only)")
	}
}

func TestAddrIsValid(t *testing.T) {
	var zero Addr
	if zero.IsValid() {
		t.Error("zero-value Addr should not be valid")
	}
	a, err := ParseAddr("10.0.0.1:1")
	if err != nil {
		t.Fatalf("ParseAddr: %v", err)
	}
	if !a.IsValid() {
		t.Error("parsed Addr should be valid")
	}
}

func TestAddrFamilyString(t *testing.T) {
	if FamilyV4.String() != "v4" {
		t.Errorf("FamilyV4.String() = %q", FamilyV4.String())
	}
	if FamilyV6.String() != "v6" {
		t.Errorf("FamilyV6.String() = %q", FamilyV6.String())
	}
}
