package app

import (
	"testing"

	"bookshopbot/pkg/domain"
)

func TestDecodeLabel(t *testing.T) {
	if DecodeLabel("  export TO csv ") != CapExportCSV {
		t.Fatalf("expected case-insensitive decode")
	}
	if DecodeLabel("Fantasy") != CapUnknown {
		t.Fatalf("free text must not decode to a capability")
	}
	for c, label := range capabilityLabels {
		if DecodeLabel(label) != c {
			t.Fatalf("label %q does not decode back", label)
		}
	}
}

func TestAllowed(t *testing.T) {
	if !Allowed(domain.RoleGuest, CapHelp) || Allowed(domain.RoleGuest, CapBrowse) {
		t.Fatalf("guests only get help")
	}
	if !Allowed(domain.RoleUser, CapCheckout) || Allowed(domain.RoleUser, CapForceBackup) {
		t.Fatalf("users shop but do not administer")
	}
	if !Allowed(domain.RoleAdmin, CapScrape) || !Allowed(domain.RoleAdmin, CapCart) {
		t.Fatalf("admins get everything")
	}
}

func TestMenusOnlyListAllowedCapabilities(t *testing.T) {
	for _, role := range []domain.UserRole{domain.RoleGuest, domain.RoleUser, domain.RoleAdmin} {
		for _, row := range MenuFor(role) {
			for _, c := range row {
				if !Allowed(role, c) {
					t.Fatalf("%s menu lists forbidden %q", role, c.Label())
				}
			}
		}
	}
	if hasLabel(MenuLabels(domain.RoleUser), CapExportExcel.Label()) {
		t.Fatalf("user menu must not show admin actions")
	}
}
