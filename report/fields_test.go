package report

import (
	"strings"
	"testing"
	"time"
)

func TestParseFieldBlock(t *testing.T) {
	block := "Customer Name: Budi Santoso\n" +
		"Service No: 123456789\n" +
		"no colon line\n" +
		"Segment:\n" +
		": orphan value\n" +
		"  STO  :  BKS  \n"

	fields := ParseFieldBlock(block)
	if len(fields) != 3 {
		t.Fatalf("parsed %d fields, want 3: %v", len(fields), fields)
	}
	if fields["Customer Name"] != "Budi Santoso" {
		t.Fatalf("Customer Name = %q", fields["Customer Name"])
	}
	if fields["STO"] != "BKS" {
		t.Fatalf("whitespace not trimmed: %q", fields["STO"])
	}
	if _, ok := fields["Segment"]; ok {
		t.Fatalf("empty value kept")
	}
}

func TestParseFieldBlockValueWithColon(t *testing.T) {
	fields := ParseFieldBlock("Valins ID: VL:99:X")
	if fields["Valins ID"] != "VL:99:X" {
		t.Fatalf("value split on inner colon: %q", fields["Valins ID"])
	}
}

func TestMissingFieldsKeepsRequiredOrder(t *testing.T) {
	required := []string{"A", "B", "C", "D"}
	got := MissingFields(map[string]string{"B": "x", "D": ""}, required)
	want := []string{"A", "C", "D"}
	if len(got) != len(want) {
		t.Fatalf("missing = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("missing = %v, want %v", got, want)
		}
	}
}

func TestSanitizeFileStem(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"ODP Depan Rumah", "ODP_Depan_Rumah"},
		{"Speed Test 100Mbps!!", "Speed_Test_100Mbps"},
		{"a/b\\c:d", "abcd"},
		{"  jarak  jauh  ", "jarak_jauh"},
		{"???", ""},
	}
	for _, c := range cases {
		if got := SanitizeFileStem(c.in); got != c.want {
			t.Fatalf("SanitizeFileStem(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestFieldTemplatePrefillsValues(t *testing.T) {
	required := []string{"STO", "Segment"}
	got := FieldTemplate(required, map[string]string{"STO": "BKS"})
	if got != "STO: BKS\nSegment: " {
		t.Fatalf("template = %q", got)
	}
}

func TestBuildRowShape(t *testing.T) {
	required := []string{"STO", "Segment"}
	at := time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)
	row := BuildRow("BGES", "T-1", at, map[string]string{"STO": "BKS", "Segment": "DGS"}, required, 3, "https://drive/x")

	if len(row) != 7 {
		t.Fatalf("row length = %d, want 7", len(row))
	}
	if row[0] != "BGES" || row[1] != "T-1" {
		t.Fatalf("row head = %v", row[:2])
	}
	if ts, _ := row[2].(string); !strings.HasPrefix(ts, "14/03/2026") {
		t.Fatalf("timestamp = %v", row[2])
	}
	if row[3] != "BKS" || row[4] != "DGS" {
		t.Fatalf("field columns = %v", row[3:5])
	}
	if row[5] != 3 {
		t.Fatalf("photo count = %v", row[5])
	}
	if row[len(row)-1] != "https://drive/x" {
		t.Fatalf("folder link not last: %v", row[len(row)-1])
	}
}
