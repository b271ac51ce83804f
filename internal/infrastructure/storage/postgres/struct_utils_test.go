package postgres

import (
	"testing"

	"partnerpay/internal/domain/ledger"
	"partnerpay/internal/domain/partners"
)

func TestExtractDBColumns_Partner(t *testing.T) {
	cols := ExtractDBColumns[partners.Partner]()

	want := []string{"id", "version", "created_at", "partner_code", "kyc_status", "commission_rate_percent"}
	got := make(map[string]bool, len(cols))
	for _, c := range cols {
		got[c] = true
	}
	for _, w := range want {
		if !got[w] {
			t.Errorf("expected column %q in %v", w, cols)
		}
	}
}

func TestStructToMap_FlattensEmbedded(t *testing.T) {
	entry := &ledger.Entry{}
	m := StructToMap(entry)

	for _, key := range []string{"id", "version", "invoice_id", "commission_amount_signed", "state"} {
		if _, ok := m[key]; !ok {
			t.Errorf("expected key %q in map", key)
		}
	}
	if _, ok := m["-"]; ok {
		t.Error("ignored tag leaked into map")
	}
}
