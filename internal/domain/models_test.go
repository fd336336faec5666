package domain

import "testing"

func TestIsSuccessStatus(t *testing.T) {
	cases := map[string]bool{
		"SUCCESS":   true,
		"success":   true,
		"Paid":      true,
		"completed": true,
		" PAID ":    true,
		"created":   false,
		"PENDING":   false,
		"FAILED":    false,
		"":          false,
		"unknown":   false,
	}
	for status, want := range cases {
		if got := IsSuccessStatus(status); got != want {
			t.Errorf("IsSuccessStatus(%q) = %v, want %v", status, got, want)
		}
	}
}

func TestMatchKeysSkipsEmptyValues(t *testing.T) {
	keys := MatchKeys{}.
		Add(MatchProviderTxn, "").
		Add(MatchPayloadOrderSlug, "S1").
		Add(MatchPayloadOrderID, "")
	if len(keys) != 1 || keys[0].Field != MatchPayloadOrderSlug || keys[0].Value != "S1" {
		t.Fatalf("unexpected keys: %+v", keys)
	}
}

func TestRechargeFieldReadsPayload(t *testing.T) {
	r := &Recharge{
		ProviderTxn: "TXN1",
		Slug:        "col-slug",
		ProviderPayload: map[string]any{
			"order_id":   "EXT-1",
			"order_slug": "S1",
			"slug":       7,
		},
	}
	if r.Field(MatchProviderTxn) != "TXN1" || r.Field(MatchSlug) != "col-slug" {
		t.Fatal("column fields not read")
	}
	if r.Field(MatchPayloadOrderID) != "EXT-1" || r.Field(MatchPayloadOrderSlug) != "S1" {
		t.Fatal("payload fields not read")
	}
	if r.Field(MatchPayloadSlug) != "" {
		t.Fatal("non-string payload value should not match")
	}
}
