package domain

// MatchField names a place a recharge can be correlated by.
type MatchField int

const (
	MatchProviderTxn MatchField = iota
	MatchPayloadOrderID
	MatchPayloadOrderSlug
	MatchPayloadSlug
	MatchSlug
)

func (f MatchField) String() string {
	switch f {
	case MatchProviderTxn:
		return "provider_txn"
	case MatchPayloadOrderID:
		return "provider_payload.order_id"
	case MatchPayloadOrderSlug:
		return "provider_payload.order_slug"
	case MatchPayloadSlug:
		return "provider_payload.slug"
	case MatchSlug:
		return "slug"
	default:
		return "unknown"
	}
}

// MatchKey is one exact-match candidate. A lookup takes keys in priority
// order and returns the record matched by the earliest key.
type MatchKey struct {
	Field MatchField
	Value string
}

// MatchKeys accumulates keys in priority order, skipping empty values.
type MatchKeys []MatchKey

func (k MatchKeys) Add(field MatchField, value string) MatchKeys {
	if value == "" {
		return k
	}
	return append(k, MatchKey{Field: field, Value: value})
}

// Field returns the value a recharge carries for the given match field.
func (r *Recharge) Field(f MatchField) string {
	switch f {
	case MatchProviderTxn:
		return r.ProviderTxn
	case MatchSlug:
		return r.Slug
	case MatchPayloadOrderID:
		return payloadString(r.ProviderPayload, "order_id")
	case MatchPayloadOrderSlug:
		return payloadString(r.ProviderPayload, "order_slug")
	case MatchPayloadSlug:
		return payloadString(r.ProviderPayload, "slug")
	}
	return ""
}

func payloadString(p map[string]any, key string) string {
	if p == nil {
		return ""
	}
	s, _ := p[key].(string)
	return s
}
