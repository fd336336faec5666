package provider

// Payload is a provider document as received. Its shape is not fixed, so
// callers read it through Normalize instead of indexing keys directly.
type Payload map[string]any

var (
	orderIDKeys = []string{"order_id", "orderId"}
	slugKeys    = []string{"order_slug", "slug"}
	statusKeys  = []string{"payment_status", "status"}
)

// Envelope is the normalized view of a provider payload.
type Envelope struct {
	OrderID string
	Slug    string
	Status  string
	Raw     Payload
}

// Normalize extracts order id, slug and status from p. Each field is looked
// up by its accepted spellings at the top level first, then under "data".
// Only string values count: the provider also uses a boolean "status" to
// signal API success, which is not a payment status.
func Normalize(p Payload) Envelope {
	scopes := []map[string]any{p}
	if nested, ok := p["data"].(map[string]any); ok {
		scopes = append(scopes, nested)
	}
	return Envelope{
		OrderID: firstString(scopes, orderIDKeys),
		Slug:    firstString(scopes, slugKeys),
		Status:  firstString(scopes, statusKeys),
		Raw:     p,
	}
}

func firstString(scopes []map[string]any, keys []string) string {
	for _, scope := range scopes {
		for _, k := range keys {
			if s, ok := scope[k].(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}
