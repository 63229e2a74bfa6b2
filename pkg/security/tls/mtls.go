package tls

import "net/http"

// ClientIdentity returns the Common Name of the verified client
// certificate, or "" when the request carries none.
func ClientIdentity(r *http.Request) string {
	if r.TLS == nil || len(r.TLS.VerifiedChains) == 0 || len(r.TLS.VerifiedChains[0]) == 0 {
		return ""
	}
	return r.TLS.VerifiedChains[0][0].Subject.CommonName
}
