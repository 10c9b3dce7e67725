package gateway

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/nodevault/custodian/internal/chain"
	"github.com/nodevault/custodian/internal/crypto"
)

// setOneTimeHeaders applies the required headers for the one-time secret
// and import URLs: no caching, no indexing, and a minimal CSP since these
// pages render sensitive material directly.
func setOneTimeHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Robots-Tag", "noindex")
	w.Header().Set("Content-Security-Policy", "default-src 'none'")
}

func tokenFromPath(prefix, path string) string {
	return strings.TrimPrefix(path, prefix)
}

// subjectFor scopes an encrypted envelope to one principal, matching the
// subject convention internal/secretstore uses for its own envelopes.
func subjectFor(principalID int64) []byte {
	return []byte(fmt.Sprintf("principal:%d", principalID))
}

// handleSecret serves the SecretStore one-time URL: a single GET consumes
// the token and returns the decrypted payload; any other method is denied.
func (g *Gateway) handleSecret(w http.ResponseWriter, r *http.Request) {
	setOneTimeHeaders(w)
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, errUnexpected)
		return
	}
	tok := tokenFromPath("/secret/", r.URL.Path)
	plaintext, err := g.cfg.Secrets.Consume(tok)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"secret": base64.StdEncoding.EncodeToString(plaintext)})
}

// handleImport serves the two-phase ImportSession handoff: GET mints a
// form token bound to the import token's principal, POST completes the
// import using that form token. Any other method is denied.
func (g *Gateway) handleImport(w http.ResponseWriter, r *http.Request) {
	setOneTimeHeaders(w)
	tok := tokenFromPath("/import/", r.URL.Path)

	switch r.Method {
	case http.MethodGet:
		formTok, err := g.cfg.Imports.BeginForm(tok)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"form_token": formTok})
	case http.MethodPost:
		var body struct {
			PrivateKey string `json:"private_key"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		raw, err := hex.DecodeString(strings.TrimPrefix(body.PrivateKey, "0x"))
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		principalID, err := g.cfg.Imports.CompleteForm(tok)
		if err != nil {
			writeAppError(w, err)
			return
		}

		plaintext := append([]byte(nil), raw...)
		signer, err := chain.NewSigner(raw) // zeroes raw
		if err != nil {
			writeAppError(w, err)
			return
		}
		encrypted, err := g.cfg.Custody.Encrypt(subjectFor(principalID), crypto.InfoSigningMaterial, plaintext)
		if err != nil {
			writeAppError(w, err)
			return
		}

		p, err := g.cfg.Principals.GetOrCreatePrincipal(r.Context(), principalID)
		if err != nil {
			writeAppError(w, err)
			return
		}
		p.Address = signer.Address()
		p.EncryptedSecret = []byte(encrypted)
		if err := g.cfg.Principals.UpdatePrincipal(r.Context(), p); err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"principal_id": principalID, "address": p.Address, "imported": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, errUnexpected)
	}
}
