package gateway

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/websocket"

	domainauthz "github.com/nodevault/custodian/internal/domain/authz"
	"github.com/nodevault/custodian/internal/swap"
)

// handleSwap is plugin (5), the dispatcher's swap route: it runs the swap
// pipeline and exposes its lazy frame sequence either as a chunked,
// flush-per-frame JSON stream (the default) or, for a caller that sends the
// websocket upgrade headers, as a push stream.
func (g *Gateway) handleSwap(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errUnexpected)
		return
	}
	principalID, ok := principalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, errUnauthorized)
		return
	}

	var body struct {
		AmountQuote string `json:"amount_quote"`
		Asset       string `json:"asset"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	frames := g.cfg.Swap.Execute(r.Context(), principalID, body.AmountQuote, body.Asset)

	if isWebsocketUpgrade(r) {
		g.streamFramesWebsocket(w, r, frames)
		return
	}
	g.streamFramesChunked(w, frames)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func isWebsocketUpgrade(r *http.Request) bool {
	return r.Header.Get("Upgrade") == "websocket"
}

func (g *Gateway) streamFramesWebsocket(w http.ResponseWriter, r *http.Request, frames <-chan swap.Frame) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if g.cfg.Logger != nil {
			g.cfg.Logger.WithFields(map[string]interface{}{"error": err}).Warn("websocket upgrade failed")
		}
		return
	}
	defer conn.Close()
	for f := range frames {
		if err := conn.WriteJSON(f); err != nil {
			return
		}
	}
}

func (g *Gateway) streamFramesChunked(w http.ResponseWriter, frames <-chan swap.Frame) {
	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	for f := range frames {
		_ = enc.Encode(f)
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (g *Gateway) handleDCAStart(w http.ResponseWriter, r *http.Request) {
	g.setDCAActive(w, r, true)
}

func (g *Gateway) handleDCAStop(w http.ResponseWriter, r *http.Request) {
	g.setDCAActive(w, r, false)
}

func (g *Gateway) setDCAActive(w http.ResponseWriter, r *http.Request, active bool) {
	principalID, ok := principalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, errUnauthorized)
		return
	}
	p, err := g.cfg.Principals.GetOrCreatePrincipal(r.Context(), principalID)
	if err != nil {
		writeAppError(w, err)
		return
	}
	p.DCAActive = active
	if err := g.cfg.Principals.UpdatePrincipal(r.Context(), p); err != nil {
		writeAppError(w, err)
		return
	}
	if g.cfg.Scheduler != nil {
		if err := g.cfg.Scheduler.OnUserStatusChanged(r.Context()); err != nil {
			writeAppError(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]bool{"dca_active": active})
}

func (g *Gateway) handleGenerateInvite(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errUnexpected)
		return
	}
	actorID, ok := principalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, errUnauthorized)
		return
	}
	var body struct {
		Role string `json:"role"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	tok, err := g.cfg.Authz.GenerateInvite(r.Context(), actorID, domainauthz.Role(body.Role))
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"token":      tok.Token,
		"invite_url": g.cfg.PublicURL + "/invite/" + tok.Token,
	})
}

func (g *Gateway) handleActivateInvite(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, errUnexpected)
		return
	}
	var body struct {
		Token       string `json:"token"`
		PrincipalID int64  `json:"principal_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := g.cfg.Authz.ActivateInvite(r.Context(), body.Token, body.PrincipalID); err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"activated": true})
}

// handleAuthorizedMutations dispatches /v1/authorized/{principalId} PUT
// (update role) and DELETE (remove), keyed by the trailing path segment.
func (g *Gateway) handleAuthorizedMutations(w http.ResponseWriter, r *http.Request) {
	actorID, ok := principalFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, errUnauthorized)
		return
	}
	targetID, err := strconv.ParseInt(lastPathSegment(r.URL.Path), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	switch r.Method {
	case http.MethodDelete:
		if err := g.cfg.Authz.Remove(r.Context(), actorID, targetID); err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"removed": true})
	case http.MethodPut:
		var body struct {
			Role string `json:"role"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		if err := g.cfg.Authz.UpdateRole(r.Context(), actorID, targetID, domainauthz.Role(body.Role)); err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"updated": true})
	default:
		writeError(w, http.StatusMethodNotAllowed, errUnexpected)
	}
}

func lastPathSegment(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}
