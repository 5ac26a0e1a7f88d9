package api

import (
	"encoding/json"
	"io"
	"net/http"
)

// envelope is the inbound request shape: command_id plus whatever
// command-specific fields that command expects, flattened alongside it
// (amount, value, upper_lvl, ...) rather than nested under a separate key,
// matching spec.md §6's command list.
type envelope struct {
	CommandID string `json:"command_id"`
}

// ServeHTTP decodes one command request and writes its Response as JSON.
// This is the command channel's transport: a single POST endpoint, no
// framework — the teacher pulls in no HTTP router dependency, so this
// stays on net/http rather than adding one.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	defer req.Body.Close()
	body, err := io.ReadAll(req.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err != nil || env.CommandID == "" {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(Response{Success: false, Message: "missing command_id"})
		return
	}

	resp := r.Dispatch(req.Context(), env.CommandID, body)

	w.Header().Set("Content-Type", "application/json")
	if !resp.Success {
		r.log.Warn().Str("command_id", env.CommandID).Str("message", resp.Message).Msg("command failed")
	}
	json.NewEncoder(w).Encode(resp)
}
