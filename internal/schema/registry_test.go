package schema

import (
	"strings"
	"testing"
)

func reg(t *testing.T) *Registry {
	t.Helper()
	r, err := Default()
	if err != nil {
		t.Fatalf("compile registry: %v", err)
	}
	return r
}

func TestEnvelopeValidation(t *testing.T) {
	r := reg(t)

	tests := []struct {
		name    string
		payload string
		wantErr bool
	}{
		{"valid", `{"action":"memory_read","key":"k"}`, false},
		{"missing action", `{"key":"k"}`, true},
		{"empty action", `{"action":""}`, true},
		{"unknown action", `{"action":"launch_missiles"}`, true},
		{"not an object", `["memory_read"]`, true},
		{"bad json", `{`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.ValidateEnvelope([]byte(tt.payload))
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateEnvelope(%s) error = %v, wantErr %v", tt.payload, err, tt.wantErr)
			}
		})
	}
}

func TestActionStrictness(t *testing.T) {
	r := reg(t)

	// Unknown fields are rejected for every registered action.
	for _, action := range r.Actions() {
		t.Run(action, func(t *testing.T) {
			payload := `{"action":"` + action + `","__unknown_field":1}`
			if err := r.ValidateAction(action, []byte(payload)); err == nil {
				t.Errorf("action %s accepted unknown field", action)
			}
		})
	}
}

func TestActionSchemas(t *testing.T) {
	r := reg(t)

	tests := []struct {
		name    string
		action  string
		payload string
		wantErr bool
	}{
		{"memory_write ok", "memory_write", `{"action":"memory_write","key":"notes","content":"remember this"}`, false},
		{"memory_write missing content", "memory_write", `{"action":"memory_write","key":"notes"}`, true},
		{"llm_call ok", "llm_call", `{"action":"llm_call","messages":[{"role":"user","content":"hi"}]}`, false},
		{"llm_call bad role", "llm_call", `{"action":"llm_call","messages":[{"role":"root","content":"hi"}]}`, true},
		{"llm_call empty messages", "llm_call", `{"action":"llm_call","messages":[]}`, true},
		{"web_fetch ok", "web_fetch", `{"action":"web_fetch","url":"https://example.com"}`, false},
		{"web_fetch maxChars too small", "web_fetch", `{"action":"web_fetch","url":"https://example.com","maxChars":10}`, true},
		{"delegate ok", "agent_delegate", `{"action":"agent_delegate","targetAgent":"research","task":"summarize"}`, false},
		{"workspace_write shared tier denied", "workspace_write", `{"action":"workspace_write","tier":"shared","path":"a.txt","content":"x"}`, true},
		{"workspace_read shared ok", "workspace_read", `{"action":"workspace_read","tier":"shared","path":"a.txt"}`, false},
		{"cron ok", "scheduler_add_cron", `{"action":"scheduler_add_cron","cronExpr":"0 9 * * 1","prompt":"morning check"}`, false},
		{"proposal decision enum", "proposal_review", `{"action":"proposal_review","proposalId":"p1","decision":"maybe"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.ValidateAction(tt.action, []byte(tt.payload))
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAction(%s, %s) error = %v, wantErr %v", tt.action, tt.payload, err, tt.wantErr)
			}
		})
	}
}

func TestRegistryCoversNormativeActions(t *testing.T) {
	r := reg(t)
	normative := []string{
		"llm_call",
		"memory_write", "memory_query", "memory_read", "memory_delete", "memory_list",
		"web_fetch", "web_search",
		"browser_launch", "browser_navigate", "browser_snapshot", "browser_click",
		"browser_type", "browser_screenshot", "browser_close",
		"skill_read", "skill_list", "skill_propose",
		"audit_query", "identity_write", "user_write",
		"scheduler_add_cron", "scheduler_run_at", "scheduler_remove_cron", "scheduler_list_jobs",
		"agent_delegate",
		"workspace_read", "workspace_write", "workspace_list",
		"proposal_list", "proposal_review",
	}
	have := map[string]bool{}
	for _, a := range r.Actions() {
		have[a] = true
	}
	var missing []string
	for _, a := range normative {
		if !have[a] {
			missing = append(missing, a)
		}
	}
	if len(missing) > 0 {
		t.Errorf("registry missing actions: %s", strings.Join(missing, ", "))
	}
}
