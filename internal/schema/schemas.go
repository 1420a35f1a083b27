package schema

// Per-action request schemas. Strict mode: unknown fields are rejected via
// additionalProperties:false. The envelope schema validates only {action}.

const envelopeSchema = `{
	"type": "object",
	"properties": {
		"action": {"type": "string", "minLength": 1, "maxLength": 64}
	},
	"required": ["action"]
}`

// base wraps the action-specific property block into a strict object schema.
// Every action schema includes the action field itself since the full payload
// is re-validated.
var actionSchemas = map[string]string{
	"llm_call": `{
		"type": "object", "additionalProperties": false,
		"properties": {
			"action": {"const": "llm_call"},
			"messages": {
				"type": "array", "minItems": 1, "maxItems": 200,
				"items": {
					"type": "object", "additionalProperties": false,
					"properties": {
						"role": {"enum": ["system", "user", "assistant"]},
						"content": {"type": "string", "maxLength": 200000}
					},
					"required": ["role", "content"]
				}
			},
			"model": {"type": "string", "maxLength": 128},
			"maxTokens": {"type": "integer", "minimum": 1, "maximum": 200000}
		},
		"required": ["action", "messages"]
	}`,

	"memory_write": `{
		"type": "object", "additionalProperties": false,
		"properties": {
			"action": {"const": "memory_write"},
			"key": {"type": "string", "minLength": 1, "maxLength": 256},
			"content": {"type": "string", "minLength": 1, "maxLength": 100000},
			"tags": {"type": "array", "maxItems": 32, "items": {"type": "string", "maxLength": 64}}
		},
		"required": ["action", "key", "content"]
	}`,

	"memory_query": `{
		"type": "object", "additionalProperties": false,
		"properties": {
			"action": {"const": "memory_query"},
			"query": {"type": "string", "minLength": 1, "maxLength": 1024},
			"limit": {"type": "integer", "minimum": 1, "maximum": 100}
		},
		"required": ["action", "query"]
	}`,

	"memory_read": `{
		"type": "object", "additionalProperties": false,
		"properties": {
			"action": {"const": "memory_read"},
			"key": {"type": "string", "minLength": 1, "maxLength": 256}
		},
		"required": ["action", "key"]
	}`,

	"memory_delete": `{
		"type": "object", "additionalProperties": false,
		"properties": {
			"action": {"const": "memory_delete"},
			"key": {"type": "string", "minLength": 1, "maxLength": 256}
		},
		"required": ["action", "key"]
	}`,

	"memory_list": `{
		"type": "object", "additionalProperties": false,
		"properties": {
			"action": {"const": "memory_list"},
			"limit": {"type": "integer", "minimum": 1, "maximum": 500}
		},
		"required": ["action"]
	}`,

	"web_fetch": `{
		"type": "object", "additionalProperties": false,
		"properties": {
			"action": {"const": "web_fetch"},
			"url": {"type": "string", "minLength": 1, "maxLength": 4096},
			"maxChars": {"type": "integer", "minimum": 100, "maximum": 500000}
		},
		"required": ["action", "url"]
	}`,

	"web_search": `{
		"type": "object", "additionalProperties": false,
		"properties": {
			"action": {"const": "web_search"},
			"query": {"type": "string", "minLength": 1, "maxLength": 1024},
			"maxResults": {"type": "integer", "minimum": 1, "maximum": 20}
		},
		"required": ["action", "query"]
	}`,

	"browser_launch": `{
		"type": "object", "additionalProperties": false,
		"properties": {"action": {"const": "browser_launch"}},
		"required": ["action"]
	}`,

	"browser_navigate": `{
		"type": "object", "additionalProperties": false,
		"properties": {
			"action": {"const": "browser_navigate"},
			"url": {"type": "string", "minLength": 1, "maxLength": 4096}
		},
		"required": ["action", "url"]
	}`,

	"browser_snapshot": `{
		"type": "object", "additionalProperties": false,
		"properties": {
			"action": {"const": "browser_snapshot"},
			"maxElements": {"type": "integer", "minimum": 1, "maximum": 500}
		},
		"required": ["action"]
	}`,

	"browser_click": `{
		"type": "object", "additionalProperties": false,
		"properties": {
			"action": {"const": "browser_click"},
			"selector": {"type": "string", "minLength": 1, "maxLength": 1024}
		},
		"required": ["action", "selector"]
	}`,

	"browser_type": `{
		"type": "object", "additionalProperties": false,
		"properties": {
			"action": {"const": "browser_type"},
			"selector": {"type": "string", "minLength": 1, "maxLength": 1024},
			"text": {"type": "string", "maxLength": 10000}
		},
		"required": ["action", "selector", "text"]
	}`,

	"browser_screenshot": `{
		"type": "object", "additionalProperties": false,
		"properties": {
			"action": {"const": "browser_screenshot"},
			"path": {"type": "string", "maxLength": 1024}
		},
		"required": ["action"]
	}`,

	"browser_close": `{
		"type": "object", "additionalProperties": false,
		"properties": {"action": {"const": "browser_close"}},
		"required": ["action"]
	}`,

	"skill_read": `{
		"type": "object", "additionalProperties": false,
		"properties": {
			"action": {"const": "skill_read"},
			"name": {"type": "string", "minLength": 1, "maxLength": 128, "pattern": "^[A-Za-z0-9_.-]+$"}
		},
		"required": ["action", "name"]
	}`,

	"skill_list": `{
		"type": "object", "additionalProperties": false,
		"properties": {"action": {"const": "skill_list"}},
		"required": ["action"]
	}`,

	"skill_propose": `{
		"type": "object", "additionalProperties": false,
		"properties": {
			"action": {"const": "skill_propose"},
			"name": {"type": "string", "minLength": 1, "maxLength": 128, "pattern": "^[A-Za-z0-9_.-]+$"},
			"content": {"type": "string", "minLength": 1, "maxLength": 100000},
			"reason": {"type": "string", "maxLength": 2000}
		},
		"required": ["action", "name", "content"]
	}`,

	"audit_query": `{
		"type": "object", "additionalProperties": false,
		"properties": {
			"action": {"const": "audit_query"},
			"filterAction": {"type": "string", "maxLength": 64},
			"sinceMs": {"type": "integer", "minimum": 0},
			"limit": {"type": "integer", "minimum": 1, "maximum": 500}
		},
		"required": ["action"]
	}`,

	"identity_write": `{
		"type": "object", "additionalProperties": false,
		"properties": {
			"action": {"const": "identity_write"},
			"file": {"type": "string", "minLength": 1, "maxLength": 128, "pattern": "^[A-Za-z0-9_.-]+\\.md$"},
			"content": {"type": "string", "maxLength": 100000}
		},
		"required": ["action", "file", "content"]
	}`,

	"user_write": `{
		"type": "object", "additionalProperties": false,
		"properties": {
			"action": {"const": "user_write"},
			"path": {"type": "string", "minLength": 1, "maxLength": 1024},
			"content": {"type": "string", "maxLength": 1000000}
		},
		"required": ["action", "path", "content"]
	}`,

	"scheduler_add_cron": `{
		"type": "object", "additionalProperties": false,
		"properties": {
			"action": {"const": "scheduler_add_cron"},
			"cronExpr": {"type": "string", "minLength": 9, "maxLength": 128},
			"prompt": {"type": "string", "minLength": 1, "maxLength": 10000},
			"agentId": {"type": "string", "maxLength": 128},
			"maxTokenBudget": {"type": "integer", "minimum": 1},
			"delivery": {"type": "string", "maxLength": 128},
			"runOnce": {"type": "boolean"}
		},
		"required": ["action", "cronExpr", "prompt"]
	}`,

	"scheduler_run_at": `{
		"type": "object", "additionalProperties": false,
		"properties": {
			"action": {"const": "scheduler_run_at"},
			"atMs": {"type": "integer", "minimum": 0},
			"prompt": {"type": "string", "minLength": 1, "maxLength": 10000},
			"agentId": {"type": "string", "maxLength": 128}
		},
		"required": ["action", "atMs", "prompt"]
	}`,

	"scheduler_remove_cron": `{
		"type": "object", "additionalProperties": false,
		"properties": {
			"action": {"const": "scheduler_remove_cron"},
			"jobId": {"type": "string", "minLength": 1, "maxLength": 128}
		},
		"required": ["action", "jobId"]
	}`,

	"scheduler_list_jobs": `{
		"type": "object", "additionalProperties": false,
		"properties": {"action": {"const": "scheduler_list_jobs"}},
		"required": ["action"]
	}`,

	"agent_delegate": `{
		"type": "object", "additionalProperties": false,
		"properties": {
			"action": {"const": "agent_delegate"},
			"targetAgent": {"type": "string", "minLength": 1, "maxLength": 128},
			"task": {"type": "string", "minLength": 1, "maxLength": 50000},
			"context": {"type": "string", "maxLength": 50000}
		},
		"required": ["action", "targetAgent", "task"]
	}`,

	"workspace_read": `{
		"type": "object", "additionalProperties": false,
		"properties": {
			"action": {"const": "workspace_read"},
			"tier": {"enum": ["shared", "user", "scratch"]},
			"path": {"type": "string", "minLength": 1, "maxLength": 1024}
		},
		"required": ["action", "tier", "path"]
	}`,

	"workspace_write": `{
		"type": "object", "additionalProperties": false,
		"properties": {
			"action": {"const": "workspace_write"},
			"tier": {"enum": ["user", "scratch"]},
			"path": {"type": "string", "minLength": 1, "maxLength": 1024},
			"content": {"type": "string", "maxLength": 1000000}
		},
		"required": ["action", "tier", "path", "content"]
	}`,

	"workspace_list": `{
		"type": "object", "additionalProperties": false,
		"properties": {
			"action": {"const": "workspace_list"},
			"tier": {"enum": ["shared", "user", "scratch"]},
			"path": {"type": "string", "maxLength": 1024}
		},
		"required": ["action", "tier"]
	}`,

	"proposal_list": `{
		"type": "object", "additionalProperties": false,
		"properties": {"action": {"const": "proposal_list"}},
		"required": ["action"]
	}`,

	"proposal_review": `{
		"type": "object", "additionalProperties": false,
		"properties": {
			"action": {"const": "proposal_review"},
			"proposalId": {"type": "string", "minLength": 1, "maxLength": 128},
			"decision": {"enum": ["approve", "reject"]},
			"note": {"type": "string", "maxLength": 2000}
		},
		"required": ["action", "proposalId", "decision"]
	}`,
}
