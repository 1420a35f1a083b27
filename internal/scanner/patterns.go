package scanner

import "regexp"

// severity mirrors the verdict a single pattern match forces.
type severity int

const (
	sevFlag severity = iota
	sevBlock
)

type inboundPattern struct {
	name     string
	category string // injection:direct|persona|extraction|code|shell
	sev      severity
	re       *regexp.Regexp
}

// Inbound injection catalog. One BLOCK match forces a final BLOCK regardless
// of the feature score.
var inboundPatterns = []inboundPattern{
	// Direct instruction override
	{"override_previous", "injection:direct", sevBlock,
		regexp.MustCompile(`(?i)\b(ignore|disregard|forget|override)\s+(all\s+)?(previous|prior|above|earlier)\s+(instructions?|prompts?|rules?|context)`)},
	{"new_instructions", "injection:direct", sevBlock,
		regexp.MustCompile(`(?i)\byour\s+(new|real|true|actual)\s+(instructions?|task|goal|purpose)\s+(is|are)\b`)},
	{"do_not_follow", "injection:direct", sevFlag,
		regexp.MustCompile(`(?i)\bdo\s+not\s+(follow|obey|listen\s+to)\s+(the|your|any)\s+(system|previous|original)`)},
	{"stop_acting", "injection:direct", sevFlag,
		regexp.MustCompile(`(?i)\bstop\s+(being|acting\s+as|pretending)\b`)},

	// Persona hijack
	{"persona_switch", "injection:persona", sevBlock,
		regexp.MustCompile(`(?i)\byou\s+are\s+(now|no\s+longer)\s+(a|an|the)?\b`)},
	{"jailbreak_persona", "injection:persona", sevBlock,
		regexp.MustCompile(`(?i)\b(DAN|developer\s+mode|jailbreak|unrestricted\s+(mode|ai))\b`)},
	{"roleplay_unbound", "injection:persona", sevFlag,
		regexp.MustCompile(`(?i)\b(pretend|act\s+as\s+if|imagine)\s+(you|that\s+you)\s+(have\s+no|are\s+free\s+of)\s+(rules|restrictions|limitations|guidelines)`)},

	// Prompt extraction
	{"reveal_prompt", "injection:extraction", sevBlock,
		regexp.MustCompile(`(?i)\b(reveal|show|print|repeat|output|display)\b.{0,40}\b(system\s+prompt|initial\s+instructions?|hidden\s+(rules|prompt)|your\s+instructions?)`)},
	{"prompt_above", "injection:extraction", sevFlag,
		regexp.MustCompile(`(?i)\b(what|everything)\s+(is|was)\s+(written|said)\s+(above|before)\b`)},

	// Code / tool abuse
	{"eval_request", "injection:code", sevFlag,
		regexp.MustCompile(`(?i)\b(eval|exec)\s*\(|\bimport\s+os\b|\bsubprocess\.(run|Popen)`)},
	{"exfil_url", "injection:code", sevBlock,
		regexp.MustCompile(`(?i)\b(curl|wget|fetch)\b.{0,60}\b(secret|token|credential|api[_-]?key|password)s?\b`)},

	// Shell
	{"destructive_shell", "injection:shell", sevBlock,
		regexp.MustCompile(`(?i)\brm\s+-rf\s+[/~]|\bmkfs\b|\bdd\s+if=.*of=/dev/`)},
	{"shell_pipe_sh", "injection:shell", sevFlag,
		regexp.MustCompile(`(?i)\|\s*(ba)?sh\b|\bchmod\s+\+x\b`)},
}

type outboundPattern struct {
	name string
	kind string // secret | pii
	re   *regexp.Regexp
}

// Outbound leakage catalog. Any secret match blocks; PII matches flag.
var outboundPatterns = []outboundPattern{
	{"anthropic_key", "secret", regexp.MustCompile(`sk-ant-[A-Za-z0-9_-]{10,}`)},
	{"openai_key", "secret", regexp.MustCompile(`sk-[A-Za-z0-9]{20}T3BlbkFJ[A-Za-z0-9]{20}|sk-proj-[A-Za-z0-9_-]{20,}`)},
	{"aws_access_key", "secret", regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`)},
	{"google_api_key", "secret", regexp.MustCompile(`\bAIza[0-9A-Za-z_-]{35}\b`)},
	{"github_token", "secret", regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36,}\b`)},
	{"slack_token", "secret", regexp.MustCompile(`\bxox[baprs]-[A-Za-z0-9-]{10,}\b`)},
	{"private_key_header", "secret", regexp.MustCompile(`-----BEGIN\s+(RSA|EC|DSA|OPENSSH|PGP)?\s*PRIVATE\s+KEY( BLOCK)?-----`)},
	{"bearer_literal", "secret", regexp.MustCompile(`(?i)\bauthorization:\s*bearer\s+[A-Za-z0-9._~+/-]{20,}`)},

	{"ssn", "pii", regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{"credit_card", "pii", regexp.MustCompile(`\b(?:\d[ -]?){13,16}\b`)},
	{"email_bulk", "pii", regexp.MustCompile(`(?:[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}[\s,;]+){3,}`)},
}
