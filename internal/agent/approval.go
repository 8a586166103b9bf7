package agent

import (
	"context"
	"strings"
	"sync"

	"github.com/strandlabs/strand/pkg/models"
)

// PermissionDecision is the policy verdict for a tool call.
type PermissionDecision string

const (
	// PermissionAllow means the call executes without interaction.
	PermissionAllow PermissionDecision = "allow"
	// PermissionPrompt means the call blocks pending external approval.
	PermissionPrompt PermissionDecision = "prompt"
	// PermissionDeny means the call is refused without invoking the tool.
	PermissionDeny PermissionDecision = "deny"
)

// PromptOutcome is the resolution of an approval round-trip.
type PromptOutcome string

const (
	PromptApproved  PromptOutcome = "approved"
	PromptDenied    PromptOutcome = "denied"
	PromptCancelled PromptOutcome = "cancelled"
)

// Prompter resolves approval requests for tool calls gated behind
// PermissionPrompt. The wait is unbounded user interaction; implementations
// must honor ctx cancellation.
type Prompter interface {
	RequestApproval(ctx context.Context, call models.ToolCall) (PromptOutcome, error)
}

// PermissionPolicy configures the per-tool permission gate. Patterns support
// a trailing "*" wildcard ("read_*" matches read_file).
type PermissionPolicy struct {
	// Allowlist contains tools that always execute without approval.
	Allowlist []string `yaml:"allowlist" json:"allowlist"`

	// Denylist contains tools that are always refused.
	Denylist []string `yaml:"denylist" json:"denylist"`

	// PromptList contains tools that require an approval round-trip.
	PromptList []string `yaml:"prompt_list" json:"prompt_list"`

	// DefaultDecision applies when no rule matches (default: allow).
	DefaultDecision PermissionDecision `yaml:"default_decision" json:"default_decision"`
}

// DefaultPermissionPolicy allows read-style tools outright and prompts for
// mutation and shell execution.
func DefaultPermissionPolicy() *PermissionPolicy {
	return &PermissionPolicy{
		Allowlist:       []string{"read_*", "list_*", "grep_*", "find_*", "code_search"},
		PromptList:      []string{"write_*", "edit_*", "run_*", "delete_*"},
		DefaultDecision: PermissionAllow,
	}
}

// PermissionGate evaluates tool calls against a PermissionPolicy and drives
// the Prompter for calls that require approval.
type PermissionGate struct {
	mu       sync.RWMutex
	policy   *PermissionPolicy
	prompter Prompter
}

// NewPermissionGate creates a gate with the given policy. A nil policy uses
// DefaultPermissionPolicy.
func NewPermissionGate(policy *PermissionPolicy, prompter Prompter) *PermissionGate {
	if policy == nil {
		policy = DefaultPermissionPolicy()
	}
	if policy.DefaultDecision == "" {
		policy.DefaultDecision = PermissionAllow
	}
	return &PermissionGate{policy: policy, prompter: prompter}
}

// SetPolicy replaces the active policy.
func (g *PermissionGate) SetPolicy(policy *PermissionPolicy) {
	if policy == nil {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.policy = policy
}

// Check returns the policy verdict for a tool name. Denylist wins over
// allowlist, allowlist over prompt list.
func (g *PermissionGate) Check(toolName string) PermissionDecision {
	g.mu.RLock()
	policy := g.policy
	g.mu.RUnlock()

	if matchesPattern(policy.Denylist, toolName) {
		return PermissionDeny
	}
	if matchesPattern(policy.Allowlist, toolName) {
		return PermissionAllow
	}
	if matchesPattern(policy.PromptList, toolName) {
		return PermissionPrompt
	}
	return policy.DefaultDecision
}

// Resolve evaluates a call and, for PermissionPrompt, runs the approval
// round-trip. It returns the final decision: Allow means execute, Deny
// means emit a structured denial result, and an error only when the
// round-trip itself was cancelled.
func (g *PermissionGate) Resolve(ctx context.Context, call models.ToolCall) (PermissionDecision, error) {
	decision := g.Check(call.Name)
	if decision != PermissionPrompt {
		return decision, nil
	}
	if g.prompter == nil {
		// No way to ask; refusing is safer than silently allowing.
		return PermissionDeny, nil
	}

	outcome, err := g.prompter.RequestApproval(ctx, call)
	if err != nil {
		return PermissionDeny, err
	}
	switch outcome {
	case PromptApproved:
		return PermissionAllow, nil
	case PromptCancelled:
		return PermissionDeny, context.Canceled
	default:
		return PermissionDeny, nil
	}
}

// matchesPattern checks a tool name against patterns supporting a trailing
// "*" wildcard.
func matchesPattern(patterns []string, name string) bool {
	for _, pattern := range patterns {
		pattern = strings.TrimSpace(pattern)
		if pattern == "" {
			continue
		}
		if pattern == "*" {
			return true
		}
		if strings.HasSuffix(pattern, "*") {
			if strings.HasPrefix(name, strings.TrimSuffix(pattern, "*")) {
				return true
			}
			continue
		}
		if pattern == name {
			return true
		}
	}
	return false
}
