package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/signetai/signetd/internal/llm"
	"github.com/signetai/signetd/internal/recall"
	"github.com/signetai/signetd/internal/types"
)

const decideCandidates = 5

const decidePromptTemplate = `A new fact was extracted. Decide how it relates to the existing memories below.

New fact:
%s

Existing memories:
%s

Respond with ONLY a JSON object, no markdown:
{"action": "add|update|delete|none", "targetId": "...", "confidence": 0.9, "reason": "..."}

Rules:
- "add": the fact is new information.
- "update": the fact supersedes the memory named by targetId.
- "delete": the fact proves the memory named by targetId wrong.
- "none": the fact is already covered; store nothing.
- targetId is required for update and delete and must be one of the ids shown.`

// Proposal is one shadow decision. Nothing acts on these yet; they land in
// job.result for inspection.
type Proposal struct {
	Fact       string  `json:"fact"`
	Action     string  `json:"action"`
	TargetID   string  `json:"targetId,omitempty"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason,omitempty"`
}

type decideResult struct {
	Proposals []Proposal `json:"proposals,omitempty"`
	Warnings  []string   `json:"warnings,omitempty"`
}

type decision struct {
	Action     string  `json:"action"`
	TargetID   string  `json:"targetId"`
	Confidence float64 `json:"confidence"`
	Reason     string  `json:"reason"`
}

func (p *Pipeline) runDecide(ctx context.Context, job *types.Job) (string, error) {
	var facts []extractedFact
	if err := json.Unmarshal([]byte(job.Payload), &facts); err != nil {
		return "", llm.NewParseError("decide payload is not valid JSON: %v", err)
	}
	if p.gen == nil {
		return marshalResult(decideResult{Warnings: []string{"no generator configured"}}), nil
	}

	var out decideResult
	for _, fact := range facts {
		prop, warn, err := p.decideFact(ctx, fact)
		if err != nil {
			return "", err
		}
		if warn != "" {
			out.Warnings = append(out.Warnings, warn)
			continue
		}
		out.Proposals = append(out.Proposals, prop)
	}
	return marshalResult(out), nil
}

func (p *Pipeline) decideFact(ctx context.Context, fact extractedFact) (Proposal, string, error) {
	// Raw fused ordering, no decay: decisions compare content, not recency.
	// Both arms weigh equally so single-source candidates still surface.
	cands, err := p.engine.Search(ctx, recall.Query{
		Query: fact.Content,
		Limit: decideCandidates,
		Alpha: 0.5,
	})
	if err != nil {
		return Proposal{}, "", err
	}
	if len(cands) == 0 {
		return Proposal{
			Fact:       fact.Content,
			Action:     "add",
			Confidence: fact.Confidence,
			Reason:     "no similar memories",
		}, "", nil
	}

	var sb strings.Builder
	valid := make(map[string]bool, len(cands))
	for _, c := range cands {
		valid[c.ID] = true
		fmt.Fprintf(&sb, "- [%s] %s\n", c.ID, c.Content)
	}

	callCtx, cancel := context.WithTimeout(ctx, p.cfg.DecideTimeout)
	defer cancel()
	raw, err := p.gen.Generate(callCtx, fmt.Sprintf(decidePromptTemplate, fact.Content, sb.String()), llm.GenerateOptions{})
	p.observe("generate", llmOutcome(err))
	if err != nil {
		return Proposal{}, "", err
	}

	var d decision
	if uerr := json.Unmarshal([]byte(llm.CleanResponse(raw)), &d); uerr != nil {
		return Proposal{}, fmt.Sprintf("unparseable decision for fact %q", truncate(fact.Content, 60)), nil
	}

	switch d.Action {
	case "add", "none":
		d.TargetID = ""
	case "update", "delete":
		if !valid[d.TargetID] {
			return Proposal{}, fmt.Sprintf("decision %s references unknown target %q", d.Action, d.TargetID), nil
		}
	default:
		return Proposal{}, fmt.Sprintf("unknown decision action %q", d.Action), nil
	}
	if strings.TrimSpace(d.Reason) == "" {
		return Proposal{}, fmt.Sprintf("decision %s for fact %q has no reason", d.Action, truncate(fact.Content, 60)), nil
	}

	return Proposal{
		Fact:       fact.Content,
		Action:     d.Action,
		TargetID:   d.TargetID,
		Confidence: clamp01(d.Confidence),
		Reason:     d.Reason,
	}, "", nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
