package interjection

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/hupe1980/colloquy/core"
	"github.com/hupe1980/colloquy/internal/util"
)

// RuleName identifies one of the closed set of prompt modification rules.
// Rules are selected by interjection type so persisted sessions never carry
// executable data.
type RuleName string

const (
	RuleAppendSideQuestion RuleName = "append_side_question"
	RulePrefixCorrection   RuleName = "prefix_correction"
	RulePrefixDirection    RuleName = "prefix_direction"
	RuleAnnotatePause      RuleName = "annotate_pause"
	RuleAnnotateResume     RuleName = "annotate_resume"
)

var ruleTemplates = map[RuleName]string{
	RuleAppendSideQuestion: "{{.Prompt}}\n\n[Side question from the moderator: {{.Text}}]",
	RulePrefixCorrection:   "[Correction from the moderator: {{.Text}}]\n\n{{.Prompt}}",
	RulePrefixDirection:    "[Direction from the moderator: {{.Text}}]\n\n{{.Prompt}}",
	RuleAnnotatePause:      "{{if .Text}}[The moderator paused the conversation: {{.Text}}]\n\n{{end}}{{.Prompt}}",
	RuleAnnotateResume:     "{{if .Text}}[The moderator resumed the conversation: {{.Text}}]\n\n{{end}}{{.Prompt}}",
}

var compiledRules = func() map[RuleName]*template.Template {
	out := make(map[RuleName]*template.Template, len(ruleTemplates))
	for name, text := range ruleTemplates {
		out[name] = template.Must(util.ParseTemplate(string(name), text))
	}
	return out
}()

// RuleFor returns the rule applied to interjections of the given type.
func RuleFor(t core.InterjectionType) (RuleName, error) {
	switch t {
	case core.InterjectionSideQuestion:
		return RuleAppendSideQuestion, nil
	case core.InterjectionCorrection:
		return RulePrefixCorrection, nil
	case core.InterjectionDirection:
		return RulePrefixDirection, nil
	case core.InterjectionPause:
		return RuleAnnotatePause, nil
	case core.InterjectionResume:
		return RuleAnnotateResume, nil
	default:
		return "", core.NewConfigurationError("type", "unknown interjection type %q", t)
	}
}

// Apply rewrites prompt with the rule selected by the interjection type. It
// is a pure function of (prompt, interjection type, interjection text).
func Apply(prompt string, in core.Interjection) (string, error) {
	name, err := RuleFor(in.Type)
	if err != nil {
		return "", err
	}
	out, err := util.Execute(compiledRules[name], struct {
		Prompt string
		Text   string
	}{Prompt: prompt, Text: strings.TrimSpace(in.Text)})
	if err != nil {
		return "", fmt.Errorf("apply rule %s: %w", name, err)
	}
	return out, nil
}
