// Package prompt builds the prompts sent to the generation capability.
// Wording here is a collaborator contract, not core logic: the engine
// only depends on the shapes these prompts request back.
package prompt

import (
	"fmt"
	"strings"

	"styleforge/internal/model"
)

// Theme asks for a style theme and design manifesto from a text seed.
// When the seed is an image, pass seedText == "" and attach the image
// to the request; the prompt then directs a vision analysis pass.
func Theme(seedText string) string {
	base := `You are a senior product designer naming a visual style.

STRICT JSON ONLY:
{
  "styleTheme": "short evocative theme name, 1-4 words",
  "designLanguage": "a 2-4 sentence design manifesto: palette, typography, spacing, mood"
}

Do NOT output narrative text.`
	seedText = strings.TrimSpace(seedText)
	if seedText == "" {
		return base + "\n\nDerive the theme from the attached image: its palette, materials, typography and mood."
	}
	return base + "\n\nSeed description:\n" + seedText
}

// Architecture asks for additional niche modules beyond the core set.
func Architecture(styleTheme, designLanguage string) string {
	return fmt.Sprintf(`You are a senior UI architect planning a component library for the theme %q.
Design language: %s

Propose 2-4 NICHE UI modules that suit this theme beyond the obvious basics
(navigation, hero, card, form, buttons, footer are already planned).

STRICT JSON ONLY - an array:
[
  {
    "id": "kebab-case-stable-id",
    "name": "Module Name",
    "category": "niche",
    "description": "one sentence on the module's purpose",
    "affordances": ["3 to 5 required interaction or visual behaviors"]
  }
]

Rules:
- every entry must have non-empty id, name, description
- affordances must be a list of 3 to 5 short strings
- Do NOT output narrative text.`, styleTheme, designLanguage)
}

// Component builds one variation's generation prompt from the module's
// current contract. notes and priorHTML are optional remix inputs.
func Component(sess model.DesignSession, comp model.DesignComponent, notes, priorHTML string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are an expert front-end designer. Produce a single self-contained UI component mockup.\n\n")
	fmt.Fprintf(&b, "Theme: %s\n", sess.StyleTheme)
	fmt.Fprintf(&b, "Design language: %s\n\n", sess.DesignLanguage)
	fmt.Fprintf(&b, "Component: %s\n", comp.Name)
	if comp.Category != "" {
		fmt.Fprintf(&b, "Category: %s\n", comp.Category)
	}
	fmt.Fprintf(&b, "Purpose: %s\n", comp.Description)
	if len(comp.Affordances) > 0 {
		b.WriteString("Required affordances:\n")
		for _, a := range comp.Affordances {
			fmt.Fprintf(&b, "- %s\n", a)
		}
	}
	if strings.TrimSpace(comp.BaseHTML) != "" {
		fmt.Fprintf(&b, "\nSeed markup to build upon:\n```html\n%s\n```\n", comp.BaseHTML)
	}
	if strings.TrimSpace(priorHTML) != "" {
		fmt.Fprintf(&b, "\nPrevious version to refine:\n```html\n%s\n```\n", priorHTML)
	}
	if strings.TrimSpace(notes) != "" {
		fmt.Fprintf(&b, "\nRefinement notes from the designer:\n%s\n", notes)
	}
	b.WriteString(`
Rules:
- Respond with ONE fenced code block tagged html containing the complete snippet.
- Inline all CSS in a <style> tag scoped to the snippet; no external assets.
- Every required affordance must be implemented, not described.
- No explanations outside the code block.`)
	return b.String()
}
