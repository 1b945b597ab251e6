// Package portable serializes sessions to a self-contained style-guide
// document and back. The exported HTML carries a human-readable
// rendering plus one machine-readable JSON payload in an identified
// script block, so a single file round-trips the session.
package portable

import (
	"encoding/json"
	"fmt"
	"html/template"
	"strings"

	"styleforge/internal/model"
)

// PayloadID identifies the embedded session payload inside an exported
// document. Import locates the payload by this marker.
const PayloadID = "styleforge-session"

var guideTmpl = template.Must(template.New("guide").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Theme}} — Style Guide</title>
<style>
  body { margin: 0 auto; max-width: 960px; padding: 2rem 1rem; font-family: system-ui, sans-serif; color: #1a1a1a; }
  header.sf-head { border-bottom: 2px solid #1a1a1a; padding-bottom: 1rem; margin-bottom: 2rem; }
  header.sf-head p { max-width: 70ch; }
  section.sf-component { margin-bottom: 3rem; }
  section.sf-component h2 { margin-bottom: .25rem; }
  .sf-affordances { font-size: .85rem; color: #555; }
  .sf-preview { border: 1px dashed #bbb; border-radius: 6px; padding: 1.5rem; margin: 1rem 0; }
  details.sf-source pre { background: #f5f5f5; border-radius: 6px; padding: 1rem; overflow-x: auto; }
</style>
</head>
<body>
<header class="sf-head">
  <h1>{{.Theme}}</h1>
  <p>{{.DesignLanguage}}</p>
  <small>exported {{.Exported}}</small>
</header>
{{range .Sections}}
<section class="sf-component">
  <h2>{{.Name}}</h2>
  <p>{{.Description}}</p>
  {{if .Affordances}}<p class="sf-affordances">{{.Affordances}}</p>{{end}}
  <div class="sf-preview">{{.Preview}}</div>
  <details class="sf-source">
    <summary>Source</summary>
    <pre><code>{{.Source}}</code></pre>
  </details>
</section>
{{end}}
<script type="application/json" id="{{.PayloadID}}">__STYLEFORGE_PAYLOAD__</script>
</body>
</html>
`))

// payloadSlot is replaced with the escaped JSON payload after template
// execution; html/template would otherwise re-escape the JSON inside
// the script element.
const payloadSlot = "__STYLEFORGE_PAYLOAD__"

type guideSection struct {
	Name        string
	Description string
	Affordances string
	Preview     template.HTML
	Source      string
}

type guideData struct {
	Theme          string
	DesignLanguage string
	Exported       string
	Sections       []guideSection
	PayloadID      string
}

// exportView trims the session to what the portable document carries:
// the full architecture plus complete variations only.
func exportView(s model.DesignSession) model.DesignSession {
	out := s.Clone()
	kept := out.Variations[:0]
	for _, v := range out.Variations {
		if v.Status != model.StatusComplete {
			continue
		}
		v.RetryWait = nil
		v.Error = ""
		kept = append(kept, v)
	}
	out.Variations = kept
	return out
}

// Export renders the session as a self-contained style guide. Only
// complete variations are included, both in the visual sections and in
// the embedded payload; pending/error work is not carried.
func Export(s model.DesignSession) ([]byte, error) {
	view := exportView(s)

	payload, err := json.Marshal(view)
	if err != nil {
		return nil, fmt.Errorf("portable: marshal session: %w", err)
	}
	// "</" would let a literal "</script>" inside variation html
	// terminate the payload block early. "<\/" is an equivalent JSON
	// escape, so encoding/json transparently undoes it on import.
	escaped := strings.ReplaceAll(string(payload), "</", `<\/`)

	data := guideData{
		Theme:          view.StyleTheme,
		DesignLanguage: view.DesignLanguage,
		Exported:       view.Timestamp.UTC().Format("2006-01-02 15:04 UTC"),
		PayloadID:      PayloadID,
	}
	for _, comp := range view.Architecture {
		for _, v := range view.VariationsFor(comp.ID) {
			data.Sections = append(data.Sections, guideSection{
				Name:        comp.Name,
				Description: comp.Description,
				Affordances: strings.Join(comp.Affordances, " · "),
				Preview:     template.HTML(v.HTML),
				Source:      v.HTML,
			})
		}
	}

	var b strings.Builder
	if err := guideTmpl.Execute(&b, data); err != nil {
		return nil, fmt.Errorf("portable: render guide: %w", err)
	}
	doc := strings.Replace(b.String(), payloadSlot, escaped, 1)
	return []byte(doc), nil
}
