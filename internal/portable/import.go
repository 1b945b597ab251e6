package portable

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"styleforge/internal/model"
	"styleforge/internal/uid"
)

// ErrImportFailed marks an unusable import payload. The attempt is
// abandoned; callers must not append any partial session.
var ErrImportFailed = errors.New("portable: import failed")

// Import accepts either a raw JSON session dump or an exported style
// guide and returns the reconstructed session. Variations that were
// not complete when serialized come back as pending: an imported
// session never claims progress it cannot show.
func Import(data []byte) (model.DesignSession, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return model.DesignSession{}, fmt.Errorf("%w: empty input", ErrImportFailed)
	}
	if trimmed[0] == '{' {
		return parseSessionJSON(trimmed)
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(trimmed))
	if err != nil {
		return model.DesignSession{}, fmt.Errorf("%w: not parseable as HTML: %v", ErrImportFailed, err)
	}
	sel := doc.Find("script#" + PayloadID)
	if sel.Length() == 0 {
		return model.DesignSession{}, fmt.Errorf("%w: no embedded %q payload found", ErrImportFailed, PayloadID)
	}
	// The payload was embedded with "</" written as the JSON escape
	// "<\/"; encoding/json reverses that during unmarshal.
	return parseSessionJSON([]byte(sel.First().Text()))
}

func parseSessionJSON(raw []byte) (model.DesignSession, error) {
	var sess model.DesignSession
	if err := json.Unmarshal(raw, &sess); err != nil {
		return model.DesignSession{}, fmt.Errorf("%w: %v", ErrImportFailed, err)
	}
	if strings.TrimSpace(sess.ID) == "" {
		return model.DesignSession{}, fmt.Errorf("%w: session id missing", ErrImportFailed)
	}
	normalize(&sess)
	if err := sess.Validate(); err != nil {
		return model.DesignSession{}, fmt.Errorf("%w: %v", ErrImportFailed, err)
	}
	return sess, nil
}

// normalize recomputes state the serialized form cannot vouch for:
// non-complete variations reset to pending, transient fields drop, and
// modules the export left without variations get a fresh pending one
// so the imported session stays generatable.
func normalize(sess *model.DesignSession) {
	for i := range sess.Variations {
		v := &sess.Variations[i]
		v.RetryWait = nil
		if v.Status != model.StatusComplete {
			v.Status = model.StatusPending
			v.Error = ""
		}
	}
	covered := make(map[string]bool, len(sess.Architecture))
	for _, v := range sess.Variations {
		covered[v.ComponentID] = true
	}
	for _, c := range sess.Architecture {
		if covered[c.ID] {
			continue
		}
		sess.Variations = append(sess.Variations, model.ComponentVariation{
			ID:          uid.New("var"),
			ComponentID: c.ID,
			StyleName:   sess.StyleTheme,
			Status:      model.StatusPending,
		})
	}
}
