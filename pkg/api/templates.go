// Post template API: lists the YAML-defined formats the publisher can use.
package api

import (
	"net/http"
)

// templateView is the public shape of a post template.
type templateView struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Channel     string            `json:"channel,omitempty"`
	Signal      string            `json:"signal"`
	Reply       string            `json:"reply,omitempty"`
	Params      map[string]string `json:"params,omitempty"`
	SourceFile  string            `json:"source_file,omitempty"`
	Builtin     bool              `json:"builtin"`
}

// GET /api/templates: list all available post templates.
func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	if s.deps.Templates == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"templates": []templateView{}, "count": 0})
		return
	}

	list := s.deps.Templates.List()
	views := make([]templateView, 0, len(list))
	for _, t := range list {
		views = append(views, templateView{
			Name:        t.Name,
			Description: t.Description,
			Channel:     t.Channel,
			Signal:      t.Signal,
			Reply:       t.Reply,
			Params:      t.Params,
			SourceFile:  t.SourceFile,
			Builtin:     t.Builtin,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"templates": views,
		"count":     len(views),
	})
}
