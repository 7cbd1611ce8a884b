package handler

import (
	"net/http"
	"strings"

	"github.com/go-faster/jx"
)

// SearchDomains checks ?q= against the TLDs in ?tld= (repeatable or comma
// separated), or the configured defaults.
func (h *Handler) SearchDomains(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var tlds []string
	for _, v := range query["tld"] {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tlds = append(tlds, t)
			}
		}
	}

	quotes, err := h.search.Search(r.Context(), query.Get("q"), tlds)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ObjStart()
		e.FieldStart("results")
		e.ArrStart()
		for _, q := range quotes {
			encodeQuote(e, q)
		}
		e.ArrEnd()
		e.ObjEnd()
	})
}

// ListHostingPackages returns the active hosting packages.
func (h *Handler) ListHostingPackages(w http.ResponseWriter, r *http.Request) {
	pkgs, err := h.catalog.ListHostingPackages(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, func(e *jx.Encoder) {
		e.ArrStart()
		for _, p := range pkgs {
			e.ObjStart()
			e.FieldStart("id")
			e.Str(p.ID)
			e.FieldStart("name")
			e.Str(p.Name)
			e.FieldStart("monthlyPrice")
			e.Str(money(p.MonthlyPrice))
			e.FieldStart("annualPrice")
			e.Str(money(p.AnnualPrice()))
			e.FieldStart("currency")
			e.Str(p.Currency)
			e.ObjEnd()
		}
		e.ArrEnd()
	})
}
