package middleware

import (
	"net/http"

	"finitefield.org/storefront/internal/platform/httpx"
)

func writeError(w http.ResponseWriter, r *http.Request, code int, errCode, msg string) {
	if IsHTMX(r.Context()) {
		httpx.WriteError(r.Context(), w, httpx.NewError(errCode, msg, code).WithDetails(map[string]any{"path": r.URL.Path}))
		return
	}
	http.Error(w, msg, code)
}

// Redirect sends the browser to target. htmx requests get HX-Redirect so the whole page navigates
// instead of swapping the fragment.
func Redirect(w http.ResponseWriter, r *http.Request, target string) {
	if IsHTMX(r.Context()) {
		w.Header().Set("HX-Redirect", target)
		w.WriteHeader(http.StatusNoContent)
		return
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}
