package river

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"
)

// Handler serves the river as JSON: GET /river?view=top|latest&category=...
// &window=<hours>&limit=<n>. Window and limit fall back to the defaults and
// are clamped inside River.
func (q *Query) Handler(logger *zerolog.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)

			return
		}

		params := r.URL.Query()

		view := ViewTop
		if params.Get("view") == ViewLatest {
			view = ViewLatest
		}

		window, _ := strconv.Atoi(params.Get("window"))
		limit, _ := strconv.Atoi(params.Get("limit"))

		clusters, err := q.River(r.Context(), view, params.Get("category"), window, limit)
		if err != nil {
			logger.Error().Err(err).Msg("river query failed")
			http.Error(w, "internal error", http.StatusInternalServerError)

			return
		}

		w.Header().Set("Content-Type", "application/json")

		if err := json.NewEncoder(w).Encode(map[string]any{"clusters": clusters}); err != nil {
			logger.Error().Err(err).Msg("encode river response")
		}
	})
}
