package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ahmethakanbesel/quotekeeper/internal/quote"
)

type APIResponse[T any] struct {
	Message string `json:"message"`
	Data    T      `json:"data"`
}

func writeJSON[T any](w http.ResponseWriter, status int, data T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIResponse[T]{
		Message: "ok",
		Data:    data,
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIResponse[string]{
		Message: message,
		Data:    "",
	})
}

func writeCSV(w http.ResponseWriter, entityKey string, quotes []quote.Quote) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%s.csv", entityKey))
	w.WriteHeader(http.StatusOK)

	_, _ = fmt.Fprintln(w, "Entity,Day,Value,Change,PercentChange,Source,ObservedAt")
	for _, q := range quotes {
		_, _ = fmt.Fprintf(w, "%s,%s,%s,%s,%s,%s,%s\n", //nolint:gosec // CSV output from stored quotes, not user input
			q.EntityKey,
			q.Day,
			q.Value.String(),
			q.Change.String(),
			q.PercentChange.String(),
			q.Source,
			q.ObservedAt.Format(time.RFC3339),
		)
	}
}
