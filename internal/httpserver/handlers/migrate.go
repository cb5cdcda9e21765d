package handlers

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

// MigrateData imports the legacy account directory into the import session.
func MigrateData(imp Importer, lg *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n, err := imp.Run(r.Context())
		if err != nil {
			lg.Errorw("migrate data", "err", err)
			respondError(w, http.StatusInternalServerError, "data migration failed")
			return
		}
		respondJSON(w, map[string]any{
			"status":         "success",
			"message":        fmt.Sprintf("data migration finished, %s migrated", pluralize(n, "account")),
			"migrated_count": n,
		})
	}
}
