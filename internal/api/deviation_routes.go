package api

import (
	"net/http"
	"time"
)

func (s *Server) handleDeviationsToday(w http.ResponseWriter, r *http.Request) {
	s.writeDeviations(w, r, s.now().In(s.location).Format(time.DateOnly))
}

func (s *Server) handleDeviationsByDay(w http.ResponseWriter, r *http.Request) {
	date := r.PathValue("date")
	if !validateDate(date) {
		writeError(w, http.StatusBadRequest, "invalid date format, expected YYYY-MM-DD")
		return
	}
	s.writeDeviations(w, r, date)
}

// writeDeviations returns the table's rows for date as header-keyed objects.
func (s *Server) writeDeviations(w http.ResponseWriter, r *http.Request, date string) {
	schema, ok := s.tables[r.PathValue("table")]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown table")
		return
	}

	rows, err := s.store.ReadAll(r.Context(), schema.Name)
	if err != nil {
		s.logger.Errorf("Error reading %s: %v", schema.Name, err)
		writeError(w, http.StatusInternalServerError, "failed to fetch deviations")
		return
	}

	limit := parseLimit(r, maxQueryLimit)
	out := []map[string]string{}
	for _, row := range rows {
		if len(row) == 0 || row[0] != date {
			continue
		}
		obj := make(map[string]string, len(schema.Header))
		for i, col := range schema.Header {
			if i < len(row) {
				obj[col] = row[i]
			}
		}
		out = append(out, obj)
		if len(out) == limit {
			break
		}
	}
	writeJSON(w, http.StatusOK, out)
}
