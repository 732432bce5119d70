package api

import (
	"net/http"

	"github.com/gorilla/mux"
)

func (a *API) listMitreTechniques(w http.ResponseWriter, r *http.Request) {
	if _, ok := callerFromContext(r.Context()); !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required", nil, a.logger)
		return
	}

	techniques, err := a.mitre.ListTechniques()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to retrieve MITRE techniques", err, a.logger)
		return
	}
	a.respondJSON(w, techniques, http.StatusOK)
}

func (a *API) listMitreSubTechniques(w http.ResponseWriter, r *http.Request) {
	if _, ok := callerFromContext(r.Context()); !ok {
		writeError(w, http.StatusUnauthorized, "Authentication required", nil, a.logger)
		return
	}

	subs, err := a.mitre.ListSubTechniques(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to retrieve MITRE sub-techniques", err, a.logger)
		return
	}
	a.respondJSON(w, subs, http.StatusOK)
}
