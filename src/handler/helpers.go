package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"tradeledger/src/model"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.WithError(err).Error("failed to encode response")
	}
}

func uintParam(r *http.Request, name string) (uint, bool) {
	id, err := strconv.ParseUint(chi.URLParam(r, name), 10, 64)
	if err != nil || id == 0 {
		return 0, false
	}
	return uint(id), true
}

// ownerFromRequest reads {userID} and the optional botId query parameter.
func ownerFromRequest(r *http.Request) (model.Owner, bool) {
	userID, ok := uintParam(r, "userID")
	if !ok {
		return model.Owner{}, false
	}
	botParam := r.URL.Query().Get("botId")
	if botParam == "" {
		return model.UserOwner(userID), true
	}
	botID, err := strconv.ParseUint(botParam, 10, 64)
	if err != nil || botID == 0 {
		return model.Owner{}, false
	}
	return model.BotOwner(userID, uint(botID)), true
}
