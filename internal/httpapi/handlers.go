package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/chore-rpg-backend/internal/auth"
	"github.com/DoyleJ11/chore-rpg-backend/internal/engine"
	"github.com/DoyleJ11/chore-rpg-backend/internal/room"
	"github.com/DoyleJ11/chore-rpg-backend/internal/storage"
	"github.com/DoyleJ11/chore-rpg-backend/pkg/types"
)

// Rooms is the part of the hub the HTTP surface reads from.
type Rooms interface {
	Room(ctx context.Context, battleID int64) (*room.Room, error)
	Lookup(battleID int64) *room.Room
}

type ContributionLister interface {
	Contributions(ctx context.Context, battleID int64) ([]storage.BattleContribution, error)
}

type contributionJSON struct {
	UserID int64 `json:"userId"`
	Damage int64 `json:"damage"`
}

type liveStateJSON struct {
	Version    int              `json:"version"`
	NumClients int              `json:"numClients"`
	Battle     types.BattleView `json:"battle"`
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func ListContributions(store ContributionLister, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		battleID, ok := battleIDParam(w, r)
		if !ok {
			return
		}
		rows, err := store.Contributions(r.Context(), battleID)
		if err != nil {
			log.Error("list contributions", zap.Int64("battle_id", battleID), zap.Error(err))
			http.Error(w, "failed to list contributions", http.StatusInternalServerError)
			return
		}

		out := make([]contributionJSON, 0, len(rows))
		for _, c := range rows {
			out = append(out, contributionJSON{UserID: c.UserID, Damage: c.Damage})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// LiveState reports the in-memory state of a hydrated room. It never hydrates.
func LiveState(rooms Rooms) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		battleID, ok := battleIDParam(w, r)
		if !ok {
			return
		}
		rm := rooms.Lookup(battleID)
		if rm == nil {
			http.Error(w, "no live room", http.StatusNotFound)
			return
		}

		reply := make(chan room.View, 1)
		select {
		case rm.Inbox() <- room.GetState{Reply: reply}:
		case <-r.Context().Done():
			return
		}
		select {
		case v := <-reply:
			writeJSON(w, http.StatusOK, liveStateJSON{Version: v.Version, NumClients: v.NumClients, Battle: v.Battle})
		case <-r.Context().Done():
		}
	}
}

// EndBattle moves a live battle to ended. With a verifier, only parents and admins may call it.
func EndBattle(rooms Rooms, verifier *auth.Verifier, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if verifier != nil {
			claims, err := verifier.Verify(auth.TokenFromRequest(r))
			if err != nil {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if !auth.HasRole(claims, auth.RoleParent, auth.RoleAdmin) {
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}
		}

		battleID, ok := battleIDParam(w, r)
		if !ok {
			return
		}
		rm := rooms.Lookup(battleID)
		if rm == nil {
			http.Error(w, "no live room", http.StatusNotFound)
			return
		}

		reply := make(chan error, 1)
		select {
		case rm.Inbox() <- room.End{Reply: reply}:
		case <-r.Context().Done():
			return
		}
		var err error
		select {
		case err = <-reply:
		case <-r.Context().Done():
			return
		}
		if errors.Is(err, engine.ErrInvalidTransition) {
			http.Error(w, "battle already ended", http.StatusConflict)
			return
		}
		if err != nil {
			log.Error("end battle", zap.Int64("battle_id", battleID), zap.Error(err))
			http.Error(w, "failed to end battle", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func battleIDParam(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "battleID"), 10, 64)
	if err != nil || id <= 0 {
		http.Error(w, "invalid battle id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
