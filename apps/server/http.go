package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"

	"github.com/dupahar/relay/pkg/auth"
	"github.com/dupahar/relay/pkg/model"
	"github.com/dupahar/relay/pkg/store"
)

func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization")

		if r.Method == "OPTIONS" {
			return
		}

		next.ServeHTTP(w, r)
	})
}

func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString := r.Header.Get("Authorization")
		if tokenString == "" {
			http.Error(w, "Authorization header required", http.StatusUnauthorized)
			return
		}
		if len(tokenString) > 7 && tokenString[:7] == "Bearer " {
			tokenString = tokenString[7:]
		}

		claims, err := auth.ValidateToken(tokenString)
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithClaims(r.Context(), claims)))
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, model.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, model.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, model.ErrAuth):
		http.Error(w, err.Error(), http.StatusForbidden)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

type LoginRequest struct {
	UserID string `json:"user_id"`
}

type LoginResponse struct {
	Token string `json:"token"`
}

func LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	token, err := auth.GenerateToken(req.UserID)
	if err != nil {
		http.Error(w, "Failed to generate token", http.StatusInternalServerError)
		return
	}

	writeJSON(w, LoginResponse{Token: token})
}

// UsersHandler returns all users with their durable online flags; clients
// use it as the roster snapshot.
func UsersHandler(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		users, err := st.ReadUsers()
		if err != nil {
			httpError(w, err)
			return
		}
		if users == nil {
			users = []model.User{}
		}
		writeJSON(w, users)
	}
}

// GroupsHandler lists the groups the authenticated user belongs to.
func GroupsHandler(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := auth.ClaimsFrom(r.Context())
		groups, err := st.ReadGroups()
		if err != nil {
			httpError(w, err)
			return
		}
		mine := []model.Group{}
		for _, g := range groups {
			if g.HasMember(claims.UserID) {
				mine = append(mine, g)
			}
		}
		writeJSON(w, mine)
	}
}

// GroupHandler returns one group's roster.
func GroupHandler(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g, err := st.FindGroup(r.PathValue("id"))
		if err != nil {
			httpError(w, err)
			return
		}
		writeJSON(w, g)
	}
}

// DeleteGroupHandler cascades: the group and every message addressed to
// it are removed. Creator only.
func DeleteGroupHandler(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := auth.ClaimsFrom(r.Context())
		g, err := st.FindGroup(r.PathValue("id"))
		if err != nil {
			httpError(w, err)
			return
		}
		if g.CreatorID != claims.UserID {
			httpError(w, model.ErrAuth)
			return
		}
		if err := st.DeleteGroupCascade(g.ID); err != nil {
			httpError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// MessagesHandler serves the authoritative conversation snapshot the
// client cache reconciles against. ?peer= selects the direct conversation
// with that user, ?group= a group history (members only).
func MessagesHandler(st *store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims := auth.ClaimsFrom(r.Context())
		peer := r.URL.Query().Get("peer")
		group := r.URL.Query().Get("group")
		if (peer == "") == (group == "") {
			httpError(w, model.Validationf("exactly one of peer, group is required"))
			return
		}

		if group != "" {
			g, err := st.FindGroup(group)
			if err != nil {
				httpError(w, err)
				return
			}
			if !g.HasMember(claims.UserID) {
				httpError(w, model.ErrAuth)
				return
			}
		}

		msgs, err := st.ReadMessages()
		if err != nil {
			httpError(w, err)
			return
		}

		out := []model.Message{}
		for _, m := range msgs {
			switch {
			case group != "" && m.GroupID == group:
				out = append(out, m)
			case peer != "" && m.Direct() && betweenUsers(m, claims.UserID, peer):
				out = append(out, m)
			}
		}
		sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
		writeJSON(w, out)
	}
}

func betweenUsers(m model.Message, a, b string) bool {
	return (m.SenderID == a && m.ReceiverID == b) || (m.SenderID == b && m.ReceiverID == a)
}
