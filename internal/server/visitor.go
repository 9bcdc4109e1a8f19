package server

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/headline-goat/feed-goat/internal/experiments"
)

const (
	visitorCookieName      = "fg_visitor"
	visitorParticipantType = "visitor"
	visitorCookieMaxAge    = 365 * 24 * time.Hour
)

// participants returns the identities sent in the body followed by the
// anonymous visitor token, issuing a token cookie on first contact.
func participants(w http.ResponseWriter, r *http.Request, given []experiments.Participant) []experiments.Participant {
	token := ""
	if cookie, err := r.Cookie(visitorCookieName); err == nil && cookie.Value != "" {
		token = cookie.Value
	} else {
		token = uuid.NewString()
		http.SetCookie(w, &http.Cookie{
			Name:     visitorCookieName,
			Value:    token,
			Path:     "/",
			HttpOnly: true,
			MaxAge:   int(visitorCookieMaxAge / time.Second),
			SameSite: http.SameSiteLaxMode,
		})
	}

	out := make([]experiments.Participant, 0, len(given)+1)
	out = append(out, given...)
	return append(out, experiments.Participant{Type: visitorParticipantType, ID: token})
}
