// Package scripts archives generated strategy scripts for pro users.
package scripts

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ErrEmptyScript is returned when there is no code to archive.
var ErrEmptyScript = errors.New("script code is empty")

// URLExpiry is how long a download link stays valid.
const URLExpiry = 24 * time.Hour

// Script is an archived script.
type Script struct {
	ID         string    `json:"id"`
	Title      string    `json:"title"`
	URL        string    `json:"url"`
	ExpiresAt  time.Time `json:"urlExpiresAt"`
	CreatedAt  time.Time `json:"createdAt"`
	ObjectPath string    `json:"-"`
}

// Archive stores scripts per user.
type Archive interface {
	Save(ctx context.Context, userID, title, code string) (Script, error)
	Purge(ctx context.Context, userID string) error
}

func userPrefix(userID string) string {
	return fmt.Sprintf("scripts/%s/", userID)
}

func objectPath(userID, id string) string {
	return userPrefix(userID) + id + ".gs"
}

var stripTags = bluemonday.StrictPolicy()

// Title derives a short display title from the prompt that produced a script.
func Title(prompt string, now time.Time) string {
	trimmed := strings.TrimSpace(html.UnescapeString(stripTags.Sanitize(prompt)))
	if trimmed == "" {
		return fmt.Sprintf("Strategy %s", now.Format("Jan 02 15:04"))
	}
	words := strings.Fields(trimmed)
	if len(words) > 6 {
		words = words[:6]
	}
	return cases.Title(language.English).String(strings.Join(words, " "))
}
