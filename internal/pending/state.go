package pending

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// DefaultMaxGenreLength bounds genre length in characters.
const DefaultMaxGenreLength = 200

// DefaultGenrePlaceholders are the UI placeholder values that never count as a genre.
var DefaultGenrePlaceholders = []string{"other", "أخرى…"}

// transitions lists the allowed moves of the item lifecycle.
var transitions = map[Status][]Status{
	StatusDiscovered:  {StatusInferred, StatusNeedsManual, StatusError},
	StatusInferred:    {StatusInferred, StatusNeedsManual, StatusConfirmed},
	StatusNeedsManual: {StatusInferred, StatusNeedsManual},
	StatusError:       {StatusInferred, StatusNeedsManual},
}

// CanTransition reports whether an item may move from one status to another.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Editable reports whether user edits are accepted in status s.
func Editable(s Status) bool {
	return s == StatusInferred || s == StatusNeedsManual || s == StatusError
}

// Update is a partial edit; nil fields are left untouched.
type Update struct {
	Title  *string
	Artist *string
	Genre  *string
}

// Empty reports whether no field is set.
func (u Update) Empty() bool {
	return u.Title == nil && u.Artist == nil && u.Genre == nil
}

// GenreRules configures genre validation.
type GenreRules struct {
	Placeholders []string
	MaxLength    int
}

// DefaultGenreRules returns the built-in placeholders and length limit.
func DefaultGenreRules() GenreRules {
	return GenreRules{
		Placeholders: DefaultGenrePlaceholders,
		MaxLength:    DefaultMaxGenreLength,
	}
}

// ValidateGenre trims g and checks it against the rules.
func (r GenreRules) ValidateGenre(g string) (string, error) {
	g = strings.TrimSpace(g)
	if g == "" {
		return "", &ValidationError{Fields: []string{"genre"}, Err: ErrGenreEmpty}
	}
	for _, p := range r.Placeholders {
		if strings.EqualFold(g, strings.TrimSpace(p)) {
			return "", &ValidationError{
				Fields: []string{"genre"},
				Reason: fmt.Sprintf("%q is a placeholder, choose a genre", g),
				Err:    ErrGenrePlaceholder,
			}
		}
	}
	maxLen := r.MaxLength
	if maxLen <= 0 {
		maxLen = DefaultMaxGenreLength
	}
	if n := utf8.RuneCountInString(g); n > maxLen {
		return "", &ValidationError{
			Fields: []string{"genre"},
			Reason: fmt.Sprintf("genre has %d characters, maximum is %d", n, maxLen),
			Err:    ErrGenreTooLong,
		}
	}
	return g, nil
}

// Evaluate returns the status an editable item should have given its fields.
func Evaluate(it Item) Status {
	if len(it.MissingFields()) > 0 {
		return StatusNeedsManual
	}
	return StatusInferred
}

// Apply validates u and applies it to it, then re-evaluates the status.
// it is left untouched when an error is returned.
func Apply(it *Item, u Update, rules GenreRules) error {
	if !Editable(it.Status) {
		return fmt.Errorf("%w: cannot edit item in status %s", ErrInvalidTransition, it.Status)
	}

	next := *it
	if u.Title != nil {
		next.CurrentTitle = strings.TrimSpace(*u.Title)
	}
	if u.Artist != nil {
		next.CurrentArtist = strings.TrimSpace(*u.Artist)
	}
	if u.Genre != nil {
		g, err := rules.ValidateGenre(*u.Genre)
		if err != nil {
			return err
		}
		next.Genre = g
	}

	next.Status = Evaluate(next)
	if !CanTransition(it.Status, next.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, it.Status, next.Status)
	}
	next.ErrorMessage = ""
	*it = next
	return nil
}
