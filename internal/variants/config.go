package variants

import (
	"errors"
	"fmt"

	"github.com/headline-goat/feed-goat/internal/levers"
)

// ErrUnknownVariant is returned when no definition exists for a variant name.
var ErrUnknownVariant = errors.New("unknown variant")

// MissingKeyError reports a variant definition without a required key.
type MissingKeyError struct {
	Variant string
	Key     string
}

func (e *MissingKeyError) Error() string {
	return fmt.Sprintf("variant %q: missing required key %q", e.Variant, e.Key)
}

func (e *MissingKeyError) Is(target error) bool { return target == levers.ErrInvalidConfiguration }

// Config is an assembled ranking recipe. Configs handed out by an Assembler
// are shared between requests and must not be modified.
type Config struct {
	Name                          string
	Description                   string
	Levers                        []*levers.ConfiguredLever
	OrderBy                       *levers.OrderByLever
	MaxDaysSincePublished         int
	ReseedRandomizerOnEachRequest bool
}

// LeverView is the JSON form of one configured lever.
type LeverView struct {
	Key             string         `json:"key"`
	Label           string         `json:"label"`
	UserRequired    bool           `json:"user_required"`
	Cases           []levers.Case  `json:"cases"`
	Fallback        float64        `json:"fallback"`
	QueryParameters map[string]int `json:"query_parameters,omitempty"`
}

// View is the JSON form of a Config.
type View struct {
	Name                          string      `json:"name"`
	Description                   string      `json:"description"`
	Levers                        []LeverView `json:"levers"`
	OrderBy                       string      `json:"order_by"`
	MaxDaysSincePublished         int         `json:"max_days_since_published"`
	ReseedRandomizerOnEachRequest bool        `json:"reseed_randomizer_on_each_request"`
}

// View describes c for display.
func (c *Config) View() View {
	v := View{
		Name:                          c.Name,
		Description:                   c.Description,
		Levers:                        make([]LeverView, 0, len(c.Levers)),
		MaxDaysSincePublished:         c.MaxDaysSincePublished,
		ReseedRandomizerOnEachRequest: c.ReseedRandomizerOnEachRequest,
	}
	if c.OrderBy != nil {
		v.OrderBy = c.OrderBy.Key()
	}
	for _, l := range c.Levers {
		lv := LeverView{
			Key:          l.Key(),
			Label:        l.Label(),
			UserRequired: l.UserRequired(),
			Cases:        l.Cases(),
			Fallback:     l.Fallback(),
		}
		if qp := l.QueryParameters(); len(qp) > 0 {
			lv.QueryParameters = qp
		}
		v.Levers = append(v.Levers, lv)
	}
	return v
}
