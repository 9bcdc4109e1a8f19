// Package feed holds the candidate model shared by the lever catalog and the
// ranking evaluator: the items a pool producer hands over, the optional user
// the feed is computed for, and the scored form the order-by levers sort on.
package feed

import (
	"math"
	"time"
)

// Attribute names the pool producer fills in Item.Attributes. Levers that
// need data the producer computes (follow graphs, tag intersections, comment
// aggregates) read it from here.
const (
	AttrCommentsCount                    = "comments_count"
	AttrCommentsCountByFollowed          = "comments_count_by_followed"
	AttrCommentsScore                    = "comments_score"
	AttrExperienceLevelRating            = "experience_level_rating"
	AttrFeatured                         = "featured"
	AttrFollowingAuthor                  = "following_author"
	AttrFollowingOrg                     = "following_org"
	AttrNegativeTagsCount                = "negative_tags_count"
	AttrNegativeTagsPoints               = "negative_tags_points"
	AttrPositiveTagsCount                = "positive_tags_count"
	AttrPositiveTagsPoints               = "positive_tags_points"
	AttrPrivilegedUsersReactionPointsSum = "privileged_users_reaction_points_sum"
)

// Item is one candidate article.
type Item struct {
	ID                   int64              `json:"id"`
	PublishedAt          time.Time          `json:"published_at"`
	LastCommentAt        time.Time          `json:"last_comment_at,omitempty"`
	Score                float64            `json:"score"`
	PublicReactionsCount int                `json:"public_reactions_count"`
	Attributes           map[string]float64 `json:"attributes,omitempty"`
}

// Attribute returns the named raw value and whether the producer supplied it.
// NaN is treated as missing.
func (it *Item) Attribute(name string) (float64, bool) {
	if it == nil || it.Attributes == nil {
		return 0, false
	}
	v, ok := it.Attributes[name]
	if !ok || math.IsNaN(v) {
		return 0, false
	}
	return v, true
}

// CommentedAt is the time of the latest comment, or the publication time for
// articles nobody has commented on yet.
func (it *Item) CommentedAt() time.Time {
	if it.LastCommentAt.IsZero() {
		return it.PublishedAt
	}
	return it.LastCommentAt
}

// User is the reader the feed is computed for.
type User struct {
	ID              int64 `json:"id"`
	ExperienceLevel *int  `json:"experience_level,omitempty"`
}

// Env is the request context levers are evaluated in.
type Env struct {
	Now  time.Time
	User *User
}

// DaysSince counts whole calendar days between t and Now, matching
// "current_date - t::date". A zero t is reported as missing.
func (e Env) DaysSince(t time.Time) (float64, bool) {
	if t.IsZero() {
		return 0, false
	}
	now := e.Now
	if now.IsZero() {
		now = time.Now()
	}
	y1, m1, d1 := now.UTC().Date()
	y2, m2, d2 := t.UTC().Date()
	today := time.Date(y1, m1, d1, 0, 0, 0, 0, time.UTC)
	then := time.Date(y2, m2, d2, 0, 0, 0, 0, time.UTC)
	return math.Round(today.Sub(then).Hours() / 24), true
}

// Scored is an item after relevancy scoring, carrying the per-request random
// draws order-by levers may fold into their sort key.
type Scored struct {
	Item           *Item   `json:"item"`
	RelevancyScore float64 `json:"relevancy_score"`
	Random         float64 `json:"-"`
	Coin           float64 `json:"-"`
}
