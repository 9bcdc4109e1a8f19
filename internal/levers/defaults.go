package levers

import (
	"math"
	"sync"

	"github.com/headline-goat/feed-goat/internal/feed"
)

const (
	// DefaultDaysSincePublished bounds how old an article may be for the
	// relevancy feed when a variant does not say otherwise.
	DefaultDaysSincePublished = 7

	DefaultUserExperienceLevel       = 5
	DefaultNegativeReactionThreshold = -10
	DefaultPositiveReactionThreshold = 10
)

var (
	defaultOnce    sync.Once
	defaultCatalog *Catalog
)

// Default returns the standard catalog of feed levers.
func Default() *Catalog {
	defaultOnce.Do(func() {
		defaultCatalog = MustBuild(RegisterDefaults)
	})
	return defaultCatalog
}

// RegisterDefaults adds the standard order-by and relevancy levers to b.
func RegisterDefaults(b *Builder) {
	b.AddOrderByLever(DefaultOrderByKey, OrderByOptions{
		Label:   "Order by highest calculated relevancy score then latest published at time.",
		SortKey: func(s *feed.Scored) float64 { return s.RelevancyScore },
	})
	b.AddOrderByLever("final_order_by_random_weighted_to_score", OrderByOptions{
		Label: "Order by conflating a random number and the score.",
		SortKey: func(s *feed.Scored) float64 {
			return math.Pow(s.Random, 1.0/math.Max(s.Item.Score, 0.1))
		},
	})
	b.AddOrderByLever("published_at_with_randomization_favoring_public_reactions", OrderByOptions{
		Label: "Favor recent articles with more reactions, but apply randomness to mitigate stagnation.",
		SortKey: func(s *feed.Scored) float64 {
			return float64(s.Item.PublishedAt.Unix()) * reactionsWeightedRandom(s)
		},
	})
	b.AddOrderByLever("last_comment_at_with_randomization_favoring_public_reactions", OrderByOptions{
		Label: "Favor articles with recent comments and more reactions, but apply randomness to mitigate stagnation.",
		SortKey: func(s *feed.Scored) float64 {
			return float64(s.Item.CommentedAt().Unix()) * reactionsWeightedRandom(s)
		},
	})
	b.AddOrderByLever("random_pick_of_which_date_to_use_with_randomization_favoring_public_reactions", OrderByOptions{
		Label: "Favor articles with recent comments or published at and more reactions, but apply randomness to mitigate stagnation.",
		SortKey: func(s *feed.Scored) float64 {
			at := s.Item.CommentedAt()
			if s.Coin > 0.5 {
				at = s.Item.PublishedAt
			}
			return float64(at.Unix()) * reactionsWeightedRandom(s)
		},
	})

	b.AddRelevancyLever("comments_count_by_those_followed", RelevancyOptions{
		Label:        "Weight to give for the number of comments on the article from other users that the given user follows.",
		Range:        "[0..∞)",
		UserRequired: true,
		Input:        attribute(feed.AttrCommentsCountByFollowed),
	})
	b.AddRelevancyLever("comments_count", RelevancyOptions{
		Label: "Weight to give to the number of comments on the article.",
		Range: "[0..∞)",
		Input: attribute(feed.AttrCommentsCount),
	})
	b.AddRelevancyLever("comments_score", RelevancyOptions{
		Label: "Weight given based on sum of comment scores of an article.",
		Range: "[0..∞)",
		Input: attribute(feed.AttrCommentsScore),
	})
	b.AddRelevancyLever("daily_decay", RelevancyOptions{
		Label:        "Weight given based on the relative age of the article",
		Range:        "[0..∞)",
		UserRequired: true,
		Input: func(it *feed.Item, env feed.Env, _ map[string]int) (float64, bool) {
			return env.DaysSince(it.PublishedAt)
		},
	})
	b.AddRelevancyLever("experience", RelevancyOptions{
		Label:               "Weight to give based on the difference between experience level of the article and given user.",
		Range:               "[0..∞)",
		UserRequired:        true,
		QueryParameterNames: []string{"default_user_experience_level"},
		Input: func(it *feed.Item, env feed.Env, params map[string]int) (float64, bool) {
			rating, ok := it.Attribute(feed.AttrExperienceLevelRating)
			if !ok {
				return 0, false
			}
			level := params["default_user_experience_level"]
			if env.User != nil && env.User.ExperienceLevel != nil {
				level = *env.User.ExperienceLevel
			}
			return math.Round(math.Abs(rating - float64(level))), true
		},
	})
	b.AddRelevancyLever("featured_article", RelevancyOptions{
		Label: "Weight to give for feature or unfeatured articles. 1 is featured.",
		Range: "[0..1]",
		Input: func(it *feed.Item, _ feed.Env, _ map[string]int) (float64, bool) {
			v, ok := it.Attribute(feed.AttrFeatured)
			if !ok {
				return 0, true
			}
			if v != 0 {
				return 1, true
			}
			return 0, true
		},
	})
	b.AddRelevancyLever("following_author", RelevancyOptions{
		Label:        "Weight to give when the given user follows the article's author. 1 is followed, 0 is not followed.",
		Range:        "[0..1]",
		UserRequired: true,
		Input:        attribute(feed.AttrFollowingAuthor),
	})
	b.AddRelevancyLever("following_org", RelevancyOptions{
		Label:        "Weight to give to the when the given user follows the article's organization. 1 is followed, 0 is not followed.",
		Range:        "[0..1]",
		UserRequired: true,
		Input:        attribute(feed.AttrFollowingOrg),
	})
	b.AddRelevancyLever("latest_comment", RelevancyOptions{
		Label: "Weight to give an article based on it's most recent comment.",
		Range: "[0..∞)",
		Input: func(it *feed.Item, env feed.Env, _ map[string]int) (float64, bool) {
			return env.DaysSince(it.LastCommentAt)
		},
	})
	b.AddRelevancyLever("matching_negative_tags_intersection_count", RelevancyOptions{
		Label:        "Weight to give the number of intersecting tags of the article and user negative follows",
		Range:        "[0..4]",
		UserRequired: true,
		Input:        attribute(feed.AttrNegativeTagsCount),
	})
	b.AddRelevancyLever("matching_negative_tags_intersection_points", RelevancyOptions{
		Label:        "Weight to give for the sum points of the intersecting tags of the article and user negative follows.",
		Range:        "[-10..0]",
		UserRequired: true,
		Input:        clamped(feed.AttrNegativeTagsPoints, -10, 0),
	})
	b.AddRelevancyLever("matching_positive_tags_intersection_count", RelevancyOptions{
		Label:        "Weight to give for number of the intersecting tags of the article and user positive follows.",
		Range:        "[0..4]",
		UserRequired: true,
		Input:        attribute(feed.AttrPositiveTagsCount),
	})
	b.AddRelevancyLever("matching_positive_tags_intersection_points", RelevancyOptions{
		Label:        "Weight to give for the sum points of the intersecting tags of the article and user positive follows.",
		Range:        "[0..10]",
		UserRequired: true,
		Input:        clamped(feed.AttrPositiveTagsPoints, 0, 10),
	})
	b.AddRelevancyLever("privileged_user_reaction", RelevancyOptions{
		Label:               "-1 when privileged user reactions down-vote, 0 when netural, and 1 when positive.",
		Range:               "[-1..1]",
		QueryParameterNames: []string{"negative_reaction_threshold", "positive_reaction_threshold"},
		Input: func(it *feed.Item, _ feed.Env, params map[string]int) (float64, bool) {
			sum, ok := it.Attribute(feed.AttrPrivilegedUsersReactionPointsSum)
			if !ok {
				return 0, false
			}
			switch {
			case sum < float64(params["negative_reaction_threshold"]):
				return -1, true
			case sum > float64(params["positive_reaction_threshold"]):
				return 1, true
			}
			return 0, true
		},
	})
	// The lower bound of each band is inclusive and the upper bound exclusive.
	b.AddRelevancyLever("privileged_user_reaction_granular", RelevancyOptions{
		Label: "A more granular configuration for privileged user reactions",
		Range: "[-2..2]",
		QueryParameterNames: []string{
			"very_negative_reaction_threshold",
			"negative_reaction_threshold",
			"very_positive_reaction_threshold",
			"positive_reaction_threshold",
		},
		Input: func(it *feed.Item, _ feed.Env, params map[string]int) (float64, bool) {
			sum, ok := it.Attribute(feed.AttrPrivilegedUsersReactionPointsSum)
			if !ok {
				return 0, false
			}
			switch {
			case sum < float64(params["very_negative_reaction_threshold"]):
				return -2, true
			case sum < float64(params["negative_reaction_threshold"]):
				return -1, true
			case sum < float64(params["positive_reaction_threshold"]):
				return 0, true
			case sum < float64(params["very_positive_reaction_threshold"]):
				return 1, true
			}
			return 2, true
		},
	})
	b.AddRelevancyLever("public_reactions", RelevancyOptions{
		Label: "Weight to give for the number of unicorn, heart, reading list reactions for article.",
		Range: "[0..∞)",
		Input: func(it *feed.Item, _ feed.Env, _ map[string]int) (float64, bool) {
			return float64(it.PublicReactionsCount), true
		},
	})
	b.AddRelevancyLever("public_reactions_score", RelevancyOptions{
		Label: "Weight to give based on the article score (the sum of the scores of reactions on an article).",
		Range: "[0..∞)",
		Input: func(it *feed.Item, _ feed.Env, _ map[string]int) (float64, bool) {
			return it.Score, true
		},
	})
}

func attribute(name string) InputFunc {
	return func(it *feed.Item, _ feed.Env, _ map[string]int) (float64, bool) {
		return it.Attribute(name)
	}
}

func clamped(name string, lo, hi float64) InputFunc {
	return func(it *feed.Item, _ feed.Env, _ map[string]int) (float64, bool) {
		v, ok := it.Attribute(name)
		if !ok {
			return 0, false
		}
		return math.Min(hi, math.Max(lo, v)), true
	}
}

// reactionsWeightedRandom raises the item's random draw to 1/ln(1+reactions),
// so heavily reacted articles keep draws closer to 1.
func reactionsWeightedRandom(s *feed.Scored) float64 {
	reactions := math.Max(0, float64(s.Item.PublicReactionsCount))
	return math.Pow(s.Random, 1.0/math.Max(0.1, math.Log(1+reactions)))
}
