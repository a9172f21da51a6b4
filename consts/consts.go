// Package consts defines service-wide constants shared across packages.
package consts

// Build information - set via ldflags during build.
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

const (
	// ServiceName is the canonical service name used in logs and defaults.
	ServiceName = "grepiku"

	// DefaultBotLogin is the forge login assumed for the service account
	// when the provider config does not name one.
	DefaultBotLogin = "grepiku[bot]"

	// DefaultStatusCheckName is the display name of the review status check.
	DefaultStatusCheckName = "Grepiku Review"
)

// Hidden HTML markers embedded in everything the service posts. They make
// posting idempotent and let the scheduler recognize its own comments.
const (
	// MarkerSentinel is the shared prefix of every marker; any comment body
	// containing it was authored by the service.
	MarkerSentinel = "<!-- grepiku"

	// SummaryCommentMarker tags the per-PR summary comment.
	SummaryCommentMarker = "<!-- grepiku-summary -->"

	// SummaryBodyStart and SummaryBodyEnd delimit the summary block spliced
	// into the pull request description.
	SummaryBodyStart = "<!-- grepiku-summary:start -->"
	SummaryBodyEnd   = "<!-- grepiku-summary:end -->"

	// InlineMarkerPrefix prefixes the marker embedded in inline comments.
	// The full marker is "<!-- grepiku:<comment_id> -->".
	InlineMarkerPrefix = "<!-- grepiku:"

	// MentionMarkerFormat renders the marker carried by reply comments,
	// keyed by the comment the service replied to.
	MentionMarkerFormat = "<!-- grepiku-mention:%d -->"
)
